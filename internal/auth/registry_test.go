package auth

import (
	"errors"
	"strings"
	"testing"

	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

func TestProviderRegistry_Load(t *testing.T) {
	reg := NewProviderRegistry()
	reg.Register("test", func(deps PluginDeps, cfg config.PluginConfig) (Provider, error) {
		var opts struct {
			Users map[string]string `yaml:"users"`
		}
		if err := DecodeOptions(cfg.Options, &opts); err != nil {
			return nil, err
		}
		return newTestProvider(deps.Store, cfg.ID, opts.Users), nil
	})
	deps := PluginDeps{Store: NewStore(storage.NewMemoryBackend())}

	providers, err := reg.Load(deps, []config.PluginConfig{
		{Type: "test", Options: map[string]any{"users": map[string]any{"alice": "pw"}}},
		{Type: "test", ID: "second"},
	})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(providers) != 2 || providers[1].ID() != "second" {
		t.Fatalf("providers = %v", providers)
	}
	if p := providers[0].(*testProvider); p.passwords["alice"] != "pw" {
		t.Errorf("decoded users = %v", p.passwords)
	}

	_, err = reg.Load(deps, []config.PluginConfig{
		{Type: "ldap"},
		{Type: "test", Options: map[string]any{"typo": true}},
	})
	if err == nil {
		t.Fatal("Load() expected error")
	}
	if !strings.Contains(err.Error(), "unable to load auth provider ldap: not registered") {
		t.Errorf("error = %v, want unregistered type reported", err)
	}
	if !errors.Is(err, ErrNotRegistered) || !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("error = %v, want both failures joined", err)
	}
}

func TestProviderRegistry_DuplicateRegistrationPanics(t *testing.T) {
	reg := NewProviderRegistry()
	reg.Register("test", nil)
	defer func() {
		if recover() == nil {
			t.Error("Register() twice did not panic")
		}
	}()
	reg.Register("test", nil)
}

func TestMFARegistry_Load(t *testing.T) {
	reg := NewMFARegistry()
	reg.Register("pin", func(_ PluginDeps, cfg config.PluginConfig) (MFAModule, error) {
		return newTestModule(cfg.ID, 3), nil
	})

	modules, err := reg.Load(PluginDeps{}, []config.PluginConfig{{Type: "pin", ID: "a"}, {Type: "pin", ID: "b"}})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(modules) != 2 || modules[0].ID() != "a" || modules[1].ID() != "b" {
		t.Errorf("modules = %v", modules)
	}

	_, err = reg.Load(PluginDeps{}, []config.PluginConfig{{Type: "sms"}})
	if !errors.Is(err, ErrNotRegistered) || !strings.Contains(err.Error(), "unable to load mfa module sms") {
		t.Errorf("Load() error = %v", err)
	}
}

func TestDecodeOptions(t *testing.T) {
	type opts struct {
		Command string   `yaml:"command"`
		Args    []string `yaml:"args"`
		Meta    bool     `yaml:"meta"`
	}

	tests := []struct {
		name    string
		in      map[string]any
		want    opts
		wantErr bool
	}{
		{"empty", nil, opts{}, false},
		{"all keys", map[string]any{"command": "/bin/auth", "args": []any{"-v"}, "meta": true}, opts{Command: "/bin/auth", Args: []string{"-v"}, Meta: true}, false},
		{"unknown key", map[string]any{"command": "/bin/auth", "extra": 1}, opts{}, true},
		{"wrong type", map[string]any{"meta": map[string]any{"a": 1}}, opts{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got opts
			err := DecodeOptions(tt.in, &got)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("DecodeOptions() error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeOptions() error = %v", err)
			}
			if got.Command != tt.want.Command || got.Meta != tt.want.Meta || len(got.Args) != len(tt.want.Args) {
				t.Errorf("DecodeOptions() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
