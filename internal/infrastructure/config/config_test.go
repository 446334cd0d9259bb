package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
auth:
  access_token_ttl: 15
  providers:
    - type: password
    - type: trusted_networks
      trusted_networks:
        - 192.168.0.0/24
      allow_bypass_login: true
  mfa_modules:
    - type: totp
      id: totp
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.AccessTokenTTL() != 15*time.Minute {
		t.Errorf("AccessTokenTTL() = %v, want 15m", cfg.AccessTokenTTL())
	}
	if len(cfg.Auth.Providers) != 2 {
		t.Fatalf("len(Providers) = %d, want 2", len(cfg.Auth.Providers))
	}

	tn := cfg.Auth.Providers[1]
	if tn.Type != "trusted_networks" {
		t.Errorf("Providers[1].Type = %q, want trusted_networks", tn.Type)
	}
	if _, ok := tn.Options["trusted_networks"]; !ok {
		t.Error("Providers[1].Options missing trusted_networks key")
	}
	if _, ok := tn.Options["type"]; ok {
		t.Error("Providers[1].Options should not contain the type key")
	}
	if cfg.Auth.MFAModules[0].ID != "totp" {
		t.Errorf("MFAModules[0].ID = %q, want totp", cfg.Auth.MFAModules[0].ID)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "site:\n  name: \"Flat\"\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Storage.Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.SaveDelay() != time.Second {
		t.Errorf("SaveDelay() = %v, want 1s", cfg.SaveDelay())
	}
	if cfg.AccessTokenTTL() != 30*time.Minute {
		t.Errorf("AccessTokenTTL() = %v, want 30m", cfg.AccessTokenTTL())
	}
	if len(cfg.Auth.Providers) != 1 || cfg.Auth.Providers[0].Type != "password" {
		t.Errorf("Providers = %+v, want the password provider only", cfg.Auth.Providers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	_, err := Load(writeConfig(t, `
site:
  id: ""
database:
  path: "/tmp/test.db"
`))
	if err == nil {
		t.Error("Load() expected validation error for empty site.id, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config { return defaultConfig() }

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name: "redis backend without addr",
			mutate: func(c *Config) {
				c.Storage.Backend = "redis"
				c.Storage.Redis.Addr = ""
			},
			wantErr: "storage.redis.addr",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Storage.Backend = "etcd" },
			wantErr: "storage.backend",
		},
		{
			name: "invalid QoS",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: "mqtt.qos",
		},
		{
			name: "invalid metrics port",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Port = 0
			},
			wantErr: "metrics.port",
		},
		{
			name:    "notify service with wildcard",
			mutate:  func(c *Config) { c.Notify.Services = []string{"phone", "all/#"} },
			wantErr: "notify.services[1]",
		},
		{
			name:    "zero token ttl",
			mutate:  func(c *Config) { c.Auth.AccessTokenTTL = 0 },
			wantErr: "auth.access_token_ttl",
		},
		{
			name:    "no providers",
			mutate:  func(c *Config) { c.Auth.Providers = nil },
			wantErr: "auth.providers",
		},
		{
			name:    "provider without type",
			mutate:  func(c *Config) { c.Auth.Providers = []PluginConfig{{ID: "x"}} },
			wantErr: "auth.providers[0].type",
		},
		{
			name:    "module without type",
			mutate:  func(c *Config) { c.Auth.MFAModules = []PluginConfig{{ID: "x"}} },
			wantErr: "auth.mfa_modules[0].type",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_ValidateCollectsAllErrors(t *testing.T) {
	cfg := defaultConfig()
	cfg.Site.ID = ""
	cfg.Auth.AccessTokenTTL = -1

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() expected error")
	}
	if !strings.Contains(err.Error(), "site.id") || !strings.Contains(err.Error(), "auth.access_token_ttl") {
		t.Errorf("Validate() error = %v, want both problems reported", err)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("RXHOME_DATABASE_PATH", "/env/auth.db")
	t.Setenv("RXHOME_STORAGE_BACKEND", "redis")
	t.Setenv("RXHOME_REDIS_ADDR", "redis:6379")
	t.Setenv("RXHOME_MQTT_PASSWORD", "env-secret")
	t.Setenv("RXHOME_LOG_LEVEL", "debug")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/env/auth.db" {
		t.Errorf("Database.Path = %q, want /env/auth.db", cfg.Database.Path)
	}
	if cfg.Storage.Backend != "redis" {
		t.Errorf("Storage.Backend = %q, want redis", cfg.Storage.Backend)
	}
	if cfg.Storage.Redis.Addr != "redis:6379" {
		t.Errorf("Storage.Redis.Addr = %q, want redis:6379", cfg.Storage.Redis.Addr)
	}
	if cfg.MQTT.Auth.Password != "env-secret" {
		t.Errorf("MQTT.Auth.Password = %q, want env-secret", cfg.MQTT.Auth.Password)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}

	// No .env present.
	if err := loadDotEnv(); err != nil {
		t.Fatalf("loadDotEnv() without file error = %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("RXHOME_TEST_DOTENV=from-file\n"), 0600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("RXHOME_TEST_DOTENV", "")
	os.Unsetenv("RXHOME_TEST_DOTENV")

	if err := loadDotEnv(); err != nil {
		t.Fatalf("loadDotEnv() error = %v", err)
	}
	if got := os.Getenv("RXHOME_TEST_DOTENV"); got != "from-file" {
		t.Errorf("RXHOME_TEST_DOTENV = %q, want from-file", got)
	}
}
