// Package commandline authenticates users by running an external command.
//
// The command receives the credentials in the username and password
// environment variables and signals success with exit status 0. With meta
// enabled, "name = value" lines on stdout set the display name and group
// of new users.
package commandline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
)

// Type is the provider type name used in configuration.
const Type = "command_line"

// DefaultName is shown when the configuration gives no name.
const DefaultName = "Command Line Authentication"

// Options are the provider's configuration keys.
type Options struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Meta    bool     `yaml:"meta"`
}

// Validate checks the options.
func (o Options) Validate() error {
	if o.Command == "" {
		return fmt.Errorf("%w: command is required", auth.ErrInvalidConfig)
	}
	if !filepath.IsAbs(o.Command) {
		return fmt.Errorf("%w: command must be an absolute path: %s", auth.ErrInvalidConfig, o.Command)
	}
	return nil
}

// metaKeys are the stdout keys honoured in meta mode.
var metaKeys = map[string]bool{"name": true, "group": true}

// Provider runs a command per login attempt.
type Provider struct {
	auth.ProviderBase
	opts   Options
	logger auth.Logger

	mu       sync.Mutex
	userMeta map[string]map[string]string
}

// New creates a provider from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.Provider, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return NewProvider(deps.Store, cfg.ID, cfg.Name, opts, deps.Logger), nil
}

// NewProvider creates a provider with validated options.
func NewProvider(store *auth.Store, id, name string, opts Options, logger auth.Logger) *Provider {
	if logger == nil {
		logger = auth.NopLogger()
	}
	return &Provider{
		ProviderBase: auth.NewProviderBase(store, Type, id, name, DefaultName),
		opts:         opts,
		logger:       logger,
		userMeta:     make(map[string]map[string]string),
	}
}

// ValidateLogin runs the command. A non-zero exit or a failure to start
// it yields ErrInvalidAuth. The run is bounded only by ctx.
func (p *Provider) ValidateLogin(ctx context.Context, username, password string) error {
	cmd := exec.CommandContext(ctx, p.opts.Command, p.opts.Args...) //nolint:gosec // G204: command comes from trusted configuration
	cmd.Env = []string{"username=" + username, "password=" + password}

	var stdout bytes.Buffer
	if p.opts.Meta {
		cmd.Stdout = &stdout
	}

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			p.logger.Error("auth command exited with non-zero status",
				"command", p.opts.Command, "exit_code", exitErr.ExitCode())
		} else {
			p.logger.Error("error while authenticating", "command", p.opts.Command, "error", err)
		}
		return auth.ErrInvalidAuth
	}

	if p.opts.Meta {
		meta := parseMeta(&stdout)
		p.mu.Lock()
		p.userMeta[username] = meta
		p.mu.Unlock()
	}
	return nil
}

// parseMeta reads "key = value" lines. Unknown keys and malformed lines
// are skipped.
func parseMeta(r *bytes.Buffer) map[string]string {
	meta := map[string]string{}
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if metaKeys[key] {
			meta[key] = strings.TrimSpace(value)
		}
	}
	return meta
}

// LoginFlow returns the username and password form.
func (p *Provider) LoginFlow(_ context.Context, _ auth.FlowContext) (auth.Stepper, error) {
	schema := []auth.Field{
		{Name: "username", Type: auth.FieldString, Required: true},
		{Name: "password", Type: auth.FieldPassword, Required: true},
	}
	return auth.StepperFunc(func(ctx context.Context, _ string, input map[string]string) (auth.Step, error) {
		if input == nil {
			return auth.FormStep(auth.StepInit, schema, nil), nil
		}
		username := strings.TrimSpace(input["username"])
		if err := p.ValidateLogin(ctx, username, input["password"]); err != nil {
			return auth.Step{}, err
		}
		return auth.DoneStep(map[string]string{"username": username}), nil
	}), nil
}

// GetOrCreateCredentials returns stored credentials for the username or new ones.
func (p *Provider) GetOrCreateCredentials(ctx context.Context, data map[string]string) (*auth.Credentials, error) {
	username := data["username"]
	existing, err := p.FindCredentials(ctx, func(d map[string]string) bool {
		return d["username"] == username
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return p.NewCredentials(map[string]string{"username": username}), nil
}

// UserMetaForCredentials uses the meta printed by the last successful run.
func (p *Provider) UserMetaForCredentials(_ context.Context, creds *auth.Credentials) (auth.UserMeta, error) {
	username := creds.Data["username"]

	p.mu.Lock()
	meta := p.userMeta[username]
	p.mu.Unlock()

	name := meta["name"]
	if name == "" {
		name = username
	}
	return auth.UserMeta{Name: name, IsActive: true, Group: meta["group"]}, nil
}
