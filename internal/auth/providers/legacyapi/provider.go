// Package legacyapi authenticates with a single shared API password.
// Every login maps to the same credentials and user.
package legacyapi

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
)

// Type is the provider type name used in configuration.
const Type = "legacy_api_password"

// DefaultName is shown when the configuration gives no name.
const DefaultName = "Legacy API Password"

// UserName is the display name of the user created on first login.
const UserName = "Legacy API password user"

// Options are the provider's configuration keys.
type Options struct {
	APIPassword string `yaml:"api_password"`
}

// Provider checks the shared password.
type Provider struct {
	auth.ProviderBase
	apiPassword string
}

// New creates a provider from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.Provider, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	if opts.APIPassword == "" {
		return nil, fmt.Errorf("%w: api_password is required", auth.ErrInvalidConfig)
	}
	return NewProvider(deps.Store, cfg.ID, cfg.Name, opts.APIPassword), nil
}

// NewProvider creates a provider for apiPassword.
func NewProvider(store *auth.Store, id, name, apiPassword string) *Provider {
	return &Provider{
		ProviderBase: auth.NewProviderBase(store, Type, id, name, DefaultName),
		apiPassword:  apiPassword,
	}
}

// SupportMFA is false.
func (p *Provider) SupportMFA() bool { return false }

// ValidateLogin compares password with the API password in constant time.
func (p *Provider) ValidateLogin(password string) error {
	if subtle.ConstantTimeCompare([]byte(p.apiPassword), []byte(password)) != 1 {
		return auth.ErrInvalidAuth
	}
	return nil
}

// LoginFlow returns the password form.
func (p *Provider) LoginFlow(context.Context, auth.FlowContext) (auth.Stepper, error) {
	schema := []auth.Field{{Name: "password", Type: auth.FieldPassword, Required: true}}
	return auth.StepperFunc(func(_ context.Context, _ string, input map[string]string) (auth.Step, error) {
		if input == nil {
			return auth.FormStep(auth.StepInit, schema, nil), nil
		}
		if err := p.ValidateLogin(input["password"]); err != nil {
			return auth.Step{}, err
		}
		return auth.DoneStep(map[string]string{}), nil
	}), nil
}

// GetOrCreateCredentials returns the single stored credential or a new one.
func (p *Provider) GetOrCreateCredentials(ctx context.Context, _ map[string]string) (*auth.Credentials, error) {
	all, err := p.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) > 0 {
		return all[0], nil
	}
	return p.NewCredentials(map[string]string{}), nil
}

// UserMetaForCredentials describes the shared user.
func (p *Provider) UserMetaForCredentials(context.Context, *auth.Credentials) (auth.UserMeta, error) {
	return auth.UserMeta{Name: UserName, IsActive: true}, nil
}
