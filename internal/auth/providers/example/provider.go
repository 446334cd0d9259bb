// Package example is a provider with users listed in configuration.
// It is meant for tests and demos.
package example

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
)

// Type is the provider type name used in configuration.
const Type = "example"

// DefaultName is shown when the configuration gives no name.
const DefaultName = "Example"

// User is one configured account.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// Options are the provider's configuration keys.
type Options struct {
	Users []User `yaml:"users"`
}

// Provider checks logins against the configured users.
type Provider struct {
	auth.ProviderBase
	users []User
}

// New creates a provider from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.Provider, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	for i, u := range opts.Users {
		if u.Username == "" || u.Password == "" {
			return nil, fmt.Errorf("%w: users[%d] needs username and password", auth.ErrInvalidConfig, i)
		}
	}
	return NewProvider(deps.Store, cfg.ID, cfg.Name, opts.Users), nil
}

// NewProvider creates a provider for users.
func NewProvider(store *auth.Store, id, name string, users []User) *Provider {
	return &Provider{
		ProviderBase: auth.NewProviderBase(store, Type, id, name, DefaultName),
		users:        users,
	}
}

// ValidateLogin compares in constant time. Unknown usernames are compared
// against a dummy value.
func (p *Provider) ValidateLogin(username, password string) error {
	var found *User
	for i := range p.users {
		if subtle.ConstantTimeCompare([]byte(p.users[i].Username), []byte(username)) == 1 {
			found = &p.users[i]
		}
	}

	if found == nil {
		subtle.ConstantTimeCompare([]byte("nonsense"), []byte(password))
		return auth.ErrInvalidAuth
	}
	if subtle.ConstantTimeCompare([]byte(found.Password), []byte(password)) != 1 {
		return auth.ErrInvalidAuth
	}
	return nil
}

// LoginFlow returns the username and password form.
func (p *Provider) LoginFlow(context.Context, auth.FlowContext) (auth.Stepper, error) {
	schema := []auth.Field{
		{Name: "username", Type: auth.FieldString, Required: true},
		{Name: "password", Type: auth.FieldPassword, Required: true},
	}
	return auth.StepperFunc(func(_ context.Context, _ string, input map[string]string) (auth.Step, error) {
		if input == nil {
			return auth.FormStep(auth.StepInit, schema, nil), nil
		}
		username := strings.TrimSpace(input["username"])
		if err := p.ValidateLogin(username, input["password"]); err != nil {
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
	if err != nil || existing != nil {
		return existing, err
	}
	return p.NewCredentials(map[string]string{"username": username}), nil
}

// UserMetaForCredentials uses the configured display name.
func (p *Provider) UserMetaForCredentials(_ context.Context, creds *auth.Credentials) (auth.UserMeta, error) {
	username := creds.Data["username"]
	meta := auth.UserMeta{IsActive: true}
	for _, u := range p.users {
		if u.Username == username {
			meta.Name = u.Name
			break
		}
	}
	return meta, nil
}
