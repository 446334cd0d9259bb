// Package totp is the time-based one-time password MFA module.
//
// Users enrol by scanning an otpauth:// URI into an authenticator app and
// confirming one code. Secrets are kept per user in the auth_module.<id>
// document.
package totp

import (
	"context"
	"fmt"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/auth/mfa/otp"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// Type is the module type name used in configuration.
const Type = "totp"

// Defaults for the module id and name.
const (
	DefaultID   = "totp"
	DefaultName = "Authenticator app"
)

// MaxRetryTime is the number of wrong codes allowed per login.
const MaxRetryTime = 5

// FieldCode is the code input of the login and setup forms.
const FieldCode = "code"

// DefaultIssuer labels the account in authenticator apps.
const DefaultIssuer = "Home"

// dummySecret is verified against when a user has no secret, so a lookup
// miss costs the same as a wrong code.
const dummySecret = "FPPTH34D4E3MI2HG"

const storageVersion = 1

// Options are the module's configuration keys.
type Options struct {
	Issuer string `yaml:"issuer"`
}

// Module validates TOTP codes.
type Module struct {
	auth.MFABase
	users  *storage.Records[string]
	store  *auth.Store
	issuer string
	now    func() time.Time
}

// New creates a module from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.MFAModule, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	return NewModule(deps.Store, deps.Backend, cfg.ID, cfg.Name, opts), nil
}

// NewModule creates a module persisting to backend. store is used to
// label provisioning URIs with the user's name and may be nil.
func NewModule(store *auth.Store, backend storage.Backend, id, name string, opts Options) *Module {
	base := auth.NewMFABase(id, name, DefaultID, DefaultName)
	issuer := opts.Issuer
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &Module{
		MFABase: base,
		users:   storage.NewRecords[string](storage.NewStore(backend, auth.MFAStorageKey(base.ModuleID), storageVersion)),
		store:   store,
		issuer:  issuer,
		now:     time.Now,
	}
}

// InputSchema asks for the current code.
func (m *Module) InputSchema() []auth.Field {
	return []auth.Field{{Name: FieldCode, Type: auth.FieldString, Required: true}}
}

// MaxRetryTime returns the per-login retry limit.
func (m *Module) MaxRetryTime() int { return MaxRetryTime }

// SetupUser stores data["secret"], or a fresh secret when absent.
func (m *Module) SetupUser(ctx context.Context, userID string, data map[string]string) error {
	secret := data["secret"]
	if secret == "" {
		var err error
		if secret, err = otp.NewSecret(); err != nil {
			return err
		}
	}
	return m.users.Put(ctx, userID, secret)
}

// DeposeUser forgets the user's secret.
func (m *Module) DeposeUser(ctx context.Context, userID string) error {
	return m.users.Delete(ctx, userID)
}

// IsUserSetup reports whether userID has a secret.
func (m *Module) IsUserSetup(ctx context.Context, userID string) (bool, error) {
	return m.users.Has(ctx, userID)
}

// Validate checks input["code"] against the user's secret.
func (m *Module) Validate(ctx context.Context, userID string, input map[string]string) (bool, error) {
	secret, ok, err := m.users.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		otp.VerifyTOTP(dummySecret, input[FieldCode], m.now()) //nolint:errcheck // timing only
		return false, nil
	}
	return otp.VerifyTOTP(secret, input[FieldCode], m.now())
}

// SetupFlow shows a new secret and its URI, then enrols the user once a
// code generated from it is confirmed.
func (m *Module) SetupFlow(ctx context.Context, userID string) (auth.Stepper, error) {
	secret, err := otp.NewSecret()
	if err != nil {
		return nil, err
	}

	account := userID
	if m.store != nil {
		if u, err := m.store.User(ctx, userID); err == nil && u.Name != "" {
			account = u.Name
		}
	}
	placeholders := map[string]string{
		"code": secret,
		"url":  otp.ProvisionURI(secret, account, m.issuer),
	}

	return auth.StepperFunc(func(ctx context.Context, _ string, input map[string]string) (auth.Step, error) {
		var errs map[string]string
		if input != nil {
			ok, err := otp.VerifyTOTP(secret, input[FieldCode], m.now())
			if err != nil {
				return auth.Step{}, err
			}
			if ok {
				if err := m.SetupUser(ctx, userID, map[string]string{"secret": secret}); err != nil {
					return auth.Step{}, fmt.Errorf("saving totp secret: %w", err)
				}
				return auth.DoneStep(nil), nil
			}
			errs = map[string]string{"base": auth.ErrorInvalidCode}
		}
		step := auth.FormStep(auth.StepInit, m.InputSchema(), errs)
		step.Placeholders = placeholders
		return step, nil
	}), nil
}
