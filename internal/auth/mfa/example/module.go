// Package example is a PIN based MFA module for tests and demos.
package example

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// Type is the module type name used in configuration.
const Type = "example"

// Defaults for the module id and name.
const (
	DefaultID   = "example"
	DefaultName = "Example PIN"
)

// MaxRetryTime is the number of wrong PINs allowed per login.
const MaxRetryTime = 3

// FieldPIN is the PIN input.
const FieldPIN = "pin"

const (
	storageVersion = 1
	dummyPIN       = "000000"
)

// Entry seeds a user's PIN from configuration.
type Entry struct {
	UserID string `yaml:"user_id"`
	PIN    string `yaml:"pin"`
}

// Options are the module's configuration keys.
type Options struct {
	Data []Entry `yaml:"data"`
}

// Module checks a static PIN.
type Module struct {
	auth.MFABase
	seed  map[string]string
	users *storage.Records[string]
}

// New creates a module from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.MFAModule, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	for i, e := range opts.Data {
		if e.UserID == "" || e.PIN == "" {
			return nil, fmt.Errorf("%w: data[%d] needs user_id and pin", auth.ErrInvalidConfig, i)
		}
	}
	return NewModule(deps.Backend, cfg.ID, cfg.Name, opts.Data), nil
}

// NewModule creates a module persisting to backend. Configured entries
// apply to users without a stored PIN.
func NewModule(backend storage.Backend, id, name string, data []Entry) *Module {
	base := auth.NewMFABase(id, name, DefaultID, DefaultName)
	seed := make(map[string]string, len(data))
	for _, e := range data {
		seed[e.UserID] = e.PIN
	}
	return &Module{
		MFABase: base,
		seed:    seed,
		users:   storage.NewRecords[string](storage.NewStore(backend, auth.MFAStorageKey(base.ModuleID), storageVersion)),
	}
}

// InputSchema asks for the PIN.
func (m *Module) InputSchema() []auth.Field {
	return []auth.Field{{Name: FieldPIN, Type: auth.FieldPassword, Required: true}}
}

// MaxRetryTime returns the per-login retry limit.
func (m *Module) MaxRetryTime() int { return MaxRetryTime }

func (m *Module) pin(ctx context.Context, userID string) (string, bool, error) {
	pin, ok, err := m.users.Get(ctx, userID)
	if err != nil || ok {
		return pin, ok, err
	}
	pin, ok = m.seed[userID]
	return pin, ok, nil
}

// SetupUser stores data["pin"].
func (m *Module) SetupUser(ctx context.Context, userID string, data map[string]string) error {
	if data[FieldPIN] == "" {
		return fmt.Errorf("%w: pin is required", auth.ErrInvalidAuth)
	}
	return m.users.Put(ctx, userID, data[FieldPIN])
}

// DeposeUser forgets a stored PIN. Configured PINs stay.
func (m *Module) DeposeUser(ctx context.Context, userID string) error {
	return m.users.Delete(ctx, userID)
}

// IsUserSetup reports whether userID has a PIN.
func (m *Module) IsUserSetup(ctx context.Context, userID string) (bool, error) {
	_, ok, err := m.pin(ctx, userID)
	return ok, err
}

// Validate compares input["pin"] in constant time.
func (m *Module) Validate(ctx context.Context, userID string, input map[string]string) (bool, error) {
	pin, ok, err := m.pin(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		subtle.ConstantTimeCompare([]byte(dummyPIN), []byte(input[FieldPIN]))
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(pin), []byte(input[FieldPIN])) == 1, nil
}

// SetupFlow asks for a new PIN.
func (m *Module) SetupFlow(_ context.Context, userID string) (auth.Stepper, error) {
	return auth.StepperFunc(func(ctx context.Context, _ string, input map[string]string) (auth.Step, error) {
		if input == nil {
			return auth.FormStep(auth.StepInit, m.InputSchema(), nil), nil
		}
		if input[FieldPIN] == "" {
			return auth.FormStep(auth.StepInit, m.InputSchema(), map[string]string{FieldPIN: "required"}), nil
		}
		if err := m.SetupUser(ctx, userID, input); err != nil {
			return auth.Step{}, err
		}
		return auth.DoneStep(nil), nil
	}), nil
}
