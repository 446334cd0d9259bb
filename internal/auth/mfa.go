package auth

import "context"

// MFAModule is a second authentication factor.
type MFAModule interface {
	ID() string
	Name() string

	// InputSchema is the form shown at the mfa login step.
	InputSchema() []Field

	// MaxRetryTime is the number of failed codes allowed per login flow.
	// Zero or less means unlimited.
	MaxRetryTime() int

	// SetupFlow returns a fresh stepper that enrols userID.
	SetupFlow(ctx context.Context, userID string) (Stepper, error)

	SetupUser(ctx context.Context, userID string, data map[string]string) error
	DeposeUser(ctx context.Context, userID string) error
	IsUserSetup(ctx context.Context, userID string) (bool, error)

	// Validate checks a submitted login form.
	Validate(ctx context.Context, userID string, input map[string]string) (bool, error)
}

// LoginInitializer is implemented by modules that must act before the
// code form is shown, for example to send a one-time code.
type LoginInitializer interface {
	InitializeLoginMFAStep(ctx context.Context, userID string) error
}

// MFABase carries the id and name every module has.
type MFABase struct {
	ModuleID   string
	ModuleName string
}

// NewMFABase builds a base. id and name fall back to the given defaults.
func NewMFABase(id, name, defaultID, defaultName string) MFABase {
	if id == "" {
		id = defaultID
	}
	if name == "" {
		name = defaultName
	}
	return MFABase{ModuleID: id, ModuleName: name}
}

// ID returns the module id.
func (b *MFABase) ID() string { return b.ModuleID }

// Name returns the display name.
func (b *MFABase) Name() string { return b.ModuleName }

// MFAStorageKey returns the storage document key of module id.
func MFAStorageKey(id string) string {
	return "auth_module." + id
}
