package auth

import (
	"context"
)

// FlowContext is the request context a login flow is started with.
type FlowContext struct {
	IPAddress   string
	ClientID    string
	RedirectURI string
	// CredentialOnly ends the flow after credentials are resolved, without
	// user lookup or MFA. Used to re-verify an already signed-in user.
	CredentialOnly bool
}

// Provider validates identities and maps them to credentials.
type Provider interface {
	ID() string
	Type() string
	Name() string
	SupportMFA() bool

	// Credentials returns every credential stored for this provider.
	Credentials(ctx context.Context) ([]*Credentials, error)

	// LoginFlow returns a fresh stepper for one login attempt. Its init
	// step finishes with the data GetOrCreateCredentials receives.
	LoginFlow(ctx context.Context, fctx FlowContext) (Stepper, error)

	GetOrCreateCredentials(ctx context.Context, data map[string]string) (*Credentials, error)

	// UserMetaForCredentials describes the user to create for new
	// credentials. Providers that never create users return ErrNotImplemented.
	UserMetaForCredentials(ctx context.Context, creds *Credentials) (UserMeta, error)
}

// CredentialsRemover is implemented by providers that keep their own state
// per credential.
type CredentialsRemover interface {
	RemoveCredentials(ctx context.Context, creds *Credentials) error
}

// RefreshTokenValidator is implemented by providers that re-check every
// refresh token use, for example against the caller's network.
type RefreshTokenValidator interface {
	ValidateRefreshToken(ctx context.Context, rt *RefreshToken, remoteIP string) error
}

// ProviderBase implements the bookkeeping part of Provider. Concrete
// providers embed it and add the login logic.
type ProviderBase struct {
	ProviderType string
	ProviderID   string
	ProviderName string
	Store        *Store
}

// NewProviderBase builds a base for one configured provider instance.
// name falls back to defaultName.
func NewProviderBase(store *Store, providerType, id, name, defaultName string) ProviderBase {
	if name == "" {
		name = defaultName
	}
	return ProviderBase{ProviderType: providerType, ProviderID: id, ProviderName: name, Store: store}
}

// ID returns the instance id; it may be empty.
func (b *ProviderBase) ID() string { return b.ProviderID }

// Type returns the provider type.
func (b *ProviderBase) Type() string { return b.ProviderType }

// Name returns the display name.
func (b *ProviderBase) Name() string { return b.ProviderName }

// SupportMFA defaults to true.
func (b *ProviderBase) SupportMFA() bool { return true }

// Key returns the registry key of the provider.
func (b *ProviderBase) Key() HandlerKey {
	return HandlerKey{Type: b.ProviderType, ID: b.ProviderID}
}

// Credentials returns the stored credentials of this instance.
func (b *ProviderBase) Credentials(ctx context.Context) ([]*Credentials, error) {
	return b.Store.ProviderCredentials(ctx, b.ProviderType, b.ProviderID)
}

// FindCredentials returns the first stored credential for which match
// reports true, or nil.
func (b *ProviderBase) FindCredentials(ctx context.Context, match func(data map[string]string) bool) (*Credentials, error) {
	all, err := b.Credentials(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range all {
		if match(c.Data) {
			return c, nil
		}
	}
	return nil, nil
}

// NewCredentials returns unsaved credentials for this provider.
func (b *ProviderBase) NewCredentials(data map[string]string) *Credentials {
	return &Credentials{
		ID:               newID(),
		AuthProviderType: b.ProviderType,
		AuthProviderID:   b.ProviderID,
		Data:             data,
		IsNew:            true,
	}
}

func providerKey(p Provider) HandlerKey {
	return HandlerKey{Type: p.Type(), ID: p.ID()}
}
