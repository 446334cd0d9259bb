package auth

import (
	"context"
	"fmt"
	"time"
)

// Events fired by the Manager. Data always carries "user_id".
const (
	EventUserAdded    = "user_added"
	EventUserRemoved  = "user_removed"
	EventUserUpdated  = "user_updated"
	EventLoginAttempt = "login_attempt"
)

// EventBus receives manager events. *events.Bus satisfies it.
type EventBus interface {
	Fire(ctx context.Context, eventType string, data map[string]any)
}

// Recorder collects auth metrics. *metrics.Auth satisfies it.
type Recorder interface {
	ObserveLogin(providerType, result string)
	ObserveMFA(moduleID string, valid bool)
	ObserveTokenValidation(valid bool)
}

type noopRecorder struct{}

func (noopRecorder) ObserveLogin(string, string) {}
func (noopRecorder) ObserveMFA(string, bool)     {}
func (noopRecorder) ObserveTokenValidation(bool) {}

type noopBus struct{}

func (noopBus) Fire(context.Context, string, map[string]any) {}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEventBus sets the bus user and login events are fired on.
func WithEventBus(b EventBus) ManagerOption {
	return func(m *Manager) {
		if b != nil {
			m.bus = b
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(l Logger) ManagerOption {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// WithAccessTokenTTL sets the lifetime of access tokens minted by new
// refresh tokens that do not ask for one.
func WithAccessTokenTTL(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.accessTokenTTL = d
		}
	}
}

// WithClock overrides time.Now for flows and tokens.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager is the entry point of the auth core. It ties the identity store
// to the configured providers and MFA modules and mints tokens.
//
// Thread Safety:
//   - Provider and module registries are fixed at construction.
//   - All methods are safe for concurrent use.
type Manager struct {
	store *Store

	providers     map[HandlerKey]Provider
	providerOrder []HandlerKey
	modules       map[string]MFAModule
	moduleOrder   []string

	bus            EventBus
	logger         Logger
	recorder       Recorder
	now            func() time.Time
	accessTokenTTL time.Duration

	loginFlows *LoginFlowManager
	setupFlows *SetupFlowManager
}

// NewManager builds a manager. Two providers with the same (type, id) or
// two modules with the same id fail with ErrDuplicatePlugin.
func NewManager(store *Store, providers []Provider, modules []MFAModule, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		store:          store,
		providers:      make(map[HandlerKey]Provider, len(providers)),
		modules:        make(map[string]MFAModule, len(modules)),
		bus:            noopBus{},
		logger:         noopLogger{},
		recorder:       noopRecorder{},
		now:            time.Now,
		accessTokenTTL: DefaultAccessTokenExpiration,
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, p := range providers {
		key := providerKey(p)
		if _, dup := m.providers[key]; dup {
			return nil, fmt.Errorf("%w: provider %s/%s", ErrDuplicatePlugin, key.Type, key.ID)
		}
		m.providers[key] = p
		m.providerOrder = append(m.providerOrder, key)
	}
	for _, mod := range modules {
		if _, dup := m.modules[mod.ID()]; dup {
			return nil, fmt.Errorf("%w: mfa module %s", ErrDuplicatePlugin, mod.ID())
		}
		m.modules[mod.ID()] = mod
		m.moduleOrder = append(m.moduleOrder, mod.ID())
	}

	m.loginFlows = newLoginFlowManager(m)
	m.setupFlows = newSetupFlowManager(m)
	return m, nil
}

// Store returns the identity store.
func (m *Manager) Store() *Store { return m.store }

// LoginFlows returns the login flow manager.
func (m *Manager) LoginFlows() *LoginFlowManager { return m.loginFlows }

// SetupFlows returns the MFA setup flow manager.
func (m *Manager) SetupFlows() *SetupFlowManager { return m.setupFlows }

// AuthProviders returns the providers in configuration order.
func (m *Manager) AuthProviders() []Provider {
	out := make([]Provider, 0, len(m.providerOrder))
	for _, k := range m.providerOrder {
		out = append(out, m.providers[k])
	}
	return out
}

// AuthProvider returns one provider.
func (m *Manager) AuthProvider(providerType, providerID string) (Provider, bool) {
	p, ok := m.providers[HandlerKey{Type: providerType, ID: providerID}]
	return p, ok
}

// AuthMFAModules returns the MFA modules in configuration order.
func (m *Manager) AuthMFAModules() []MFAModule {
	out := make([]MFAModule, 0, len(m.moduleOrder))
	for _, id := range m.moduleOrder {
		out = append(out, m.modules[id])
	}
	return out
}

// AuthMFAModule returns one MFA module.
func (m *Manager) AuthMFAModule(id string) (MFAModule, bool) {
	mod, ok := m.modules[id]
	return mod, ok
}

// Users returns all users.
func (m *Manager) Users(ctx context.Context) ([]*User, error) {
	return m.store.Users(ctx)
}

// User returns one user.
func (m *Manager) User(ctx context.Context, id string) (*User, error) {
	return m.store.User(ctx, id)
}

// UserByCredentials returns the user linked to credentials id.
func (m *Manager) UserByCredentials(ctx context.Context, credentialsID string) (*User, error) {
	return m.store.UserByCredentials(ctx, credentialsID)
}

// CreateSystemUser creates an active, system generated user.
func (m *Manager) CreateSystemUser(ctx context.Context, name string, groupIDs []string) (*User, error) {
	u, err := m.store.CreateUser(ctx, NewUser{
		Name:            name,
		IsActive:        true,
		SystemGenerated: true,
		GroupIDs:        groupIDs,
	})
	if err != nil {
		return nil, err
	}
	m.fire(ctx, EventUserAdded, map[string]any{"user_id": u.ID})
	return u, nil
}

// CreateUserOptions describes a user created by an administrator.
type CreateUserOptions struct {
	Name     string
	GroupIDs []string
	// Credentials, when set, are linked to the new user.
	Credentials *Credentials
}

// CreateUser creates an active user. The first user that is not system
// generated becomes the owner.
func (m *Manager) CreateUser(ctx context.Context, opts CreateUserOptions) (*User, error) {
	u, err := m.store.CreateUser(ctx, NewUser{
		Name:         opts.Name,
		OwnerIfFirst: true,
		IsActive:     true,
		GroupIDs:     opts.GroupIDs,
		Credentials:  opts.Credentials,
	})
	if err != nil {
		return nil, err
	}
	m.fire(ctx, EventUserAdded, map[string]any{"user_id": u.ID})
	return u, nil
}

// GetOrCreateUser returns the user of linked credentials, or creates one
// from the provider's user meta for new credentials.
func (m *Manager) GetOrCreateUser(ctx context.Context, creds *Credentials) (*User, error) {
	if !creds.IsNew {
		u, err := m.store.UserByCredentials(ctx, creds.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidUser, err)
		}
		return u, nil
	}

	p, ok := m.AuthProvider(creds.AuthProviderType, creds.AuthProviderID)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownProvider, creds.AuthProviderType, creds.AuthProviderID)
	}
	meta, err := p.UserMetaForCredentials(ctx, creds)
	if err != nil {
		return nil, fmt.Errorf("user meta for %s credentials: %w", p.Type(), err)
	}

	group := meta.Group
	if group == "" {
		group = GroupIDAdmin
	}
	u, err := m.store.CreateUser(ctx, NewUser{
		Name:        meta.Name,
		IsActive:    meta.IsActive,
		GroupIDs:    []string{group},
		Credentials: creds,
	})
	if err != nil {
		return nil, err
	}
	m.logger.Info("user created from credentials", "user_id", u.ID, "provider_type", p.Type())
	m.fire(ctx, EventUserAdded, map[string]any{"user_id": u.ID})
	return u, nil
}

// LinkUser attaches new credentials to an existing user.
func (m *Manager) LinkUser(ctx context.Context, userID string, creds *Credentials) (*User, error) {
	u, err := m.store.LinkUser(ctx, userID, creds)
	if err != nil {
		return nil, err
	}
	m.fire(ctx, EventUserUpdated, map[string]any{"user_id": u.ID})
	return u, nil
}

// RemoveUser deletes a user. Providers holding per-credential state are
// told about each removed credential first.
func (m *Manager) RemoveUser(ctx context.Context, userID string) error {
	u, err := m.store.User(ctx, userID)
	if err != nil {
		return err
	}
	for _, c := range u.Credentials {
		if err := m.notifyCredentialsRemoved(ctx, c); err != nil {
			return err
		}
	}
	if err := m.store.RemoveUser(ctx, userID); err != nil {
		return err
	}
	m.fire(ctx, EventUserRemoved, map[string]any{"user_id": userID})
	return nil
}

// UpdateUser changes name, active flag or groups of a user.
func (m *Manager) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (*User, error) {
	if upd.IsActive != nil && !*upd.IsActive {
		if err := m.checkDeactivation(ctx, userID); err != nil {
			return nil, err
		}
	}
	u, err := m.store.UpdateUser(ctx, userID, upd)
	if err != nil {
		return nil, err
	}
	m.fire(ctx, EventUserUpdated, map[string]any{"user_id": u.ID})
	return u, nil
}

// ActivateUser marks a user active.
func (m *Manager) ActivateUser(ctx context.Context, userID string) (*User, error) {
	active := true
	return m.UpdateUser(ctx, userID, UserUpdate{IsActive: &active})
}

// DeactivateUser marks a user inactive. The owner cannot be deactivated.
func (m *Manager) DeactivateUser(ctx context.Context, userID string) (*User, error) {
	active := false
	return m.UpdateUser(ctx, userID, UserUpdate{IsActive: &active})
}

func (m *Manager) checkDeactivation(ctx context.Context, userID string) error {
	u, err := m.store.User(ctx, userID)
	if err != nil {
		return err
	}
	if u.IsOwner {
		return ErrOwnerProtected
	}
	return nil
}

// RemoveCredentials detaches credentials from their user.
func (m *Manager) RemoveCredentials(ctx context.Context, creds *Credentials) error {
	if err := m.notifyCredentialsRemoved(ctx, creds); err != nil {
		return err
	}
	return m.store.RemoveCredentials(ctx, creds.ID)
}

func (m *Manager) notifyCredentialsRemoved(ctx context.Context, creds *Credentials) error {
	p, ok := m.AuthProvider(creds.AuthProviderType, creds.AuthProviderID)
	if !ok {
		return nil
	}
	if r, ok := p.(CredentialsRemover); ok {
		if err := r.RemoveCredentials(ctx, creds); err != nil {
			return fmt.Errorf("removing %s credentials: %w", p.Type(), err)
		}
	}
	return nil
}

// EnableUserMFA enrols a user in a module with already collected data.
func (m *Manager) EnableUserMFA(ctx context.Context, userID, moduleID string, data map[string]string) error {
	mod, err := m.mfaTarget(ctx, userID, moduleID)
	if err != nil {
		return err
	}
	if err := mod.SetupUser(ctx, userID, data); err != nil {
		return fmt.Errorf("enabling %s: %w", moduleID, err)
	}
	m.fire(ctx, EventUserUpdated, map[string]any{"user_id": userID})
	return nil
}

// DisableUserMFA removes a user's enrolment from a module.
func (m *Manager) DisableUserMFA(ctx context.Context, userID, moduleID string) error {
	mod, err := m.mfaTarget(ctx, userID, moduleID)
	if err != nil {
		return err
	}
	if err := mod.DeposeUser(ctx, userID); err != nil {
		return fmt.Errorf("disabling %s: %w", moduleID, err)
	}
	m.fire(ctx, EventUserUpdated, map[string]any{"user_id": userID})
	return nil
}

func (m *Manager) mfaTarget(ctx context.Context, userID, moduleID string) (MFAModule, error) {
	u, err := m.store.User(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u.SystemGenerated {
		return nil, fmt.Errorf("%w: system users cannot use MFA", ErrInvalidUser)
	}
	mod, ok := m.AuthMFAModule(moduleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMFAModule, moduleID)
	}
	return mod, nil
}

// EnabledMFA returns the modules userID is enrolled in, as id to name.
func (m *Manager) EnabledMFA(ctx context.Context, userID string) (map[string]string, error) {
	opts, err := m.enabledMFAOptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(opts))
	for _, o := range opts {
		out[o.Value] = o.Label
	}
	return out, nil
}

func (m *Manager) enabledMFAOptions(ctx context.Context, userID string) ([]Option, error) {
	var out []Option
	for _, id := range m.moduleOrder {
		mod := m.modules[id]
		ok, err := mod.IsUserSetup(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("checking %s enrolment: %w", id, err)
		}
		if ok {
			out = append(out, Option{Value: id, Label: mod.Name()})
		}
	}
	return out, nil
}

// RefreshTokenRequest describes a refresh token to issue.
type RefreshTokenRequest struct {
	ClientID   string
	ClientName string
	ClientIcon string
	// TokenType defaults to system for system users and normal otherwise.
	TokenType TokenType
	// AccessTokenExpiration defaults to the manager's access token TTL.
	AccessTokenExpiration time.Duration
	Credentials           *Credentials
}

// CreateRefreshToken issues a refresh token for user.
//
// Rules, each failing with ErrRefreshTokenRule:
//   - system users never get a client bound token;
//   - system users get system tokens and only they do;
//   - normal tokens need a client id;
//   - long-lived tokens need a client name that is unique for the user.
func (m *Manager) CreateRefreshToken(ctx context.Context, user *User, req RefreshTokenRequest) (*RefreshToken, error) {
	if !user.IsActive {
		return nil, ErrUserNotActive
	}
	if user.SystemGenerated && req.ClientID != "" {
		return nil, fmt.Errorf("%w: system generated users cannot have refresh tokens connected to a client", ErrRefreshTokenRule)
	}

	tokenType := req.TokenType
	if tokenType == "" {
		tokenType = TokenTypeNormal
		if user.SystemGenerated {
			tokenType = TokenTypeSystem
		}
	}

	if tokenType == TokenTypeNormal && req.ClientID == "" {
		return nil, fmt.Errorf("%w: client is required to generate a refresh token", ErrRefreshTokenRule)
	}
	if user.SystemGenerated != (tokenType == TokenTypeSystem) {
		return nil, fmt.Errorf("%w: system generated users can only have system type refresh tokens", ErrRefreshTokenRule)
	}
	if tokenType == TokenTypeLongLived {
		if req.ClientName == "" {
			return nil, fmt.Errorf("%w: client name is required for long-lived access tokens", ErrRefreshTokenRule)
		}
	}

	expiration := req.AccessTokenExpiration
	if expiration <= 0 {
		expiration = m.accessTokenTTL
	}

	opts := RefreshTokenOptions{
		ClientID:              req.ClientID,
		ClientName:            req.ClientName,
		ClientIcon:            req.ClientIcon,
		TokenType:             tokenType,
		AccessTokenExpiration: expiration,
	}
	if req.Credentials != nil {
		opts.CredentialID = req.Credentials.ID
	}
	return m.store.CreateRefreshToken(ctx, user.ID, opts)
}

// RefreshToken returns a refresh token by id.
func (m *Manager) RefreshToken(ctx context.Context, id string) (*RefreshToken, error) {
	return m.store.RefreshToken(ctx, id)
}

// RefreshTokenByToken returns a refresh token by its secret.
func (m *Manager) RefreshTokenByToken(ctx context.Context, token string) (*RefreshToken, error) {
	return m.store.RefreshTokenByToken(ctx, token)
}

// RemoveRefreshToken revokes a refresh token and every access token it minted.
func (m *Manager) RemoveRefreshToken(ctx context.Context, id string) error {
	return m.store.RemoveRefreshToken(ctx, id)
}

// ValidateRefreshToken lets the provider behind rt's credentials veto its
// use from remoteIP. Tokens without credentials always pass.
func (m *Manager) ValidateRefreshToken(ctx context.Context, rt *RefreshToken, remoteIP string) error {
	if rt.CredentialID == "" {
		return nil
	}
	u, err := m.store.User(ctx, rt.UserID)
	if err != nil {
		return err
	}
	for _, c := range u.Credentials {
		if c.ID != rt.CredentialID {
			continue
		}
		p, ok := m.AuthProvider(c.AuthProviderType, c.AuthProviderID)
		if !ok {
			return nil
		}
		if v, ok := p.(RefreshTokenValidator); ok {
			return v.ValidateRefreshToken(ctx, rt, remoteIP)
		}
		return nil
	}
	return nil
}

// Flush writes pending identity changes.
func (m *Manager) Flush(ctx context.Context) error {
	return m.store.Flush(ctx)
}

func (m *Manager) fire(ctx context.Context, eventType string, data map[string]any) {
	m.bus.Fire(ctx, eventType, data)
}

// recordLogin reports a finished login flow to metrics and the bus.
func (m *Manager) recordLogin(ctx context.Context, f *loginFlow, result, reason string, user *User) {
	m.recorder.ObserveLogin(f.handler.Type, result)

	data := map[string]any{
		"flow_id":       f.id,
		"provider_type": f.handler.Type,
		"provider_id":   f.handler.ID,
		"result":        result,
		"ip_address":    f.fctx.IPAddress,
	}
	if reason != "" {
		data["reason"] = reason
	}
	if user != nil {
		data["user_id"] = user.ID
	} else if f.user != nil {
		data["user_id"] = f.user.ID
	}
	m.fire(ctx, EventLoginAttempt, data)
}
