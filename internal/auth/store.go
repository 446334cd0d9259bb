package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/auth/permissions"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// Storage key and schema version of the identity document.
const (
	StorageKey     = "auth"
	StorageVersion = 1
)

// DefaultSaveDelay is the debounce window for identity writes.
const DefaultSaveDelay = time.Second

// state is the in-memory identity graph. Maps hold immutable snapshots.
type state struct {
	users      map[string]*User
	userOrder  []string
	groups     map[string]*Group
	groupOrder []string
}

func newState() *state {
	return &state{
		users:  make(map[string]*User),
		groups: make(map[string]*Group),
	}
}

func (st *state) putUser(u *User) {
	if _, exists := st.users[u.ID]; !exists {
		st.userOrder = append(st.userOrder, u.ID)
	}
	st.users[u.ID] = u
}

func (st *state) deleteUser(id string) {
	delete(st.users, id)
	st.userOrder = slices.DeleteFunc(st.userOrder, func(v string) bool { return v == id })
}

func (st *state) putGroup(g *Group) {
	if _, exists := st.groups[g.ID]; !exists {
		st.groupOrder = append(st.groupOrder, g.ID)
	}
	st.groups[g.ID] = g
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(l Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSaveDelay overrides DefaultSaveDelay.
func WithSaveDelay(d time.Duration) StoreOption {
	return func(s *Store) { s.saveDelay = d }
}

// WithPermissionLookup sets the registries used by device and area policies.
func WithPermissionLookup(l *permissions.Lookup) StoreOption {
	return func(s *Store) { s.lookup = l }
}

// WithSaveObserver reports every identity document write.
func WithSaveObserver(fn storage.SaveObserver) StoreOption {
	return func(s *Store) { s.observer = fn }
}

// WithStoreClock overrides time.Now for token timestamps.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// Store owns users, groups, credentials and refresh tokens.
//
// Thread Safety:
//   - The first call loads from storage; concurrent first callers share one load.
//   - Reads take a shared lock, mutations an exclusive one.
//   - Returned values are snapshots and must not be modified.
type Store struct {
	doc       *storage.Store
	logger    Logger
	lookup    *permissions.Lookup
	saveDelay time.Duration
	observer  storage.SaveObserver
	now       func() time.Time

	loadMu  sync.Mutex
	loaded  atomic.Bool
	loadErr error

	mu sync.RWMutex
	st *state
}

// NewStore creates a Store persisting to backend under StorageKey.
func NewStore(backend storage.Backend, opts ...StoreOption) *Store {
	s := &Store{
		logger:    noopLogger{},
		saveDelay: DefaultSaveDelay,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	storeOpts := []storage.Option{storage.WithLogger(s.logger)}
	if s.observer != nil {
		storeOpts = append(storeOpts, storage.WithSaveObserver(s.observer))
	}
	s.doc = storage.NewStore(backend, StorageKey, StorageVersion, storeOpts...)
	return s
}

// ensureLoaded loads the identity document once. A failed load is
// remembered and returned to every later caller.
func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.loaded.Load() {
		return nil
	}

	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	if s.loaded.Load() {
		return nil
	}
	if s.loadErr != nil {
		return s.loadErr
	}

	st, err := s.load(ctx)
	if err != nil {
		s.loadErr = fmt.Errorf("loading auth store: %w", err)
		return s.loadErr
	}

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	s.loaded.Store(true)
	return nil
}

// scheduleSave must be called with s.mu held.
func (s *Store) scheduleSave() {
	s.doc.DelaySave(s.dataToSave, s.saveDelay)
}

// Flush writes any pending changes immediately.
func (s *Store) Flush(ctx context.Context) error {
	return s.doc.Flush(ctx)
}

// Groups returns all groups in creation order.
func (s *Store) Groups(ctx context.Context) ([]*Group, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Group, 0, len(s.st.groupOrder))
	for _, id := range s.st.groupOrder {
		out = append(out, s.st.groups[id])
	}
	return out, nil
}

// Group returns one group.
func (s *Store) Group(ctx context.Context, id string) (*Group, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.st.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return g, nil
}

// Users returns all users in creation order.
func (s *Store) Users(ctx context.Context) ([]*User, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*User, 0, len(s.st.userOrder))
	for _, id := range s.st.userOrder {
		out = append(out, s.st.users[id])
	}
	return out, nil
}

// User returns one user.
func (s *Store) User(ctx context.Context, id string) (*User, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.st.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}

// UserByCredentials returns the user holding the credentials with the given id.
func (s *Store) UserByCredentials(ctx context.Context, credentialsID string) (*User, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.st.userOrder {
		u := s.st.users[id]
		for _, c := range u.Credentials {
			if c.ID == credentialsID {
				return u, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: no user for credentials %s", ErrUserNotFound, credentialsID)
}

// ProviderCredentials returns every stored credential of one provider instance.
func (s *Store) ProviderCredentials(ctx context.Context, providerType, providerID string) ([]*Credentials, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Credentials
	for _, id := range s.st.userOrder {
		for _, c := range s.st.users[id].Credentials {
			if c.AuthProviderType == providerType && c.AuthProviderID == providerID {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// NewUser describes a user to create.
type NewUser struct {
	Name            string
	IsOwner         bool
	IsActive        bool
	SystemGenerated bool
	// OwnerIfFirst makes the user the owner when no other user that is
	// not system generated exists yet. Decided under the store lock.
	OwnerIfFirst bool
	GroupIDs     []string
	// Credentials, when set, are linked to the new user.
	Credentials *Credentials
}

// CreateUser adds a user. Every group id must exist.
func (s *Store) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	groups, err := s.resolveGroupsLocked(nu.GroupIDs)
	if err != nil {
		return nil, err
	}

	isOwner := nu.IsOwner
	if nu.OwnerIfFirst && !nu.SystemGenerated {
		isOwner = !s.hasHumanUserLocked()
	}

	u := &User{
		ID:              newID(),
		Name:            nu.Name,
		IsOwner:         isOwner,
		IsActive:        nu.IsActive,
		SystemGenerated: nu.SystemGenerated,
		Groups:          groups,
		RefreshTokens:   make(map[string]*RefreshToken),
		lookup:          s.lookup,
		cache:           &permCache{},
	}
	if nu.Credentials != nil {
		u.Credentials = append(u.Credentials, linkedCopy(nu.Credentials))
	}

	s.st.putUser(u)
	s.scheduleSave()
	return u, nil
}

func (s *Store) hasHumanUserLocked() bool {
	for _, u := range s.st.users {
		if !u.SystemGenerated {
			return true
		}
	}
	return false
}

// LinkUser attaches credentials to a user. The stored copy is no longer new.
func (s *Store) LinkUser(ctx context.Context, userID string, creds *Credentials) (*User, error) {
	return s.mutateUser(ctx, userID, func(u *User) error {
		u.Credentials = append(u.Credentials, linkedCopy(creds))
		return nil
	})
}

func linkedCopy(c *Credentials) *Credentials {
	cp := *c
	cp.IsNew = false
	return &cp
}

// RemoveUser deletes a user with its credentials and refresh tokens.
func (s *Store) RemoveUser(ctx context.Context, userID string) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.st.users[userID]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	s.st.deleteUser(userID)
	s.scheduleSave()
	return nil
}

// UserUpdate lists changes to a user. Nil fields are left unchanged.
type UserUpdate struct {
	Name     *string
	IsActive *bool
	GroupIDs []string
}

// UpdateUser applies changes to a user. Unknown group ids fail with
// ErrInvalidGroup and leave the user untouched.
func (s *Store) UpdateUser(ctx context.Context, userID string, upd UserUpdate) (*User, error) {
	return s.mutateUser(ctx, userID, func(u *User) error {
		if upd.GroupIDs != nil {
			groups, err := s.resolveGroupsLocked(upd.GroupIDs)
			if err != nil {
				return err
			}
			u.Groups = groups
		}
		if upd.Name != nil {
			u.Name = *upd.Name
		}
		if upd.IsActive != nil {
			u.IsActive = *upd.IsActive
		}
		return nil
	})
}

// ActivateUser marks a user active.
func (s *Store) ActivateUser(ctx context.Context, userID string) (*User, error) {
	active := true
	return s.UpdateUser(ctx, userID, UserUpdate{IsActive: &active})
}

// DeactivateUser marks a user inactive.
func (s *Store) DeactivateUser(ctx context.Context, userID string) (*User, error) {
	active := false
	return s.UpdateUser(ctx, userID, UserUpdate{IsActive: &active})
}

// RemoveCredentials detaches credentials from whichever user holds them.
// Unknown ids are ignored.
func (s *Store) RemoveCredentials(ctx context.Context, credentialsID string) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.st.userOrder {
		u := s.st.users[id]
		idx := slices.IndexFunc(u.Credentials, func(c *Credentials) bool { return c.ID == credentialsID })
		if idx < 0 {
			continue
		}
		nu := u.clone()
		nu.Credentials = slices.Delete(nu.Credentials, idx, idx+1)
		s.st.putUser(nu)
		s.scheduleSave()
		return nil
	}
	return nil
}

// RefreshTokenOptions describes a refresh token to create.
type RefreshTokenOptions struct {
	ClientID              string
	ClientName            string
	ClientIcon            string
	TokenType             TokenType
	AccessTokenExpiration time.Duration
	CredentialID          string
}

// CreateRefreshToken adds a refresh token to a user with fresh secrets.
// A long-lived token whose client name the user already holds fails with
// ErrRefreshTokenRule; the other token type rules are enforced by the
// Manager.
func (s *Store) CreateRefreshToken(ctx context.Context, userID string, opts RefreshTokenOptions) (*RefreshToken, error) {
	token, err := newSecret()
	if err != nil {
		return nil, err
	}
	jwtKey, err := newSecret()
	if err != nil {
		return nil, err
	}

	if opts.TokenType == "" {
		opts.TokenType = TokenTypeNormal
	}
	if opts.AccessTokenExpiration <= 0 {
		opts.AccessTokenExpiration = DefaultAccessTokenExpiration
	}

	rt := &RefreshToken{
		ID:                    newID(),
		UserID:                userID,
		ClientID:              opts.ClientID,
		ClientName:            opts.ClientName,
		ClientIcon:            opts.ClientIcon,
		TokenType:             opts.TokenType,
		CreatedAt:             s.now().UTC(),
		AccessTokenExpiration: opts.AccessTokenExpiration,
		Token:                 token,
		JWTKey:                jwtKey,
		CredentialID:          opts.CredentialID,
	}

	if _, err := s.mutateUser(ctx, userID, func(u *User) error {
		if rt.TokenType == TokenTypeLongLived {
			for _, existing := range u.RefreshTokens {
				if existing.TokenType == TokenTypeLongLived && existing.ClientName == rt.ClientName {
					return fmt.Errorf("%w: %s already exists", ErrRefreshTokenRule, rt.ClientName)
				}
			}
		}
		u.RefreshTokens[rt.ID] = rt
		return nil
	}); err != nil {
		return nil, err
	}
	return rt, nil
}

// RemoveRefreshToken deletes a refresh token. Unknown ids are ignored.
func (s *Store) RemoveRefreshToken(ctx context.Context, tokenID string) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.st.userOrder {
		u := s.st.users[id]
		if _, ok := u.RefreshTokens[tokenID]; !ok {
			continue
		}
		nu := u.clone()
		delete(nu.RefreshTokens, tokenID)
		s.st.putUser(nu)
		s.scheduleSave()
		return nil
	}
	return nil
}

// RefreshToken returns a refresh token by id.
func (s *Store) RefreshToken(ctx context.Context, tokenID string) (*RefreshToken, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.st.users {
		if rt, ok := u.RefreshTokens[tokenID]; ok {
			return rt, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
}

// RefreshTokenByToken finds a refresh token by its secret. Every stored
// token is compared in constant time so the lookup does not leak which
// prefix matched.
func (s *Store) RefreshTokenByToken(ctx context.Context, token string) (*RefreshToken, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *RefreshToken
	for _, u := range s.st.users {
		for _, rt := range u.RefreshTokens {
			if subtle.ConstantTimeCompare([]byte(rt.Token), []byte(token)) == 1 {
				found = rt
			}
		}
	}
	if found == nil {
		return nil, ErrTokenNotFound
	}
	return found, nil
}

// LogRefreshTokenUsage records when and from where a token was used.
func (s *Store) LogRefreshTokenUsage(ctx context.Context, tokenID, remoteIP string) (*RefreshToken, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.st.userOrder {
		u := s.st.users[id]
		rt, ok := u.RefreshTokens[tokenID]
		if !ok {
			continue
		}
		updated := *rt
		updated.LastUsedAt = s.now().UTC()
		updated.LastUsedIP = remoteIP

		nu := u.clone()
		nu.RefreshTokens[tokenID] = &updated
		s.st.putUser(nu)
		s.scheduleSave()
		return &updated, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrTokenNotFound, tokenID)
}

// mutateUser clones a user, applies fn and stores the result.
func (s *Store) mutateUser(ctx context.Context, userID string, fn func(*User) error) (*User, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.st.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	nu := u.clone()
	if nu.RefreshTokens == nil {
		nu.RefreshTokens = make(map[string]*RefreshToken)
	}
	if err := fn(nu); err != nil {
		return nil, err
	}
	s.st.putUser(nu)
	s.scheduleSave()
	return nu, nil
}

func (s *Store) resolveGroupsLocked(ids []string) ([]*Group, error) {
	groups := make([]*Group, 0, len(ids))
	for _, id := range ids {
		g, ok := s.st.groups[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrInvalidGroup, id)
		}
		groups = append(groups, g)
	}
	return groups, nil
}
