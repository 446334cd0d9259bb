package password

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/Hatles/rx-home-sub002/internal/auth"
	"github.com/Hatles/rx-home-sub002/internal/infrastructure/config"
	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// Type is the provider type name used in configuration.
const Type = "password"

// DefaultName is shown when the configuration gives no name.
const DefaultName = "Local Accounts"

// storageVersion of the credential document.
const storageVersion = 1

// Options are the provider's configuration keys.
type Options struct{}

type entry struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type document struct {
	Users []entry `json:"users"`
}

// Provider authenticates against usernames and password hashes kept in
// their own storage document.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Provider struct {
	auth.ProviderBase
	doc    *storage.Store
	logger auth.Logger

	// verify compares a password with a stored hash; dummyHash stands in
	// for the hash of an unknown username.
	verify    func(password, encodedHash string) (ok, legacy bool, err error)
	dummyHash string

	loadMu sync.Mutex
	loaded bool

	mu    sync.RWMutex
	users []entry
}

// New creates a provider from its configuration entry.
func New(deps auth.PluginDeps, cfg config.PluginConfig) (auth.Provider, error) {
	var opts Options
	if err := auth.DecodeOptions(cfg.Options, &opts); err != nil {
		return nil, err
	}
	return NewProvider(deps.Store, deps.Backend, cfg.ID, cfg.Name, deps.Logger), nil
}

// NewProvider creates a provider persisting to backend.
func NewProvider(store *auth.Store, backend storage.Backend, id, name string, logger auth.Logger) *Provider {
	if logger == nil {
		logger = auth.NopLogger()
	}
	return &Provider{
		ProviderBase: auth.NewProviderBase(store, Type, id, name, DefaultName),
		doc:          storage.NewStore(backend, StorageKey(id), storageVersion, storage.WithLogger(logger)),
		logger:       logger,
		verify:       VerifyPassword,
		dummyHash:    dummyPasswordHash(),
	}
}

// StorageKey returns the document key of the provider instance id.
func StorageKey(id string) string {
	if id == "" {
		return "auth_provider." + Type
	}
	return "auth_provider." + Type + "." + id
}

// NormalizeUsername trims and case-folds a username.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (p *Provider) ensureLoaded(ctx context.Context) error {
	p.loadMu.Lock()
	defer p.loadMu.Unlock()
	if p.loaded {
		return nil
	}

	var doc document
	if _, _, err := p.doc.Load(ctx, &doc); err != nil {
		return err
	}

	p.mu.Lock()
	p.users = doc.Users
	p.mu.Unlock()
	p.loaded = true
	return nil
}

// save must be called with p.mu held.
func (p *Provider) saveLocked(ctx context.Context) error {
	users := make([]entry, len(p.users))
	copy(users, p.users)
	return p.doc.Save(ctx, document{Users: users})
}

func (p *Provider) indexLocked(username string) int {
	for i, e := range p.users {
		if e.Username == username {
			return i
		}
	}
	return -1
}

// ValidateLogin checks a username and password. Exactly one hash
// comparison runs per call, against a dummy hash for unknown usernames.
func (p *Provider) ValidateLogin(ctx context.Context, username, password string) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}
	username = NormalizeUsername(username)

	p.mu.RLock()
	stored := ""
	if i := p.indexLocked(username); i >= 0 {
		stored = p.users[i].Password
	}
	p.mu.RUnlock()

	if stored == "" {
		p.verify(password, p.dummyHash) //nolint:errcheck // timing only
		return auth.ErrInvalidAuth
	}

	ok, legacy, err := p.verify(password, stored)
	if err != nil {
		p.logger.Error("stored password hash unreadable", "username", username, "error", err)
		return auth.ErrInvalidAuth
	}
	if !ok {
		return auth.ErrInvalidAuth
	}
	if legacy {
		p.upgradeHash(ctx, username, password)
	}
	return nil
}

// upgradeHash replaces a legacy bcrypt hash after a successful login.
func (p *Provider) upgradeHash(ctx context.Context, username, password string) {
	hash, err := HashPassword(password)
	if err != nil {
		p.logger.Warn("rehashing legacy password failed", "username", username, "error", err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if i := p.indexLocked(username); i >= 0 {
		p.users[i].Password = hash
		if err := p.saveLocked(ctx); err != nil {
			p.logger.Warn("saving upgraded password hash failed", "username", username, "error", err)
		}
	}
}

// AddAuth adds a new username. Existing usernames fail with ErrInvalidUser.
func (p *Provider) AddAuth(ctx context.Context, username, password string) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}
	username = NormalizeUsername(username)
	if username == "" {
		return fmt.Errorf("%w: username is empty", auth.ErrInvalidUser)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.indexLocked(username) >= 0 {
		return fmt.Errorf("%w: username already exists", auth.ErrInvalidUser)
	}
	p.users = append(p.users, entry{Username: username, Password: hash})
	return p.saveLocked(ctx)
}

// RemoveAuth deletes a username. Unknown usernames fail with ErrInvalidUser.
func (p *Provider) RemoveAuth(ctx context.Context, username string) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}
	username = NormalizeUsername(username)

	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(username)
	if i < 0 {
		return fmt.Errorf("%w: user not found", auth.ErrInvalidUser)
	}
	p.users = append(p.users[:i], p.users[i+1:]...)
	return p.saveLocked(ctx)
}

// ChangePassword sets a new password. Unknown usernames fail with ErrInvalidUser.
func (p *Provider) ChangePassword(ctx context.Context, username, newPassword string) error {
	if err := p.ensureLoaded(ctx); err != nil {
		return err
	}
	username = NormalizeUsername(username)

	hash, err := HashPassword(newPassword)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.indexLocked(username)
	if i < 0 {
		return fmt.Errorf("%w: user not found", auth.ErrInvalidUser)
	}
	p.users[i].Password = hash
	return p.saveLocked(ctx)
}

// Usernames lists the stored usernames.
func (p *Provider) Usernames(ctx context.Context) ([]string, error) {
	if err := p.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.users))
	for i, e := range p.users {
		out[i] = e.Username
	}
	return out, nil
}

// LoginFlow returns the username and password form.
func (p *Provider) LoginFlow(_ context.Context, _ auth.FlowContext) (auth.Stepper, error) {
	schema := []auth.Field{
		{Name: "username", Type: auth.FieldString, Required: true},
		{Name: "password", Type: auth.FieldPassword, Required: true},
	}
	return auth.StepperFunc(func(ctx context.Context, stepID string, input map[string]string) (auth.Step, error) {
		if input == nil {
			return auth.FormStep(auth.StepInit, schema, nil), nil
		}
		if err := p.ValidateLogin(ctx, input["username"], input["password"]); err != nil {
			return auth.Step{}, err
		}
		return auth.DoneStep(map[string]string{"username": NormalizeUsername(input["username"])}), nil
	}), nil
}

// GetOrCreateCredentials returns the stored credentials for the username
// or new ones.
func (p *Provider) GetOrCreateCredentials(ctx context.Context, data map[string]string) (*auth.Credentials, error) {
	username := NormalizeUsername(data["username"])
	existing, err := p.FindCredentials(ctx, func(d map[string]string) bool {
		return NormalizeUsername(d["username"]) == username
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return p.NewCredentials(map[string]string{"username": username}), nil
}

// UserMetaForCredentials names new users after their username.
func (p *Provider) UserMetaForCredentials(_ context.Context, creds *auth.Credentials) (auth.UserMeta, error) {
	return auth.UserMeta{Name: creds.Data["username"], IsActive: true}, nil
}

// RemoveCredentials drops the stored password of removed credentials.
func (p *Provider) RemoveCredentials(ctx context.Context, creds *auth.Credentials) error {
	err := p.RemoveAuth(ctx, creds.Data["username"])
	if err != nil && !errors.Is(err, auth.ErrInvalidUser) {
		return err
	}
	return nil
}
