package auth

import (
	"context"
	"crypto/subtle"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Hatles/rx-home-sub002/internal/storage"
)

// testClock is a settable clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// countingBackend counts loads of the wrapped memory backend.
type countingBackend struct {
	*storage.MemoryBackend
	loads atomic.Int32
	delay time.Duration
}

func (b *countingBackend) Load(ctx context.Context, key string) (*storage.Document, error) {
	b.loads.Add(1)
	if b.delay > 0 {
		time.Sleep(b.delay)
	}
	return b.MemoryBackend.Load(ctx, key)
}

// recordingBus keeps every fired event.
type recordingBus struct {
	mu     sync.Mutex
	events []firedEvent
}

type firedEvent struct {
	Type string
	Data map[string]any
}

func (b *recordingBus) Fire(_ context.Context, eventType string, data map[string]any) {
	b.mu.Lock()
	b.events = append(b.events, firedEvent{Type: eventType, Data: data})
	b.mu.Unlock()
}

func (b *recordingBus) ofType(eventType string) []firedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []firedEvent
	for _, e := range b.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// recordingRecorder counts metric observations.
type recordingRecorder struct {
	mu       sync.Mutex
	logins   map[string]int
	mfa      map[bool]int
	tokenOK  int
	tokenBad int
}

func newRecordingRecorder() *recordingRecorder {
	return &recordingRecorder{logins: map[string]int{}, mfa: map[bool]int{}}
}

func (r *recordingRecorder) ObserveLogin(_, result string) {
	r.mu.Lock()
	r.logins[result]++
	r.mu.Unlock()
}

func (r *recordingRecorder) ObserveMFA(_ string, valid bool) {
	r.mu.Lock()
	r.mfa[valid]++
	r.mu.Unlock()
}

func (r *recordingRecorder) ObserveTokenValidation(valid bool) {
	r.mu.Lock()
	if valid {
		r.tokenOK++
	} else {
		r.tokenBad++
	}
	r.mu.Unlock()
}

// testProvider checks usernames and passwords from a map.
type testProvider struct {
	ProviderBase
	passwords map[string]string
	noMFA     bool
	removed   []string
}

func newTestProvider(store *Store, id string, passwords map[string]string) *testProvider {
	return &testProvider{
		ProviderBase: NewProviderBase(store, "test", id, "", "Test Provider"),
		passwords:    passwords,
	}
}

func (p *testProvider) SupportMFA() bool { return !p.noMFA }

func (p *testProvider) LoginFlow(context.Context, FlowContext) (Stepper, error) {
	schema := []Field{
		{Name: "username", Type: FieldString, Required: true},
		{Name: "password", Type: FieldPassword, Required: true},
	}
	return StepperFunc(func(_ context.Context, _ string, input map[string]string) (Step, error) {
		if input == nil {
			return FormStep(StepInit, schema, nil), nil
		}
		want, ok := p.passwords[input["username"]]
		if !ok || subtle.ConstantTimeCompare([]byte(want), []byte(input["password"])) != 1 {
			return Step{}, ErrInvalidAuth
		}
		return DoneStep(map[string]string{"username": input["username"]}), nil
	}), nil
}

func (p *testProvider) GetOrCreateCredentials(ctx context.Context, data map[string]string) (*Credentials, error) {
	existing, err := p.FindCredentials(ctx, func(d map[string]string) bool { return d["username"] == data["username"] })
	if err != nil || existing != nil {
		return existing, err
	}
	return p.NewCredentials(map[string]string{"username": data["username"]}), nil
}

func (p *testProvider) UserMetaForCredentials(_ context.Context, c *Credentials) (UserMeta, error) {
	return UserMeta{Name: c.Data["username"], IsActive: true}, nil
}

func (p *testProvider) RemoveCredentials(_ context.Context, c *Credentials) error {
	p.removed = append(p.removed, c.Data["username"])
	return nil
}

// testModule accepts a fixed code per user.
type testModule struct {
	MFABase
	maxRetry int
	initErr  error

	mu    sync.Mutex
	codes map[string]string
	inits int
}

func newTestModule(id string, maxRetry int) *testModule {
	return &testModule{
		MFABase:  NewMFABase(id, "", id, "Module "+id),
		maxRetry: maxRetry,
		codes:    map[string]string{},
	}
}

func (m *testModule) InputSchema() []Field {
	return []Field{{Name: "code", Type: FieldString, Required: true}}
}

func (m *testModule) MaxRetryTime() int { return m.maxRetry }

func (m *testModule) SetupFlow(_ context.Context, userID string) (Stepper, error) {
	return StepperFunc(func(ctx context.Context, _ string, input map[string]string) (Step, error) {
		if input == nil {
			return FormStep(StepInit, m.InputSchema(), nil), nil
		}
		if input["code"] == "" {
			return FormStep(StepInit, m.InputSchema(), map[string]string{"code": "required"}), nil
		}
		if err := m.SetupUser(ctx, userID, input); err != nil {
			return Step{}, err
		}
		return DoneStep(nil), nil
	}), nil
}

func (m *testModule) SetupUser(_ context.Context, userID string, data map[string]string) error {
	m.mu.Lock()
	m.codes[userID] = data["code"]
	m.mu.Unlock()
	return nil
}

func (m *testModule) DeposeUser(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.codes, userID)
	m.mu.Unlock()
	return nil
}

func (m *testModule) IsUserSetup(_ context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.codes[userID]
	return ok, nil
}

func (m *testModule) Validate(_ context.Context, userID string, input map[string]string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	code, ok := m.codes[userID]
	return ok && code == input["code"], nil
}

func (m *testModule) InitializeLoginMFAStep(context.Context, string) error {
	m.mu.Lock()
	m.inits++
	m.mu.Unlock()
	return m.initErr
}

// testEnv is a manager wired to in-memory collaborators.
type testEnv struct {
	m        *Manager
	store    *Store
	backend  *storage.MemoryBackend
	clock    *testClock
	bus      *recordingBus
	recorder *recordingRecorder
	provider *testProvider
}

func newTestEnv(t *testing.T, modules ...MFAModule) *testEnv {
	t.Helper()
	env := &testEnv{
		backend:  storage.NewMemoryBackend(),
		clock:    newTestClock(),
		bus:      &recordingBus{},
		recorder: newRecordingRecorder(),
	}
	env.store = NewStore(env.backend, WithStoreClock(env.clock.now), WithSaveDelay(time.Hour))
	env.provider = newTestProvider(env.store, "", map[string]string{"alice": "secret123", "bob": "hunter2"})

	m, err := NewManager(env.store, []Provider{env.provider}, modules,
		WithEventBus(env.bus),
		WithRecorder(env.recorder),
		WithClock(env.clock.now),
	)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	env.m = m
	return env
}

// createLinkedUser creates a user with test provider credentials.
func (env *testEnv) createLinkedUser(t *testing.T, username string) *User {
	t.Helper()
	ctx := context.Background()
	creds, err := env.provider.GetOrCreateCredentials(ctx, map[string]string{"username": username})
	if err != nil {
		t.Fatalf("GetOrCreateCredentials() error = %v", err)
	}
	u, err := env.m.GetOrCreateUser(ctx, creds)
	if err != nil {
		t.Fatalf("GetOrCreateUser() error = %v", err)
	}
	return u
}
