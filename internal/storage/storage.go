package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Document is the persisted envelope around a payload.
type Document struct {
	Version int             `json:"version"`
	Key     string          `json:"key"`
	Data    json.RawMessage `json:"data"`
}

// Backend reads and writes whole documents.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Load returns ErrNotFound when the key has never been saved.
	Load(ctx context.Context, key string) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Remove(ctx context.Context, key string) error
}

// Logger is the logging contract used by Store.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Error(string, ...any) {}

// SaveObserver is told about every completed write. err is nil on success.
type SaveObserver func(key string, err error)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for background save failures.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSaveObserver registers a callback invoked after every write attempt.
func WithSaveObserver(fn SaveObserver) Option {
	return func(s *Store) { s.observer = fn }
}

// writeTimeout bounds background writes that have no caller context.
const writeTimeout = 10 * time.Second

// Store binds a Backend to one key and schema version.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - At most one delayed save is pending at a time; scheduling another
//     replaces the data function and restarts the timer.
type Store struct {
	backend Backend
	key     string
	version int

	logger   Logger
	observer SaveObserver

	mu       sync.Mutex
	timer    *time.Timer
	dataFunc func() any

	// writeMu is held from taking a snapshot until its write completes,
	// so writes land in snapshot order and Flush waits for a running
	// delayed save.
	writeMu sync.Mutex
}

// NewStore creates a Store for key at the given schema version.
func NewStore(backend Backend, key string, version int, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		key:     key,
		version: version,
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the document key.
func (s *Store) Key() string {
	return s.key
}

// Version returns the schema version written by Save.
func (s *Store) Version() int {
	return s.version
}

// Load decodes the stored payload into v and returns the version it was
// written with. found is false (and v untouched) when nothing is stored.
func (s *Store) Load(ctx context.Context, v any) (version int, found bool, err error) {
	doc, err := s.backend.Load(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("loading %s: %w", s.key, err)
	}
	if doc.Key != "" && doc.Key != s.key {
		return 0, false, fmt.Errorf("loading %s: %w (found %q)", s.key, ErrKeyMismatch, doc.Key)
	}
	if len(doc.Data) > 0 && string(doc.Data) != "null" {
		if err := json.Unmarshal(doc.Data, v); err != nil {
			return 0, false, fmt.Errorf("decoding %s: %w", s.key, err)
		}
	}
	return doc.Version, true, nil
}

// Save writes data immediately, cancelling any pending delayed save.
func (s *Store) Save(ctx context.Context, data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	return s.writeLocked(ctx, data)
}

// DelaySave schedules dataFunc to be called and its result written after
// delay. Calls within the window coalesce into one write using the latest
// dataFunc. Write failures are logged and reported to the observer.
func (s *Store) DelaySave(dataFunc func() any, delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dataFunc = dataFunc
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(delay, s.fire)
}

// Pending reports whether a delayed save is scheduled.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dataFunc != nil
}

// Flush writes a pending delayed save synchronously. It also waits for a
// delayed save that is already writing, so the backend is idle once Flush
// returns.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	fn := s.dataFunc
	s.stopTimerLocked()
	s.mu.Unlock()

	if fn == nil {
		return nil
	}
	return s.writeLocked(ctx, fn())
}

// Remove deletes the stored document and drops any pending save.
func (s *Store) Remove(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	s.stopTimerLocked()
	s.mu.Unlock()

	if err := s.backend.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("removing %s: %w", s.key, err)
	}
	return nil
}

// fire runs the delayed save. The data function is taken under writeMu, so
// a Flush or Save that ran first leaves nothing to write.
func (s *Store) fire() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	fn := s.dataFunc
	s.dataFunc = nil
	s.timer = nil
	s.mu.Unlock()

	if fn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := s.writeLocked(ctx, fn()); err != nil {
		s.logger.Error("delayed save failed", "key", s.key, "error", err)
	}
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.dataFunc = nil
}

// writeLocked encodes and saves data. s.writeMu must be held.
func (s *Store) writeLocked(ctx context.Context, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		err = fmt.Errorf("encoding %s: %w", s.key, err)
		s.observe(err)
		return err
	}

	err = s.backend.Save(ctx, &Document{Version: s.version, Key: s.key, Data: raw})
	if err != nil {
		err = fmt.Errorf("saving %s: %w", s.key, err)
	} else {
		s.logger.Debug("document saved", "key", s.key, "bytes", len(raw))
	}
	s.observe(err)
	return err
}

func (s *Store) observe(err error) {
	if s.observer != nil {
		s.observer(s.key, err)
	}
}
