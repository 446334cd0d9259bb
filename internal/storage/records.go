package storage

import (
	"context"
	"maps"
	"sync"
)

// Records keeps a map of per-user values in one document, stored as
// {"users": {<user id>: <value>}}. The document is loaded on first use and
// written synchronously on every change.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Records[T any] struct {
	store *Store

	loadMu sync.Mutex
	loaded bool

	mu    sync.RWMutex
	users map[string]T
}

type recordsDoc[T any] struct {
	Users map[string]T `json:"users"`
}

// NewRecords creates Records persisted by store.
func NewRecords[T any](store *Store) *Records[T] {
	return &Records[T]{store: store, users: make(map[string]T)}
}

func (r *Records[T]) ensureLoaded(ctx context.Context) error {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()
	if r.loaded {
		return nil
	}

	var doc recordsDoc[T]
	if _, _, err := r.store.Load(ctx, &doc); err != nil {
		return err
	}
	r.mu.Lock()
	if doc.Users != nil {
		r.users = doc.Users
	}
	r.mu.Unlock()
	r.loaded = true
	return nil
}

// Get returns the value of userID.
func (r *Records[T]) Get(ctx context.Context, userID string) (T, bool, error) {
	var zero T
	if err := r.ensureLoaded(ctx); err != nil {
		return zero, false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.users[userID]
	return v, ok, nil
}

// Has reports whether userID has a value.
func (r *Records[T]) Has(ctx context.Context, userID string) (bool, error) {
	_, ok, err := r.Get(ctx, userID)
	return ok, err
}

// Put stores v for userID.
func (r *Records[T]) Put(ctx context.Context, userID string, v T) error {
	return r.Update(ctx, userID, func(T, bool) (T, bool) { return v, true })
}

// Update replaces the value of userID with the result of fn. fn receives
// the current value and whether it exists; returning false deletes it.
// Nothing is written when fn keeps a missing value missing. When the write
// fails the previous values are kept.
func (r *Records[T]) Update(ctx context.Context, userID string, fn func(cur T, ok bool) (T, bool)) error {
	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, existed := r.users[userID]
	next, keep := fn(cur, existed)
	if !keep && !existed {
		return nil
	}

	users := maps.Clone(r.users)
	if keep {
		users[userID] = next
	} else {
		delete(users, userID)
	}
	if err := r.store.Save(ctx, recordsDoc[T]{Users: users}); err != nil {
		return err
	}
	r.users = users
	return nil
}

// Delete removes userID. Deleting a missing user is a no-op.
func (r *Records[T]) Delete(ctx context.Context, userID string) error {
	return r.Update(ctx, userID, func(cur T, _ bool) (T, bool) { return cur, false })
}
