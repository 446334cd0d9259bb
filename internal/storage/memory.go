package storage

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in process memory.
type MemoryBackend struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{docs: make(map[string]Document)}
}

// Load implements Backend. The returned document is a copy.
func (b *MemoryBackend) Load(_ context.Context, key string) (*Document, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.docs[key]
	if !ok {
		return nil, ErrNotFound
	}
	doc.Data = append([]byte(nil), doc.Data...)
	return &doc, nil
}

// Save implements Backend.
func (b *MemoryBackend) Save(_ context.Context, doc *Document) error {
	if doc.Key == "" {
		return ErrInvalidKey
	}
	cp := *doc
	cp.Data = append([]byte(nil), doc.Data...)

	b.mu.Lock()
	b.docs[doc.Key] = cp
	b.mu.Unlock()
	return nil
}

// Remove implements Backend.
func (b *MemoryBackend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	delete(b.docs, key)
	b.mu.Unlock()
	return nil
}
