// Package storage persists versioned JSON documents for the auth core.
//
// Every persisted blob (the identity graph, provider credentials, MFA module
// state) is a Document with a schema version, a key and an opaque data
// payload. A Backend stores documents; a Store wraps one key of a Backend and
// adds debounced writes.
//
// Backends:
//   - SQLiteBackend: storage_documents table in the main database
//   - RedisBackend: one string key per document
//   - MemoryBackend: process-local, used in tests and for ephemeral runs
//
// Usage:
//
//	store := storage.NewStore(backend, "auth", 1, storage.WithLogger(log))
//	var data authData
//	version, found, err := store.Load(ctx, &data)
//	...
//	store.DelaySave(func() any { return snapshot() }, time.Second)
//	defer store.Flush(ctx)
package storage
