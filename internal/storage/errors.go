package storage

import "errors"

// Domain errors for document storage.
var (
	// ErrNotFound is returned by a Backend when no document exists for the key.
	ErrNotFound = errors.New("storage document not found")

	// ErrKeyMismatch is returned when a stored document carries a different key.
	ErrKeyMismatch = errors.New("storage document key mismatch")

	// ErrInvalidKey is returned for empty keys.
	ErrInvalidKey = errors.New("storage key must not be empty")
)
