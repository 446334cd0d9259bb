package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteBackend stores documents in the storage_documents table.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend creates a backend over an open, migrated database.
func NewSQLiteBackend(db *sql.DB) *SQLiteBackend {
	return &SQLiteBackend{db: db}
}

// Load implements Backend.
func (b *SQLiteBackend) Load(ctx context.Context, key string) (*Document, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}

	var (
		doc  Document
		data string
	)
	err := b.db.QueryRowContext(ctx,
		"SELECT key, version, data FROM storage_documents WHERE key = ?", key,
	).Scan(&doc.Key, &doc.Version, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	doc.Data = []byte(data)
	return &doc, nil
}

// Save implements Backend. Existing documents are replaced.
func (b *SQLiteBackend) Save(ctx context.Context, doc *Document) error {
	if doc.Key == "" {
		return ErrInvalidKey
	}
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO storage_documents (key, version, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET version = excluded.version, data = excluded.data, updated_at = excluded.updated_at`,
		doc.Key, doc.Version, string(doc.Data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("upserting document: %w", err)
	}
	return nil
}

// Remove implements Backend. Removing a missing key is not an error.
func (b *SQLiteBackend) Remove(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM storage_documents WHERE key = ?", key); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	return nil
}
