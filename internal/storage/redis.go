package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores each document as a JSON string under prefix:key.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a backend over an existing client.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) redisKey(key string) string {
	if b.prefix == "" {
		return key
	}
	return b.prefix + ":" + key
}

// Load implements Backend.
func (b *RedisBackend) Load(ctx context.Context, key string) (*Document, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	raw, err := b.client.Get(ctx, b.redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decoding document envelope: %w", err)
	}
	return &doc, nil
}

// Save implements Backend.
func (b *RedisBackend) Save(ctx context.Context, doc *Document) error {
	if doc.Key == "" {
		return ErrInvalidKey
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document envelope: %w", err)
	}
	if err := b.client.Set(ctx, b.redisKey(doc.Key), raw, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Remove implements Backend.
func (b *RedisBackend) Remove(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, b.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
