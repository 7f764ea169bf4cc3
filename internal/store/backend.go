package store

import (
	"context"
	"strings"
	"time"
)

// Backend persists messages durably. The store writes to the backend before
// updating its in-process indices, and rebuilds the indices from LoadMessages
// on startup.
type Backend interface {
	SaveMessage(ctx context.Context, msg StoredMessage) error
	// LoadMessages returns all messages ordered by (chat_id, id).
	LoadMessages(ctx context.Context) ([]StoredMessage, error)
	// DeleteOlderThan removes up to limit messages older than cutoff and
	// returns the count removed.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, limit int) (int, error)
	DeleteAll(ctx context.Context) error
	Close() error
}

// NewBackend selects postgres when a database URL is configured, then bolt,
// otherwise a volatile in-memory backend for tests and dev.
func NewBackend(ctx context.Context, databaseURL, boltPath string) (Backend, error) {
	if strings.TrimSpace(databaseURL) != "" {
		return NewPostgresBackend(ctx, databaseURL)
	}
	if strings.TrimSpace(boltPath) != "" {
		return NewBoltBackend(boltPath)
	}
	return NewMemoryBackend(), nil
}

// MemoryBackend keeps messages in process memory only. Durability comes from
// the bolt or postgres backends; this one exists for tests and local dev.
type MemoryBackend struct{}

func NewMemoryBackend() *MemoryBackend { return &MemoryBackend{} }

func (b *MemoryBackend) SaveMessage(context.Context, StoredMessage) error { return nil }

func (b *MemoryBackend) LoadMessages(context.Context) ([]StoredMessage, error) { return nil, nil }

func (b *MemoryBackend) DeleteOlderThan(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

func (b *MemoryBackend) DeleteAll(context.Context) error { return nil }

func (b *MemoryBackend) Close() error { return nil }
