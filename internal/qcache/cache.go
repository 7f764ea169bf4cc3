// Package qcache caches synthesized answers keyed by normalized query and
// chat scope, so repeated questions skip retrieval and synthesis entirely.
package qcache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"
)

// Entry is one cached answer.
type Entry struct {
	Answer    string    `json:"answer"`
	Sources   []string  `json:"sources,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Cache is the answer cache. Implementations are safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Put(ctx context.Context, key string, entry Entry) error
	InvalidateAll(ctx context.Context) error
	Close() error
}

// Key normalizes a query and scope into a cache key. Case, punctuation,
// whitespace runs and chat order never change the key.
func Key(query string, chatIDs []string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(query) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteByte(' ')
			lastSpace = true
		}
	}
	key := strings.TrimSpace(b.String())

	if len(chatIDs) > 0 {
		scoped := append([]string(nil), chatIDs...)
		sort.Strings(scoped)
		key += "|" + strings.Join(scoped, ",")
	}
	return key
}

// MemoryCache is the in-process TTL cache. Expiry is lazy on Get, with an
// optional sweeper for memory pressure.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Entry, bool, error) {
	now := c.now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Entry{}, false, nil
	}
	if !now.Before(e.expiresAt) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expiresAt.Equal(e.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return Entry{}, false, nil
	}
	return e.entry, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key string, entry Entry) error {
	now := c.now()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now.UTC()
	}
	c.mu.Lock()
	c.entries[key] = memoryEntry{entry: entry, expiresAt: now.Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Close() error { return nil }

// Len counts live entries without extending their lifetime.
func (c *MemoryCache) Len() int {
	now := c.now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	count := 0
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			count++
		}
	}
	return count
}

// StartSweeper evicts expired entries on a ticker until ctx ends.
func (c *MemoryCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.sweep()
			}
		}
	}()
}

func (c *MemoryCache) sweep() {
	now := c.now()
	c.mu.Lock()
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

// NewCache selects redis when an address is configured, in-memory otherwise.
func NewCache(redisAddr, redisPassword string, redisDB int, ttl time.Duration) (Cache, error) {
	if strings.TrimSpace(redisAddr) != "" {
		return NewRedisCache(redisAddr, redisPassword, redisDB, ttl)
	}
	return NewMemoryCache(ttl), nil
}
