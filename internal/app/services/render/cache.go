package render

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores rendered documents keyed by content hash. Entries are
// immutable once written, so eviction policy is the only correctness concern.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, doc []byte)
}

// MemoryCache is a bounded in-process cache. Insertion order doubles as the
// eviction order; content-hashed keys make recency tracking unnecessary.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	order   []string
	max     int
}

// NewMemoryCache creates a cache holding at most max documents.
func NewMemoryCache(max int) *MemoryCache {
	if max <= 0 {
		max = 256
	}
	return &MemoryCache{entries: make(map[string][]byte), max: max}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.entries[key]
	return doc, ok
}

func (c *MemoryCache) Set(_ context.Context, key string, doc []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	for len(c.entries) >= c.max && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = doc
	c.order = append(c.order, key)
}

// RedisCache shares rendered documents across instances through Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps a Redis client. ttl bounds how long stale renders of
// since-changed avatars linger; zero means one hour.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	doc, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return doc, true
}

func (c *RedisCache) Set(ctx context.Context, key string, doc []byte) {
	// Best effort; a failed write only costs a re-render.
	c.client.Set(ctx, key, doc, c.ttl)
}
