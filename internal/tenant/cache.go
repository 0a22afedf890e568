package tenant

import (
	"context"
	"sync"
	"time"
)

// ConfigGetter is the read side of the tenant config store.
type ConfigGetter interface {
	Get(ctx context.Context, tenantID string) (*Config, error)
}

type cacheEntry struct {
	cfg       *Config
	expiresAt time.Time
}

// CachedStore is a read-through cache over a tenant config store with a
// fixed TTL. It is constructed explicitly and injected; Clear resets it
// between tests.
type CachedStore struct {
	inner ConfigGetter
	ttl   time.Duration
	now   func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCachedStore wraps a store with a TTL cache.
func NewCachedStore(inner ConfigGetter, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedStore{
		inner:   inner,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached config when fresh, falling through to the inner
// store otherwise. Inner-store errors are never cached.
func (c *CachedStore) Get(ctx context.Context, tenantID string) (*Config, error) {
	c.mu.RLock()
	entry, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expiresAt) {
		return entry.cfg, nil
	}

	cfg, err := c.inner.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[tenantID] = cacheEntry{cfg: cfg, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return cfg, nil
}

// Invalidate drops a single tenant's cached config.
func (c *CachedStore) Invalidate(tenantID string) {
	c.mu.Lock()
	delete(c.entries, tenantID)
	c.mu.Unlock()
}

// Clear drops all cached entries.
func (c *CachedStore) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}
