package cache

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonesrussell/beancrawl/internal/domain"
)

// DefaultSweepInterval is how often the periodic sweep evicts expired
// entries. Expired entries are also treated as misses on read, so the
// sweep only bounds memory, not correctness.
const DefaultSweepInterval = 5 * time.Minute

// entry is one cached value with its expiry.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemoryCache creates an in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (c *MemoryCache) WithClock(now func() time.Time) *MemoryCache {
	c.now = now
	return c
}

// cacheKey joins the content hash and field into one map key.
func cacheKey(contentHash, field string) string {
	return contentHash + ":" + field
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, contentHash, field string) ([]byte, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[cacheKey(contentHash, field)]
	c.mu.RUnlock()

	if !ok || c.now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Put implements Cache.
func (c *MemoryCache) Put(
	_ context.Context,
	contentHash, field string,
	value []byte,
	ttl time.Duration,
) error {
	key := cacheKey(contentHash, field)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok && !c.now().After(existing.expiresAt) {
		if bytes.Equal(existing.value, value) {
			return nil
		}
		return fmt.Errorf("%w: hash %s field %s", domain.ErrCacheCollision, contentHash, field)
	}

	c.entries[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Sweep removes expired entries and returns how many were evicted.
func (c *MemoryCache) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs the periodic sweep until the context is cancelled.
func (c *MemoryCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Len returns the number of live and expired-but-unswept entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
