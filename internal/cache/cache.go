// Package cache memoizes idempotent command outputs with a TTL. It has
// no command semantics of its own: callers decide per call whether a
// result is cacheable.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// DefaultTTL is how long a cached result stays valid. Metadata lookups
// typically use a multiple of it.
const DefaultTTL = 60 * time.Second

type entry struct {
	value    string
	storedAt time.Time
	ttl      time.Duration
}

// Cache is an in-memory TTL memoization table. Entries are evicted
// lazily on lookup and swept opportunistically on store.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given default TTL (zero takes
// DefaultTTL).
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[string]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key derives the cache key for a (target, command) pair.
func Key(target, command string) string {
	sum := sha256.Sum256([]byte(target + "\x00" + command))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached value when present and unexpired. Expired
// entries are deleted on the way out.
func (c *Cache) Lookup(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.storedAt) >= e.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

// Store records a value under the default TTL and sweeps any entries
// that have expired in the meantime.
func (c *Cache) Store(key, value string) {
	c.mu.Lock()
	c.storeLocked(key, value, c.ttl)
	c.sweepLocked()
	c.mu.Unlock()
}

// StoreFor records a value under an explicit TTL, used for metadata
// results that stay fresh longer than command output.
func (c *Cache) StoreFor(key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.storeLocked(key, value, ttl)
	c.sweepLocked()
	c.mu.Unlock()
}

// Configure atomically changes the default TTL for subsequent stores.
// Existing entries keep the TTL they were stored with.
func (c *Cache) Configure(ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c.mu.Lock()
	c.ttl = ttl
	c.mu.Unlock()
}

// TTL returns the current default TTL.
func (c *Cache) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

// Len reports how many entries are held, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) storeLocked(key, value string, ttl time.Duration) {
	c.entries[key] = entry{value: value, storedAt: c.now(), ttl: ttl}
}

func (c *Cache) sweepLocked() {
	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.storedAt) >= e.ttl {
			delete(c.entries, key)
		}
	}
}
