// Package cache implements a TTL-bounded value cache: a process-local,
// lazily-evicting map from secret reference to previously approved
// value. A non-positive TTL disables the cache entirely.
package cache

import (
	"sync"
	"time"
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Cache is a TTL-bounded, lazily-evicting value cache. The zero value is
// not usable; construct with New.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
}

// New constructs a Cache with the given TTL. A TTL of zero or negative
// disables the cache: Lookup always misses and Store is a no-op.
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[string]entry)}
}

// Enabled reports whether this cache actually stores anything.
func (c *Cache) Enabled() bool {
	return c.ttl > 0
}

// Lookup returns the cached value for reference and true on a live hit.
// An expired entry is evicted as a side effect and reported as a miss.
func (c *Cache) Lookup(reference string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[reference]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.entries, reference)
		return "", false
	}
	return e.value, true
}

// Store records value for reference, expiring it after the configured TTL.
// A no-op when the cache is disabled.
func (c *Cache) Store(reference, value string) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[reference] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Size returns the number of entries currently held, without evicting
// expired ones (used for the status action's cacheSize field; it is a
// point-in-time upper bound, not a guarantee every entry is still live).
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
