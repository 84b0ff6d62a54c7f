// Package cache is a process-local key/value store with per-entry
// expiry. It keeps the previous known-good roster and tag lists across
// view remounts so the UI renders instantly while a fresh snapshot is
// in flight instead of flashing an empty state.
package cache

import (
	"sync"
	"time"
)

// Default TTLs for the cached lists.
const (
	DefaultThreadsTTL = 5 * time.Minute
	DefaultTagsTTL    = 8 * time.Minute
)

type entry struct {
	value     any
	expiresAt time.Time
}

// Cache stores values until their TTL elapses. Writes are
// last-writer-wins; staleness is bounded by the TTL.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the value stored under key, or ok=false if the key is
// absent or expired. Expired entries are removed on read.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key with the given TTL and sweeps any entries
// that have already expired.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = entry{value: value, expiresAt: now.Add(ttl)}
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Delete removes key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
