// Package cache implements the 1Password Connect provider's shared
// vault-name/item-name to UUID cache (spec.md §4.E: "Maintains a shared
// name->UUID cache so repeated references to the same vault or item don't
// repeat a list-by-name REST call"). Adapted from the teacher's
// pkg/sidecar/cache/cache.go: the TTL'd map + RWMutex shape is kept,
// repurposed from caching secret values to caching name resolutions.
package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// UUIDCache stores vault/item name -> UUID resolutions in memory.
// Thread-safe for concurrent access. Entries expire after maxAge so a
// renamed or recreated vault/item is eventually re-resolved.
type UUIDCache struct {
	mu      sync.RWMutex
	entries map[string]*CachedUUID
	maxAge  time.Duration
}

// CachedUUID is a resolved ID with the time it was resolved.
type CachedUUID struct {
	ID         uuid.UUID
	ResolvedAt time.Time
}

// NewUUIDCache creates a new in-memory name->UUID cache.
// maxAge: maximum age before an entry is considered stale (0 = 1 hour
// default).
func NewUUIDCache(maxAge time.Duration) *UUIDCache {
	if maxAge == 0 {
		maxAge = time.Hour
	}
	return &UUIDCache{
		entries: make(map[string]*CachedUUID),
		maxAge:  maxAge,
	}
}

// Get retrieves a cached UUID for name if it exists and is not expired.
func (c *UUIDCache) Get(name string) (uuid.UUID, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.entries[name]
	if !ok {
		return uuid.UUID{}, false
	}
	if time.Since(cached.ResolvedAt) > c.maxAge {
		return uuid.UUID{}, false
	}
	return cached.ID, true
}

// Set stores a name -> UUID resolution with the current timestamp.
func (c *UUIDCache) Set(name string, id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[name] = &CachedUUID{ID: id, ResolvedAt: time.Now()}
}

// Age returns how long ago name was resolved. Returns 0 if not cached.
func (c *UUIDCache) Age(name string) time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if cached, ok := c.entries[name]; ok {
		return time.Since(cached.ResolvedAt)
	}
	return 0
}

// Size returns the number of cached resolutions.
func (c *UUIDCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every cached resolution, forcing fresh name lookups.
func (c *UUIDCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedUUID)
}
