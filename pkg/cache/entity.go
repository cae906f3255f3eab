// Package cache holds the per-searchdomain in-memory caches: the hydrated
// entity snapshot and the bounded query-result cache. Both are owned by
// their searchdomain, never persisted, and lost on restart.
package cache

import (
	"sync"

	"github.com/LD-Reborn/embeddingsearch/pkg/database"
)

// EntityCache is the in-memory snapshot of all entities in a searchdomain,
// gated by an invalidation flag. While the flag is set, readers must refill
// the cache from storage before answering.
type EntityCache struct {
	mu       sync.RWMutex
	entities []*database.Entity
	invalid  bool
}

// NewEntityCache returns an empty cache in the invalid state, so the first
// read hydrates from storage.
func NewEntityCache() *EntityCache {
	return &EntityCache{invalid: true}
}

// Snapshot returns the cached entity list and whether it is valid. The
// returned slice is shared and must be treated as read-only.
func (c *EntityCache) Snapshot() ([]*database.Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.invalid {
		return nil, false
	}
	return c.entities, true
}

// Replace installs a freshly hydrated entity list and clears the
// invalidation flag. The replacement is all-or-nothing.
func (c *EntityCache) Replace(entities []*database.Entity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entities = entities
	c.invalid = false
}

// Invalidate marks the snapshot stale. The next read refills from storage.
func (c *EntityCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalid = true
}
