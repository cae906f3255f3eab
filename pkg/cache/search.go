package cache

import (
	"sync"
	"time"
)

// Result is one ranked search emission.
type Result struct {
	Score float64 `json:"score"`
	Name  string  `json:"name"`
}

// Searchresult is one cached answer: the literal query text, the full
// ranked list, and the access time the eviction order is based on.
type Searchresult struct {
	Query      string
	LastAccess time.Time
	Results    []Result
}

// SearchCache maps literal query text to previously computed ranked
// results. It is bounded: once maxEntries is reached, inserting a new query
// evicts the least-recently-accessed entry.
type SearchCache struct {
	mu         sync.RWMutex
	entries    map[string]*Searchresult
	maxEntries int
}

// NewSearchCache creates a cache bounded to maxEntries.
func NewSearchCache(maxEntries int) *SearchCache {
	return &SearchCache{
		entries:    make(map[string]*Searchresult),
		maxEntries: maxEntries,
	}
}

// Get returns the cached results for query and bumps its access time.
func (c *SearchCache) Get(query string) ([]Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[query]
	if !ok {
		return nil, false
	}
	entry.LastAccess = time.Now()
	return entry.Results, true
}

// Put stores the results for query, evicting the least-recently-accessed
// entry when the cache is full.
func (c *SearchCache) Put(query string, results []Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[query]; !ok && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[query] = &Searchresult{
		Query:      query,
		LastAccess: time.Now(),
		Results:    results,
	}
}

// evictOldest removes the entry with the oldest access time. Caller holds
// the write lock.
func (c *SearchCache) evictOldest() {
	var oldestQuery string
	var oldestTime time.Time
	first := true
	for query, entry := range c.entries {
		if first || entry.LastAccess.Before(oldestTime) {
			oldestQuery = query
			oldestTime = entry.LastAccess
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestQuery)
	}
}

// Clear drops every entry.
func (c *SearchCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Searchresult)
}

// Len returns the number of cached queries.
func (c *SearchCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// SetMaxEntries adjusts the cap, evicting down to the new bound.
func (c *SearchCache) SetMaxEntries(maxEntries int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxEntries = maxEntries
	for len(c.entries) > c.maxEntries {
		c.evictOldest()
	}
}
