package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LD-Reborn/embeddingsearch/pkg/database"
)

func TestEntityCacheStartsInvalid(t *testing.T) {
	c := NewEntityCache()
	_, ok := c.Snapshot()
	assert.False(t, ok, "a fresh cache must force a refill")
}

func TestEntityCacheReplaceAndInvalidate(t *testing.T) {
	c := NewEntityCache()
	entities := []*database.Entity{{ID: 1, Name: "E1"}, {ID: 2, Name: "E2"}}

	c.Replace(entities)
	got, ok := c.Snapshot()
	require.True(t, ok)
	assert.Len(t, got, 2)

	c.Invalidate()
	_, ok = c.Snapshot()
	assert.False(t, ok)

	// A refill makes the snapshot valid again.
	c.Replace(entities[:1])
	got, ok = c.Snapshot()
	require.True(t, ok)
	assert.Len(t, got, 1)
}

func TestSearchCacheGetHitAndMiss(t *testing.T) {
	c := NewSearchCache(10)
	c.Put("q", []Result{{Score: 0.5, Name: "E1"}})

	got, ok := c.Get("q")
	require.True(t, ok)
	assert.Equal(t, "E1", got[0].Name)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestSearchCacheCap(t *testing.T) {
	c := NewSearchCache(2)
	c.Put("q1", nil)
	c.Put("q2", nil)
	c.Put("q3", nil)
	assert.Equal(t, 2, c.Len(), "cache must never exceed its cap")
}

func TestSearchCacheEvictsLeastRecentlyAccessed(t *testing.T) {
	c := NewSearchCache(2)
	c.Put("old", []Result{{Name: "old"}})
	time.Sleep(2 * time.Millisecond)
	c.Put("new", []Result{{Name: "new"}})
	time.Sleep(2 * time.Millisecond)

	// Touch "old" so "new" becomes the eviction candidate.
	_, ok := c.Get("old")
	require.True(t, ok)
	time.Sleep(2 * time.Millisecond)

	c.Put("newest", nil)
	_, ok = c.Get("old")
	assert.True(t, ok, "recently accessed entry must survive")
	_, ok = c.Get("new")
	assert.False(t, ok, "least recently accessed entry must be evicted")
}

func TestSearchCacheClear(t *testing.T) {
	c := NewSearchCache(10)
	c.Put("q1", nil)
	c.Put("q2", nil)
	c.Clear()
	assert.Equal(t, 0, c.Len())
	_, ok := c.Get("q1")
	assert.False(t, ok)
}

func TestSearchCacheSetMaxEntriesShrinks(t *testing.T) {
	c := NewSearchCache(5)
	for _, q := range []string{"a", "b", "c", "d"} {
		c.Put(q, nil)
		time.Sleep(time.Millisecond)
	}
	c.SetMaxEntries(2)
	assert.Equal(t, 2, c.Len())
}

func TestSearchCacheOverwriteDoesNotEvict(t *testing.T) {
	c := NewSearchCache(2)
	c.Put("q1", []Result{{Name: "v1"}})
	c.Put("q2", nil)
	c.Put("q1", []Result{{Name: "v2"}})
	assert.Equal(t, 2, c.Len())
	got, ok := c.Get("q1")
	require.True(t, ok)
	assert.Equal(t, "v2", got[0].Name)
}
