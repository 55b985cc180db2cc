package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache[string](2, time.Minute, nil)

	c.Set("a", "alpha")
	c.Set("b", "beta")
	_, _ = c.Get("a") // a is now most recent
	c.Set("c", "gamma")

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry evicted")

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", v)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Items)
}

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache[int](10, time.Second, nil)
	c.now = func() time.Time { return now }

	c.Set("k", 42)
	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	now = now.Add(2 * time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok)

	c.Set("x", 1)
	c.Set("y", 2)
	now = now.Add(2 * time.Second)
	assert.Equal(t, 2, c.CleanupExpired())
	assert.Equal(t, 0, c.Stats().Items)
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache[string](10, time.Minute, nil)
	c.Set("k", "v")
	c.Delete("k")

	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}
