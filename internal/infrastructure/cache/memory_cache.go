// Package cache provides an in-memory cache with LRU eviction and per-item
// TTL, used to keep user profile lookups off the storage path.
package cache

import (
	"container/list"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache is a thread-safe LRU cache with per-item expiry.
type MemoryCache[V any] struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	lruList  *list.List
	maxItems int
	ttl      time.Duration
	now      func() time.Time

	hits      int64
	misses    int64
	evictions int64

	logger *zap.Logger
}

type cacheItem[V any] struct {
	key    string
	value  V
	expiry time.Time
}

// Stats holds cache statistics.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Items     int
	HitRate   float64
}

// NewMemoryCache creates a cache holding at most maxItems entries, each valid
// for ttl.
func NewMemoryCache[V any](maxItems int, ttl time.Duration, logger *zap.Logger) *MemoryCache[V] {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxItems <= 0 {
		maxItems = 1
	}
	return &MemoryCache[V]{
		items:    make(map[string]*list.Element),
		lruList:  list.New(),
		maxItems: maxItems,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Get returns the cached value for key.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	element, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	item := element.Value.(*cacheItem[V])
	if c.now().After(item.expiry) {
		c.remove(element)
		c.misses++
		return zero, false
	}

	c.lruList.MoveToFront(element)
	c.hits++
	return item.value, true
}

// Set stores value under key, evicting the least recently used entry when full.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.remove(element)
	}
	for len(c.items) >= c.maxItems && c.lruList.Len() > 0 {
		c.remove(c.lruList.Back())
		c.evictions++
	}

	item := &cacheItem[V]{key: key, value: value, expiry: c.now().Add(c.ttl)}
	c.items[key] = c.lruList.PushFront(item)
}

// Delete removes key from the cache.
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		c.remove(element)
	}
}

// must be called with c.mu held
func (c *MemoryCache[V]) remove(element *list.Element) {
	item := element.Value.(*cacheItem[V])
	c.lruList.Remove(element)
	delete(c.items, item.key)
}

// Stats returns cache statistics.
func (c *MemoryCache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	hitRate := float64(0)
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Items:     len(c.items),
		HitRate:   hitRate,
	}
}

// CleanupExpired removes expired entries and returns how many were dropped.
func (c *MemoryCache[V]) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for element := c.lruList.Back(); element != nil; {
		prev := element.Prev()
		if now.After(element.Value.(*cacheItem[V]).expiry) {
			c.remove(element)
			removed++
		}
		element = prev
	}
	if removed > 0 {
		c.logger.Debug("Cleaned up expired cache items", zap.Int("count", removed))
	}
	return removed
}
