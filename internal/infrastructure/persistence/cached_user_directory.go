package persistence

import (
	"context"
	"time"

	"go.uber.org/zap"

	"thinknet-backend/internal/domain/user"
	"thinknet-backend/internal/infrastructure/cache"
	"thinknet-backend/internal/infrastructure/observability"
)

// CachedUserDirectory keeps recently resolved profiles in memory. Profiles are
// looked up on every join, so a warm cache keeps joins off storage.
type CachedUserDirectory struct {
	inner   UserDirectory
	cache   *cache.MemoryCache[user.User]
	metrics *observability.Collector
}

// NewCachedUserDirectory wraps inner with an LRU cache of size entries.
func NewCachedUserDirectory(inner UserDirectory, size int, ttl time.Duration, metrics *observability.Collector, logger *zap.Logger) *CachedUserDirectory {
	return &CachedUserDirectory{
		inner:   inner,
		cache:   cache.NewMemoryCache[user.User](size, ttl, logger),
		metrics: metrics,
	}
}

func (d *CachedUserDirectory) FetchUser(ctx context.Context, id string) (*user.User, error) {
	if u, ok := d.cache.Get(id); ok {
		d.metrics.CacheHit()
		return &u, nil
	}
	d.metrics.CacheMiss()

	u, err := d.inner.FetchUser(ctx, id)
	if err != nil {
		return nil, err
	}
	d.cache.Set(id, *u)
	return u, nil
}

// Invalidate drops a cached profile.
func (d *CachedUserDirectory) Invalidate(id string) {
	d.cache.Delete(id)
}

// Stats returns the cache statistics.
func (d *CachedUserDirectory) Stats() cache.Stats {
	return d.cache.Stats()
}
