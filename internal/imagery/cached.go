package imagery

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/patrickmn/go-cache"
)

// LookupObserver is notified about every cache lookup.
type LookupObserver func(source string, hit bool)

// CachedSource memoizes successful fetches of another source. Keys combine the
// coordinate rounded to five decimals with the buffer size. Failures are
// never cached.
type CachedSource struct {
	inner    Source
	cache    *cache.Cache
	observer LookupObserver
	hits     atomic.Int64
	misses   atomic.Int64
}

// NewCachedSource wraps inner with a TTL cache.
func NewCachedSource(inner Source, ttl time.Duration, observer LookupObserver) *CachedSource {
	return &CachedSource{
		inner:    inner,
		cache:    cache.New(ttl, 2*ttl),
		observer: observer,
	}
}

// Name implements Source.
func (c *CachedSource) Name() string { return c.inner.Name() }

func cacheKey(coord Coordinate, bufferSize int) string {
	return fmt.Sprintf("%.5f:%.5f:%d", coord.Latitude, coord.Longitude, bufferSize)
}

// Fetch implements Source. Cached images are cloned so callers may modify them.
func (c *CachedSource) Fetch(ctx context.Context, coord Coordinate, bufferSize int) (*Image, error) {
	key := cacheKey(coord, bufferSize)
	if v, ok := c.cache.Get(key); ok {
		c.record(true)
		return v.(*Image).Clone(), nil
	}
	c.record(false)

	img, err := c.inner.Fetch(ctx, coord, bufferSize)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, unavailable(c.Name(), coord, nil)
	}
	c.cache.SetDefault(key, img.Clone())
	return img, nil
}

func (c *CachedSource) record(hit bool) {
	if hit {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	if c.observer != nil {
		c.observer(c.Name(), hit)
	}
}

// Stats returns hit and miss counters.
func (c *CachedSource) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Len returns the number of cached images, including expired ones not yet evicted.
func (c *CachedSource) Len() int { return c.cache.ItemCount() }

// Flush drops every cached image.
func (c *CachedSource) Flush() { c.cache.Flush() }
