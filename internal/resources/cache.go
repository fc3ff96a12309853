package resources

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// LoadFunc produces a resource for a URL on a cache miss.
type LoadFunc func(ctx context.Context, url string) (StructuredResource, error)

// Cache holds the resources of a single run, keyed by exact URL. It has no
// TTL and no eviction; a run drops its cache when it ends.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]StructuredResource
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]StructuredResource)}
}

// GetOrLoad returns the cached resource for url, or runs load once and stores
// its result. Concurrent callers for the same url share one load. Failed loads
// are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, url string, load LoadFunc) (StructuredResource, error) {
	if r, ok := c.Get(url); ok {
		return r, nil
	}
	v, err, _ := c.group.Do(url, func() (any, error) {
		if r, ok := c.Get(url); ok {
			return r, nil
		}
		r, err := load(ctx, url)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[url] = r
		c.mu.Unlock()
		return r, nil
	})
	if err != nil {
		return StructuredResource{}, err
	}
	return v.(StructuredResource), nil
}

func (c *Cache) Get(url string) (StructuredResource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.entries[url]
	return r, ok
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
