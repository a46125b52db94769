package embedding

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CacheObserver is notified of cache hits and misses.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

// Cached memoises embeddings by text so repeated queries skip the provider.
type Cached struct {
	next     Embedder
	cache    *ristretto.Cache
	prefix   string
	observer CacheObserver
}

// NewCached wraps next with a cache holding up to maxEntries vectors. keyPrefix
// separates entries produced by different models.
func NewCached(next Embedder, maxEntries int64, keyPrefix string, observer CacheObserver) (*Cached, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &Cached{next: next, cache: cache, prefix: keyPrefix, observer: observer}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) (Vector, error) {
	key := c.prefix + "\x00" + text
	if v, ok := c.cache.Get(key); ok {
		if c.observer != nil {
			c.observer.CacheHit()
		}
		return append(Vector(nil), v.(Vector)...), nil
	}
	if c.observer != nil {
		c.observer.CacheMiss()
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(key, append(Vector(nil), vec...), 1)
	return vec, nil
}

func (c *Cached) Dims() int { return c.next.Dims() }

// Wait blocks until pending cache writes are applied.
func (c *Cached) Wait() { c.cache.Wait() }

// Close releases the cache's background goroutines.
func (c *Cached) Close() { c.cache.Close() }
