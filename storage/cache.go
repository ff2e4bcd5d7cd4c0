package storage

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// CachedKV fronts a backend with an in-memory read cache. Setup and identity
// lookups are read on every lifecycle phase, so SQL backends keep hot keys in
// memory instead of round-tripping to the database.
type CachedKV struct {
	kv    KV
	cache *ristretto.Cache
}

// NewCachedKV wraps kv with a cache of at most maxCost bytes.
func NewCachedKV(kv KV, maxCost int64) (*CachedKV, error) {
	counters := 10 * maxCost / 64 // ~10x the expected number of items
	if counters < 1000 {
		counters = 1000
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: counters,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create cache: %w", err)
	}
	return &CachedKV{kv: kv, cache: rc}, nil
}

func (c *CachedKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	// Fast path: in-memory cache
	if v, ok := c.cache.Get(key); ok {
		return append([]byte(nil), v.([]byte)...), true, nil
	}

	value, ok, err := c.kv.Get(ctx, key)
	if err != nil || !ok {
		return value, ok, err
	}
	c.store(key, value)
	return value, true, nil
}

func (c *CachedKV) Set(ctx context.Context, key string, value []byte) error {
	if err := c.kv.Set(ctx, key, value); err != nil {
		c.cache.Del(key)
		return err
	}
	c.store(key, value)
	return nil
}

func (c *CachedKV) Delete(ctx context.Context, key string) error {
	c.cache.Del(key)
	err := c.kv.Delete(ctx, key)
	c.cache.Wait()
	return err
}

func (c *CachedKV) Close() error {
	c.cache.Close()
	return c.kv.Close()
}

// store caches a private copy of value and waits for the write to land so
// a following Get observes it.
func (c *CachedKV) store(key string, value []byte) {
	v := append([]byte(nil), value...)
	c.cache.Set(key, v, int64(len(v))+int64(len(key)))
	c.cache.Wait()
}
