package cache

import (
	"context"
	"sync/atomic"
)

// CountingStore wraps a Store and tallies lookup hits and misses. The
// Prometheus counters track per-source rates; these totals feed the run
// report at the end of a build.
type CountingStore struct {
	inner  Store
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCountingStore wraps inner with hit/miss accounting.
func NewCountingStore(inner Store) *CountingStore {
	return &CountingStore{inner: inner}
}

func (c *CountingStore) Get(ctx context.Context, key FetchKey) ([]byte, bool, error) {
	payload, ok, err := c.inner.Get(ctx, key)
	if err == nil {
		if ok {
			c.hits.Add(1)
		} else {
			c.misses.Add(1)
		}
	}
	return payload, ok, err
}

func (c *CountingStore) Put(ctx context.Context, key FetchKey, payload []byte) error {
	return c.inner.Put(ctx, key, payload)
}

func (c *CountingStore) Status(ctx context.Context) (Status, error) {
	return c.inner.Status(ctx)
}

func (c *CountingStore) Clear(ctx context.Context) error {
	return c.inner.Clear(ctx)
}

func (c *CountingStore) Close() error {
	return c.inner.Close()
}

// Hits returns the lookups answered from the store.
func (c *CountingStore) Hits() int64 { return c.hits.Load() }

// Misses returns the lookups that fell through to an upstream fetch.
func (c *CountingStore) Misses() int64 { return c.misses.Load() }
