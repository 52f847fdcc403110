// Package ttlcache holds one lazily fetched value that expires after a TTL.
//
// It replaces "fetch once and keep it in a global" for external key material:
// the clock is injected, concurrent refreshes collapse into a single fetch,
// and the cache itself is an ordinary value owned by whoever needs it.
package ttlcache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrymomot/billingsync/pkg/clock"
)

// Fetcher loads a fresh value.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Option configures a Cache.
type Option func(*options)

type options struct {
	staleOnError bool
}

// WithStaleOnError makes GetOrRefresh return the previous value when a
// refresh fails, provided one was ever fetched.
func WithStaleOnError() Option {
	return func(o *options) { o.staleOnError = true }
}

// Cache is a thread-safe single-value TTL cache.
type Cache[T any] struct {
	clock clock.Clock
	opts  options
	group singleflight.Group

	mu        sync.RWMutex
	value     T
	fetchedAt time.Time
	loaded    bool
}

// New creates an empty cache driven by clk.
func New[T any](clk clock.Clock, opts ...Option) *Cache[T] {
	if clk == nil {
		clk = clock.System()
	}
	c := &Cache[T]{clock: clk}
	for _, opt := range opts {
		opt(&c.opts)
	}
	return c
}

// GetOrRefresh returns the cached value while it is younger than ttl and
// calls fetch otherwise. Concurrent callers that find the value expired share
// one fetch. A non-positive ttl forces a refresh.
func (c *Cache[T]) GetOrRefresh(ctx context.Context, ttl time.Duration, fetch Fetcher[T]) (T, error) {
	if v, ok := c.fresh(ttl); ok {
		return v, nil
	}

	res, err, _ := c.group.Do("refresh", func() (any, error) {
		// another caller may have refreshed while we waited
		if v, ok := c.fresh(ttl); ok {
			return v, nil
		}
		v, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.value, c.fetchedAt, c.loaded = v, c.clock.Now(), true
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		if c.opts.staleOnError {
			c.mu.RLock()
			defer c.mu.RUnlock()
			if c.loaded {
				return c.value, nil
			}
		}
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// Invalidate drops the cached value so the next call fetches.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	var zero T
	c.value, c.fetchedAt, c.loaded = zero, time.Time{}, false
	c.mu.Unlock()
}

func (c *Cache[T]) fresh(ttl time.Duration) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded || ttl <= 0 || c.clock.Now().Sub(c.fetchedAt) >= ttl {
		var zero T
		return zero, false
	}
	return c.value, true
}
