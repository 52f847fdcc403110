package ttlcache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/ttlcache"
)

func TestGetOrRefresh(t *testing.T) {
	t.Parallel()

	t.Run("caches until ttl elapses", func(t *testing.T) {
		t.Parallel()
		clk := clock.NewManual(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
		c := ttlcache.New[string](clk)

		var calls atomic.Int32
		fetch := func(context.Context) (string, error) {
			n := calls.Add(1)
			return "secret-" + string(rune('0'+n)), nil
		}

		v, err := c.GetOrRefresh(context.Background(), time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "secret-1", v)

		clk.Advance(59 * time.Second)
		v, err = c.GetOrRefresh(context.Background(), time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "secret-1", v)

		clk.Advance(time.Second)
		v, err = c.GetOrRefresh(context.Background(), time.Minute, fetch)
		require.NoError(t, err)
		assert.Equal(t, "secret-2", v)
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		t.Parallel()
		c := ttlcache.New[int](clock.NewManual(time.Now()))

		var calls atomic.Int32
		release := make(chan struct{})
		fetch := func(context.Context) (int, error) {
			calls.Add(1)
			<-release
			return 42, nil
		}

		var wg sync.WaitGroup
		results := make([]int, 20)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.GetOrRefresh(context.Background(), time.Minute, fetch)
				assert.NoError(t, err)
				results[i] = v
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load())
		for _, v := range results {
			assert.Equal(t, 42, v)
		}
	})

	t.Run("fetch error", func(t *testing.T) {
		t.Parallel()
		clk := clock.NewManual(time.Now())
		c := ttlcache.New[string](clk)
		boom := errors.New("boom")

		_, err := c.GetOrRefresh(context.Background(), time.Minute, func(context.Context) (string, error) {
			return "", boom
		})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("stale on error", func(t *testing.T) {
		t.Parallel()
		clk := clock.NewManual(time.Now())
		c := ttlcache.New[string](clk, ttlcache.WithStaleOnError())

		_, err := c.GetOrRefresh(context.Background(), time.Minute, func(context.Context) (string, error) {
			return "v1", nil
		})
		require.NoError(t, err)

		clk.Advance(2 * time.Minute)
		v, err := c.GetOrRefresh(context.Background(), time.Minute, func(context.Context) (string, error) {
			return "", errors.New("unavailable")
		})
		require.NoError(t, err)
		assert.Equal(t, "v1", v)
	})

	t.Run("invalidate forces refresh", func(t *testing.T) {
		t.Parallel()
		c := ttlcache.New[string](clock.NewManual(time.Now()))
		var calls atomic.Int32
		fetch := func(context.Context) (string, error) {
			calls.Add(1)
			return "v", nil
		}

		_, _ = c.GetOrRefresh(context.Background(), time.Hour, fetch)
		c.Invalidate()
		_, _ = c.GetOrRefresh(context.Background(), time.Hour, fetch)
		assert.Equal(t, int32(2), calls.Load())
	})
}
