//go:build integration

package ledger_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/ledger"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/pg/pgtest"
)

func TestPostgresStore(t *testing.T) {
	pool := pgtest.NewPool(t)
	clk := clock.NewManual(epoch)
	l := ledger.New(ledger.NewPostgresStore(pool), ledger.WithClock(clk), ledger.WithLogger(logger.Noop()))
	ctx := context.Background()

	t.Run("concurrent claims yield exactly one winner", func(t *testing.T) {
		var wins atomic.Int32
		var wg sync.WaitGroup
		for range 32 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := l.TryClaim(ctx, claim("pg_race"))
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})

	t.Run("lifecycle", func(t *testing.T) {
		_, err := l.TryClaim(ctx, claim("pg_1"))
		require.NoError(t, err)
		require.NoError(t, l.MarkFailed(ctx, "pg_1", "boom"))

		clk.Advance(2 * time.Minute)
		recs, err := l.ListRetryable(ctx, 5, time.Minute, 10)
		require.NoError(t, err)
		require.Len(t, recs, 1)
		assert.Equal(t, "pg_1", recs[0].EventID)
		assert.JSONEq(t, `{"id":"pg_1"}`, string(recs[0].Payload))

		ok, err := l.BeginRetry(ctx, "pg_1")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, l.MarkCompleted(ctx, "pg_1"))
		assert.ErrorIs(t, l.MarkFailed(ctx, "pg_1", "late"), ledger.ErrInvalidTransition)

		rec, err := l.Get(ctx, "pg_1")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusCompleted, rec.Status)
		assert.Equal(t, 1, rec.RetryCount)
	})

	t.Run("missing records", func(t *testing.T) {
		_, err := l.Get(ctx, "nope")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		assert.ErrorIs(t, l.MarkCompleted(ctx, "nope"), ledger.ErrNotFound)
	})

	t.Run("reclaim stale", func(t *testing.T) {
		_, err := l.TryClaim(ctx, claim("pg_stuck"))
		require.NoError(t, err)
		clk.Advance(20 * time.Minute)

		n, err := l.ReclaimStale(ctx, 15*time.Minute)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, 1)

		rec, err := l.Get(ctx, "pg_stuck")
		require.NoError(t, err)
		assert.Equal(t, ledger.StatusFailed, rec.Status)
	})
}
