//go:build integration

package quota_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/pg/pgtest"
	"github.com/dmitrymomot/billingsync/pkg/plan"
	"github.com/dmitrymomot/billingsync/pkg/quota"
)

func TestPostgresStore(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()
	s := quota.NewPostgresStore(pool, plan.DefaultCatalog(), clock.NewManual(epoch))

	for i := range 3 {
		_, err := pool.Exec(ctx,
			`INSERT INTO user_resources (user_id, resource, activated_at) VALUES ($1, $2, $3)`,
			"u1", string(plan.ResourceActiveGoals), epoch.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
	}
	_, err := pool.Exec(ctx, `INSERT INTO usage_counters (user_id, counter, value) VALUES ('u1', 'ai_messages', 9)`)
	require.NoError(t, err)

	n, err := s.DeactivateExcessResources(ctx, "u1", plan.TierFree)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.DeactivateExcessResources(ctx, "u1", plan.TierFree)
	require.NoError(t, err)
	assert.Zero(t, n)

	var newestActive bool
	err = pool.QueryRow(ctx,
		`SELECT active FROM user_resources WHERE user_id = 'u1' ORDER BY activated_at DESC LIMIT 1`).Scan(&newestActive)
	require.NoError(t, err)
	assert.True(t, newestActive)

	require.NoError(t, s.ResetPeriodUsage(ctx, "u1"))
	var value int64
	require.NoError(t, pool.QueryRow(ctx, `SELECT value FROM usage_counters WHERE user_id = 'u1'`).Scan(&value))
	assert.Zero(t, value)
}
