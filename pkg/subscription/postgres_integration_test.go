//go:build integration

package subscription_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/pg/pgtest"
	"github.com/dmitrymomot/billingsync/pkg/plan"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

func TestPostgresStore(t *testing.T) {
	store := subscription.NewPostgresStore(pgtest.NewPool(t))
	ctx := context.Background()

	_, err := store.Get(ctx, "user_1")
	require.ErrorIs(t, err, subscription.ErrNotFound)

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := now.AddDate(0, 1, 0)
	rec := &subscription.Record{
		UserID:           "user_1",
		Plan:             plan.TierPremium,
		Status:           subscription.StatusActive,
		Platform:         "app_store",
		ProductID:        "premium_monthly",
		CurrentPeriodEnd: &end,
		AutoRenew:        true,
		LastEventID:      "evt_1",
		UpdatedAt:        now,
	}
	require.NoError(t, store.Upsert(ctx, rec))

	rec.Status = subscription.StatusCancelled
	rec.AutoRenew = false
	require.NoError(t, store.Upsert(ctx, rec))

	got, err := store.Get(ctx, "user_1")
	require.NoError(t, err)
	assert.Equal(t, plan.TierPremium, got.Plan)
	assert.Equal(t, subscription.StatusCancelled, got.Status)
	assert.False(t, got.AutoRenew)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, end.Equal(*got.CurrentPeriodEnd))
	assert.Nil(t, got.GracePeriodEndsAt)
}
