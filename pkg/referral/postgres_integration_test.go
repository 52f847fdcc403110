//go:build integration

package referral_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/pg/pgtest"
	"github.com/dmitrymomot/billingsync/pkg/referral"
)

func TestPostgresStore(t *testing.T) {
	pool := pgtest.NewPool(t)
	ctx := context.Background()
	s := referral.NewPostgresStore(pool, nil)

	_, err := pool.Exec(ctx, `INSERT INTO referrals (referred_user_id, referrer_user_id) VALUES ('bob', 'alice')`)
	require.NoError(t, err)

	r, err := s.Referrer(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "alice", r)

	_, err = s.Referrer(ctx, "nobody")
	assert.ErrorIs(t, err, referral.ErrNoReferrer)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[referral.Outcome]int{}
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := s.GrantBonus(ctx, "bob", "alice")
			assert.NoError(t, err)
			mu.Lock()
			outcomes[out]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, outcomes[referral.OutcomeGranted])
	assert.Equal(t, 9, outcomes[referral.OutcomeAlreadyGranted])
}
