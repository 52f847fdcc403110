package referral_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/referral"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("referrer lookup", func(t *testing.T) {
		t.Parallel()
		s := referral.NewMemoryStore(clock.NewManual(now))
		s.Refer("bob", "alice")

		r, err := s.Referrer(context.Background(), "bob")
		require.NoError(t, err)
		assert.Equal(t, "alice", r)

		_, err = s.Referrer(context.Background(), "carol")
		assert.ErrorIs(t, err, referral.ErrNoReferrer)
	})

	t.Run("grant once", func(t *testing.T) {
		t.Parallel()
		s := referral.NewMemoryStore(clock.NewManual(now))

		out, err := s.GrantBonus(context.Background(), "bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, referral.OutcomeGranted, out)

		out, err = s.GrantBonus(context.Background(), "bob", "alice")
		require.NoError(t, err)
		assert.Equal(t, referral.OutcomeAlreadyGranted, out)

		grants := s.Grants()
		require.Len(t, grants, 1)
		assert.Equal(t, now, grants[0].GrantedAt)
	})

	t.Run("no referrer", func(t *testing.T) {
		t.Parallel()
		s := referral.NewMemoryStore(nil)
		out, err := s.GrantBonus(context.Background(), "bob", "")
		require.NoError(t, err)
		assert.Equal(t, referral.OutcomeNoReferrer, out)
		assert.Empty(t, s.Grants())
	})

	t.Run("self referral", func(t *testing.T) {
		t.Parallel()
		s := referral.NewMemoryStore(nil)
		_, err := s.GrantBonus(context.Background(), "bob", "bob")
		assert.ErrorIs(t, err, referral.ErrSelfReferral)
	})

	t.Run("concurrent grants", func(t *testing.T) {
		t.Parallel()
		s := referral.NewMemoryStore(nil)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for range 20 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				out, err := s.GrantBonus(context.Background(), "bob", "alice")
				if err == nil && out == referral.OutcomeGranted {
					mu.Lock()
					granted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, granted)
		assert.Len(t, s.Grants(), 1)
	})
}
