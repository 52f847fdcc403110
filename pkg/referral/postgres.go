package referral

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/pg"
)

// PostgresStore reads the referrals table and writes referral_grants.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, clk clock.Clock) *PostgresStore {
	if pool == nil {
		panic("referral: pool cannot be nil")
	}
	if clk == nil {
		clk = clock.System()
	}
	return &PostgresStore{pool: pool, clock: clk}
}

func (s *PostgresStore) Referrer(ctx context.Context, userID string) (string, error) {
	var referrer string
	err := s.pool.QueryRow(ctx,
		`SELECT referrer_user_id FROM referrals WHERE referred_user_id = $1`, userID,
	).Scan(&referrer)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return "", ErrNoReferrer
		}
		return "", err
	}
	return referrer, nil
}

// GrantBonus relies on the referral_grants primary key so that concurrent
// conversions of one user produce a single grant.
func (s *PostgresStore) GrantBonus(ctx context.Context, referredUserID, referrerUserID string) (Outcome, error) {
	if referrerUserID == "" {
		return OutcomeNoReferrer, nil
	}
	if referredUserID == referrerUserID {
		return "", ErrSelfReferral
	}
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO referral_grants (referred_user_id, referrer_user_id, granted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (referred_user_id) DO NOTHING`,
		referredUserID, referrerUserID, s.clock.Now(),
	)
	if err != nil {
		return "", errors.Join(ErrGrantFailed, err)
	}
	if tag.RowsAffected() == 0 {
		return OutcomeAlreadyGranted, nil
	}
	return OutcomeGranted, nil
}
