package subscription

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingsync/pkg/pg"
)

// PostgresStore keeps records in the subscriptions table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("subscription: pool cannot be nil")
	}
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Record, error) {
	const q = `SELECT user_id, plan, status, platform, product_id, purchase_date, expires_date,
			current_period_start, current_period_end, auto_renew, cancel_at_period_end,
			grace_period_ends_at, last_event_id, last_event_at, updated_at
		FROM subscriptions WHERE user_id = $1`

	var r Record
	err := s.pool.QueryRow(ctx, q, userID).Scan(
		&r.UserID, &r.Plan, &r.Status, &r.Platform, &r.ProductID, &r.PurchaseDate, &r.ExpiresDate,
		&r.CurrentPeriodStart, &r.CurrentPeriodEnd, &r.AutoRenew, &r.CancelAtPeriodEnd,
		&r.GracePeriodEndsAt, &r.LastEventID, &r.LastEventAt, &r.UpdatedAt,
	)
	if pg.IsNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, r *Record) error {
	if r == nil || r.UserID == "" {
		return ErrInvalidRecord
	}
	const q = `INSERT INTO subscriptions (user_id, plan, status, platform, product_id, purchase_date,
			expires_date, current_period_start, current_period_end, auto_renew, cancel_at_period_end,
			grace_period_ends_at, last_event_id, last_event_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan,
			status = EXCLUDED.status,
			platform = EXCLUDED.platform,
			product_id = EXCLUDED.product_id,
			purchase_date = EXCLUDED.purchase_date,
			expires_date = EXCLUDED.expires_date,
			current_period_start = EXCLUDED.current_period_start,
			current_period_end = EXCLUDED.current_period_end,
			auto_renew = EXCLUDED.auto_renew,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			grace_period_ends_at = EXCLUDED.grace_period_ends_at,
			last_event_id = EXCLUDED.last_event_id,
			last_event_at = EXCLUDED.last_event_at,
			updated_at = EXCLUDED.updated_at`

	_, err := s.pool.Exec(ctx, q,
		r.UserID, r.Plan, r.Status, r.Platform, r.ProductID, r.PurchaseDate,
		r.ExpiresDate, r.CurrentPeriodStart, r.CurrentPeriodEnd, r.AutoRenew, r.CancelAtPeriodEnd,
		r.GracePeriodEndsAt, r.LastEventID, r.LastEventAt, r.UpdatedAt,
	)
	return err
}
