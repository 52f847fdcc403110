package quota

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/plan"
)

// PostgresStore enforces limits on the user_resources table and resets
// usage_counters.
type PostgresStore struct {
	pool    *pgxpool.Pool
	catalog *plan.Catalog
	clock   clock.Clock
}

// NewPostgresStore creates a PostgresStore enforcing the limits in catalog.
func NewPostgresStore(pool *pgxpool.Pool, catalog *plan.Catalog, clk clock.Clock) *PostgresStore {
	if pool == nil {
		panic("quota: pool cannot be nil")
	}
	if catalog == nil {
		catalog = plan.DefaultCatalog()
	}
	if clk == nil {
		clk = clock.System()
	}
	return &PostgresStore{pool: pool, catalog: catalog, clock: clk}
}

func (s *PostgresStore) DeactivateExcessResources(ctx context.Context, userID string, tier plan.Tier) (int, error) {
	const q = `UPDATE user_resources SET active = FALSE
		WHERE id IN (
			SELECT id FROM user_resources
			WHERE user_id = $1 AND resource = $2 AND active
			ORDER BY activated_at DESC, id DESC
			OFFSET $3
			FOR UPDATE
		)`

	total := 0
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, r := range s.catalog.Resources() {
			limit := s.catalog.Limit(tier, r)
			if limit == plan.Unlimited {
				continue
			}
			tag, err := tx.Exec(ctx, q, userID, string(r), limit)
			if err != nil {
				return fmt.Errorf("deactivate %s: %w", r, err)
			}
			total += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *PostgresStore) ResetPeriodUsage(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE usage_counters SET value = 0, period_started_at = $2 WHERE user_id = $1`,
		userID, s.clock.Now(),
	)
	return err
}
