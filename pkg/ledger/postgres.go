package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/billingsync/pkg/pg"
)

// PostgresStore keeps records in the billing_events table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Store backed by pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	if pool == nil {
		panic("ledger: pool cannot be nil")
	}
	return &PostgresStore{pool: pool}
}

const recordColumns = `event_id, event_type, user_id, status, retry_count, error_message, payload, claimed_at, completed_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	const q = `INSERT INTO billing_events (` + recordColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := s.pool.Exec(ctx, q,
		rec.EventID, rec.EventType, rec.UserID, rec.Status, rec.RetryCount,
		rec.ErrorMessage, payloadOrEmpty(rec.Payload), rec.ClaimedAt, rec.CompletedAt, rec.UpdatedAt,
	)
	if pg.IsDuplicateKeyError(err) {
		return ErrDuplicate
	}
	return err
}

func (s *PostgresStore) Get(ctx context.Context, eventID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM billing_events WHERE event_id = $1`, eventID)
	rec, err := scanRecord(row)
	if pg.IsNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *PostgresStore) Complete(ctx context.Context, eventID string, at time.Time) error {
	const q = `UPDATE billing_events
		SET status = 'completed', completed_at = $2, updated_at = $2
		WHERE event_id = $1 AND status = 'processing'`
	tag, err := s.pool.Exec(ctx, q, eventID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, eventID)
	}
	return nil
}

func (s *PostgresStore) Fail(ctx context.Context, eventID, message string, at time.Time) error {
	const q = `UPDATE billing_events
		SET status = 'failed', retry_count = retry_count + 1, error_message = $2, updated_at = $3
		WHERE event_id = $1 AND status = 'processing'`
	tag, err := s.pool.Exec(ctx, q, eventID, message, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.explainMiss(ctx, eventID)
	}
	return nil
}

func (s *PostgresStore) Reopen(ctx context.Context, eventID string, at time.Time) (bool, error) {
	const q = `UPDATE billing_events
		SET status = 'processing', updated_at = $2
		WHERE event_id = $1 AND status = 'failed'`
	tag, err := s.pool.Exec(ctx, q, eventID, at)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if err := s.explainMiss(ctx, eventID); errors.Is(err, ErrNotFound) {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) ListFailed(ctx context.Context, maxRetries int, updatedBefore time.Time, limit int) ([]Record, error) {
	const q = `SELECT ` + recordColumns + ` FROM billing_events
		WHERE status = 'failed' AND retry_count < $1 AND updated_at <= $2
		ORDER BY updated_at ASC
		LIMIT $3`
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, q, maxRetries, updatedBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *PostgresStore) FailStale(ctx context.Context, updatedBefore time.Time, message string, at time.Time) (int, error) {
	const q = `UPDATE billing_events
		SET status = 'failed', retry_count = retry_count + 1, error_message = $2, updated_at = $3
		WHERE status = 'processing' AND updated_at <= $1`
	tag, err := s.pool.Exec(ctx, q, updatedBefore, message, at)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// explainMiss turns a guarded update that matched nothing into ErrNotFound
// or ErrInvalidTransition.
func (s *PostgresStore) explainMiss(ctx context.Context, eventID string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM billing_events WHERE event_id = $1)`, eventID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func scanRecord(row pgx.Row) (*Record, error) {
	var r Record
	err := row.Scan(
		&r.EventID, &r.EventType, &r.UserID, &r.Status, &r.RetryCount,
		&r.ErrorMessage, &r.Payload, &r.ClaimedAt, &r.CompletedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func payloadOrEmpty(p []byte) []byte {
	if len(p) == 0 {
		return []byte("{}")
	}
	return p
}
