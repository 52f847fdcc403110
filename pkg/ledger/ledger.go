// Package ledger is the idempotency ledger: one durable record per provider
// event id, created by a conditional insert and moved through
// processing, completed and failed.
//
// The insert is the only coordination point between concurrent deliveries.
// A unique-key rejection means another delivery owns the event; any other
// error means nothing was claimed and the delivery may be retried.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// StaleMessage is recorded on processing rows reclaimed after a crash or timeout.
const StaleMessage = "processing timed out"

// Ledger claims events and records their outcome.
type Ledger struct {
	store  Store
	clock  clock.Clock
	logger *slog.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.logger = log }
}

// New creates a Ledger over store. Panics if store is nil.
func New(store Store, opts ...Option) *Ledger {
	if store == nil {
		panic("ledger: store cannot be nil")
	}
	l := &Ledger{store: store, clock: clock.System(), logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryClaim creates the processing record for c.EventID. It returns true only
// to the caller whose insert created the record.
func (l *Ledger) TryClaim(ctx context.Context, c Claim) (bool, error) {
	if c.EventID == "" {
		return false, ErrInvalidClaim
	}
	now := l.clock.Now()
	err := l.store.Insert(ctx, Record{
		EventID:   c.EventID,
		EventType: c.EventType,
		UserID:    c.UserID,
		Status:    StatusProcessing,
		Payload:   sanitizePayload(c.Payload),
		ClaimedAt: now,
		UpdatedAt: now,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrDuplicate):
		return false, nil
	default:
		return false, fmt.Errorf("failed to claim event %s: %w", c.EventID, err)
	}
}

// MarkCompleted records a successful outcome.
func (l *Ledger) MarkCompleted(ctx context.Context, eventID string) error {
	if err := l.store.Complete(ctx, eventID, l.clock.Now()); err != nil {
		return fmt.Errorf("failed to complete event %s: %w", eventID, err)
	}
	return nil
}

// MarkFailed records a failed attempt and increments the retry count.
func (l *Ledger) MarkFailed(ctx context.Context, eventID, message string) error {
	if err := l.store.Fail(ctx, eventID, truncate(message), l.clock.Now()); err != nil {
		return fmt.Errorf("failed to mark event %s failed: %w", eventID, err)
	}
	return nil
}

// ListRetryable returns failed records under the retry budget whose last
// attempt is at least minAge old.
func (l *Ledger) ListRetryable(ctx context.Context, maxRetryCount int, minAge time.Duration, limit int) ([]Record, error) {
	recs, err := l.store.ListFailed(ctx, maxRetryCount, l.clock.Now().Add(-minAge), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list retryable events: %w", err)
	}
	return recs, nil
}

// BeginRetry moves a failed record back to processing. It returns false when
// another worker got there first.
func (l *Ledger) BeginRetry(ctx context.Context, eventID string) (bool, error) {
	ok, err := l.store.Reopen(ctx, eventID, l.clock.Now())
	if err != nil {
		return false, fmt.Errorf("failed to reopen event %s: %w", eventID, err)
	}
	return ok, nil
}

// ReclaimStale fails processing records untouched for olderThan, making them
// visible to the retry sweeper.
func (l *Ledger) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	now := l.clock.Now()
	n, err := l.store.FailStale(ctx, now.Add(-olderThan), StaleMessage, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale events: %w", err)
	}
	if n > 0 {
		l.logger.LogAttrs(ctx, slog.LevelWarn, "reclaimed stale processing events",
			logger.Component("ledger"),
			slog.Int("count", n),
			slog.Duration("older_than", olderThan),
		)
	}
	return n, nil
}

// Get returns the record for eventID.
func (l *Ledger) Get(ctx context.Context, eventID string) (*Record, error) {
	return l.store.Get(ctx, eventID)
}
