package ledger

import (
	"context"
	"time"
)

// Store persists ledger records. Every status change is conditional on the
// current status, so two writers racing on one record cannot both succeed.
type Store interface {
	// Insert creates rec, returning ErrDuplicate if the event id exists.
	Insert(ctx context.Context, rec Record) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, eventID string) (*Record, error)
	// Complete moves processing to completed.
	Complete(ctx context.Context, eventID string, at time.Time) error
	// Fail moves processing to failed and increments the retry count.
	Fail(ctx context.Context, eventID, message string, at time.Time) error
	// Reopen moves failed back to processing. It reports false when the
	// record is not failed anymore.
	Reopen(ctx context.Context, eventID string, at time.Time) (bool, error)
	// ListFailed returns failed records with fewer than maxRetries attempts,
	// last updated at or before updatedBefore, oldest first.
	ListFailed(ctx context.Context, maxRetries int, updatedBefore time.Time, limit int) ([]Record, error)
	// FailStale moves processing records last updated at or before
	// updatedBefore to failed and returns how many were moved.
	FailStale(ctx context.Context, updatedBefore time.Time, message string, at time.Time) (int, error)
}
