package ledger

import "errors"

var (
	// ErrDuplicate is returned by a Store when the event id already has a record.
	ErrDuplicate = errors.New("ledger record already exists")
	// ErrNotFound is returned when no record exists for the event id.
	ErrNotFound = errors.New("ledger record not found")
	// ErrInvalidTransition is returned when a status change is not allowed from the current status.
	ErrInvalidTransition = errors.New("invalid ledger status transition")
	// ErrInvalidClaim is returned for claims without an event id.
	ErrInvalidClaim = errors.New("invalid ledger claim")
)
