package subscription

import "errors"

var (
	// ErrNotFound is returned when the user has no subscription record.
	ErrNotFound = errors.New("subscription not found")
	// ErrInvalidRecord is returned when a record is missing its user id.
	ErrInvalidRecord = errors.New("invalid subscription record")
)
