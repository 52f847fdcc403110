package lifecycle

import "errors"

var (
	// ErrUnsupportedEvent is returned for event types outside the handled set.
	// The event is acknowledged and recorded, never retried.
	ErrUnsupportedEvent = errors.New("lifecycle: unsupported event type")
	ErrInvalidEvent     = errors.New("lifecycle: invalid event")
	ErrHandlerPanicked  = errors.New("lifecycle: transition handler panicked")
	ErrTransitionFailed = errors.New("lifecycle: transition failed")
)
