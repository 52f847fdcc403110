package billingevent

import "errors"

var (
	// ErrMalformedPayload means the delivery cannot be decoded into an event.
	ErrMalformedPayload = errors.New("malformed billing event payload")
	// ErrUnauthorizedSender means the shared secret is missing or does not match.
	ErrUnauthorizedSender = errors.New("unauthorized billing event sender")
	// ErrSecretUnavailable means the configured secret could not be loaded.
	ErrSecretUnavailable = errors.New("webhook secret unavailable")
)
