package notify

import "errors"

var (
	ErrInvalidNotification = errors.New("notify: invalid notification")
	ErrDeliveryFailed      = errors.New("notify: delivery failed")
	ErrPermanentFailure    = errors.New("notify: permanent gateway failure")
	ErrTemporaryFailure    = errors.New("notify: temporary gateway failure")
	ErrTimeout             = errors.New("notify: gateway request timeout")
	ErrInvalidURL          = errors.New("notify: invalid gateway URL")
)
