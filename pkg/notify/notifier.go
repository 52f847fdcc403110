package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/google/uuid"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Deliverer sends a notification through one channel.
type Deliverer interface {
	Deliver(ctx context.Context, n Notification) error
}

// Notifier fans notifications out to its deliverers.
type Notifier struct {
	deliverers []Deliverer
	clock      clock.Clock
	logger     *slog.Logger
}

// Option configures a Notifier.
type Option func(*Notifier)

// WithLogger sets the logger used for per-channel failures.
func WithLogger(log *slog.Logger) Option {
	return func(n *Notifier) {
		if log != nil {
			n.logger = log
		}
	}
}

// WithClock sets the clock used to stamp notifications.
func WithClock(c clock.Clock) Option {
	return func(n *Notifier) {
		if c != nil {
			n.clock = c
		}
	}
}

// New creates a Notifier. Nil deliverers are dropped. A Notifier without
// deliverers skips every notification.
func New(deliverers []Deliverer, opts ...Option) *Notifier {
	n := &Notifier{
		clock:  clock.System(),
		logger: slog.Default(),
	}
	for _, d := range deliverers {
		if d != nil {
			n.deliverers = append(n.deliverers, d)
		}
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Notify sends the notification through every channel. It reports
// ResultDelivered when at least one channel succeeded and ResultFailed with
// the joined channel errors when all of them failed.
func (n *Notifier) Notify(ctx context.Context, userID, title, body string, metadata map[string]string) (Result, error) {
	if userID == "" {
		return ResultFailed, fmt.Errorf("%w: user id is required", ErrInvalidNotification)
	}
	if len(n.deliverers) == 0 {
		return ResultSkipped, nil
	}

	notif := Notification{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		Metadata:  maps.Clone(metadata),
		CreatedAt: n.clock.Now(),
	}

	delivered := false
	var errs []error
	for i, d := range n.deliverers {
		if err := d.Deliver(ctx, notif); err != nil {
			n.logger.LogAttrs(ctx, slog.LevelWarn, "notification channel failed",
				slog.String("notification_id", notif.ID),
				logger.UserID(userID),
				slog.Int("deliverer_index", i),
				logger.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		delivered = true
	}

	if delivered {
		return ResultDelivered, nil
	}
	return ResultFailed, errors.Join(append([]error{ErrDeliveryFailed}, errs...)...)
}
