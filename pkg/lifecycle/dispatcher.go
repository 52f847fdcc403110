// Package lifecycle applies billing events to subscription records.
//
// Each event type maps to one transition handler. Handlers read the user's
// record, compute the new state, write it with a single upsert and then run
// best-effort side effects: usage reset, referral grant and, on downgrades,
// compensation. Only a failure up to and including the upsert fails Apply.
//
// Events may arrive out of order. Two rules keep the final state correct:
// renewal-class events never lower the persisted tier, and any event older
// than the last applied one is not allowed to lower it either.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/billingevent"
	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/compensation"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/plan"
	"github.com/dmitrymomot/billingsync/pkg/referral"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

// Compensator runs downgrade compensation.
type Compensator interface {
	Run(ctx context.Context, userID string, previous, next plan.Tier, reason compensation.Reason) compensation.Summary
}

// Usage resets per-period usage counters.
type Usage interface {
	ResetPeriodUsage(ctx context.Context, userID string) error
}

// Referrals looks up referrers and grants the referral bonus.
type Referrals interface {
	Referrer(ctx context.Context, userID string) (string, error)
	GrantBonus(ctx context.Context, referredUserID, referrerUserID string) (referral.Outcome, error)
}

// Observer receives referral grant outcomes.
type Observer interface {
	ObserveReferral(outcome string)
}

// Dispatcher routes events to transition handlers.
type Dispatcher struct {
	store       subscription.Store
	resolver    *plan.Resolver
	compensator Compensator
	usage       Usage
	referrals   Referrals
	observer    Observer
	clock       clock.Clock
	logger      *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithCompensator sets the downgrade compensator.
func WithCompensator(c Compensator) Option { return func(d *Dispatcher) { d.compensator = c } }

// WithUsage sets the usage counter store reset on new billing periods.
func WithUsage(u Usage) Option { return func(d *Dispatcher) { d.usage = u } }

// WithReferrals enables referral bonuses.
func WithReferrals(r Referrals) Option { return func(d *Dispatcher) { d.referrals = r } }

// WithObserver sets the referral outcome observer.
func WithObserver(o Observer) Option { return func(d *Dispatcher) { d.observer = o } }

func WithClock(c clock.Clock) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.clock = c
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		if log != nil {
			d.logger = log
		}
	}
}

// New creates a Dispatcher. Panics if store or resolver is nil.
func New(store subscription.Store, resolver *plan.Resolver, opts ...Option) *Dispatcher {
	if store == nil {
		panic("lifecycle: subscription store cannot be nil")
	}
	if resolver == nil {
		panic("lifecycle: plan resolver cannot be nil")
	}
	d := &Dispatcher{
		store:    store,
		resolver: resolver,
		clock:    clock.System(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Apply runs the transition for ev. Errors are transition failures and
// leave the event eligible for retry, except ErrUnsupportedEvent. A panic
// before the record is saved becomes ErrHandlerPanicked; later steps recover
// on their own.
func (d *Dispatcher) Apply(ctx context.Context, ev billingevent.Event) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanicked, ev.Type, r)
		}
	}()

	ctx = logger.ContextWith(ctx, logger.EventID(ev.ID), logger.EventType(ev.Type.String()))

	if ev.Type.Known() && ev.UserID == "" {
		return Result{}, fmt.Errorf("%w: missing user id", ErrInvalidEvent)
	}

	switch ev.Type {
	case billingevent.TypeInitialPurchase:
		return d.activate(ctx, ev, ev.UserID, activation{referral: true, resetUsage: true})
	case billingevent.TypeRenewal:
		return d.activate(ctx, ev, ev.UserID, activation{referral: true, resetUsage: true})
	case billingevent.TypeUncancellation:
		return d.activate(ctx, ev, ev.UserID, activation{})
	case billingevent.TypeNonRenewingPurchase:
		return d.activate(ctx, ev, ev.UserID, activation{referral: true, nonRenewing: true})
	case billingevent.TypeCancellation:
		return d.cancel(ctx, ev)
	case billingevent.TypeExpiration:
		return d.expire(ctx, ev)
	case billingevent.TypeBillingIssue:
		return d.billingIssue(ctx, ev)
	case billingevent.TypeProductChange:
		return d.productChange(ctx, ev)
	case billingevent.TypeTransfer:
		return d.transfer(ctx, ev)
	case billingevent.TypeSubscriptionExtended:
		return d.extend(ctx, ev)
	default:
		d.logger.LogAttrs(ctx, slog.LevelWarn, "unsupported billing event type acknowledged without changes",
			logger.UserID(ev.UserID),
		)
		return Result{Outcome: OutcomeIgnored}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, ev.Type)
	}
}

// load returns the user's record or a fresh free-tier record when none exists.
func (d *Dispatcher) load(ctx context.Context, userID string) (*subscription.Record, bool, error) {
	rec, err := d.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			return subscription.New(userID), false, nil
		}
		return nil, false, errors.Join(ErrTransitionFailed, fmt.Errorf("load subscription of %s: %w", userID, err))
	}
	return rec, true, nil
}

func (d *Dispatcher) save(ctx context.Context, rec *subscription.Record, ev billingevent.Event) error {
	rec.LastEventID = ev.ID
	if !ev.OccurredAt.IsZero() && (rec.LastEventAt == nil || ev.OccurredAt.After(*rec.LastEventAt)) {
		at := ev.OccurredAt
		rec.LastEventAt = &at
	}
	rec.UpdatedAt = d.clock.Now()
	if err := d.store.Upsert(ctx, rec); err != nil {
		return errors.Join(ErrTransitionFailed, fmt.Errorf("save subscription of %s: %w", rec.UserID, err))
	}
	return nil
}

// stale reports whether ev happened before the last event applied to rec.
func stale(rec *subscription.Record, ev billingevent.Event) bool {
	return rec.LastEventAt != nil && !ev.OccurredAt.IsZero() && ev.OccurredAt.Before(*rec.LastEventAt)
}

func (d *Dispatcher) skipStale(ctx context.Context, ev billingevent.Event, rec *subscription.Record) Result {
	d.logger.LogAttrs(ctx, slog.LevelWarn, "stale billing event skipped",
		logger.UserID(rec.UserID),
		slog.Time("occurred_at", ev.OccurredAt),
		slog.Time("last_event_at", *rec.LastEventAt),
	)
	return Result{Outcome: OutcomeSkipped, Changes: []Change{unchanged(rec)}}
}

func (d *Dispatcher) compensate(ctx context.Context, res *Result, userID string, previous, next plan.Tier, reason compensation.Reason) {
	defer d.recoverSideEffect(ctx, "compensation", userID)
	if plan.Compare(previous, next) != plan.Downgrade {
		return
	}
	if d.compensator == nil {
		d.resetUsage(ctx, userID)
		return
	}
	res.Compensations = append(res.Compensations, d.compensator.Run(ctx, userID, previous, next, reason))
}

func (d *Dispatcher) resetUsage(ctx context.Context, userID string) {
	defer d.recoverSideEffect(ctx, "usage_reset", userID)
	if d.usage == nil {
		return
	}
	if err := d.usage.ResetPeriodUsage(ctx, userID); err != nil {
		d.logger.LogAttrs(ctx, slog.LevelWarn, "usage reset failed",
			logger.UserID(userID),
			logger.Error(err),
		)
	}
}

// grantReferral pays out the referral bonus for userID's first paid period.
// Failures are logged and reported as an empty outcome.
func (d *Dispatcher) grantReferral(ctx context.Context, userID string) referral.Outcome {
	defer d.recoverSideEffect(ctx, "referral", userID)
	if d.referrals == nil {
		return ""
	}

	referrer, err := d.referrals.Referrer(ctx, userID)
	switch {
	case errors.Is(err, referral.ErrNoReferrer), err == nil && referrer == "":
		d.observeReferral(referral.OutcomeNoReferrer)
		return referral.OutcomeNoReferrer
	case err != nil:
		d.logger.LogAttrs(ctx, slog.LevelWarn, "referrer lookup failed",
			logger.UserID(userID),
			logger.Error(err),
		)
		d.observeReferral("error")
		return ""
	}

	out, err := d.referrals.GrantBonus(ctx, userID, referrer)
	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelWarn, "referral bonus grant failed",
			logger.UserID(userID),
			slog.String("referrer_user_id", referrer),
			logger.Error(err),
		)
		d.observeReferral("error")
		return ""
	}
	if out == referral.OutcomeGranted {
		d.logger.LogAttrs(ctx, slog.LevelInfo, "referral bonus granted",
			logger.UserID(userID),
			slog.String("referrer_user_id", referrer),
		)
	}
	d.observeReferral(out)
	return out
}

// recoverSideEffect stops a panic in a step that runs after the record was
// saved. The transition already succeeded and must not be reported as failed.
func (d *Dispatcher) recoverSideEffect(ctx context.Context, step, userID string) {
	if r := recover(); r != nil {
		d.logger.LogAttrs(ctx, slog.LevelError, "post-transition step panicked",
			slog.String("step", step),
			logger.UserID(userID),
			slog.Any("panic", r),
		)
	}
}

func (d *Dispatcher) observeReferral(outcome referral.Outcome) {
	if d.observer != nil {
		d.observer.ObserveReferral(outcome.String())
	}
}

func later(a, b *time.Time) *time.Time {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case b.After(*a):
		return b
	default:
		return a
	}
}
