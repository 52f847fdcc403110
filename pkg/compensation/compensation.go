// Package compensation runs the best-effort cleanup that follows a plan
// downgrade: deactivating resources over the new limits, resetting period
// usage, notifying the user and syncing dependent presence.
//
// Steps are isolated from each other. A failing or panicking step is
// recorded in the Summary and never stops the remaining steps or fails the
// transition that triggered it.
package compensation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/notify"
	"github.com/dmitrymomot/billingsync/pkg/plan"
)

// Reason explains why compensation ran.
type Reason string

const (
	ReasonSubscriptionExpired Reason = "subscription_expired"
	ReasonManual              Reason = "manual"
	ReasonTransfer            Reason = "transfer"
)

func (r Reason) String() string { return string(r) }

// Step names used in Summary.Errors and metrics.
const (
	StepDeactivate = "deactivate_resources"
	StepResetUsage = "reset_usage"
	StepNotify     = "notify"
	StepPresence   = "presence_sync"
)

// Limiter deactivates resources above a tier's limits.
type Limiter interface {
	DeactivateExcessResources(ctx context.Context, userID string, tier plan.Tier) (int, error)
}

// Usage resets per-period usage counters.
type Usage interface {
	ResetPeriodUsage(ctx context.Context, userID string) error
}

// Notifier sends a user-facing notification.
type Notifier interface {
	Notify(ctx context.Context, userID, title, body string, metadata map[string]string) (notify.Result, error)
}

// Presence asks dependent services to recompute plan-dependent presence.
type Presence interface {
	SyncDependentPresence(ctx context.Context, userID string) error
}

// Observer receives the outcome of every step.
type Observer interface {
	ObserveCompensationStep(step string, ok bool)
}

// Summary describes one compensation run.
type Summary struct {
	UserID         string
	Reason         Reason
	PreviousPlan   plan.Tier
	NewPlan        plan.Tier
	Deactivated    int
	UsageReset     bool
	Notification   notify.Result
	PresenceSynced bool
	// Errors holds the failure of each failed step, keyed by step name.
	Errors map[string]error
}

// Failed reports whether any step failed.
func (s Summary) Failed() bool { return len(s.Errors) > 0 }

// Orchestrator runs compensation steps against its collaborators. Any
// collaborator may be nil; its step is then skipped.
type Orchestrator struct {
	limiter  Limiter
	usage    Usage
	notifier Notifier
	presence Presence
	observer Observer
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLimiter sets the resource limiter.
func WithLimiter(l Limiter) Option { return func(o *Orchestrator) { o.limiter = l } }

// WithUsage sets the usage counter store.
func WithUsage(u Usage) Option { return func(o *Orchestrator) { o.usage = u } }

// WithNotifier sets the notifier.
func WithNotifier(n Notifier) Option { return func(o *Orchestrator) { o.notifier = n } }

// WithPresence sets the presence syncer.
func WithPresence(p Presence) Option { return func(o *Orchestrator) { o.presence = p } }

// WithObserver sets the step outcome observer, usually *metrics.Metrics.
func WithObserver(obs Observer) Option { return func(o *Orchestrator) { o.observer = obs } }

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(o *Orchestrator) {
		if log != nil {
			o.logger = log
		}
	}
}

// New creates an Orchestrator.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes all steps for a downgrade of userID from previous to next.
// Resource deactivation and usage reset run first, concurrently; the
// notification and presence sync follow, so the notification can report how
// many resources were deactivated.
func (o *Orchestrator) Run(ctx context.Context, userID string, previous, next plan.Tier, reason Reason) Summary {
	sum := Summary{
		UserID:       userID,
		Reason:       reason,
		PreviousPlan: previous,
		NewPlan:      next,
		Notification: notify.ResultSkipped,
	}
	errs := &stepErrors{}

	var first errgroup.Group
	first.Go(o.step(ctx, StepDeactivate, errs, o.limiter != nil, func(ctx context.Context) error {
		n, err := o.limiter.DeactivateExcessResources(ctx, userID, next)
		sum.Deactivated = n
		return err
	}))
	first.Go(o.step(ctx, StepResetUsage, errs, o.usage != nil, func(ctx context.Context) error {
		if err := o.usage.ResetPeriodUsage(ctx, userID); err != nil {
			return err
		}
		sum.UsageReset = true
		return nil
	}))
	_ = first.Wait()

	var second errgroup.Group
	second.Go(o.step(ctx, StepNotify, errs, o.notifier != nil, func(ctx context.Context) error {
		title, body := message(reason, previous, next, sum.Deactivated)
		res, err := o.notifier.Notify(ctx, userID, title, body, map[string]string{
			"reason":        reason.String(),
			"previous_plan": previous.String(),
			"new_plan":      next.String(),
			"deactivated":   strconv.Itoa(sum.Deactivated),
		})
		sum.Notification = res
		if err == nil && res == notify.ResultFailed {
			err = notify.ErrDeliveryFailed
		}
		if err != nil {
			sum.Notification = notify.ResultFailed
		}
		return err
	}))
	second.Go(o.step(ctx, StepPresence, errs, o.presence != nil, func(ctx context.Context) error {
		if err := o.presence.SyncDependentPresence(ctx, userID); err != nil {
			return err
		}
		sum.PresenceSynced = true
		return nil
	}))
	_ = second.Wait()

	sum.Errors = errs.snapshot()

	attrs := []slog.Attr{
		logger.UserID(userID),
		slog.String("reason", reason.String()),
		logger.Plan("previous_plan", previous.String()),
		logger.Plan("new_plan", next.String()),
		slog.Int("deactivated", sum.Deactivated),
		slog.String("notification", sum.Notification.String()),
	}
	if sum.Failed() {
		o.logger.LogAttrs(ctx, slog.LevelWarn, "compensation finished with failed steps",
			append(attrs, logger.Errors(sum.Errors))...)
	} else {
		o.logger.LogAttrs(ctx, slog.LevelInfo, "compensation finished", attrs...)
	}
	return sum
}

// step wraps fn so that it never returns an error or panics out of the group.
func (o *Orchestrator) step(ctx context.Context, name string, errs *stepErrors, enabled bool, fn func(context.Context) error) func() error {
	return func() error {
		if !enabled {
			return nil
		}
		err := call(ctx, fn)
		if o.observer != nil {
			o.observer.ObserveCompensationStep(name, err == nil)
		}
		if err != nil {
			errs.set(name, err)
		}
		return nil
	}
}

func call(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrStepPanicked, r)
		}
	}()
	return fn(ctx)
}

type stepErrors struct {
	mu   sync.Mutex
	errs map[string]error
}

func (s *stepErrors) set(step string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errs == nil {
		s.errs = make(map[string]error)
	}
	s.errs[step] = err
}

func (s *stepErrors) snapshot() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) == 0 {
		return nil
	}
	out := make(map[string]error, len(s.errs))
	for k, v := range s.errs {
		out[k] = v
	}
	return out
}
