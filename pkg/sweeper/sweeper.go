// Package sweeper retries failed ledger records.
//
// A sweep first reclaims processing records abandoned by crashed or timed
// out deliveries, then replays a batch of failed records from their stored
// payload. Records that reach the retry ceiling stay failed for manual
// inspection.
package sweeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/billingevent"
	"github.com/dmitrymomot/billingsync/pkg/ledger"
	"github.com/dmitrymomot/billingsync/pkg/lifecycle"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Retry results reported to the Observer.
const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
	ResultLost      = "lost"
	ResultError     = "error"
)

const markTimeout = 5 * time.Second

// Applier applies a billing event.
type Applier interface {
	Apply(ctx context.Context, ev billingevent.Event) (lifecycle.Result, error)
}

// Observer receives sweep outcomes.
type Observer interface {
	ObserveRetry(result string)
	ObserveReclaimed(n int)
}

// Report summarizes one sweep.
type Report struct {
	Reclaimed int
	Listed    int
	Completed int
	Failed    int
	// Lost counts records another sweeper reopened first.
	Lost   int
	Errors int
}

// Sweeper replays failed events.
type Sweeper struct {
	ledger   *ledger.Ledger
	applier  Applier
	cfg      Config
	observer Observer
	logger   *slog.Logger
}

// Option configures a Sweeper.
type Option func(*Sweeper)

func WithObserver(o Observer) Option { return func(s *Sweeper) { s.observer = o } }

func WithLogger(log *slog.Logger) Option {
	return func(s *Sweeper) {
		if log != nil {
			s.logger = log
		}
	}
}

// New creates a Sweeper. Zero config fields take DefaultConfig values.
func New(l *ledger.Ledger, applier Applier, cfg Config, opts ...Option) *Sweeper {
	if l == nil || applier == nil {
		panic("sweeper: ledger and applier are required")
	}
	s := &Sweeper{
		ledger:  l,
		applier: applier,
		cfg:     cfg.withDefaults(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(logger.Component("sweeper"))
	return s
}

// Run sweeps every cfg.Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.LogAttrs(ctx, slog.LevelInfo, "retry sweeper started",
		slog.Duration("interval", s.cfg.Interval),
		slog.Int("max_retries", s.cfg.MaxRetries),
	)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.LogAttrs(context.WithoutCancel(ctx), slog.LevelInfo, "retry sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.LogAttrs(ctx, slog.LevelError, "sweep failed", logger.Error(err))
			}
		}
	}
}

// Sweep runs one reclaim-and-retry pass.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	var rep Report

	if s.cfg.StaleAfter > 0 {
		n, err := s.ledger.ReclaimStale(ctx, s.cfg.StaleAfter)
		if err != nil {
			return rep, err
		}
		rep.Reclaimed = n
		if s.observer != nil && n > 0 {
			s.observer.ObserveReclaimed(n)
		}
	}

	recs, err := s.ledger.ListRetryable(ctx, s.cfg.MaxRetries, s.cfg.MinAge, s.cfg.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Listed = len(recs)

	for _, rec := range recs {
		if ctx.Err() != nil {
			break
		}
		result := s.retry(ctx, rec)
		switch result {
		case ResultCompleted:
			rep.Completed++
		case ResultFailed:
			rep.Failed++
		case ResultLost:
			rep.Lost++
		default:
			rep.Errors++
		}
		if s.observer != nil {
			s.observer.ObserveRetry(result)
		}
	}

	if rep.Listed > 0 || rep.Reclaimed > 0 {
		s.logger.LogAttrs(ctx, slog.LevelInfo, "sweep finished",
			slog.Int("reclaimed", rep.Reclaimed),
			slog.Int("listed", rep.Listed),
			slog.Int("completed", rep.Completed),
			slog.Int("failed", rep.Failed),
			slog.Int("lost", rep.Lost),
			slog.Int("errors", rep.Errors),
		)
	}
	return rep, ctx.Err()
}

func (s *Sweeper) retry(ctx context.Context, rec ledger.Record) string {
	attrs := []slog.Attr{
		logger.EventID(rec.EventID),
		logger.EventType(rec.EventType),
		logger.RetryCount(rec.RetryCount),
	}

	ok, err := s.ledger.BeginRetry(ctx, rec.EventID)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to reopen event", append(attrs, logger.Error(err))...)
		return ResultError
	}
	if !ok {
		return ResultLost
	}

	ev, err := billingevent.Decode(rec.Payload)
	if err != nil {
		return s.fail(ctx, rec.EventID, "undecodable payload: "+err.Error(), attrs)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	_, err = s.applier.Apply(attemptCtx, ev)
	cancel()

	if err != nil && !errors.Is(err, lifecycle.ErrUnsupportedEvent) {
		return s.fail(ctx, rec.EventID, err.Error(), append(attrs, logger.Error(err)))
	}

	markCtx, cancelMark := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancelMark()
	if err := s.ledger.MarkCompleted(markCtx, rec.EventID); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to complete retried event", append(attrs, logger.Error(err))...)
		return ResultError
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "retried event completed", attrs...)
	return ResultCompleted
}

func (s *Sweeper) fail(ctx context.Context, eventID, message string, attrs []slog.Attr) string {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()
	if err := s.ledger.MarkFailed(markCtx, eventID, message); err != nil {
		s.logger.LogAttrs(ctx, slog.LevelError, "failed to record retry failure", append(attrs, logger.Error(err))...)
		return ResultError
	}
	s.logger.LogAttrs(ctx, slog.LevelWarn, "retried event failed again", append(attrs, slog.String("message", message))...)
	return ResultFailed
}
