// Package ingest is the delivery pipeline for billing webhooks: parse,
// claim in the idempotency ledger, apply the lifecycle transition and record
// the outcome.
//
// Transition failures are acknowledged to the provider like successes. The
// ledger keeps the failed record and the retry sweeper replays it, so the
// provider never needs to redeliver.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/billingevent"
	"github.com/dmitrymomot/billingsync/pkg/ledger"
	"github.com/dmitrymomot/billingsync/pkg/lifecycle"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

// Status is the acknowledged outcome of a delivery.
type Status string

const (
	StatusProcessed Status = "processed"
	StatusDuplicate Status = "duplicate"
	StatusIgnored   Status = "ignored"
	StatusFailed    Status = "failed"
)

func (s Status) String() string { return string(s) }

const markTimeout = 5 * time.Second

// Parser authenticates and decodes a delivery.
type Parser interface {
	Parse(ctx context.Context, raw []byte, headers http.Header) (billingevent.Event, error)
}

// Applier applies a billing event.
type Applier interface {
	Apply(ctx context.Context, ev billingevent.Event) (lifecycle.Result, error)
}

// Observer receives per-delivery outcomes.
type Observer interface {
	ObserveDelivery(eventType, outcome string, d time.Duration)
}

// Outcome of processing one delivery.
type Outcome struct {
	Status    Status
	EventID   string
	EventType billingevent.Type
	// Error is the transition failure message for StatusFailed.
	Error  string
	Result lifecycle.Result
}

// Processor runs the delivery pipeline.
type Processor struct {
	parser   Parser
	ledger   *ledger.Ledger
	applier  Applier
	cfg      Config
	observer Observer
	logger   *slog.Logger
}

// Option configures a Processor.
type Option func(*Processor)

// WithConfig overrides DefaultConfig. Zero fields keep their defaults.
func WithConfig(cfg Config) Option { return func(p *Processor) { p.cfg = cfg.withDefaults() } }

func WithObserver(o Observer) Option { return func(p *Processor) { p.observer = o } }

func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.logger = log
		}
	}
}

// NewProcessor creates a Processor. Panics if a dependency is nil.
func NewProcessor(parser Parser, l *ledger.Ledger, applier Applier, opts ...Option) *Processor {
	if parser == nil || l == nil || applier == nil {
		panic("ingest: parser, ledger and applier are required")
	}
	p := &Processor{
		parser:  parser,
		ledger:  l,
		applier: applier,
		cfg:     DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process handles one delivery. A non-nil error means the delivery was
// rejected before anything was claimed: billingevent.ErrUnauthorizedSender,
// billingevent.ErrMalformedPayload, billingevent.ErrSecretUnavailable or
// ErrClaimFailed. Transition failures are reported through Outcome.
func (p *Processor) Process(ctx context.Context, raw []byte, headers http.Header) (Outcome, error) {
	start := time.Now()

	ev, err := p.parser.Parse(ctx, raw, headers)
	if err != nil {
		p.observe("", rejection(err), start)
		return Outcome{}, err
	}
	out := Outcome{EventID: ev.ID, EventType: ev.Type}
	attrs := []slog.Attr{
		logger.EventID(ev.ID),
		logger.EventType(ev.Type.String()),
		logger.UserID(ev.UserID),
	}

	payload, err := ev.Encode()
	if err != nil {
		p.observe(ev.Type.String(), "malformed", start)
		return out, errors.Join(billingevent.ErrMalformedPayload, err)
	}

	claimed, err := p.ledger.TryClaim(ctx, ledger.Claim{
		EventID:   ev.ID,
		EventType: ev.Type.String(),
		UserID:    ev.UserID,
		Payload:   payload,
	})
	if err != nil {
		p.logger.LogAttrs(ctx, slog.LevelError, "failed to claim billing event", append(attrs, logger.Error(err))...)
		p.observe(ev.Type.String(), "claim_failed", start)
		return out, errors.Join(ErrClaimFailed, err)
	}
	if !claimed {
		p.logger.LogAttrs(ctx, slog.LevelInfo, "duplicate billing event", attrs...)
		out.Status = StatusDuplicate
		p.observe(ev.Type.String(), out.Status.String(), start)
		return out, nil
	}

	// The transition must not be cut short by the provider closing the connection.
	applyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.DeliveryTimeout)
	res, applyErr := p.applier.Apply(applyCtx, ev)
	cancel()
	out.Result = res

	switch {
	case applyErr == nil:
		out.Status = StatusProcessed
	case errors.Is(applyErr, lifecycle.ErrUnsupportedEvent):
		out.Status = StatusIgnored
	default:
		out.Status = StatusFailed
		out.Error = applyErr.Error()
	}

	p.record(ctx, out, attrs)
	p.observe(ev.Type.String(), out.Status.String(), start)
	return out, nil
}

// record writes the outcome to the ledger. A failed write leaves the record
// processing; the sweeper reclaims it once it is stale.
func (p *Processor) record(ctx context.Context, out Outcome, attrs []slog.Attr) {
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), markTimeout)
	defer cancel()

	var err error
	if out.Status == StatusFailed {
		err = p.ledger.MarkFailed(markCtx, out.EventID, out.Error)
		p.logger.LogAttrs(ctx, slog.LevelError, "billing event transition failed",
			append(attrs, slog.String("error", out.Error))...)
	} else {
		err = p.ledger.MarkCompleted(markCtx, out.EventID)
		p.logger.LogAttrs(ctx, slog.LevelInfo, "billing event processed",
			append(attrs, logger.Status(out.Status.String()))...)
	}
	if err != nil {
		p.logger.LogAttrs(ctx, slog.LevelError, "failed to record billing event outcome",
			append(attrs, logger.Status(out.Status.String()), logger.Error(err))...)
	}
}

func (p *Processor) observe(eventType, outcome string, start time.Time) {
	if p.observer != nil {
		p.observer.ObserveDelivery(eventType, outcome, time.Since(start))
	}
}

func rejection(err error) string {
	switch {
	case errors.Is(err, billingevent.ErrUnauthorizedSender):
		return "unauthorized"
	case errors.Is(err, billingevent.ErrMalformedPayload):
		return "malformed"
	case errors.Is(err, billingevent.ErrSecretUnavailable):
		return "secret_unavailable"
	default:
		return "rejected"
	}
}
