package lifecycle

import (
	"context"
	"log/slog"
	"slices"

	"github.com/dmitrymomot/billingsync/pkg/billingevent"
	"github.com/dmitrymomot/billingsync/pkg/compensation"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/plan"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

type activation struct {
	referral    bool
	resetUsage  bool
	nonRenewing bool
}

func (d *Dispatcher) activate(ctx context.Context, ev billingevent.Event, userID string, a activation) (Result, error) {
	rec, _, err := d.load(ctx, userID)
	if err != nil {
		return Result{}, err
	}
	isStale := stale(rec, ev)
	if isStale && ended(rec) {
		return d.skipStale(ctx, ev, rec), nil
	}

	previous := rec.Plan
	resolved := d.resolver.Resolve(ev.EntitlementIDs, ev.ProductID)
	next, guarded := d.guard(ctx, ev, rec, resolved, ev.Type.RenewalClass() || isStale)

	rec.Plan = next
	if !isStale {
		rec.Status = subscription.StatusActive
	}
	if ev.Platform != "" {
		rec.Platform = string(ev.Platform)
	}
	if ev.ProductID != "" && !guarded {
		rec.ProductID = ev.ProductID
	}
	if ev.PurchasedAt != nil {
		rec.PurchaseDate = ev.PurchasedAt
		if !isStale {
			rec.CurrentPeriodStart = ev.PurchasedAt
		}
	} else if !isStale && !ev.OccurredAt.IsZero() {
		at := ev.OccurredAt
		rec.CurrentPeriodStart = &at
	}
	if isStale {
		rec.ExpiresDate = later(rec.ExpiresDate, ev.PeriodEndAt)
	} else {
		// A nil period end on a non-renewing purchase is a lifetime grant.
		rec.ExpiresDate = ev.PeriodEndAt
	}
	rec.CurrentPeriodEnd = rec.ExpiresDate
	// A newer cancellation or billing issue keeps its status, flags and grace window.
	if !isStale {
		rec.GracePeriodEndsAt = nil
		promo := ev.Promotional()
		rec.AutoRenew = !promo && !a.nonRenewing
		rec.CancelAtPeriodEnd = promo
	}

	if err := d.save(ctx, rec, ev); err != nil {
		return Result{}, err
	}

	res := Result{
		Outcome: OutcomeApplied,
		Changes: []Change{{UserID: userID, PreviousPlan: previous, Plan: next, Status: rec.Status, Guarded: guarded}},
	}

	if plan.Compare(previous, next) == plan.Downgrade {
		d.compensate(ctx, &res, userID, previous, next, compensation.ReasonManual)
	} else if a.resetUsage && !isStale {
		d.resetUsage(ctx, userID)
	}
	if a.referral && ev.PaidPeriod() {
		res.Referral = d.grantReferral(ctx, userID)
	}
	return res, nil
}

// ended reports a record closed by an expiration or transfer. Events older
// than the closing one must not reopen it.
func ended(rec *subscription.Record) bool {
	return rec.Status == subscription.StatusExpired || rec.Status == subscription.StatusTransferred
}

// guard applies the anti-regression rule: when protect is set, a resolved
// tier below the persisted one is replaced by the persisted tier.
func (d *Dispatcher) guard(ctx context.Context, ev billingevent.Event, rec *subscription.Record, resolved plan.Tier, protect bool) (plan.Tier, bool) {
	if !protect || !resolved.Less(rec.Plan) {
		return resolved, false
	}
	d.logger.LogAttrs(ctx, slog.LevelWarn, "keeping higher persisted tier",
		logger.UserID(rec.UserID),
		logger.Plan("persisted_plan", rec.Plan.String()),
		logger.Plan("resolved_plan", resolved.String()),
	)
	return rec.Plan, true
}

func (d *Dispatcher) cancel(ctx context.Context, ev billingevent.Event) (Result, error) {
	rec, existed, err := d.load(ctx, ev.UserID)
	if err != nil {
		return Result{}, err
	}
	if stale(rec, ev) {
		return d.skipStale(ctx, ev, rec), nil
	}
	if !existed {
		rec.Plan = d.resolver.Resolve(ev.EntitlementIDs, ev.ProductID)
	}

	previous := rec.Plan
	rec.AutoRenew = false
	switch rec.Status {
	case subscription.StatusExpired, subscription.StatusTransferred:
	default:
		rec.Status = subscription.StatusCancelled
		rec.CancelAtPeriodEnd = true
		if ev.PeriodEndAt != nil {
			rec.ExpiresDate = ev.PeriodEndAt
			rec.CurrentPeriodEnd = ev.PeriodEndAt
		}
	}

	if err := d.save(ctx, rec, ev); err != nil {
		return Result{}, err
	}
	return Result{
		Outcome: OutcomeApplied,
		Changes: []Change{{UserID: rec.UserID, PreviousPlan: previous, Plan: rec.Plan, Status: rec.Status}},
	}, nil
}

func (d *Dispatcher) expire(ctx context.Context, ev billingevent.Event) (Result, error) {
	rec, _, err := d.load(ctx, ev.UserID)
	if err != nil {
		return Result{}, err
	}
	if stale(rec, ev) {
		return d.skipStale(ctx, ev, rec), nil
	}

	previous := rec.Plan
	rec.Plan = plan.TierFree
	rec.Status = subscription.StatusExpired
	rec.AutoRenew = false
	rec.CancelAtPeriodEnd = false
	rec.GracePeriodEndsAt = nil
	if ev.PeriodEndAt != nil {
		rec.ExpiresDate = ev.PeriodEndAt
		rec.CurrentPeriodEnd = ev.PeriodEndAt
	}

	if err := d.save(ctx, rec, ev); err != nil {
		return Result{}, err
	}

	res := Result{
		Outcome: OutcomeApplied,
		Changes: []Change{{UserID: rec.UserID, PreviousPlan: previous, Plan: rec.Plan, Status: rec.Status}},
	}
	if plan.Compare(previous, rec.Plan) == plan.Downgrade {
		d.compensate(ctx, &res, rec.UserID, previous, rec.Plan, compensation.ReasonSubscriptionExpired)
	} else {
		d.resetUsage(ctx, rec.UserID)
	}
	return res, nil
}

func (d *Dispatcher) billingIssue(ctx context.Context, ev billingevent.Event) (Result, error) {
	rec, existed, err := d.load(ctx, ev.UserID)
	if err != nil {
		return Result{}, err
	}
	if stale(rec, ev) {
		return d.skipStale(ctx, ev, rec), nil
	}
	if !existed {
		rec.Plan = d.resolver.Resolve(ev.EntitlementIDs, ev.ProductID)
	}

	previous := rec.Plan
	rec.Status = subscription.StatusBillingIssue
	if ev.GracePeriodEndAt != nil {
		rec.GracePeriodEndsAt = ev.GracePeriodEndAt
	}

	if err := d.save(ctx, rec, ev); err != nil {
		return Result{}, err
	}
	return Result{
		Outcome: OutcomeApplied,
		Changes: []Change{{UserID: rec.UserID, PreviousPlan: previous, Plan: rec.Plan, Status: rec.Status}},
	}, nil
}

func (d *Dispatcher) productChange(ctx context.Context, ev billingevent.Event) (Result, error) {
	rec, _, err := d.load(ctx, ev.UserID)
	if err != nil {
		return Result{}, err
	}
	isStale := stale(rec, ev)
	if isStale && ended(rec) {
		return d.skipStale(ctx, ev, rec), nil
	}

	var resolved plan.Tier
	product := ev.ProductID
	if ev.NewProductID != "" {
		product = ev.NewProductID
		resolved = d.resolver.Resolve(nil, ev.NewProductID)
	} else {
		resolved = d.resolver.Resolve(ev.EntitlementIDs, ev.ProductID)
	}

	previous := rec.Plan
	next, guarded := d.guard(ctx, ev, rec, resolved, isStale)

	rec.Plan = next
	if !isStale {
		rec.Status = subscription.StatusActive
	}
	if product != "" && !guarded {
		rec.ProductID = product
	}
	if ev.Platform != "" {
		rec.Platform = string(ev.Platform)
	}
	if isStale {
		rec.ExpiresDate = later(rec.ExpiresDate, ev.PeriodEndAt)
	} else if ev.PeriodEndAt != nil {
		rec.ExpiresDate = ev.PeriodEndAt
	}
	rec.CurrentPeriodEnd = rec.ExpiresDate
	if !isStale {
		promo := ev.Promotional()
		rec.AutoRenew = !promo
		rec.CancelAtPeriodEnd = promo
	}

	if err := d.save(ctx, rec, ev); err != nil {
		return Result{}, err
	}

	res := Result{
		Outcome: OutcomeApplied,
		Changes: []Change{{UserID: rec.UserID, PreviousPlan: previous, Plan: next, Status: rec.Status, Guarded: guarded}},
	}
	d.compensate(ctx, &res, rec.UserID, previous, next, compensation.ReasonManual)
	return res, nil
}

// transfer moves the subscription from every TransferredFrom user to every
// TransferredTo user. Users on both sides are only activated. A source whose
// record saw a newer event keeps it; each destination is handled like an
// initial purchase.
func (d *Dispatcher) transfer(ctx context.Context, ev billingevent.Event) (Result, error) {
	res := Result{Outcome: OutcomeSkipped}

	for _, userID := range ev.TransferredFrom {
		if userID == "" || slices.Contains(ev.TransferredTo, userID) {
			continue
		}
		rec, existed, err := d.load(ctx, userID)
		if err != nil {
			return Result{}, err
		}
		if !existed {
			d.logger.LogAttrs(ctx, slog.LevelWarn, "transfer source has no subscription record",
				logger.UserID(userID),
			)
			continue
		}
		if stale(rec, ev) {
			res.Changes = append(res.Changes, d.skipStale(ctx, ev, rec).Changes...)
			continue
		}

		previous := rec.Plan
		rec.Plan = plan.TierFree
		rec.Status = subscription.StatusTransferred
		rec.AutoRenew = false
		rec.CancelAtPeriodEnd = false
		rec.GracePeriodEndsAt = nil
		if err := d.save(ctx, rec, ev); err != nil {
			return Result{}, err
		}

		res.Outcome = OutcomeApplied
		res.Changes = append(res.Changes, Change{UserID: userID, PreviousPlan: previous, Plan: rec.Plan, Status: rec.Status})
		d.compensate(ctx, &res, userID, previous, rec.Plan, compensation.ReasonTransfer)
	}

	for _, userID := range ev.TransferredTo {
		if userID == "" {
			continue
		}
		sub, err := d.activate(ctx, ev, userID, activation{referral: true, resetUsage: true})
		if err != nil {
			return Result{}, err
		}
		res.Outcome = OutcomeApplied
		res.Changes = append(res.Changes, sub.Changes...)
		res.Compensations = append(res.Compensations, sub.Compensations...)
	}
	return res, nil
}

func (d *Dispatcher) extend(ctx context.Context, ev billingevent.Event) (Result, error) {
	rec, existed, err := d.load(ctx, ev.UserID)
	if err != nil {
		return Result{}, err
	}
	if !existed {
		d.logger.LogAttrs(ctx, slog.LevelWarn, "subscription extension for user without a record",
			logger.UserID(ev.UserID),
		)
		return Result{Outcome: OutcomeSkipped}, nil
	}
	if stale(rec, ev) {
		return d.skipStale(ctx, ev, rec), nil
	}

	previous := rec.Plan
	rec.ExpiresDate = later(rec.ExpiresDate, ev.PeriodEndAt)
	rec.CurrentPeriodEnd = rec.ExpiresDate
	rec.Status = subscription.StatusActive
	rec.GracePeriodEndsAt = nil

	if err := d.save(ctx, rec, ev); err != nil {
		return Result{}, err
	}
	return Result{
		Outcome: OutcomeApplied,
		Changes: []Change{{UserID: rec.UserID, PreviousPlan: previous, Plan: rec.Plan, Status: rec.Status}},
	}, nil
}
