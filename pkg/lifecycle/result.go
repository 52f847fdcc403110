package lifecycle

import (
	"github.com/dmitrymomot/billingsync/pkg/compensation"
	"github.com/dmitrymomot/billingsync/pkg/plan"
	"github.com/dmitrymomot/billingsync/pkg/referral"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
)

// Outcome of applying an event.
type Outcome string

const (
	// OutcomeApplied means at least one record was written.
	OutcomeApplied Outcome = "applied"
	// OutcomeSkipped means the event was valid but changed nothing, e.g. a
	// stale cancellation or an extension for an unknown user.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeIgnored means the event type is not handled.
	OutcomeIgnored Outcome = "ignored"
)

func (o Outcome) String() string { return string(o) }

// Change describes the effect on one user's record.
type Change struct {
	UserID       string
	PreviousPlan plan.Tier
	Plan         plan.Tier
	Status       subscription.Status
	// Guarded is set when the anti-regression rule kept a higher persisted tier.
	Guarded bool
}

// Result of Apply.
type Result struct {
	Outcome       Outcome
	Changes       []Change
	Compensations []compensation.Summary
	// Referral is empty when no grant was attempted or the attempt failed.
	Referral referral.Outcome
}

func unchanged(rec *subscription.Record) Change {
	return Change{UserID: rec.UserID, PreviousPlan: rec.Plan, Plan: rec.Plan, Status: rec.Status}
}
