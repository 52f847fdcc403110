// Package subscription stores the single durable subscription record each
// user has. It holds no business rules; the lifecycle dispatcher decides
// what to write.
package subscription

import (
	"context"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/plan"
)

// Status of a subscription record. A user without a record has never subscribed.
type Status string

const (
	StatusActive       Status = "active"
	StatusCancelled    Status = "cancelled"
	StatusBillingIssue Status = "billing_issue"
	StatusExpired      Status = "expired"
	StatusTransferred  Status = "transferred"
)

// Record is a user's subscription state.
type Record struct {
	UserID             string
	Plan               plan.Tier
	Status             Status
	Platform           string
	ProductID          string
	PurchaseDate       *time.Time
	ExpiresDate        *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	AutoRenew          bool
	CancelAtPeriodEnd  bool
	GracePeriodEndsAt  *time.Time
	LastEventID        string
	LastEventAt        *time.Time
	UpdatedAt          time.Time
}

// New returns the implicit initial record for a user: free tier, no status.
func New(userID string) *Record {
	return &Record{UserID: userID, Plan: plan.TierFree}
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.PurchaseDate = cloneTime(r.PurchaseDate)
	c.ExpiresDate = cloneTime(r.ExpiresDate)
	c.CurrentPeriodStart = cloneTime(r.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(r.CurrentPeriodEnd)
	c.GracePeriodEndsAt = cloneTime(r.GracePeriodEndsAt)
	c.LastEventAt = cloneTime(r.LastEventAt)
	return &c
}

// Store reads and writes subscription records.
type Store interface {
	// Get returns the user's record or ErrNotFound.
	Get(ctx context.Context, userID string) (*Record, error)
	// Upsert atomically creates or replaces the user's record.
	Upsert(ctx context.Context, rec *Record) error
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
