package billingevent

import (
	"encoding/json"
	"time"
)

// Type is the billing lifecycle event type.
type Type string

const (
	TypeInitialPurchase      Type = "initial_purchase"
	TypeRenewal              Type = "renewal"
	TypeCancellation         Type = "cancellation"
	TypeExpiration           Type = "expiration"
	TypeBillingIssue         Type = "billing_issue"
	TypeProductChange        Type = "product_change"
	TypeUncancellation       Type = "uncancellation"
	TypeTransfer             Type = "transfer"
	TypeNonRenewingPurchase  Type = "non_renewing_purchase"
	TypeSubscriptionExtended Type = "subscription_extended"
)

var knownTypes = map[Type]struct{}{
	TypeInitialPurchase:      {},
	TypeRenewal:              {},
	TypeCancellation:         {},
	TypeExpiration:           {},
	TypeBillingIssue:         {},
	TypeProductChange:        {},
	TypeUncancellation:       {},
	TypeTransfer:             {},
	TypeNonRenewingPurchase:  {},
	TypeSubscriptionExtended: {},
}

// Known reports whether t is one of the lifecycle types the service handles.
func (t Type) Known() bool {
	_, ok := knownTypes[t]
	return ok
}

// RenewalClass reports whether t re-asserts an existing subscription and is
// therefore subject to the anti-regression guard.
func (t Type) RenewalClass() bool {
	return t == TypeRenewal || t == TypeUncancellation
}

func (t Type) String() string { return string(t) }

// Platform is the store that processed the purchase.
type Platform string

const (
	PlatformAppStore    Platform = "app_store"
	PlatformPlayStore   Platform = "play_store"
	PlatformStripe      Platform = "stripe"
	PlatformPromotional Platform = "promotional"
)

// PeriodType describes the billing period an event refers to.
type PeriodType string

const (
	PeriodNormal      PeriodType = "normal"
	PeriodTrial       PeriodType = "trial"
	PeriodIntro       PeriodType = "intro"
	PeriodPromotional PeriodType = "promotional"
)

// Event is the canonical, provider-independent billing event.
// It is immutable once parsed; the JSON form is what the ledger keeps for retries.
type Event struct {
	ID               string          `json:"id"`
	Type             Type            `json:"type"`
	UserID           string          `json:"user_id"`
	ProductID        string          `json:"product_id,omitempty"`
	NewProductID     string          `json:"new_product_id,omitempty"`
	EntitlementIDs   []string        `json:"entitlement_ids,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PurchasedAt      *time.Time      `json:"purchased_at,omitempty"`
	PeriodEndAt      *time.Time      `json:"period_end_at,omitempty"`
	GracePeriodEndAt *time.Time      `json:"grace_period_end_at,omitempty"`
	Platform         Platform        `json:"platform,omitempty"`
	PeriodType       PeriodType      `json:"period_type,omitempty"`
	TransactionID    string          `json:"transaction_id,omitempty"`
	TransferredFrom  []string        `json:"transferred_from,omitempty"`
	TransferredTo    []string        `json:"transferred_to,omitempty"`
	Raw              json.RawMessage `json:"raw,omitempty"`
}

// Promotional reports a store-granted promotional entitlement.
func (e Event) Promotional() bool {
	return e.Platform == PlatformPromotional || e.PeriodType == PeriodPromotional
}

// PaidPeriod reports whether the event covers a normal, paid billing period.
// Trial, intro and promotional periods are not paid.
func (e Event) PaidPeriod() bool {
	return e.PeriodType == PeriodNormal && !e.Promotional()
}

// Decode restores an Event from its JSON form.
func Decode(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Encode returns the JSON form stored alongside the ledger record.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
