package billingevent

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Parser authenticates and decodes provider deliveries.
type Parser struct {
	secrets SecretSource
}

// NewParser returns a Parser that checks the Authorization header against
// secrets. A source yielding an empty secret disables the check.
func NewParser(secrets SecretSource) *Parser {
	if secrets == nil {
		secrets = StaticSecret("")
	}
	return &Parser{secrets: secrets}
}

// Parse authenticates the delivery and turns it into an Event.
func (p *Parser) Parse(ctx context.Context, raw []byte, headers http.Header) (Event, error) {
	if err := p.authorize(ctx, headers); err != nil {
		return Event{}, err
	}
	return decodeDelivery(raw)
}

func (p *Parser) authorize(ctx context.Context, headers http.Header) error {
	secret, err := p.secrets.Secret(ctx)
	if err != nil {
		return errors.Join(ErrSecretUnavailable, err)
	}
	if secret == "" {
		return nil
	}

	token := strings.TrimSpace(headers.Get("Authorization"))
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = strings.TrimSpace(token[7:])
	}
	if token == "" {
		return ErrUnauthorizedSender
	}

	// hashing first keeps the comparison independent of the secret length
	want := sha256.Sum256([]byte(secret))
	got := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(want[:], got[:]) != 1 {
		return ErrUnauthorizedSender
	}
	return nil
}

type envelope struct {
	APIVersion string          `json:"api_version"`
	Event      json.RawMessage `json:"event"`
}

type wireEvent struct {
	ID                        string   `json:"id"`
	Type                      string   `json:"type"`
	AppUserID                 string   `json:"app_user_id"`
	OriginalAppUserID         string   `json:"original_app_user_id"`
	ProductID                 string   `json:"product_id"`
	NewProductID              string   `json:"new_product_id"`
	EntitlementIDs            []string `json:"entitlement_ids"`
	EntitlementID             string   `json:"entitlement_id"`
	EventTimestampMs          *int64   `json:"event_timestamp_ms"`
	PurchasedAtMs             *int64   `json:"purchased_at_ms"`
	ExpirationAtMs            *int64   `json:"expiration_at_ms"`
	GracePeriodExpirationAtMs *int64   `json:"grace_period_expiration_at_ms"`
	Store                     string   `json:"store"`
	PeriodType                string   `json:"period_type"`
	TransactionID             string   `json:"transaction_id"`
	TransferredFrom           []string `json:"transferred_from"`
	TransferredTo             []string `json:"transferred_to"`
}

func decodeDelivery(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, errors.Join(ErrMalformedPayload, err)
	}
	body := []byte(env.Event)
	if len(env.Event) == 0 || string(env.Event) == "null" {
		// bare event without the envelope
		body = raw
	}

	var w wireEvent
	if err := json.Unmarshal(body, &w); err != nil {
		return Event{}, errors.Join(ErrMalformedPayload, err)
	}

	ev := Event{
		ID:               strings.TrimSpace(w.ID),
		Type:             normalizeType(w.Type),
		UserID:           strings.TrimSpace(w.AppUserID),
		ProductID:        w.ProductID,
		NewProductID:     w.NewProductID,
		EntitlementIDs:   entitlements(w.EntitlementIDs, w.EntitlementID),
		PurchasedAt:      fromMillis(w.PurchasedAtMs),
		PeriodEndAt:      fromMillis(w.ExpirationAtMs),
		GracePeriodEndAt: fromMillis(w.GracePeriodExpirationAtMs),
		Platform:         Platform(strings.ToLower(strings.TrimSpace(w.Store))),
		PeriodType:       normalizePeriod(w.PeriodType),
		TransactionID:    w.TransactionID,
		TransferredFrom:  w.TransferredFrom,
		TransferredTo:    w.TransferredTo,
		Raw:              append(json.RawMessage(nil), raw...),
	}
	if ev.UserID == "" {
		ev.UserID = strings.TrimSpace(w.OriginalAppUserID)
	}
	switch {
	case w.EventTimestampMs != nil:
		ev.OccurredAt = *fromMillis(w.EventTimestampMs)
	case ev.PurchasedAt != nil:
		ev.OccurredAt = *ev.PurchasedAt
	}

	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	if ev.Type == TypeTransfer {
		if len(ev.TransferredFrom) == 0 || len(ev.TransferredTo) == 0 {
			return Event{}, fmt.Errorf("%w: transfer without participants", ErrMalformedPayload)
		}
		if ev.UserID == "" {
			ev.UserID = ev.TransferredTo[0]
		}
	} else if ev.Type.Known() && ev.UserID == "" {
		return Event{}, fmt.Errorf("%w: missing subject user", ErrMalformedPayload)
	}

	if ev.ID == "" {
		ev.ID = DeriveID(ev.Type, ev.UserID, ev.OccurredAt, ev.TransactionID)
	}
	return ev, nil
}

// DeriveID builds the fallback idempotency key from the fields that identify
// a delivery when the provider sends no id. Identical inputs give identical keys.
func DeriveID(t Type, subject string, occurredAt time.Time, transactionID string) string {
	var ts string
	if !occurredAt.IsZero() {
		ts = strconv.FormatInt(occurredAt.UnixMilli(), 10)
	}
	sum := sha256.Sum256([]byte(strings.Join([]string{string(t), subject, ts, transactionID}, "|")))
	return "derived_" + hex.EncodeToString(sum[:])
}

func normalizeType(s string) Type {
	return Type(strings.ToLower(strings.TrimSpace(s)))
}

func normalizePeriod(s string) PeriodType {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return PeriodNormal
	}
	return PeriodType(s)
}

func entitlements(ids []string, single string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]struct{}, len(ids)+1)
	for _, id := range append(append([]string(nil), ids...), single) {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func fromMillis(ms *int64) *time.Time {
	if ms == nil || *ms <= 0 {
		return nil
	}
	t := time.UnixMilli(*ms).UTC()
	return &t
}
