// Package referral records referral relationships and grants the one-time
// referral bonus when a referred user starts paying.
//
// A bonus is granted at most once per referred user, no matter how many
// paid events arrive or how concurrently they are processed.
package referral

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/clock"
)

// Outcome of a grant attempt.
type Outcome string

const (
	OutcomeGranted        Outcome = "granted"
	OutcomeAlreadyGranted Outcome = "already_granted"
	OutcomeNoReferrer     Outcome = "no_referrer"
)

func (o Outcome) String() string { return string(o) }

// Grant is a recorded bonus.
type Grant struct {
	ReferredUserID string
	ReferrerUserID string
	GrantedAt      time.Time
}

// MemoryStore keeps referrals and grants in process.
type MemoryStore struct {
	clock clock.Clock

	mu        sync.Mutex
	referrers map[string]string
	grants    map[string]Grant
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryStore{
		clock:     clk,
		referrers: make(map[string]string),
		grants:    make(map[string]Grant),
	}
}

// Refer records that referrerUserID referred referredUserID.
func (s *MemoryStore) Refer(referredUserID, referrerUserID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.referrers[referredUserID] = referrerUserID
}

// Referrer returns who referred userID, or ErrNoReferrer.
func (s *MemoryStore) Referrer(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.referrers[userID]
	if !ok {
		return "", ErrNoReferrer
	}
	return r, nil
}

// GrantBonus records the bonus for referredUserID unless one already exists.
func (s *MemoryStore) GrantBonus(_ context.Context, referredUserID, referrerUserID string) (Outcome, error) {
	if referrerUserID == "" {
		return OutcomeNoReferrer, nil
	}
	if referredUserID == referrerUserID {
		return "", ErrSelfReferral
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[referredUserID]; ok {
		return OutcomeAlreadyGranted, nil
	}
	s.grants[referredUserID] = Grant{
		ReferredUserID: referredUserID,
		ReferrerUserID: referrerUserID,
		GrantedAt:      s.clock.Now(),
	}
	return OutcomeGranted, nil
}

// Grants returns all recorded grants.
func (s *MemoryStore) Grants() []Grant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Grant, 0, len(s.grants))
	for _, g := range s.grants {
		out = append(out, g)
	}
	return out
}
