package ledger

import (
	"context"
	"slices"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Insert(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.EventID]; exists {
		return ErrDuplicate
	}
	rec.Payload = slices.Clone(rec.Payload)
	s.records[rec.EventID] = &rec
	return nil
}

func (s *MemoryStore) Get(_ context.Context, eventID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (s *MemoryStore) Complete(_ context.Context, eventID string, at time.Time) error {
	return s.transition(eventID, StatusCompleted, func(r *Record) {
		r.CompletedAt = &at
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) Fail(_ context.Context, eventID, message string, at time.Time) error {
	return s.transition(eventID, StatusFailed, func(r *Record) {
		r.RetryCount++
		r.ErrorMessage = message
		r.UpdatedAt = at
	})
}

func (s *MemoryStore) Reopen(_ context.Context, eventID string, at time.Time) (bool, error) {
	err := s.transition(eventID, StatusProcessing, func(r *Record) { r.UpdatedAt = at })
	switch err {
	case nil:
		return true, nil
	case ErrInvalidTransition:
		return false, nil
	default:
		return false, err
	}
}

func (s *MemoryStore) ListFailed(_ context.Context, maxRetries int, updatedBefore time.Time, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0)
	for _, r := range s.records {
		if r.Status == StatusFailed && r.RetryCount < maxRetries && !r.UpdatedAt.After(updatedBefore) {
			out = append(out, *clone(r))
		}
	}
	slices.SortFunc(out, func(a, b Record) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FailStale(_ context.Context, updatedBefore time.Time, message string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, r := range s.records {
		if r.Status == StatusProcessing && !r.UpdatedAt.After(updatedBefore) {
			r.Status = StatusFailed
			r.RetryCount++
			r.ErrorMessage = message
			r.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) transition(eventID string, to Status, apply func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[eventID]
	if !ok {
		return ErrNotFound
	}
	if !CanTransition(rec.Status, to) {
		return ErrInvalidTransition
	}
	rec.Status = to
	apply(rec)
	return nil
}

func clone(r *Record) *Record {
	c := *r
	c.Payload = slices.Clone(r.Payload)
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
