package subscription

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(_ context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec *Record) error {
	if rec == nil || rec.UserID == "" {
		return ErrInvalidRecord
	}
	s.mu.Lock()
	s.records[rec.UserID] = rec.Clone()
	s.mu.Unlock()
	return nil
}
