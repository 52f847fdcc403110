// Package quota enforces plan resource limits on user-owned resources and
// resets per-period usage counters.
//
// Deactivation keeps the most recently activated resources and switches off
// the oldest ones beyond the tier limit. Running it twice for the same tier
// is a no-op the second time.
package quota

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/plan"
)

// Item is a plan-limited resource owned by a user.
type Item struct {
	ID          int64
	UserID      string
	Resource    plan.Resource
	Active      bool
	ActivatedAt time.Time
}

// MemoryStore keeps resources and usage counters in process.
type MemoryStore struct {
	catalog *plan.Catalog

	mu     sync.Mutex
	nextID int64
	items  []*Item
	usage  map[string]map[string]int64
}

// NewMemoryStore creates a MemoryStore enforcing the limits in catalog.
func NewMemoryStore(catalog *plan.Catalog) *MemoryStore {
	if catalog == nil {
		catalog = plan.DefaultCatalog()
	}
	return &MemoryStore{catalog: catalog, usage: make(map[string]map[string]int64)}
}

// Add registers an active resource activated at the given time and returns its id.
func (s *MemoryStore) Add(userID string, r plan.Resource, activatedAt time.Time) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.items = append(s.items, &Item{ID: s.nextID, UserID: userID, Resource: r, Active: true, ActivatedAt: activatedAt})
	return s.nextID
}

// Items returns copies of the user's resources of kind r.
func (s *MemoryStore) Items(userID string, r plan.Resource) []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Item
	for _, it := range s.items {
		if it.UserID == userID && it.Resource == r {
			out = append(out, *it)
		}
	}
	return out
}

// DeactivateExcessResources switches off the oldest active resources beyond
// the tier's limits and returns how many were deactivated.
func (s *MemoryStore) DeactivateExcessResources(_ context.Context, userID string, tier plan.Tier) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, r := range s.catalog.Resources() {
		limit := s.catalog.Limit(tier, r)
		if limit == plan.Unlimited {
			continue
		}
		active := make([]*Item, 0)
		for _, it := range s.items {
			if it.UserID == userID && it.Resource == r && it.Active {
				active = append(active, it)
			}
		}
		for _, it := range oldestBeyond(active, limit) {
			it.Active = false
			total++
		}
	}
	return total, nil
}

// SetUsage sets a usage counter. Intended for tests and local runs.
func (s *MemoryStore) SetUsage(userID, counter string, v int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usage[userID] == nil {
		s.usage[userID] = make(map[string]int64)
	}
	s.usage[userID][counter] = v
}

// Usage returns a usage counter value.
func (s *MemoryStore) Usage(userID, counter string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[userID][counter]
}

// ResetPeriodUsage zeroes all of the user's usage counters.
func (s *MemoryStore) ResetPeriodUsage(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.usage[userID] {
		s.usage[userID][c] = 0
	}
	return nil
}

// oldestBeyond returns the items that do not fit in limit when the newest
// ones are kept. Ties on activation time break on id.
func oldestBeyond(items []*Item, limit int64) []*Item {
	if int64(len(items)) <= limit {
		return nil
	}
	sorted := slices.Clone(items)
	slices.SortFunc(sorted, func(a, b *Item) int {
		if c := b.ActivatedAt.Compare(a.ActivatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return sorted[limit:]
}
