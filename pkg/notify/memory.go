package notify

import (
	"context"
	"sync"
)

// MemoryDeliverer records delivered notifications. Fail makes it return an
// error for every subsequent delivery.
type MemoryDeliverer struct {
	mu   sync.Mutex
	sent []Notification
	fail error
}

// NewMemoryDeliverer creates an empty MemoryDeliverer.
func NewMemoryDeliverer() *MemoryDeliverer {
	return &MemoryDeliverer{}
}

func (m *MemoryDeliverer) Deliver(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	m.sent = append(m.sent, n)
	return nil
}

// Fail sets the error returned by Deliver. A nil error restores delivery.
func (m *MemoryDeliverer) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Sent returns the notifications delivered so far.
func (m *MemoryDeliverer) Sent() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Notification(nil), m.sent...)
}
