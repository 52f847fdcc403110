package notify

import (
	"time"
)

// Result of a Notify call.
type Result string

const (
	ResultDelivered Result = "delivered"
	ResultFailed    Result = "failed"
	ResultSkipped   Result = "skipped"
)

func (r Result) String() string { return string(r) }

// Notification is a single message addressed to a user.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}
