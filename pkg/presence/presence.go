// Package presence tells dependent services that a user's plan-dependent
// presence (shared spaces, linked-account visibility) must be recomputed.
//
// The publisher only announces the change. Consumers recompute from the
// current subscription state, so duplicate announcements are harmless.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/billingsync/pkg/clock"
)

// DefaultChannel is the pub/sub channel sync requests are published to.
const DefaultChannel = "billing:presence-sync"

var (
	ErrInvalidUser   = errors.New("presence: user id is required")
	ErrPublishFailed = errors.New("presence: failed to publish sync request")
)

// SyncRequest is the message published for each sync.
type SyncRequest struct {
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// RedisPublisher publishes sync requests over Redis pub/sub.
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	clock   clock.Clock
}

// Option configures a RedisPublisher.
type Option func(*RedisPublisher)

// WithChannel overrides DefaultChannel.
func WithChannel(name string) Option {
	return func(p *RedisPublisher) {
		if name != "" {
			p.channel = name
		}
	}
}

// WithClock sets the clock used to stamp requests.
func WithClock(c clock.Clock) Option {
	return func(p *RedisPublisher) {
		if c != nil {
			p.clock = c
		}
	}
}

// NewRedisPublisher creates a publisher on client.
func NewRedisPublisher(client redis.UniversalClient, opts ...Option) *RedisPublisher {
	if client == nil {
		panic("presence: redis client cannot be nil")
	}
	p := &RedisPublisher{client: client, channel: DefaultChannel, clock: clock.System()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SyncDependentPresence publishes a sync request for userID.
func (p *RedisPublisher) SyncDependentPresence(ctx context.Context, userID string) error {
	if userID == "" {
		return ErrInvalidUser
	}
	msg, err := json.Marshal(SyncRequest{UserID: userID, RequestedAt: p.clock.Now()})
	if err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	if err := p.client.Publish(ctx, p.channel, msg).Err(); err != nil {
		return errors.Join(ErrPublishFailed, err)
	}
	return nil
}

// Channel returns the channel requests are published to.
func (p *RedisPublisher) Channel() string { return p.channel }

// Noop discards sync requests. Used when Redis is not configured.
type Noop struct{}

func (Noop) SyncDependentPresence(context.Context, string) error { return nil }
