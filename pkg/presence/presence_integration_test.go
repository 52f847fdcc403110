//go:build integration

package presence_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/presence"
	"github.com/dmitrymomot/billingsync/pkg/redis/redistest"
)

func TestRedisPublisher(t *testing.T) {
	client := redistest.NewClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	p := presence.NewRedisPublisher(client, presence.WithChannel("test:presence"), presence.WithClock(clock.NewManual(now)))

	sub := client.Subscribe(ctx, p.Channel())
	defer func() { _ = sub.Close() }()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, p.SyncDependentPresence(ctx, "u1"))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var req presence.SyncRequest
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &req))
	assert.Equal(t, "u1", req.UserID)
	assert.True(t, now.Equal(req.RequestedAt))

	assert.ErrorIs(t, p.SyncDependentPresence(ctx, ""), presence.ErrInvalidUser)
}
