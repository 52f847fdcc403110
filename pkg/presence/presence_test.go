package presence_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/billingsync/pkg/presence"
)

func TestNoop(t *testing.T) {
	t.Parallel()
	assert.NoError(t, presence.Noop{}.SyncDependentPresence(context.Background(), "u1"))
}

func TestNewRedisPublisher_NilClient(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { presence.NewRedisPublisher(nil) })
}
