package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/logger"
)

type ctxKey struct{}

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("json by default", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf))
		log.Info("hello")

		entry := decode(t, buf)
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "hello", entry["msg"])
	})

	t.Run("text format", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithFormat(logger.FormatText))
		log.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("invalid format panics", func(t *testing.T) {
		t.Parallel()
		assert.Panics(t, func() { logger.New(logger.WithFormat("xml")) })
	})

	t.Run("production environment", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithEnvironment("prod", "billingsync"))
		log.Debug("hidden")
		assert.Empty(t, buf.String())

		log.Info("shown")
		entry := decode(t, buf)
		assert.Equal(t, "billingsync", entry["service"])
		assert.Equal(t, "production", entry["env"])
	})

	t.Run("context values are injected", func(t *testing.T) {
		t.Parallel()
		buf := &bytes.Buffer{}
		log := logger.New(logger.WithOutput(buf), logger.WithContextValue("request_id", ctxKey{}))
		ctx := context.WithValue(context.Background(), ctxKey{}, "req-1")
		log.InfoContext(ctx, "hello")

		entry := decode(t, buf)
		assert.Equal(t, "req-1", entry["request_id"])
	})
}

func TestAttrs(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.Attr{}, logger.Error(nil))
	assert.Equal(t, "error", logger.Error(errors.New("boom")).Key)
	assert.Equal(t, slog.Attr{}, logger.Errors(map[string]error{"notify": nil}))

	attr := logger.Errors(map[string]error{"notify": errors.New("down")})
	require.Equal(t, "errors", attr.Key)
	assert.Len(t, attr.Value.Group(), 1)

	assert.Equal(t, "premium", logger.Plan("previous_plan", "premium").Value.String())
	assert.Equal(t, int64(3), logger.RetryCount(3).Value.Int64())
}

func TestContextWith(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := logger.New(logger.WithOutput(buf))

	ctx := logger.ContextWith(context.Background(), logger.EventID("evt_1"))
	ctx = logger.ContextWith(ctx, logger.UserID("u1"))
	assert.Len(t, logger.AttrsFromContext(ctx), 2)

	log.InfoContext(ctx, "applied")
	entry := decode(t, buf)
	assert.Equal(t, "evt_1", entry["event_id"])
	assert.Equal(t, "u1", entry["user_id"])

	assert.Empty(t, logger.AttrsFromContext(context.Background()))
	assert.Equal(t, ctx, logger.ContextWith(ctx))
}
