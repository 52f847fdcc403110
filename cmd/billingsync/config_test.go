package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingsync/pkg/config"
	"github.com/dmitrymomot/billingsync/pkg/logger"
)

func baseEnv(extra map[string]string) map[string]string {
	vars := map[string]string{"PG_CONN_URL": "postgres://localhost:5432/billing"}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

func TestAppConfig(t *testing.T) {
	t.Parallel()

	t.Run("defaults", func(t *testing.T) {
		t.Parallel()
		cfg, err := config.LoadFrom[appConfig](baseEnv(nil))
		require.NoError(t, err)
		assert.Equal(t, "development", cfg.Env)
		assert.Equal(t, time.Minute, cfg.WebhookSecretTTL)
		assert.Equal(t, "/webhooks/billing", cfg.Webhook.Path)
		assert.Equal(t, 5, cfg.Sweeper.MaxRetries)
		assert.Equal(t, 15*time.Minute, cfg.Sweeper.StaleAfter)
		assert.False(t, cfg.Redis.Enabled())
	})

	t.Run("production requires a secret", func(t *testing.T) {
		t.Parallel()
		_, err := config.LoadFrom[appConfig](baseEnv(map[string]string{"APP_ENV": "production"}))
		require.Error(t, err)
		assert.ErrorIs(t, err, errMissingSecret)

		cfg, err := config.LoadFrom[appConfig](baseEnv(map[string]string{
			"APP_ENV":        "production",
			"WEBHOOK_SECRET": "whsec",
		}))
		require.NoError(t, err)
		assert.True(t, cfg.authenticated())
	})

	t.Run("redis secret key needs redis", func(t *testing.T) {
		t.Parallel()
		_, err := config.LoadFrom[appConfig](baseEnv(map[string]string{"WEBHOOK_SECRET_REDIS_KEY": "billing:secret"}))
		assert.ErrorIs(t, err, errSecretKeyNoRedis)

		_, err = config.LoadFrom[appConfig](baseEnv(map[string]string{
			"WEBHOOK_SECRET_REDIS_KEY": "billing:secret",
			"REDIS_URL":                "redis://localhost:6379/0",
		}))
		assert.NoError(t, err)
	})

	t.Run("gateway secret without url", func(t *testing.T) {
		t.Parallel()
		_, err := config.LoadFrom[appConfig](baseEnv(map[string]string{"PUSH_GATEWAY_SECRET": "gw"}))
		assert.ErrorIs(t, err, errGatewaySecretOnly)
	})
}

func TestNewParser(t *testing.T) {
	t.Parallel()

	t.Run("empty secret outside production", func(t *testing.T) {
		t.Parallel()
		p, err := newParser(appConfig{Env: "development"}, nil, nil, logger.Noop())
		require.NoError(t, err)
		assert.NotNil(t, p)
	})

	t.Run("empty secret in production", func(t *testing.T) {
		t.Parallel()
		_, err := newParser(appConfig{Env: "production"}, nil, nil, logger.Noop())
		assert.ErrorIs(t, err, errMissingSecret)
	})

	t.Run("redis key without client", func(t *testing.T) {
		t.Parallel()
		_, err := newParser(appConfig{WebhookSecretRedisKey: "k"}, nil, nil, logger.Noop())
		assert.ErrorIs(t, err, errSecretKeyNoRedis)
	})
}

func TestNewNotifier(t *testing.T) {
	t.Parallel()

	_, err := newNotifier(appConfig{PushGatewayURL: "://bad"}, nil, logger.Noop())
	assert.Error(t, err)

	n, err := newNotifier(appConfig{}, nil, logger.Noop())
	require.NoError(t, err)
	assert.NotNil(t, n)
}
