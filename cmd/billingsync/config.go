package main

import (
	"errors"
	"time"

	"github.com/dmitrymomot/billingsync/pkg/environment"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/ingest"
	"github.com/dmitrymomot/billingsync/pkg/pg"
	"github.com/dmitrymomot/billingsync/pkg/redis"
	"github.com/dmitrymomot/billingsync/pkg/sweeper"
)

var (
	errMissingSecret     = errors.New("WEBHOOK_SECRET or WEBHOOK_SECRET_REDIS_KEY is required in production")
	errSecretKeyNoRedis  = errors.New("WEBHOOK_SECRET_REDIS_KEY requires REDIS_URL")
	errGatewaySecretOnly = errors.New("PUSH_GATEWAY_SECRET requires PUSH_GATEWAY_URL")
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"billingsync"`

	WebhookSecret         string        `env:"WEBHOOK_SECRET"`                      // WebhookSecret is the shared secret; empty disables authentication outside production.
	WebhookSecretRedisKey string        `env:"WEBHOOK_SECRET_REDIS_KEY"`            // WebhookSecretRedisKey reads a rotating secret from Redis instead.
	WebhookSecretTTL      time.Duration `env:"WEBHOOK_SECRET_TTL" envDefault:"1m"`  // WebhookSecretTTL is how long a fetched secret is trusted.
	PlanCatalogPath       string        `env:"PLAN_CATALOG_PATH"`                   // PlanCatalogPath points at a YAML catalog; empty uses the built-in one.
	PushGatewayURL        string        `env:"PUSH_GATEWAY_URL"`                    // PushGatewayURL receives user notifications; empty skips them.
	PushGatewaySecret     string        `env:"PUSH_GATEWAY_SECRET"`                 // PushGatewaySecret signs gateway requests.
	HealthTimeout         time.Duration `env:"HEALTHCHECK_TIMEOUT" envDefault:"2s"` // HealthTimeout bounds readiness probes.
	MetricsPath           string        `env:"METRICS_PATH" envDefault:"/metrics"`  // MetricsPath exposes Prometheus collectors.

	Postgres pg.Config
	Redis    redis.Config
	HTTP     httpserver.Config
	Sweeper  sweeper.Config
	Webhook  ingest.Config
}

func (c *appConfig) Validate() error {
	if c.WebhookSecretRedisKey != "" && !c.Redis.Enabled() {
		return errSecretKeyNoRedis
	}
	if c.PushGatewaySecret != "" && c.PushGatewayURL == "" {
		return errGatewaySecretOnly
	}
	if c.environment().IsProduction() && !c.authenticated() {
		return errMissingSecret
	}
	return nil
}

func (c *appConfig) environment() environment.Environment {
	return environment.Parse(c.Env)
}

func (c *appConfig) authenticated() bool {
	return c.WebhookSecret != "" || c.WebhookSecretRedisKey != ""
}
