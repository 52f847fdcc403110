//go:build integration

// Package pgtest starts a throwaway PostgreSQL container with the service
// schema applied.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/pg"
)

// NewPool starts postgres, applies migrations and returns a pool that is
// closed, together with the container, when t finishes.
func NewPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("billingsync"),
		tcpostgres.WithUsername("billingsync"),
		tcpostgres.WithPassword("billingsync"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	cfg := pg.Config{
		ConnectionString: dsn,
		MaxOpenConns:     20,
		RetryAttempts:    5,
		RetryInterval:    500 * time.Millisecond,
		MigrationsTable:  "schema_migrations",
	}
	pool, err := pg.Connect(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pg.Migrate(ctx, pool, cfg, logger.Noop()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return pool
}
