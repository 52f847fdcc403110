// Command billingsync receives billing provider webhooks, applies them to
// subscription records and retries failed deliveries in the background.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/billingsync/pkg/billingevent"
	"github.com/dmitrymomot/billingsync/pkg/clock"
	"github.com/dmitrymomot/billingsync/pkg/compensation"
	"github.com/dmitrymomot/billingsync/pkg/config"
	"github.com/dmitrymomot/billingsync/pkg/httpserver"
	"github.com/dmitrymomot/billingsync/pkg/ingest"
	"github.com/dmitrymomot/billingsync/pkg/ledger"
	"github.com/dmitrymomot/billingsync/pkg/lifecycle"
	"github.com/dmitrymomot/billingsync/pkg/logger"
	"github.com/dmitrymomot/billingsync/pkg/metrics"
	"github.com/dmitrymomot/billingsync/pkg/notify"
	"github.com/dmitrymomot/billingsync/pkg/pg"
	"github.com/dmitrymomot/billingsync/pkg/plan"
	"github.com/dmitrymomot/billingsync/pkg/presence"
	"github.com/dmitrymomot/billingsync/pkg/quota"
	"github.com/dmitrymomot/billingsync/pkg/redis"
	"github.com/dmitrymomot/billingsync/pkg/referral"
	"github.com/dmitrymomot/billingsync/pkg/subscription"
	"github.com/dmitrymomot/billingsync/pkg/sweeper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load[appConfig]()
	if err != nil {
		slog.Error("failed to load configuration", logger.Error(err))
		os.Exit(1)
	}

	log := logger.New(
		logger.WithEnvironment(cfg.Env, cfg.ServiceName),
		logger.WithContextValue("request_id", middleware.RequestIDKey),
	)
	logger.SetAsDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.Error("billingsync stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	clk := clock.System()

	catalog := plan.DefaultCatalog()
	if cfg.PlanCatalogPath != "" {
		c, err := plan.LoadCatalog(cfg.PlanCatalogPath)
		if err != nil {
			return err
		}
		catalog = c
	}

	pool, err := pg.Connect(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Postgres.AutoMigrate {
		if err := pg.Migrate(ctx, pool, cfg.Postgres, log.With(logger.Component("migrations"))); err != nil {
			return err
		}
	}

	var rdb *goredis.Client
	if cfg.Redis.Enabled() {
		rdb, err = redis.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				log.Error("failed to close redis client", logger.Error(err))
			}
		}()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	parser, err := newParser(cfg, rdb, clk, log)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(cfg, clk, log)
	if err != nil {
		return err
	}

	var syncer compensation.Presence = presence.Noop{}
	if rdb != nil {
		syncer = presence.NewRedisPublisher(rdb, presence.WithClock(clk))
	}

	quotas := quota.NewPostgresStore(pool, catalog, clk)
	compensator := compensation.New(
		compensation.WithLimiter(quotas),
		compensation.WithUsage(quotas),
		compensation.WithNotifier(notifier),
		compensation.WithPresence(syncer),
		compensation.WithObserver(m),
		compensation.WithLogger(log.With(logger.Component("compensation"))),
	)

	dispatcher := lifecycle.New(
		subscription.NewPostgresStore(pool),
		plan.NewResolver(catalog),
		lifecycle.WithCompensator(compensator),
		lifecycle.WithUsage(quotas),
		lifecycle.WithReferrals(referral.NewPostgresStore(pool, clk)),
		lifecycle.WithObserver(m),
		lifecycle.WithClock(clk),
		lifecycle.WithLogger(log.With(logger.Component("lifecycle"))),
	)

	events := ledger.New(
		ledger.NewPostgresStore(pool),
		ledger.WithClock(clk),
		ledger.WithLogger(log.With(logger.Component("ledger"))),
	)

	processor := ingest.NewProcessor(parser, events, dispatcher,
		ingest.WithConfig(cfg.Webhook),
		ingest.WithObserver(m),
		ingest.WithLogger(log.With(logger.Component("ingest"))),
	)

	sw := sweeper.New(events, dispatcher, cfg.Sweeper,
		sweeper.WithObserver(m),
		sweeper.WithLogger(log.With(logger.Component("sweeper"))),
	)

	router := newRouter(cfg, processor, pool, rdb, reg, log)
	server := httpserver.NewFromConfig(cfg.HTTP, httpserver.WithLogger(log.With(logger.Component("http"))))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(ctx, router) })
	g.Go(func() error { return sw.Run(ctx) })
	return g.Wait()
}

func newParser(cfg appConfig, rdb *goredis.Client, clk clock.Clock, log *slog.Logger) (*billingevent.Parser, error) {
	switch {
	case cfg.WebhookSecretRedisKey != "":
		if rdb == nil {
			return nil, errSecretKeyNoRedis
		}
		fetch := billingevent.RedisSecret(rdb, cfg.WebhookSecretRedisKey)
		return billingevent.NewParser(billingevent.NewCachedSecret(fetch, cfg.WebhookSecretTTL, clk)), nil
	case cfg.WebhookSecret != "":
		return billingevent.NewParser(billingevent.StaticSecret(cfg.WebhookSecret)), nil
	}
	if cfg.environment().IsProduction() {
		return nil, errMissingSecret
	}
	log.Warn("webhook authentication disabled: no secret configured")
	return billingevent.NewParser(billingevent.StaticSecret("")), nil
}

func newNotifier(cfg appConfig, clk clock.Clock, log *slog.Logger) (*notify.Notifier, error) {
	var deliverers []notify.Deliverer
	if cfg.PushGatewayURL != "" {
		var opts []notify.GatewayOption
		if cfg.PushGatewaySecret != "" {
			opts = append(opts, notify.WithSigningSecret(cfg.PushGatewaySecret))
		}
		gw, err := notify.NewGatewayDeliverer(cfg.PushGatewayURL, opts...)
		if err != nil {
			return nil, err
		}
		deliverers = append(deliverers, gw)
	} else {
		log.Info("push gateway not configured: notifications will be skipped")
	}
	return notify.New(deliverers,
		notify.WithClock(clk),
		notify.WithLogger(log.With(logger.Component("notify"))),
	), nil
}

func newRouter(
	cfg appConfig,
	processor *ingest.Processor,
	pool *pgxpool.Pool,
	rdb *goredis.Client,
	gatherer prometheus.Gatherer,
	log *slog.Logger,
) chi.Router {
	checks := []httpserver.Check{{Name: "postgres", Probe: pg.Healthcheck(pool)}}
	if rdb != nil {
		checks = append(checks, httpserver.Check{Name: "redis", Probe: redis.Healthcheck(rdb)})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/livez", httpserver.HealthCheckHandler(log, cfg.HealthTimeout))
	r.Get("/healthz", httpserver.HealthCheckHandler(log, cfg.HealthTimeout, checks...))
	r.Method(http.MethodGet, cfg.MetricsPath, metrics.Handler(gatherer))
	processor.Register(r)
	return r
}
