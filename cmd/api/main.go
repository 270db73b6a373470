package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/machinery-leadbot/cmd/mainconfig"
	"github.com/wolfman30/machinery-leadbot/internal/api/router"
	"github.com/wolfman30/machinery-leadbot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/internal/events"
	"github.com/wolfman30/machinery-leadbot/internal/http/handlers"
	"github.com/wolfman30/machinery-leadbot/internal/inquiries"
	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting machinery-leadbot API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) error {
	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      app.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if app.worker != nil {
		g.Go(func() error {
			app.worker.Start(gCtx)
			app.worker.Wait()
			return nil
		})
	}
	if app.deliverer != nil {
		g.Go(func() error {
			app.deliverer.Start(gCtx)
			return nil
		})
	}
	return g.Wait()
}

type app struct {
	handler   http.Handler
	worker    *conversation.NotificationWorker
	deliverer *events.Deliverer
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.close()
		return nil, err
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	registry, metricsHandler := setupMetrics()
	dispatchMetrics := metrics.NewDispatchMetrics(registry)
	conversationMetrics := metrics.NewConversationMetrics(registry)

	healthChecks := map[string]router.HealthCheck{}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		a.closers = append(a.closers, func() { _ = redisClient.Close() })
		healthChecks["redis"] = redisHealth(redisClient)
	}
	sessions := bootstrap.BuildSessionStore(redisClient, cfg, logger)

	pool, err := bootstrap.ConnectPostgres(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	var (
		leadsRepo     leads.Repository          = leads.NewInMemoryRepository()
		inquiriesRepo inquiries.Repository      = inquiries.NewInMemoryRepository()
		processed     handlers.ProcessedTracker = events.NewMemoryProcessedStore()
	)
	if pool != nil {
		a.closers = append(a.closers, pool.Close)
		healthChecks["postgres"] = postgresHealth(pool)
		leadsRepo = leads.NewPostgresRepository(pool)
		inquiriesRepo = inquiries.NewPostgresRepository(pool)
		processed = events.NewProcessedStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set; leads and inquiries are kept in memory and lead e-mails are disabled")
	}

	lookup, catalogDB, err := bootstrap.BuildCatalog(cfg, logger)
	if err != nil {
		return fail(err)
	}
	if catalogDB != nil {
		a.closers = append(a.closers, func() { _ = catalogDB.Close() })
	}

	transport, provider, err := bootstrap.BuildTransport(cfg, logger)
	if err != nil {
		return fail(err)
	}
	logger.Info("outbound transport configured", "provider", provider)

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.ConversationDeps{
		Sessions: sessions,
		Catalog:  lookup,
		Sender:   bootstrap.BuildDispatcher(cfg, transport, dispatchMetrics, logger),
		Leads:    leadsRepo,
		Archiver: bootstrap.BuildArchiver(cfg, awsCfg, logger),
		Metrics:  conversationMetrics,
	}, logger)
	if err != nil {
		return fail(err)
	}

	queue, closeQueue, err := bootstrap.OpenQueue(cfg, awsCfg, logger)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, closeQueue)
	jobs := bootstrap.BuildJobStore(cfg, awsCfg, pool, logger)
	publisher := conversation.NewPublisher(queue, jobs, logger)
	if _, inProcess := queue.(*conversation.MemoryQueue); inProcess {
		a.worker = conversation.NewNotificationWorker(engine, queue, jobs, logger,
			conversation.WithWorkerCount(cfg.WorkerCount),
			conversation.WithJobMetrics(metrics.NewJobMetrics(registry)),
		)
	}

	if pool != nil {
		a.deliverer = bootstrap.BuildOutboxDeliverer(cfg, pool, bootstrap.BuildEmailSender(cfg, awsCfg, logger), logger)
	}

	a.handler = router.New(&router.Config{
		Logger: logger,
		WhatsAppWebhook: handlers.NewWhatsAppWebhookHandler(handlers.WhatsAppWebhookConfig{
			VerifyToken: cfg.WhatsAppVerifyToken,
			AppSecret:   cfg.WhatsAppAppSecret,
			Engine:      engine,
			Processed:   processed,
			Logger:      logger,
		}),
		InquiriesHandler:   inquiries.NewHandler(inquiriesRepo, publisher, jobs, logger),
		LeadsHandler:       leads.NewHandler(leadsRepo, logger),
		MetricsHandler:     metricsHandler,
		HealthChecks:       healthChecks,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		InquiryRateLimit:   cfg.InquiryRateLimit,
		InquiryRateBurst:   cfg.InquiryRateBurst,
	})
	return a, nil
}

func setupMetrics() (*prometheus.Registry, http.Handler) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return registry, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
}

func redisHealth(client *redis.Client) router.HealthCheck {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func postgresHealth(pool *pgxpool.Pool) router.HealthCheck {
	return func(ctx context.Context) error {
		return pool.Ping(ctx)
	}
}
