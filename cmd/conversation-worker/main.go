package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/machinery-leadbot/cmd/mainconfig"
	"github.com/wolfman30/machinery-leadbot/internal/app/bootstrap"
	appconfig "github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/internal/conversation"
	"github.com/wolfman30/machinery-leadbot/internal/leads"
	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.NotificationQueueURL == "" && cfg.AMQPURL == "" {
		logger.Error("NOTIFICATION_QUEUE_URL or AMQP_URL is required for the conversation worker")
		os.Exit(1)
	}
	// This process only consumes a broker; the in-process queue belongs to the api binary.
	cfg.UseMemoryQueue = false

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient == nil {
		logger.Warn("running without redis; sessions are not shared with the api")
	} else {
		defer redisClient.Close()
	}

	pool, err := bootstrap.ConnectPostgres(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	var leadsRepo leads.Repository = leads.NewInMemoryRepository()
	if pool != nil {
		defer pool.Close()
		leadsRepo = leads.NewPostgresRepository(pool)
	}

	lookup, catalogDB, err := bootstrap.BuildCatalog(cfg, logger)
	if err != nil {
		logger.Error("failed to build catalog", "error", err)
		os.Exit(1)
	}
	if catalogDB != nil {
		defer catalogDB.Close()
	}

	transport, provider, err := bootstrap.BuildTransport(cfg, logger)
	if err != nil {
		logger.Error("failed to build transport", "error", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	engine, err := bootstrap.BuildEngine(cfg, bootstrap.ConversationDeps{
		Sessions: bootstrap.BuildSessionStore(redisClient, cfg, logger),
		Catalog:  lookup,
		Sender:   bootstrap.BuildDispatcher(cfg, transport, metrics.NewDispatchMetrics(registry), logger),
		Leads:    leadsRepo,
		Archiver: bootstrap.BuildArchiver(cfg, awsConfig, logger),
		Metrics:  metrics.NewConversationMetrics(registry),
	}, logger)
	if err != nil {
		logger.Error("failed to build conversation engine", "error", err)
		os.Exit(1)
	}

	queue, closeQueue, err := bootstrap.OpenQueue(cfg, awsConfig, logger)
	if err != nil {
		logger.Error("failed to open notification queue", "error", err)
		os.Exit(1)
	}
	defer closeQueue()

	worker := conversation.NewNotificationWorker(
		engine,
		queue,
		bootstrap.BuildJobStore(cfg, awsConfig, pool, logger),
		logger,
		conversation.WithWorkerCount(cfg.WorkerCount),
		conversation.WithJobMetrics(metrics.NewJobMetrics(registry)),
	)
	logger.Info("starting conversation worker", "workers", cfg.WorkerCount, "provider", provider)
	worker.Start(ctx)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener failed", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = metricsSrv.Shutdown(shutdownCtx)
	shutdownCancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
