package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/machinery-leadbot/cmd/mainconfig"
	"github.com/wolfman30/machinery-leadbot/internal/app/bootstrap"
	"github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const drainTimeout = 5 * time.Second

// messaging-worker delivers outbox events (lead.created → sales e-mail) for
// deployments where the api process runs without a database connection.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Error("messaging worker exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	if cfg.SalesNotifyEmail == "" {
		logger.Warn("SALES_NOTIFY_EMAIL not set; lead events will be acknowledged without e-mail")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := bootstrap.ConnectPostgres(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}

	deliverer := bootstrap.BuildOutboxDeliverer(cfg, pool, bootstrap.BuildEmailSender(cfg, awsCfg, logger), logger)

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})
	g.Go(func() error {
		defer close(done)
		deliverer.Start(gctx)
		return nil
	})
	logger.Info("messaging worker started", "poll_interval", cfg.OutboxPollInterval)

	<-ctx.Done()
	logger.Info("messaging worker shutting down")
	select {
	case <-done:
	case <-time.After(drainTimeout):
		logger.Warn("outbox deliverer did not stop in time")
		return nil
	}
	return g.Wait()
}
