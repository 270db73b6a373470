package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/machinery-leadbot/internal/config"
	"github.com/wolfman30/machinery-leadbot/internal/events"
	"github.com/wolfman30/machinery-leadbot/internal/messaging"
	"github.com/wolfman30/machinery-leadbot/internal/notify"
	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

// BuildTransport returns the WhatsApp Cloud API client when credentials are set, else a
// transport that only logs. The second value names the provider for startup logs.
func BuildTransport(cfg *appconfig.Config, logger *logging.Logger) (messaging.Transport, string, error) {
	if logger == nil {
		logger = logging.Default()
	}
	if !cfg.WhatsAppConfigured() {
		logger.Warn("whatsapp credentials missing; outbound messages will only be logged")
		return messaging.NewLogTransport(logger), "log", nil
	}
	client, err := messaging.NewWhatsAppClient(messaging.WhatsAppConfig{
		BaseURL:       cfg.WhatsAppAPIBaseURL,
		APIVersion:    cfg.WhatsAppAPIVersion,
		AccessToken:   cfg.WhatsAppAccessToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		Timeout:       cfg.DispatchAttemptTimeout,
		Logger:        logger,
	})
	if err != nil {
		return nil, "", err
	}
	return client, "whatsapp", nil
}

// BuildDispatcher applies the configured retry and fallback policy to transport.
func BuildDispatcher(cfg *appconfig.Config, transport messaging.Transport, m *metrics.DispatchMetrics, logger *logging.Logger) *messaging.Dispatcher {
	opts := []messaging.DispatcherOption{
		messaging.WithMaxAttempts(cfg.DispatchMaxAttempts),
		messaging.WithRetryDelay(cfg.DispatchRetryDelay),
		messaging.WithAttemptTimeout(cfg.DispatchAttemptTimeout),
		messaging.WithFallbackTemplate(cfg.WhatsAppFallbackTemplate, cfg.WhatsAppTemplateLanguage),
	}
	if m != nil {
		opts = append(opts, messaging.WithDispatchMetrics(m))
	}
	return messaging.NewDispatcher(transport, logger, opts...)
}

// BuildOutboxDeliverer routes lead.created outbox rows to the sales e-mail
// notifier. Other event types are acknowledged without side effects.
func BuildOutboxDeliverer(cfg *appconfig.Config, pool *pgxpool.Pool, sender notify.EmailSender, logger *logging.Logger) *events.Deliverer {
	notifier := notify.NewService(sender, cfg.SalesNotifyEmail, logger)
	mux := events.NewMux(logger).
		Register(events.LeadCreatedV1{}.EventType(), notifier)
	return events.NewDeliverer(events.NewOutboxStore(pool), mux, logger).
		WithInterval(cfg.OutboxPollInterval)
}
