package messaging

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/machinery-leadbot/internal/observability/metrics"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

var dispatchTracer = otel.Tracer("leadbot.internal.messaging.dispatch")

const (
	defaultMaxAttempts      = 3
	defaultRetryDelay       = 2 * time.Second
	defaultAttemptTimeout   = 20 * time.Second
	defaultFallbackTemplate = "hello_world"
	defaultTemplateLanguage = "en_US"
)

// Dispatcher applies the delivery policy on top of a Transport: fixed-delay
// retries for transient failures, no retry for rejected recipients, and a
// single template fallback when the customer-service window has closed.
type Dispatcher struct {
	transport      Transport
	logger         *logging.Logger
	metrics        *metrics.DispatchMetrics
	maxAttempts    int
	retryDelay     time.Duration
	attemptTimeout time.Duration
	fallback       Template
	sleep          func(ctx context.Context, d time.Duration) error
}

type DispatcherOption func(*Dispatcher)

func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

func WithRetryDelay(delay time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if delay >= 0 {
			d.retryDelay = delay
		}
	}
}

func WithAttemptTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.attemptTimeout = timeout
		}
	}
}

// WithFallbackTemplate sets the parameter-free template sent when the window
// has expired. An empty name disables the fallback.
func WithFallbackTemplate(name, language string) DispatcherOption {
	return func(d *Dispatcher) {
		d.fallback = Template{Name: strings.TrimSpace(name), Language: strings.TrimSpace(language)}
		if d.fallback.Language == "" {
			d.fallback.Language = defaultTemplateLanguage
		}
	}
}

func WithDispatchMetrics(m *metrics.DispatchMetrics) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func withSleep(fn func(ctx context.Context, d time.Duration) error) DispatcherOption {
	return func(d *Dispatcher) {
		d.sleep = fn
	}
}

func NewDispatcher(transport Transport, logger *logging.Logger, opts ...DispatcherOption) *Dispatcher {
	if transport == nil {
		panic("messaging: transport required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	d := &Dispatcher{
		transport:      transport,
		logger:         logger,
		maxAttempts:    defaultMaxAttempts,
		retryDelay:     defaultRetryDelay,
		attemptTimeout: defaultAttemptTimeout,
		fallback:       Template{Name: defaultFallbackTemplate, Language: defaultTemplateLanguage},
		sleep:          sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Send delivers p to the recipient and reports the final outcome.
func (d *Dispatcher) Send(ctx context.Context, to string, p Payload) Result {
	started := time.Now()
	kind := "unknown"
	if p != nil {
		kind = string(p.Kind())
	}

	ctx, span := dispatchTracer.Start(ctx, "messaging.dispatch.send")
	defer span.End()
	span.SetAttributes(
		attribute.String("leadbot.recipient_id", to),
		attribute.String("leadbot.payload_kind", kind),
	)

	res := d.send(ctx, to, p)

	span.SetAttributes(
		attribute.String("leadbot.outcome", string(res.Outcome)),
		attribute.Int("leadbot.attempts", res.Attempts),
		attribute.Bool("leadbot.fallback", res.Fallback),
		attribute.Bool("leadbot.escalated", res.Escalated),
	)
	if res.Err != nil && !res.Delivered() {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, string(res.Outcome))
	}
	d.metrics.ObserveSend(kind, string(res.Outcome), time.Since(started).Seconds())
	return res
}

func (d *Dispatcher) send(ctx context.Context, to string, p Payload) Result {
	if strings.TrimSpace(to) == "" {
		return Result{Outcome: OutcomeRejected, Err: ErrInvalidPayload}
	}
	if err := Validate(p); err != nil {
		d.logger.Error("refusing invalid payload", "recipient_id", to, "error", err)
		return Result{Outcome: OutcomeRejected, Err: err}
	}

	res := d.deliver(ctx, to, p)
	if res.Outcome != OutcomeWindowExpired {
		if !res.Delivered() {
			d.logger.Warn("dispatch failed", "recipient_id", to, "kind", p.Kind(), "outcome", res.Outcome,
				"attempts", res.Attempts, "error", res.Err)
		}
		return res
	}

	if p.Kind() == KindTemplate || d.fallback.Name == "" {
		res.Escalated = true
		d.logger.Error("messaging window expired and no fallback available", "recipient_id", to, "kind", p.Kind())
		return res
	}

	d.logger.Info("messaging window expired, sending template fallback", "recipient_id", to, "template", d.fallback.Name)
	fb := d.deliver(ctx, to, d.fallback)
	d.metrics.ObserveFallback(fb.Delivered())
	attempts := res.Attempts + fb.Attempts
	if fb.Delivered() {
		return Result{Outcome: OutcomeOK, Attempts: attempts, Fallback: true, MessageID: fb.MessageID}
	}

	d.logger.Error("template fallback failed, escalating", "recipient_id", to, "template", d.fallback.Name,
		"fallback_outcome", fb.Outcome, "error", fb.Err)
	err := fb.Err
	if err == nil {
		err = res.Err
	}
	return Result{Outcome: OutcomeWindowExpired, Attempts: attempts, Escalated: true, Err: err}
}

// deliver runs the transient-retry loop for one payload.
func (d *Dispatcher) deliver(ctx context.Context, to string, p Payload) Result {
	var res Result
	for attempt := 1; attempt <= d.maxAttempts; attempt++ {
		d.metrics.ObserveAttempt(string(p.Kind()))

		attemptCtx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
		raw, err := sendPayload(attemptCtx, d.transport, to, p)
		cancel()

		res = Result{
			Outcome:   Classify(raw, err),
			Attempts:  attempt,
			MessageID: raw.MessageID,
			Err:       attemptError(raw, err),
		}
		if res.Outcome != OutcomeTransient || attempt == d.maxAttempts {
			return res
		}
		if ctx.Err() != nil {
			return res
		}

		d.logger.Warn("transient send failure, retrying", "recipient_id", to, "kind", p.Kind(),
			"attempt", attempt, "error", res.Err)
		if err := d.sleep(ctx, d.retryDelay); err != nil {
			return res
		}
	}
	return res
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
