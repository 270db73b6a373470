package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/wolfman30/machinery-leadbot/pkg/logging"
)

const (
	defaultOutboxBatch       = 25
	defaultOutboxInterval    = 2 * time.Second
	defaultOutboxMaxAttempts = 5
	maxStoredErrorLen        = 500
)

// OutboxEntry is one undelivered event row.
type OutboxEntry struct {
	ID          uuid.UUID
	AggregateID string
	Type        string
	Payload     json.RawMessage
	Attempts    int
	CreatedAt   time.Time
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// HandlerFunc adapts a function to DeliveryHandler.
type HandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error { return f(ctx, entry) }

// Mux routes entries to the handler registered for their event type.
// Entries with no registered handler are acknowledged without side effects.
type Mux struct {
	handlers map[string]DeliveryHandler
	logger   *logging.Logger
}

func NewMux(logger *logging.Logger) *Mux {
	if logger == nil {
		logger = logging.Default()
	}
	return &Mux{handlers: make(map[string]DeliveryHandler), logger: logger}
}

// Register binds eventType to h, replacing any earlier binding.
func (m *Mux) Register(eventType string, h DeliveryHandler) *Mux {
	m.handlers[eventType] = h
	return m
}

func (m *Mux) Handle(ctx context.Context, entry OutboxEntry) error {
	h, ok := m.handlers[entry.Type]
	if !ok {
		m.logger.Debug("outbox: no handler for event type", "type", entry.Type, "event_id", entry.ID)
		return nil
	}
	return h.Handle(ctx, entry)
}

// Execer is satisfied by pgx pools, connections and transactions.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type outboxQuerier interface {
	Execer
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// InsertOutbox writes an event row through exec, typically inside the
// transaction that produced the event.
func InsertOutbox(ctx context.Context, exec Execer, aggregateID string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	const query = `INSERT INTO outbox (id, aggregate_id, type, payload) VALUES ($1, $2, $3, $4)`
	if _, err := exec.Exec(ctx, query, id, aggregateID, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox %s: %w", eventType, err)
	}
	return id, nil
}

// OutboxStore reads and acknowledges outbox rows.
type OutboxStore struct {
	db outboxQuerier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{db: pool}
}

func newOutboxStoreWithExec(q outboxQuerier) *OutboxStore {
	if q == nil {
		panic("events: exec required")
	}
	return &OutboxStore{db: q}
}

func (s *OutboxStore) Insert(ctx context.Context, aggregateID string, eventType string, payload any) (uuid.UUID, error) {
	return InsertOutbox(ctx, s.db, aggregateID, eventType, payload)
}

// FetchPending returns undelivered rows that have failed fewer than maxAttempts times, oldest first.
func (s *OutboxStore) FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error) {
	const query = `
		SELECT id, aggregate_id, type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $2
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit, maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			entry   OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&entry.ID, &entry.AggregateID, &entry.Type, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append(json.RawMessage(nil), payload...)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: iterate outbox: %w", err)
	}
	return entries, nil
}

// MarkDelivered reports false when the row was already delivered.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `UPDATE outbox SET delivered_at = now() WHERE id = $1 AND delivered_at IS NULL`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// RecordFailure bumps the attempt counter and keeps the latest error text.
func (s *OutboxStore) RecordFailure(ctx context.Context, id uuid.UUID, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
		if len(msg) > maxStoredErrorLen {
			msg = msg[:maxStoredErrorLen]
		}
	}
	const query = `UPDATE outbox SET attempts = attempts + 1, last_error = $2 WHERE id = $1 AND delivered_at IS NULL`
	if _, err := s.db.Exec(ctx, query, id, msg); err != nil {
		return fmt.Errorf("events: record failure: %w", err)
	}
	return nil
}

type outboxSource interface {
	FetchPending(ctx context.Context, limit int32, maxAttempts int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	RecordFailure(ctx context.Context, id uuid.UUID, cause error) error
}

// Deliverer polls the outbox and hands each entry to the handler until it
// succeeds or exhausts its attempts.
type Deliverer struct {
	store       outboxSource
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	maxAttempts int
}

func NewDeliverer(store outboxSource, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   defaultOutboxBatch,
		interval:    defaultOutboxInterval,
		maxAttempts: defaultOutboxMaxAttempts,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// Start drains once immediately, then on every tick until ctx is cancelled.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	d.drain(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

// drain returns the number of entries delivered in this pass.
func (d *Deliverer) drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return delivered
		}
		if err := d.handler.Handle(ctx, entry); err != nil {
			d.fail(ctx, entry, err)
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
			continue
		}
		if ok {
			delivered++
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered
}

func (d *Deliverer) fail(ctx context.Context, entry OutboxEntry, cause error) {
	attempt := entry.Attempts + 1
	if err := d.store.RecordFailure(ctx, entry.ID, cause); err != nil {
		d.logger.Error("failed to record outbox failure", "error", err, "event_id", entry.ID)
	}
	if attempt >= d.maxAttempts {
		d.logger.Error("outbox entry abandoned after max attempts",
			"error", cause, "event_id", entry.ID, "type", entry.Type, "attempts", attempt)
		return
	}
	d.logger.Warn("outbox delivery failed, will retry",
		"error", cause, "event_id", entry.ID, "type", entry.Type, "attempt", attempt)
}
