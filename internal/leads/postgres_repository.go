package leads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/machinery-leadbot/internal/events"
)

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores leads in the relational database and records a
// lead.created outbox event in the same transaction.
type PostgresRepository struct {
	pool pgxPool
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("leads: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithPool(pool pgxPool) *PostgresRepository {
	if pool == nil {
		panic("leads: pool required")
	}
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

const leadColumns = `id, recipient_id, display_name, contact_email, category, product_name, product_id,
		decision, source, origin_session_id, needs_followup, followup_at, context_ref, created_at`

func (r *PostgresRepository) Create(ctx context.Context, lead *Lead) (*Lead, bool, error) {
	if err := lead.Validate(); err != nil {
		return nil, false, err
	}

	stored := lead.clone()
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.Source == "" {
		stored.Source = SourceConversationalBot
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("leads: begin tx: %w", err)
	}

	query := `
		INSERT INTO leads (id, recipient_id, display_name, contact_email, category, product_name, product_id,
			decision, source, origin_session_id, needs_followup, followup_at, context_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (origin_session_id) DO NOTHING
		RETURNING created_at
	`
	var createdAt time.Time
	err = tx.QueryRow(ctx, query,
		stored.ID,
		stored.RecipientID,
		stored.DisplayName,
		stored.ContactEmail,
		stored.Category,
		stored.ProductName,
		stored.ProductID,
		string(stored.Decision),
		stored.Source,
		stored.OriginSessionID,
		stored.NeedsFollowup,
		stored.FollowupAt,
		stored.ContextRef,
	).Scan(&createdAt)
	if err != nil {
		_ = tx.Rollback(ctx)
		if errors.Is(err, pgx.ErrNoRows) {
			existing, findErr := r.FindByOriginSession(ctx, stored.OriginSessionID)
			if findErr != nil {
				return nil, false, fmt.Errorf("leads: load existing lead: %w", findErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("leads: insert failed: %w", err)
	}
	stored.CreatedAt = createdAt

	evt := stored.CreatedEvent()
	if _, err := events.InsertOutbox(ctx, tx, stored.ID, evt.EventType(), evt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("leads: commit: %w", err)
	}
	return stored, true, nil
}

// GetByID fetches a lead by its id.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

// FindByOriginSession fetches the lead converted from a session.
func (r *PostgresRepository) FindByOriginSession(ctx context.Context, sessionID string) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE origin_session_id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, sessionID))
}

func (r *PostgresRepository) scanOne(row pgx.Row) (*Lead, error) {
	var (
		lead     Lead
		decision string
	)
	if err := row.Scan(
		&lead.ID,
		&lead.RecipientID,
		&lead.DisplayName,
		&lead.ContactEmail,
		&lead.Category,
		&lead.ProductName,
		&lead.ProductID,
		&decision,
		&lead.Source,
		&lead.OriginSessionID,
		&lead.NeedsFollowup,
		&lead.FollowupAt,
		&lead.ContextRef,
		&lead.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeadNotFound
		}
		return nil, fmt.Errorf("leads: select failed: %w", err)
	}
	lead.Decision = Decision(decision)
	return &lead, nil
}
