package inquiries

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/machinery-leadbot/internal/events"
)

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository stores inquiries and an inquiry.created outbox event in one transaction.
type PostgresRepository struct {
	pool pgxPool
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("inquiries: pgx pool required")
	}
	return &PostgresRepository{pool: pool}
}

func newPostgresRepositoryWithPool(pool pgxPool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Create(ctx context.Context, req *CreateInquiryRequest) (*Inquiry, error) {
	recipient, err := req.Normalize()
	if err != nil {
		return nil, err
	}
	inq := &Inquiry{
		ID:              uuid.NewString(),
		RecipientID:     recipient,
		DisplayName:     req.Name,
		ContactEmail:    req.Email,
		ProductInterest: req.ProductInterest,
		Message:         req.Message,
		Source:          req.Source,
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("inquiries: begin tx: %w", err)
	}

	query := `
		INSERT INTO inquiries (id, recipient_id, display_name, contact_email, product_interest, message, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`
	if err := tx.QueryRow(ctx, query,
		inq.ID, inq.RecipientID, inq.DisplayName, inq.ContactEmail, inq.ProductInterest, inq.Message, inq.Source,
	).Scan(&inq.CreatedAt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("inquiries: insert failed: %w", err)
	}

	evt := inq.CreatedEvent()
	if _, err := events.InsertOutbox(ctx, tx, inq.ID, evt.EventType(), evt); err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("inquiries: commit: %w", err)
	}
	return inq, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Inquiry, error) {
	query := `
		SELECT id, recipient_id, display_name, contact_email, product_interest, message, source, created_at
		FROM inquiries WHERE id = $1
	`
	var inq Inquiry
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&inq.ID, &inq.RecipientID, &inq.DisplayName, &inq.ContactEmail,
		&inq.ProductInterest, &inq.Message, &inq.Source, &inq.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInquiryNotFound
		}
		return nil, fmt.Errorf("inquiries: select failed: %w", err)
	}
	return &inq, nil
}
