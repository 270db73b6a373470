package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

type jobPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PGJobStore persists start job records to PostgreSQL for deployments without DynamoDB.
type PGJobStore struct {
	db  jobPool
	now func() time.Time
}

// NewPGJobStore builds a Postgres-backed job store.
func NewPGJobStore(db *pgxpool.Pool) *PGJobStore {
	if db == nil {
		panic("conversation: pgx pool cannot be nil")
	}
	return newPGJobStoreWithPool(db)
}

func newPGJobStoreWithPool(db jobPool) *PGJobStore {
	return &PGJobStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

var _ JobTracker = (*PGJobStore)(nil)

// PutPending inserts a pending job record.
func (s *PGJobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("conversation: job cannot be nil")
	}
	now := s.now()
	stampPending(job, now)

	if _, err := s.db.Exec(ctx, `
		INSERT INTO start_jobs (job_id, status, request_type, recipient_id, inquiry_id, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
	`, job.JobID, string(job.Status), string(job.RequestType), job.RecipientID, job.InquiryID, now, time.Unix(job.ExpiresAt, 0).UTC()); err != nil {
		return fmt.Errorf("conversation: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted stores the engine result of a finished job.
func (s *PGJobStore) MarkCompleted(ctx context.Context, jobID string, result EngineResult) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("conversation: failed to encode result: %w", err)
	}
	return s.update(ctx, `
		UPDATE start_jobs
		SET status = $2, result = $3, error_message = '', updated_at = $4
		WHERE job_id = $1
	`, jobID, string(JobStatusCompleted), data, s.now())
}

// MarkFailed marks the job as failed with an error message.
func (s *PGJobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	return s.update(ctx, `
		UPDATE start_jobs
		SET status = $2, result = NULL, error_message = $3, updated_at = $4
		WHERE job_id = $1
	`, jobID, string(JobStatusFailed), errMsg, s.now())
}

func (s *PGJobStore) update(ctx context.Context, query string, jobID string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, append([]any{jobID}, args...)...)
	if err != nil {
		return fmt.Errorf("conversation: failed to update job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJob loads a job by ID.
func (s *PGJobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("conversation: jobID required")
	}

	var (
		job        JobRecord
		status     string
		reqType    string
		resultJSON []byte
		createdAt  time.Time
		updatedAt  time.Time
		expiresAt  pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, `
		SELECT job_id, status, request_type, recipient_id, inquiry_id, result, error_message,
		       created_at, updated_at, expires_at
		FROM start_jobs
		WHERE job_id = $1
	`, jobID).Scan(&job.JobID, &status, &reqType, &job.RecipientID, &job.InquiryID, &resultJSON, &job.ErrorMessage,
		&createdAt, &updatedAt, &expiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, fmt.Errorf("conversation: failed to fetch job: %w", err)
	}

	job.Status = JobStatus(status)
	job.RequestType = jobType(reqType)
	job.CreatedAt = createdAt.UTC().Format(time.RFC3339Nano)
	job.UpdatedAt = updatedAt.UTC().Format(time.RFC3339Nano)
	if expiresAt.Valid {
		job.ExpiresAt = expiresAt.Time.Unix()
	}
	if len(resultJSON) > 0 {
		var result EngineResult
		if err := json.Unmarshal(resultJSON, &result); err != nil {
			return nil, fmt.Errorf("conversation: failed to decode result: %w", err)
		}
		job.Result = &result
	}
	return &job, nil
}
