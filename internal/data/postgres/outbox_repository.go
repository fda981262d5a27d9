package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/outbox"
	"github.com/reelforge-backend/internal/domain/shared"
	"github.com/reelforge-backend/internal/platform/persistence"
)

const outboxColumns = "id, job_id, payload, status, attempts, last_attempt_at, last_error, queue_job_id, created_at"

// OutboxRepository implements the outbox.Repository interface for PostgreSQL.
// Records are kept after delivery for audit.
type OutboxRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewOutboxRepository creates a new PostgreSQL outbox repository
func NewOutboxRepository(logger *slog.Logger, db *persistence.PostgresDB) outbox.Repository {
	return &OutboxRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx wraps the repository with a transaction for atomic operations.
// This ensures the record is staged atomically with its job and reservation.
func (r *OutboxRepository) WithTx(tx pgx.Tx) outbox.Repository {
	return &OutboxRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new outbox record in pending status.
func (r *OutboxRepository) Create(ctx context.Context, record *outbox.Record) error {
	query := `
		INSERT INTO job_outbox (job_id, payload, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`

	err := r.querier.QueryRow(ctx, query,
		record.JobID,
		record.Payload,
		string(record.Status),
		record.Attempts,
		record.CreatedAt,
	).Scan(&record.ID)

	if err != nil {
		r.logger.Error("Failed to create outbox record",
			"job_id", record.JobID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to create outbox record: %w", err)
	}

	return nil
}

// GetPending retrieves a batch of pending records ordered by creation time.
func (r *OutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Record, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM job_outbox
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, string(shared.OutboxStatusPending), limit)
	if err != nil {
		r.logger.Error("Failed to get pending outbox records", "error", err)
		return nil, fmt.Errorf("failed to get pending outbox records: %w", err)
	}
	return r.collect(rows)
}

// GetRetryable retrieves failed records that still have attempts left and
// whose cooldown has elapsed, oldest attempt first.
func (r *OutboxRepository) GetRetryable(ctx context.Context, maxAttempts int, attemptedBefore time.Time, limit int) ([]*outbox.Record, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM job_outbox
		WHERE status = $1
			AND attempts < $2
			AND (last_attempt_at IS NULL OR last_attempt_at < $3)
		ORDER BY last_attempt_at ASC NULLS FIRST
		LIMIT $4
	`

	rows, err := r.querier.Query(ctx, query, string(shared.OutboxStatusFailed), maxAttempts, attemptedBefore, limit)
	if err != nil {
		r.logger.Error("Failed to get retryable outbox records", "error", err)
		return nil, fmt.Errorf("failed to get retryable outbox records: %w", err)
	}
	return r.collect(rows)
}

// MarkQueued records a successful hand-off and the queue's id for the job.
func (r *OutboxRepository) MarkQueued(ctx context.Context, id int64, queueJobID int64) error {
	query := `
		UPDATE job_outbox
		SET status = $1, queue_job_id = $2, last_attempt_at = NOW(), last_error = NULL
		WHERE id = $3
	`

	result, err := r.querier.Exec(ctx, query, string(shared.OutboxStatusQueued), queueJobID, id)
	if err != nil {
		r.logger.Error("Failed to mark outbox record queued", "id", id, "error", err)
		return fmt.Errorf("failed to mark outbox record queued: %w", err)
	}

	if result.RowsAffected() == 0 {
		return outbox.ErrRecordNotFound{ID: id}
	}

	return nil
}

// MarkFailed increments the attempt counter, stamps the attempt and keeps the
// error. Records are never deleted, so no matching row means the record is
// already queued.
func (r *OutboxRepository) MarkFailed(ctx context.Context, id int64, reason string) (int, error) {
	query := `
		UPDATE job_outbox
		SET status = $1, attempts = attempts + 1, last_attempt_at = NOW(), last_error = $2
		WHERE id = $3 AND status <> $4
		RETURNING attempts
	`

	var attempts int
	err := r.querier.QueryRow(ctx, query,
		string(shared.OutboxStatusFailed), reason, id, string(shared.OutboxStatusQueued),
	).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, outbox.ErrAlreadyQueued
		}
		r.logger.Error("Failed to mark outbox record failed", "id", id, "error", err)
		return 0, fmt.Errorf("failed to mark outbox record failed: %w", err)
	}

	return attempts, nil
}

// GetByJobID retrieves the record staged for a job.
func (r *OutboxRepository) GetByJobID(ctx context.Context, jobID uuid.UUID) (*outbox.Record, error) {
	query := `
		SELECT ` + outboxColumns + `
		FROM job_outbox
		WHERE job_id = $1
	`

	record, err := scanRecord(r.querier.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, outbox.ErrRecordNotFound{JobID: jobID}
		}
		r.logger.Error("Failed to get outbox record by job ID",
			"job_id", jobID.String(),
			"error", err,
		)
		return nil, fmt.Errorf("failed to get outbox record by job ID: %w", err)
	}

	return record, nil
}

// CountExhausted counts records the relay has given up on.
func (r *OutboxRepository) CountExhausted(ctx context.Context, maxAttempts int) (int64, error) {
	query := `SELECT COUNT(*) FROM job_outbox WHERE status = $1 AND attempts >= $2`

	var count int64
	if err := r.querier.QueryRow(ctx, query, string(shared.OutboxStatusFailed), maxAttempts).Scan(&count); err != nil {
		r.logger.Error("Failed to count exhausted outbox records", "error", err)
		return 0, fmt.Errorf("failed to count exhausted outbox records: %w", err)
	}
	return count, nil
}

func (r *OutboxRepository) collect(rows pgx.Rows) ([]*outbox.Record, error) {
	defer rows.Close()

	var records []*outbox.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			r.logger.Error("Failed to scan outbox record", "error", err)
			return nil, fmt.Errorf("failed to scan outbox record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over outbox records", "error", err)
		return nil, fmt.Errorf("error iterating over outbox records: %w", err)
	}

	return records, nil
}

func scanRecord(row pgx.Row) (*outbox.Record, error) {
	var record outbox.Record
	err := row.Scan(
		&record.ID,
		&record.JobID,
		&record.Payload,
		&record.Status,
		&record.Attempts,
		&record.LastAttemptAt,
		&record.LastError,
		&record.QueueJobID,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}
