package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/platform/persistence"
)

const jobColumns = "id, account_id, params, cost, status, artifact_ref, error_detail, duration_seconds, created_at, updated_at, completed_at"

// JobRepository implements the job.Repository interface for PostgreSQL.
// Status changes are compare-and-set on the current status, so no row lock
// is taken on jobs.
type JobRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewJobRepository creates a new PostgreSQL job repository
func NewJobRepository(logger *slog.Logger, db *persistence.PostgresDB) job.Repository {
	return &JobRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *JobRepository) WithTx(tx pgx.Tx) job.Repository {
	return &JobRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create stores a new job
func (r *JobRepository) Create(ctx context.Context, j *job.Job) error {
	query := `
		INSERT INTO generation_jobs (id, account_id, params, cost, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.querier.Exec(ctx, query,
		j.ID,
		j.AccountID,
		j.Params,
		j.Cost,
		string(j.Status),
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create job", "job_id", j.ID.String(), "error", err)
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

// GetByID retrieves a job by its ID
func (r *JobRepository) GetByID(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE id = $1
	`

	j, err := scanJob(r.querier.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrJobNotFound{JobID: id}
		}
		r.logger.Error("Failed to get job", "job_id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return j, nil
}

// Transition applies to only when the stored status is one of its allowed
// sources. When no row matches, the job is re-read to tell a missing job
// from an out-of-order transition.
func (r *JobRepository) Transition(ctx context.Context, id uuid.UUID, to job.Status, update job.Update) (*job.Job, error) {
	sources := job.SourcesFor(to)
	allowed := make([]string, len(sources))
	for i, s := range sources {
		allowed[i] = string(s)
	}

	query := `
		UPDATE generation_jobs
		SET status = $1,
			artifact_ref = COALESCE($2, artifact_ref),
			error_detail = COALESCE($3, error_detail),
			duration_seconds = COALESCE($4, duration_seconds),
			updated_at = NOW(),
			completed_at = CASE WHEN $5 THEN NOW() ELSE completed_at END
		WHERE id = $6 AND status = ANY($7)
		RETURNING ` + jobColumns

	j, err := scanJob(r.querier.QueryRow(ctx, query,
		string(to),
		update.ArtifactRef,
		update.ErrorDetail,
		update.DurationSeconds,
		to.IsTerminal(),
		id,
		allowed,
	))
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.Error("Failed to transition job", "job_id", id.String(), "to", string(to), "error", err)
		return nil, fmt.Errorf("failed to transition job: %w", err)
	}

	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}

	r.logger.Error("Rejected invalid job transition",
		"job_id", id.String(),
		"from", string(current.Status),
		"to", string(to),
	)
	return nil, job.ErrInvalidTransition{JobID: id, From: current.Status, To: to}
}

// ListByStatus returns jobs in status, oldest first
func (r *JobRepository) ListByStatus(ctx context.Context, status job.Status, limit int) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	rows, err := r.querier.Query(ctx, query, string(status), limit)
	if err != nil {
		r.logger.Error("Failed to list jobs by status", "status", string(status), "error", err)
		return nil, fmt.Errorf("failed to list jobs by status: %w", err)
	}
	return collectJobs(rows)
}

// ListStale returns jobs in status whose last update is older than updatedBefore
func (r *JobRepository) ListStale(ctx context.Context, status job.Status, updatedBefore time.Time, limit int) ([]*job.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM generation_jobs
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3
	`

	rows, err := r.querier.Query(ctx, query, string(status), updatedBefore, limit)
	if err != nil {
		r.logger.Error("Failed to list stale jobs", "status", string(status), "error", err)
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return collectJobs(rows)
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	err := row.Scan(
		&j.ID,
		&j.AccountID,
		&j.Params,
		&j.Cost,
		&j.Status,
		&j.ArtifactRef,
		&j.ErrorDetail,
		&j.DurationSeconds,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	defer rows.Close()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over jobs: %w", err)
	}
	return jobs, nil
}
