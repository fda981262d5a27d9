// Package queue is the work queue between the outbox relay and the job
// workers. It is backed by River on the application's Postgres database.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/domain/shared"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
)

const GenerationKind = "video_generation"

// GenerationArgs is the queued form of a dispatch payload. JobID is the only
// unique field, so enqueueing the same job twice yields one queue job.
type GenerationArgs struct {
	JobID         uuid.UUID       `json:"job_id" river:"unique"`
	AccountID     uuid.UUID       `json:"account_id"`
	Cost          int64           `json:"cost"`
	Params        json.RawMessage `json:"params"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

func (GenerationArgs) Kind() string { return GenerationKind }

// ArgsFromPayload converts a staged outbox payload into queue arguments
func ArgsFromPayload(payload *shared.DispatchPayload) GenerationArgs {
	return GenerationArgs{
		JobID:         payload.JobID,
		AccountID:     payload.AccountID,
		Cost:          payload.Cost,
		Params:        payload.Params,
		CorrelationID: payload.CorrelationID,
	}
}

// Enqueuer hands jobs to the queue
type Enqueuer interface {
	Enqueue(ctx context.Context, payload *shared.DispatchPayload) (int64, error)
	Remove(ctx context.Context, queueJobID int64) error
}

// riverClient is the subset of *river.Client used here
type riverClient interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
	JobCancel(ctx context.Context, jobID int64) (*rivertype.JobRow, error)
}

var _ riverClient = (*river.Client[pgx.Tx])(nil)
var _ Enqueuer = (*WorkQueue)(nil)

// WorkQueue inserts generation jobs idempotently on the job id
type WorkQueue struct {
	client      riverClient
	maxAttempts int
	logger      *slog.Logger
}

func NewWorkQueue(client riverClient, cfg *config.QueueConfig, logger *slog.Logger) *WorkQueue {
	return &WorkQueue{
		client:      client,
		maxAttempts: cfg.MaxAttempts,
		logger:      logger,
	}
}

// Enqueue returns the queue job id; a duplicate insert returns the id of the
// job already in flight
func (q *WorkQueue) Enqueue(ctx context.Context, payload *shared.DispatchPayload) (int64, error) {
	res, err := q.client.Insert(ctx, ArgsFromPayload(payload), &river.InsertOpts{
		MaxAttempts: q.maxAttempts,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue job %s: %w", payload.JobID, err)
	}

	if res.UniqueSkippedAsDuplicate {
		q.logger.Debug("Job already queued, insert skipped",
			"job_id", payload.JobID.String(),
			"queue_job_id", res.Job.ID,
		)
	}
	return res.Job.ID, nil
}

// Remove cancels a queued job. A job the queue no longer knows is not an error.
func (q *WorkQueue) Remove(ctx context.Context, queueJobID int64) error {
	_, err := q.client.JobCancel(ctx, queueJobID)
	if err != nil && !errors.Is(err, river.ErrNotFound) {
		return fmt.Errorf("failed to cancel queue job %d: %w", queueJobID, err)
	}
	return nil
}

// NewClient builds a River client on pool. With nil workers the client is
// insert-only, which is what the gateway needs.
func NewClient(pool *pgxpool.Pool, workers *river.Workers, concurrency int, logger *slog.Logger) (*river.Client[pgx.Tx], error) {
	riverCfg := &river.Config{Logger: logger}
	if workers != nil {
		riverCfg.Queues = map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: concurrency},
		}
		riverCfg.Workers = workers
	}

	client, err := river.NewClient(riverpgxv5.New(pool), riverCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue client: %w", err)
	}
	return client, nil
}

// RetryDelay is the exponential backoff before attempt+1: base*2^(attempt-1), capped at ceiling
func RetryDelay(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= ceiling || delay <= 0 {
			return ceiling
		}
	}
	if delay > ceiling {
		return ceiling
	}
	return delay
}
