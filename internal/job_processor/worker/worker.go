// Package worker executes queued generation jobs.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/credentials"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/job_processor/classifier"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/reelforge-backend/internal/platform/messaging/producers"
	"github.com/reelforge-backend/internal/platform/queue"
	"github.com/riverqueue/river"
)

// bookkeepingTimeout bounds the status writes made after an attempt, which
// run even when the attempt's own deadline has passed
const bookkeepingTimeout = 10 * time.Second

// Settler fails or cancels a job together with its refund
type Settler interface {
	Settle(ctx context.Context, jobID uuid.UUID, to job.Status, detail string) (*job.Job, error)
}

// GenerationWorker is the River worker for queue.GenerationArgs
type GenerationWorker struct {
	river.WorkerDefaults[queue.GenerationArgs]

	jobs        job.Repository
	settler     Settler
	credentials credentials.Source
	runner      Runner
	classifier  *classifier.Classifier
	events      producers.EventPublisher
	jobTimeout  time.Duration
	backoffBase time.Duration
	backoffMax  time.Duration
	logger      *slog.Logger
}

func NewGenerationWorker(
	jobs job.Repository,
	settler Settler,
	source credentials.Source,
	runner Runner,
	cls *classifier.Classifier,
	events producers.EventPublisher,
	workerCfg *config.WorkerConfig,
	queueCfg *config.QueueConfig,
	logger *slog.Logger,
) *GenerationWorker {
	return &GenerationWorker{
		jobs:        jobs,
		settler:     settler,
		credentials: source,
		runner:      runner,
		classifier:  cls,
		events:      events,
		jobTimeout:  workerCfg.JobTimeout,
		backoffBase: queueCfg.BackoffBase,
		backoffMax:  queueCfg.BackoffMax,
		logger:      logger,
	}
}

// Timeout bounds a single attempt
func (w *GenerationWorker) Timeout(*river.Job[queue.GenerationArgs]) time.Duration {
	return w.jobTimeout
}

// NextRetry backs off exponentially on the attempt number
func (w *GenerationWorker) NextRetry(rj *river.Job[queue.GenerationArgs]) time.Time {
	return time.Now().Add(queue.RetryDelay(rj.Attempt, w.backoffBase, w.backoffMax))
}

func (w *GenerationWorker) Work(ctx context.Context, rj *river.Job[queue.GenerationArgs]) error {
	args := rj.Args
	logger := w.logger.With("job_id", args.JobID.String(), "attempt", rj.Attempt, "max_attempts", rj.MaxAttempts)
	if args.CorrelationID != "" {
		logger = logger.With("correlation_id", args.CorrelationID)
	}

	current, err := w.jobs.GetByID(ctx, args.JobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound{}) {
			logger.Error("Queued job has no job record, dropping it")
			return river.JobCancel(err)
		}
		return fmt.Errorf("failed to load job %s: %w", args.JobID, err)
	}

	// Re-delivery of a job that is running elsewhere or already finished
	if current.Status != job.StatusPending {
		logger.Info("Job is not pending, skipping delivery", "status", string(current.Status))
		return nil
	}

	current, err = w.jobs.Transition(ctx, args.JobID, job.StatusProcessing, job.Update{})
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition{}) {
			logger.Info("Lost the race to start job")
			return nil
		}
		return fmt.Errorf("failed to start job %s: %w", args.JobID, err)
	}
	w.publish(ctx, logger, current, event.TypeProcessing, "", rj.Attempt, args.CorrelationID)

	cred, err := w.credentials.Acquire()
	if err != nil {
		return w.handleFailure(ctx, logger, current, rj, err)
	}

	result, err := w.runner.Run(ctx, current, cred, w.checkpoint(args.JobID))
	if err != nil {
		if errors.Is(err, ErrJobAborted) || w.closedElsewhere(ctx, args.JobID, err) {
			logger.Info("Job left processing during the workflow, aborting")
			return nil
		}
		w.credentials.ReportFailure(cred, err)
		return w.handleFailure(ctx, logger, current, rj, err)
	}
	w.credentials.ReportSuccess(cred)

	ctx, cancel := detached(ctx)
	defer cancel()
	completed, err := w.jobs.Transition(ctx, args.JobID, job.StatusCompleted, job.Update{
		ArtifactRef:     &result.ArtifactRef,
		DurationSeconds: result.DurationSeconds,
	})
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition{}) {
			logger.Warn("Job was closed while its artifact was produced, discarding result", "artifact_ref", result.ArtifactRef)
			return nil
		}
		return fmt.Errorf("failed to complete job %s: %w", args.JobID, err)
	}

	metrics.JobsFinished.WithLabelValues(string(job.StatusCompleted)).Inc()
	w.publish(ctx, logger, completed, event.TypeCompleted, result.ArtifactRef, rj.Attempt, args.CorrelationID)
	logger.Info("Job completed", "artifact_ref", result.ArtifactRef, "generation_id", result.GenerationID)
	return nil
}

// handleFailure either rolls the job back to pending for a queue retry or
// fails it with a refund and stops the queue from retrying
func (w *GenerationWorker) handleFailure(ctx context.Context, logger *slog.Logger, current *job.Job, rj *river.Job[queue.GenerationArgs], cause error) error {
	ctx, cancel := detached(ctx)
	defer cancel()

	verdict := w.classifier.Classify(cause)
	detail := fmt.Sprintf("attempt %d/%d: %v", rj.Attempt, rj.MaxAttempts, cause)
	logger = logger.With("verdict", verdict.String(), "error", cause)

	if verdict == classifier.Retryable && rj.Attempt < rj.MaxAttempts {
		if _, err := w.jobs.Transition(ctx, current.ID, job.StatusPending, job.WithError(detail)); err != nil {
			if errors.Is(err, job.ErrInvalidTransition{}) {
				logger.Info("Job closed before retry could be scheduled")
				return nil
			}
			// The next delivery sees processing and skips; the recoverer settles it
			logger.Error("Failed to roll job back for retry", "rollback_error", err)
			return fmt.Errorf("failed to reset job %s for retry: %w", current.ID, err)
		}

		metrics.JobRetries.Inc()
		w.publish(ctx, logger, current, event.TypeRetryScheduled, detail, rj.Attempt, rj.Args.CorrelationID)
		logger.Warn("Job attempt failed, queue will retry")
		return &classifier.RetryableError{Err: cause}
	}

	failed, err := w.settler.Settle(ctx, current.ID, job.StatusFailed, detail)
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition{}) {
			logger.Info("Job already closed, no refund issued here")
			return river.JobCancel(&classifier.TerminalError{Err: cause})
		}
		logger.Error("Failed to fail and refund job", "settle_error", err)
		return fmt.Errorf("failed to settle job %s: %w", current.ID, err)
	}

	w.publish(ctx, logger, failed, event.TypeFailed, detail, rj.Attempt, rj.Args.CorrelationID)
	logger.Error("Job failed and was refunded", "refund", failed.Cost)
	return river.JobCancel(&classifier.TerminalError{Err: cause})
}

// closedElsewhere reports whether err is the attempt context being cancelled
// because the job was closed by another path, e.g. a queue-side cancel
func (w *GenerationWorker) closedElsewhere(ctx context.Context, jobID uuid.UUID, err error) bool {
	if !errors.Is(err, context.Canceled) {
		return false
	}
	ctx, cancel := detached(ctx)
	defer cancel()
	return errors.Is(w.checkpoint(jobID)(ctx), ErrJobAborted)
}

func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), bookkeepingTimeout)
}

// checkpoint aborts the workflow once the job is no longer processing
func (w *GenerationWorker) checkpoint(jobID uuid.UUID) Checkpoint {
	return func(ctx context.Context) error {
		current, err := w.jobs.GetByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("checkpoint for job %s: %w", jobID, err)
		}
		if current.Status != job.StatusProcessing {
			return ErrJobAborted
		}
		return nil
	}
}

func (w *GenerationWorker) publish(ctx context.Context, logger *slog.Logger, j *job.Job, typ event.Type, detail string, attempt int, correlationID string) {
	if w.events == nil {
		return
	}
	evt := event.New(j.ID, j.AccountID, typ, string(j.Status), detail)
	evt.Attempt = attempt
	evt.CorrelationID = correlationID
	if typ == event.TypeRetryScheduled {
		evt.Status = string(job.StatusPending)
	}
	if err := w.events.PublishJobEvent(ctx, evt); err != nil {
		logger.Warn("Failed to publish job event", "type", string(typ), "error", err)
	}
}
