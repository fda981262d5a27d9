package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/domain/outbox"
	"github.com/reelforge-backend/internal/domain/shared"
	"github.com/reelforge-backend/internal/job_processor/outbox_relay"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/reelforge-backend/internal/platform/messaging/producers"
	"github.com/reelforge-backend/internal/platform/persistence"
	"github.com/reelforge-backend/internal/platform/queue"
)

// ErrJobNotOwned is returned when a caller acts on another account's job
var ErrJobNotOwned = errors.New("job belongs to another account")

const cancelDetail = "cancelled by user"

// JobServiceImpl implements the JobService interface
type JobServiceImpl struct {
	txManager  persistence.TxManager
	credits    CreditReserver
	settler    Settler
	jobs       job.Repository
	outbox     outbox.Repository
	dispatcher outbox_relay.AsyncDispatcher
	queue      queue.Enqueuer
	events     producers.EventPublisher
	timeline   event.Repository
	logger     *slog.Logger
}

// JobServiceDeps groups the collaborators of JobServiceImpl. Dispatcher,
// Queue, Events and Timeline are optional.
type JobServiceDeps struct {
	TxManager  persistence.TxManager
	Credits    CreditReserver
	Settler    Settler
	Jobs       job.Repository
	Outbox     outbox.Repository
	Dispatcher outbox_relay.AsyncDispatcher
	Queue      queue.Enqueuer
	Events     producers.EventPublisher
	Timeline   event.Repository
}

func NewJobService(logger *slog.Logger, deps JobServiceDeps) JobService {
	return &JobServiceImpl{
		txManager:  deps.TxManager,
		credits:    deps.Credits,
		settler:    deps.Settler,
		jobs:       deps.Jobs,
		outbox:     deps.Outbox,
		dispatcher: deps.Dispatcher,
		queue:      deps.Queue,
		events:     deps.Events,
		timeline:   deps.Timeline,
		logger:     logger,
	}
}

// RequestJob reserves the cost, creates the job and stages its outbox record
// atomically, then attempts an immediate enqueue. The relay is the fallback
// for that enqueue, so its failure never fails the request.
func (s *JobServiceImpl) RequestJob(ctx context.Context, accountID uuid.UUID, params json.RawMessage, cost int64, correlationID string) (uuid.UUID, error) {
	j, err := job.NewJob(accountID, params, cost)
	if err != nil {
		return uuid.Nil, err
	}

	logger := s.logger.With("job_id", j.ID.String(), "account_id", accountID.String())
	if correlationID != "" {
		logger = logger.With("correlation_id", correlationID)
	}

	var record *outbox.Record
	err = s.txManager.ExecuteTx(ctx, func(tx pgx.Tx) error {
		description := fmt.Sprintf("reserve for job %s", j.ID)
		if _, err := s.credits.ReserveTx(ctx, tx, accountID, cost, description, j.ID); err != nil {
			return err
		}

		if err := s.jobs.WithTx(tx).Create(ctx, j); err != nil {
			return fmt.Errorf("create job: %w", err)
		}

		rec, err := outbox.NewRecord(&shared.DispatchPayload{
			JobID:         j.ID,
			AccountID:     accountID,
			Cost:          cost,
			Params:        params,
			CorrelationID: correlationID,
			RequestedAt:   j.CreatedAt.UTC(),
		})
		if err != nil {
			return fmt.Errorf("build outbox record: %w", err)
		}
		if err := s.outbox.WithTx(tx).Create(ctx, rec); err != nil {
			return fmt.Errorf("stage outbox record: %w", err)
		}
		record = rec
		return nil
	})
	if err != nil {
		logger.Warn("Job request rejected", "cost", cost, "error", err)
		return uuid.Nil, err
	}

	metrics.JobsRequested.Inc()
	logger.Info("Job requested", "cost", cost, "outbox_id", record.ID)

	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, record)
	}
	s.publish(ctx, logger, j, event.TypeRequested, "", correlationID)

	return j.ID, nil
}

// CancelJob closes a pending or processing job with a refund and asks the
// queue to drop it. A worker already running it aborts at its next checkpoint.
func (s *JobServiceImpl) CancelJob(ctx context.Context, jobID, accountID uuid.UUID) (*job.Job, error) {
	logger := s.logger.With("job_id", jobID.String(), "account_id", accountID.String())

	current, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.AccountID != accountID {
		logger.Warn("Cancellation for a job of another account refused")
		return nil, ErrJobNotOwned
	}

	cancelled, err := s.settler.Settle(ctx, jobID, job.StatusCancelled, cancelDetail)
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition{}) {
			logger.Info("Cancellation refused, job already finished")
		} else {
			logger.Error("Failed to cancel job", "error", err)
		}
		return nil, err
	}

	s.dropFromQueue(ctx, logger, jobID)
	s.publish(ctx, logger, cancelled, event.TypeCancelled, cancelDetail, "")
	logger.Info("Job cancelled and refunded", "refund", cancelled.Cost)
	return cancelled, nil
}

// dropFromQueue removes the queued delivery if one exists. Any leftover
// delivery finds the job cancelled and does nothing.
func (s *JobServiceImpl) dropFromQueue(ctx context.Context, logger *slog.Logger, jobID uuid.UUID) {
	if s.queue == nil {
		return
	}

	record, err := s.outbox.GetByJobID(ctx, jobID)
	if err != nil {
		if !errors.Is(err, outbox.ErrRecordNotFound{}) {
			logger.Warn("Could not look up outbox record for queue removal", "error", err)
		}
		return
	}
	if record.QueueJobID == nil {
		return
	}

	if err := s.queue.Remove(ctx, *record.QueueJobID); err != nil {
		logger.Warn("Best-effort queue removal failed", "queue_job_id", *record.QueueJobID, "error", err)
	}
}

func (s *JobServiceImpl) GetJobStatus(ctx context.Context, jobID uuid.UUID) (*job.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// GetJobEvents returns a page of the job's audit timeline, oldest first
func (s *JobServiceImpl) GetJobEvents(ctx context.Context, jobID uuid.UUID, page, perPage int) ([]*event.JobEvent, error) {
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	if s.timeline == nil {
		return []*event.JobEvent{}, nil
	}
	return s.timeline.GetByJobID(ctx, jobID, perPage, (page-1)*perPage)
}

func (s *JobServiceImpl) publish(ctx context.Context, logger *slog.Logger, j *job.Job, typ event.Type, detail, correlationID string) {
	if s.events == nil {
		return
	}

	evt := event.New(j.ID, j.AccountID, typ, string(j.Status), detail)
	evt.CorrelationID = correlationID

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.events.PublishJobEvent(ctx, evt); err != nil {
		logger.Warn("Failed to publish job event", "type", string(typ), "error", err)
	}
}
