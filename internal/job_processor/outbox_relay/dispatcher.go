package outbox_relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/domain/outbox"
	"github.com/reelforge-backend/internal/domain/shared"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/reelforge-backend/internal/platform/messaging/producers"
	"github.com/reelforge-backend/internal/platform/queue"
)

const (
	sourceRequest = "request"
	sourcePending = "pending"
	sourceRetry   = "retry"

	deadLetterSource = "outbox_relay"
)

// RelayDeliveryError is a failed attempt to move a record onto the work queue
type RelayDeliveryError struct {
	RecordID  int64
	JobID     uuid.UUID
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *RelayDeliveryError) Error() string {
	return fmt.Sprintf("outbox record %d for job %s failed after %d attempt(s): %v", e.RecordID, e.JobID, e.Attempts, e.Err)
}

func (e *RelayDeliveryError) Unwrap() error { return e.Err }

var (
	_ RecordDispatcher = (*Dispatcher)(nil)
	_ AsyncDispatcher  = (*Dispatcher)(nil)
)

// Dispatcher enqueues outbox records and books the outcome on the record
type Dispatcher struct {
	outboxRepo  outbox.Repository
	queue       queue.Enqueuer
	dlq         producers.DeadLetterPublisher
	pool        *ants.Pool
	maxAttempts int
	timeout     time.Duration
	logger      *slog.Logger
}

func NewDispatcher(
	outboxRepo outbox.Repository,
	enqueuer queue.Enqueuer,
	dlq producers.DeadLetterPublisher,
	outboxCfg *config.OutboxConfig,
	dispatchCfg *config.DispatchConfig,
	logger *slog.Logger,
) (*Dispatcher, error) {
	// Non-blocking so a saturated pool never stalls the request path
	pool, err := ants.NewPool(dispatchCfg.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		outboxRepo:  outboxRepo,
		queue:       enqueuer,
		dlq:         dlq,
		pool:        pool,
		maxAttempts: outboxCfg.MaxRetryAttempts,
		timeout:     dispatchCfg.Timeout,
		logger:      logger,
	}, nil
}

// Dispatch enqueues record and marks it queued. A failure is recorded on the
// record and returned as a *RelayDeliveryError.
func (d *Dispatcher) Dispatch(ctx context.Context, record *outbox.Record) error {
	source := sourcePending
	if record.Status == shared.OutboxStatusFailed {
		source = sourceRetry
	}

	if err := d.enqueue(ctx, record, source); err != nil {
		return d.fail(ctx, record, source, err)
	}
	return nil
}

// DispatchAsync tries to enqueue record in the background. Failures and pool
// overload are only logged; the relay picks the record up later.
func (d *Dispatcher) DispatchAsync(ctx context.Context, record *outbox.Record) {
	rec := *record
	logger := d.logger.With("outbox_id", rec.ID, "job_id", rec.JobID.String())

	err := d.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()

		if err := d.enqueue(ctx, &rec, sourceRequest); err != nil {
			logger.Warn("Immediate dispatch failed, leaving record to the relay", "error", err)
		}
	})
	if err != nil {
		metrics.RelayOutcomes.WithLabelValues(sourceRequest, "skipped").Inc()
		logger.Warn("Dispatch pool unavailable, leaving record to the relay",
			"running", d.Running(),
			"capacity", d.Capacity(),
			"error", err,
		)
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, record *outbox.Record, source string) error {
	payload, err := record.DispatchPayload()
	if err != nil {
		return fmt.Errorf("decode dispatch payload: %w", err)
	}

	logger := d.logger.With("outbox_id", record.ID, "job_id", record.JobID.String(), "source", source)
	if payload.CorrelationID != "" {
		logger = logger.With("correlation_id", payload.CorrelationID)
	}

	queueJobID, err := d.queue.Enqueue(ctx, payload)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", record.JobID, err)
	}

	// The queue job exists now; a failed mark only means a later pass
	// enqueues again and the queue dedupes it
	if err := d.outboxRepo.MarkQueued(ctx, record.ID, queueJobID); err != nil {
		return fmt.Errorf("mark outbox record %d queued: %w", record.ID, err)
	}

	metrics.RelayOutcomes.WithLabelValues(source, "queued").Inc()
	logger.Info("Outbox record dispatched to work queue", "queue_job_id", queueJobID)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, record *outbox.Record, source string, cause error) error {
	logger := d.logger.With("outbox_id", record.ID, "job_id", record.JobID.String(), "source", source)

	attempts, err := d.outboxRepo.MarkFailed(ctx, record.ID, cause.Error())
	if errors.Is(err, outbox.ErrAlreadyQueued) {
		metrics.RelayOutcomes.WithLabelValues(source, "already_queued").Inc()
		logger.Info("Outbox record was queued by another path, ignoring failed attempt", "cause", cause)
		return nil
	}
	if err != nil {
		logger.Error("Failed to record relay failure on outbox record", "cause", cause, "error", err)
		return &RelayDeliveryError{RecordID: record.ID, JobID: record.JobID, Attempts: record.Attempts, Err: errors.Join(cause, err)}
	}

	deliveryErr := &RelayDeliveryError{
		RecordID:  record.ID,
		JobID:     record.JobID,
		Attempts:  attempts,
		Exhausted: attempts >= d.maxAttempts,
		Err:       cause,
	}
	if !deliveryErr.Exhausted {
		metrics.RelayOutcomes.WithLabelValues(source, "failed").Inc()
		logger.Warn("Outbox relay attempt failed", "attempts", attempts, "max_attempts", d.maxAttempts, "error", cause)
		return deliveryErr
	}

	metrics.RelayOutcomes.WithLabelValues(source, "exhausted").Inc()
	logger.Error("Outbox record exhausted its relay attempts, operator action required",
		"attempts", attempts, "error", cause,
	)
	d.alert(ctx, logger, record, attempts, cause)
	return deliveryErr
}

// alert publishes the exhausted record to the dead-letter topic
func (d *Dispatcher) alert(ctx context.Context, logger *slog.Logger, record *outbox.Record, attempts int, cause error) {
	if d.dlq == nil {
		return
	}

	err := d.dlq.PublishToDLQ(ctx, producers.DeadLetter{
		Key:       record.JobID.String(),
		Source:    deadLetterSource,
		Payload:   record.Payload,
		Reason:    cause.Error(),
		Attempts:  attempts,
		Timestamp: time.Now().UTC(),
	})
	switch {
	case err == nil:
	case errors.Is(err, producers.ErrDLQDisabled):
		logger.Debug("DLQ disabled, exhausted record not alerted")
	default:
		logger.Error("Failed to publish exhausted outbox record to DLQ", "error", err)
	}
}

// Shutdown waits up to timeout for in-flight immediate dispatches
func (d *Dispatcher) Shutdown(timeout time.Duration) {
	d.logger.Info("Shutting down dispatch pool", "running_workers", d.Running())
	if err := d.pool.ReleaseTimeout(timeout); err != nil {
		d.logger.Warn("Dispatch pool did not drain in time", "error", err)
	}
}

// Running returns the number of in-flight immediate dispatches
func (d *Dispatcher) Running() int {
	return d.pool.Running()
}

// Capacity returns the size of the dispatch pool
func (d *Dispatcher) Capacity() int {
	return d.pool.Cap()
}
