// Package outbox_relay moves staged job intents from the outbox table onto
// the work queue.
package outbox_relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/domain/outbox"
	"github.com/reelforge-backend/internal/metrics"
)

// Relay polls the outbox for records that never reached the queue
type Relay struct {
	outboxRepo     outbox.Repository
	dispatcher     RecordDispatcher
	logger         *slog.Logger
	pollInterval   time.Duration
	batchSize      int
	retryBatchSize int
	maxAttempts    int
	retryCooldown  time.Duration
	now            func() time.Time
}

func NewRelay(
	cfg *config.OutboxConfig,
	outboxRepo outbox.Repository,
	dispatcher RecordDispatcher,
	logger *slog.Logger,
) *Relay {
	return &Relay{
		outboxRepo:     outboxRepo,
		dispatcher:     dispatcher,
		logger:         logger,
		pollInterval:   cfg.PollingInterval,
		batchSize:      cfg.BatchSize,
		retryBatchSize: cfg.RetryBatchSize,
		maxAttempts:    cfg.MaxRetryAttempts,
		retryCooldown:  cfg.RetryCooldown,
		now:            time.Now,
	}
}

// Start begins polling until context is canceled
func (r *Relay) Start(ctx context.Context) {
	r.logger.Info("Starting Outbox Relay",
		"poll_interval", r.pollInterval.String(),
		"batch_size", r.batchSize,
		"retry_batch_size", r.retryBatchSize,
		"max_retry_attempts", r.maxAttempts,
	)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Outbox Relay stopping due to context cancellation.")
			return
		case <-ticker.C:
			r.logger.Debug("Outbox Relay tick: relaying pending and failed records")
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("Error during outbox relay pass", "error", err)
			}
		}
	}
}

// RunOnce relays one batch of pending records, then one batch of failed
// records whose cooldown has passed
func (r *Relay) RunOnce(ctx context.Context) error {
	pending, err := r.outboxRepo.GetPending(ctx, r.batchSize)
	if err != nil {
		return fmt.Errorf("failed to get pending outbox records: %w", err)
	}
	r.relay(ctx, pending)

	retryable, err := r.outboxRepo.GetRetryable(ctx, r.maxAttempts, r.now().Add(-r.retryCooldown), r.retryBatchSize)
	if err != nil {
		return fmt.Errorf("failed to get retryable outbox records: %w", err)
	}
	r.relay(ctx, retryable)

	exhausted, err := r.outboxRepo.CountExhausted(ctx, r.maxAttempts)
	if err != nil {
		return fmt.Errorf("failed to count exhausted outbox records: %w", err)
	}
	metrics.OutboxExhausted.Set(float64(exhausted))
	return nil
}

func (r *Relay) relay(ctx context.Context, records []*outbox.Record) {
	if len(records) == 0 {
		return
	}
	r.logger.Info("Fetched outbox records", "count", len(records), "status", string(records[0].Status))

	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}

		err := r.dispatcher.Dispatch(ctx, rec)
		if err == nil {
			continue
		}

		var deliveryErr *RelayDeliveryError
		if errors.As(err, &deliveryErr) && deliveryErr.Exhausted {
			continue // already reported by the dispatcher
		}
		r.logger.Warn("Outbox record not relayed this pass",
			"outbox_id", rec.ID, "job_id", rec.JobID.String(), "error", err,
		)
	}
}
