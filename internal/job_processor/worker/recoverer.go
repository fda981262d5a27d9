package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/reelforge-backend/internal/config"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/platform/messaging/producers"
)

const (
	recoveryBatchSize = 100
	workerLostDetail  = "worker lost"
)

// Recoverer fails and refunds jobs left in processing by a worker that died
type Recoverer struct {
	jobs       job.Repository
	settler    Settler
	events     producers.EventPublisher
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

func NewRecoverer(jobs job.Repository, settler Settler, events producers.EventPublisher, cfg *config.WorkerConfig, logger *slog.Logger) *Recoverer {
	return &Recoverer{
		jobs:       jobs,
		settler:    settler,
		events:     events,
		staleAfter: cfg.StaleAfter,
		interval:   cfg.RecoveryInterval,
		now:        time.Now,
		logger:     logger,
	}
}

// Start sweeps on every interval until ctx is cancelled
func (r *Recoverer) Start(ctx context.Context) {
	r.logger.Info("Starting orphaned job recoverer",
		"interval", r.interval.String(),
		"stale_after", r.staleAfter.String(),
	)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Recoverer stopping due to context cancellation.")
			return
		case <-ticker.C:
			if _, err := r.RecoverOnce(ctx); err != nil {
				r.logger.Error("Orphaned job sweep failed", "error", err)
			}
		}
	}
}

// RecoverOnce settles one batch of stale processing jobs and returns how many it closed
func (r *Recoverer) RecoverOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.jobs.ListStale(ctx, job.StatusProcessing, cutoff, recoveryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	r.logger.Warn("Found orphaned processing jobs", "count", len(stale), "cutoff", cutoff)

	recovered := 0
	for _, j := range stale {
		logger := r.logger.With("job_id", j.ID.String())

		failed, err := r.settler.Settle(ctx, j.ID, job.StatusFailed, workerLostDetail)
		if err != nil {
			if errors.Is(err, job.ErrInvalidTransition{}) {
				logger.Info("Job moved on before recovery")
				continue
			}
			logger.Error("Failed to settle orphaned job", "error", err)
			continue
		}
		recovered++

		if r.events != nil {
			evt := event.New(failed.ID, failed.AccountID, event.TypeFailed, string(failed.Status), workerLostDetail)
			if err := r.events.PublishJobEvent(ctx, evt); err != nil {
				logger.Warn("Failed to publish job event", "error", err)
			}
		}
		logger.Warn("Orphaned job failed and refunded", "refund", failed.Cost)
	}
	return recovered, nil
}
