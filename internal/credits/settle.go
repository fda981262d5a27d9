package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/reelforge-backend/internal/platform/persistence"
)

var ErrNotRefundable = errors.New("only failed or cancelled jobs are refunded")

// Settler closes a job as failed or cancelled and refunds its reserved cost
// in the same transaction. The status guard on the transition is what keeps
// a job to a single refund.
type Settler struct {
	txManager persistence.TxManager
	jobs      job.Repository
	ledger    *Ledger
	logger    *slog.Logger
}

func NewSettler(txManager persistence.TxManager, jobs job.Repository, ledger *Ledger, logger *slog.Logger) *Settler {
	return &Settler{
		txManager: txManager,
		jobs:      jobs,
		ledger:    ledger,
		logger:    logger,
	}
}

// Settle moves the job to status to and refunds it. A job that is already
// terminal yields job.ErrInvalidTransition and nothing is refunded.
func (s *Settler) Settle(ctx context.Context, jobID uuid.UUID, to job.Status, detail string) (*job.Job, error) {
	if to != job.StatusFailed && to != job.StatusCancelled {
		return nil, ErrNotRefundable
	}

	var closed *job.Job
	err := s.txManager.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var err error
		closed, err = s.jobs.WithTx(tx).Transition(ctx, jobID, to, job.WithError(detail))
		if err != nil {
			return err
		}

		description := fmt.Sprintf("refund for %s job %s", to, jobID)
		if _, err := s.ledger.RefundTx(ctx, tx, closed.AccountID, closed.Cost, closed.ID, description); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, job.ErrInvalidTransition{}) {
			s.logger.Info("Job already settled elsewhere", "job_id", jobID.String(), "target", string(to))
		}
		return nil, err
	}

	metrics.JobsFinished.WithLabelValues(string(to)).Inc()
	s.logger.Info("Job settled with refund",
		"job_id", jobID.String(),
		"account_id", closed.AccountID.String(),
		"status", string(to),
		"refund", closed.Cost,
	)
	return closed, nil
}
