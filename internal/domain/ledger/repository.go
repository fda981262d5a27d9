package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages ledger entry persistence with pagination support
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*Entry, error)
	CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error)
	GetByJobID(ctx context.Context, jobID uuid.UUID) ([]*Entry, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrDuplicateRefund indicates a second refund for the same job
type ErrDuplicateRefund struct {
	JobID uuid.UUID
}

func (e ErrDuplicateRefund) Error() string {
	return "refund already recorded for job: " + e.JobID.String()
}

// Is implements the errors.Is interface for ErrDuplicateRefund
func (e ErrDuplicateRefund) Is(target error) bool {
	t, ok := target.(ErrDuplicateRefund)
	if !ok {
		return false
	}
	// If the target JobID is empty, consider it a match for any ErrDuplicateRefund
	if t.JobID == uuid.Nil {
		return true
	}
	return e.JobID == t.JobID
}
