package outbox

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository manages transactional outbox persistence
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetPending(ctx context.Context, limit int) ([]*Record, error)

	// GetRetryable returns failed records below maxAttempts whose last attempt
	// is older than attemptedBefore, oldest attempt first
	GetRetryable(ctx context.Context, maxAttempts int, attemptedBefore time.Time, limit int) ([]*Record, error)
	MarkQueued(ctx context.Context, id int64, queueJobID int64) error

	// MarkFailed records a failed relay attempt and returns the new attempt count.
	// A record another path already queued is left alone and ErrAlreadyQueued
	// is returned.
	MarkFailed(ctx context.Context, id int64, reason string) (int, error)
	GetByJobID(ctx context.Context, jobID uuid.UUID) (*Record, error)
	CountExhausted(ctx context.Context, maxAttempts int) (int64, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrAlreadyQueued reports that a failure arrived for a record that has
// since been handed to the work queue
var ErrAlreadyQueued = errors.New("outbox record already queued")

// ErrRecordNotFound indicates missing outbox record
type ErrRecordNotFound struct {
	ID    int64
	JobID uuid.UUID
}

func (e ErrRecordNotFound) Error() string {
	if e.JobID != uuid.Nil {
		return "outbox record not found for job: " + e.JobID.String()
	}
	return "outbox record not found: " + strconv.FormatInt(e.ID, 10)
}

// Is matches any ErrRecordNotFound regardless of key
func (e ErrRecordNotFound) Is(target error) bool {
	_, ok := target.(ErrRecordNotFound)
	return ok
}
