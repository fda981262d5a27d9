package job

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository persists jobs; every status change goes through Transition
type Repository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// Transition moves the job to status to if its current status allows it
	Transition(ctx context.Context, id uuid.UUID, to Status, update Update) (*Job, error)
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Job, error)
	ListStale(ctx context.Context, status Status, updatedBefore time.Time, limit int) ([]*Job, error)
	WithTx(tx pgx.Tx) Repository
}

// ErrJobNotFound indicates missing job
type ErrJobNotFound struct {
	JobID uuid.UUID
}

func (e ErrJobNotFound) Error() string {
	return "job not found: " + e.JobID.String()
}

// Is matches any ErrJobNotFound when the target carries no job id
func (e ErrJobNotFound) Is(target error) bool {
	t, ok := target.(ErrJobNotFound)
	if !ok {
		return false
	}
	if t.JobID == uuid.Nil {
		return true
	}
	return e.JobID == t.JobID
}

// ErrInvalidTransition indicates an out-of-order status change
type ErrInvalidTransition struct {
	JobID uuid.UUID
	From  Status
	To    Status
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// Is matches any ErrInvalidTransition when the target carries no job id
func (e ErrInvalidTransition) Is(target error) bool {
	t, ok := target.(ErrInvalidTransition)
	if !ok {
		return false
	}
	return t.JobID == uuid.Nil || e.JobID == t.JobID
}
