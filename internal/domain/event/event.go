// Package event describes job lifecycle events published to Kafka and
// kept as an audit trail in MongoDB.
package event

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names a lifecycle step
type Type string

const (
	TypeRequested      Type = "job.requested"
	TypeProcessing     Type = "job.processing"
	TypeRetryScheduled Type = "job.retry_scheduled"
	TypeCompleted      Type = "job.completed"
	TypeFailed         Type = "job.failed"
	TypeCancelled      Type = "job.cancelled"
)

// JobEvent is one step in a job's timeline
type JobEvent struct {
	EventID       uuid.UUID `json:"event_id" bson:"event_id"`
	JobID         uuid.UUID `json:"job_id" bson:"job_id"`
	AccountID     uuid.UUID `json:"account_id" bson:"account_id"`
	Type          Type      `json:"type" bson:"type"`
	Status        string    `json:"status" bson:"status"`
	Detail        string    `json:"detail,omitempty" bson:"detail,omitempty"`
	Attempt       int       `json:"attempt,omitempty" bson:"attempt,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at" bson:"occurred_at"`
}

// New stamps a fresh event
func New(jobID, accountID uuid.UUID, typ Type, status string, detail string) *JobEvent {
	return &JobEvent{
		EventID:    uuid.New(),
		JobID:      jobID,
		AccountID:  accountID,
		Type:       typ,
		Status:     status,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
}

// Repository stores the audit trail
type Repository interface {
	// Create is idempotent on EventID
	Create(ctx context.Context, evt *JobEvent) error
	GetByJobID(ctx context.Context, jobID uuid.UUID, limit, offset int) ([]*JobEvent, error)
}
