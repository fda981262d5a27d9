package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/reelforge-backend/internal/domain/shared"
)

// Record stages one job for dispatch to the work queue
type Record struct {
	ID            int64               `json:"id"`
	JobID         uuid.UUID           `json:"job_id"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
	LastError     *string             `json:"last_error,omitempty"`
	QueueJobID    *int64              `json:"queue_job_id,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func NewRecord(payload *shared.DispatchPayload) (*Record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Record{
		JobID:     payload.JobID,
		Payload:   raw,
		Status:    shared.OutboxStatusPending,
		Attempts:  0,
		CreatedAt: time.Now(),
	}, nil
}

// DispatchPayload decodes the staged payload
func (r *Record) DispatchPayload() (*shared.DispatchPayload, error) {
	var payload shared.DispatchPayload
	if err := json.Unmarshal(r.Payload, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// Exhausted reports whether the relay gave up on the record
func (r *Record) Exhausted(maxAttempts int) bool {
	return r.Status == shared.OutboxStatusFailed && r.Attempts >= maxAttempts
}
