package shared

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxStatus defines relay states of an outbox record
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusQueued  OutboxStatus = "queued"
	OutboxStatusFailed  OutboxStatus = "failed"
)

// DispatchPayload is the denormalized job intent handed to the work queue
type DispatchPayload struct {
	JobID         uuid.UUID       `json:"job_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	Cost          int64           `json:"cost"`
	Params        json.RawMessage `json:"params"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	RequestedAt   time.Time       `json:"requested_at"`
}
