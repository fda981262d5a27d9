// Package job models a generation job and the status machine that guards it.
package job

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidCost   = errors.New("job cost must be positive")
	ErrMissingParams = errors.New("job parameters are required")
)

// Status is the lifecycle state of a Job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// transitions lists the allowed targets per source status.
// processing -> pending is the rollback taken before a queue retry.
var transitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled, StatusPending},
}

// IsTerminal reports whether no transition leaves s
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsValid reports whether s is a known status
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is allowed
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which to can be reached
func SourcesFor(to Status) []Status {
	var sources []Status
	for _, from := range []Status{StatusPending, StatusProcessing} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

// Job is one paid request for a generated artifact
type Job struct {
	ID              uuid.UUID       `json:"id"`
	AccountID       uuid.UUID       `json:"account_id"`
	Params          json.RawMessage `json:"params"`
	Cost            int64           `json:"cost"`
	Status          Status          `json:"status"`
	ArtifactRef     *string         `json:"artifact_ref,omitempty"`
	ErrorDetail     *string         `json:"error_detail,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
}

// NewJob creates a pending job
func NewJob(accountID uuid.UUID, params json.RawMessage, cost int64) (*Job, error) {
	if cost <= 0 {
		return nil, ErrInvalidCost
	}
	if len(params) == 0 {
		return nil, ErrMissingParams
	}

	now := time.Now()
	return &Job{
		ID:        uuid.New(),
		AccountID: accountID,
		Params:    params,
		Cost:      cost,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Update carries the optional columns written alongside a transition.
// Nil fields keep their stored value.
type Update struct {
	ArtifactRef     *string
	ErrorDetail     *string
	DurationSeconds *float64
}

// WithError returns an Update recording detail as the job's error
func WithError(detail string) Update {
	return Update{ErrorDetail: &detail}
}
