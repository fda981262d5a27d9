package handler

import "encoding/json"

// CreateAccountRequest represents a request to open a credit account
type CreateAccountRequest struct {
	OwnerName      string `json:"owner_name" binding:"required"`
	InitialBalance int64  `json:"initial_balance" binding:"min=0"`
}

// AccountResponse represents an account and its balance in API responses
type AccountResponse struct {
	ID        string `json:"id"`
	OwnerName string `json:"owner_name"`
	Balance   int64  `json:"balance"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// RechargeRequest adds credits to an account
type RechargeRequest struct {
	Amount      int64  `json:"amount" binding:"required,gt=0"`
	Description string `json:"description"`
}

// AdjustRequest applies a signed operator correction
type AdjustRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// LedgerEntryResponse represents one balance mutation in API responses
type LedgerEntryResponse struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	Description  string `json:"description"`
	JobID        string `json:"job_id,omitempty"`
	CreatedAt    string `json:"created_at"`
}

// CreateJobRequest represents a paid generation request
type CreateJobRequest struct {
	AccountID string          `json:"account_id" binding:"required,uuid"`
	Params    json.RawMessage `json:"params" binding:"required"`
	Cost      int64           `json:"cost" binding:"required,gt=0"`
}

// CancelJobRequest identifies the account asking for a cancellation
type CancelJobRequest struct {
	AccountID string `json:"account_id" binding:"required,uuid"`
}

// JobResponse represents a job in API responses
type JobResponse struct {
	ID              string          `json:"id"`
	AccountID       string          `json:"account_id"`
	Status          string          `json:"status"`
	Cost            int64           `json:"cost"`
	Params          json.RawMessage `json:"params"`
	ArtifactRef     string          `json:"artifact_ref,omitempty"`
	ErrorDetail     string          `json:"error_detail,omitempty"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
	CompletedAt     string          `json:"completed_at,omitempty"`
}

// JobEventResponse represents one entry of a job timeline
type JobEventResponse struct {
	EventID    string `json:"event_id"`
	Type       string `json:"type"`
	Status     string `json:"status"`
	Detail     string `json:"detail,omitempty"`
	Attempt    int    `json:"attempt,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// PaginationParams represents pagination parameters for list endpoints
type PaginationParams struct {
	Page    int `form:"page,default=1" binding:"min=1"`
	PerPage int `form:"per_page,default=10" binding:"min=1,max=100"`
}
