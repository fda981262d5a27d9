package service

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/account"
	"github.com/reelforge-backend/internal/domain/event"
	"github.com/reelforge-backend/internal/domain/job"
	"github.com/reelforge-backend/internal/domain/ledger"
)

// AccountService defines the interface for account and credit operations
type AccountService interface {
	// CreateAccount opens an account; a positive opening balance is booked as a recharge
	CreateAccount(ctx context.Context, ownerName string, initialBalance int64) (*account.Account, error)

	// GetAccountByID returns the account and its current balance
	// Returns ErrAccountNotFound if the account doesn't exist
	GetAccountByID(ctx context.Context, id uuid.UUID) (*account.Account, error)

	// GetLedger returns a page of ledger entries, newest first, and the total count
	GetLedger(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ledger.Entry, int64, error)

	Recharge(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*ledger.Entry, error)
	Adjust(ctx context.Context, accountID uuid.UUID, signedAmount int64, description string) (*ledger.Entry, error)
}

// JobService is the entry point for requesting, cancelling and inspecting jobs
type JobService interface {
	// RequestJob reserves cost and stages the job for dispatch in one transaction
	// Returns ErrInsufficientFunds without creating anything when the balance is short
	RequestJob(ctx context.Context, accountID uuid.UUID, params json.RawMessage, cost int64, correlationID string) (uuid.UUID, error)

	// CancelJob cancels and refunds a non-terminal job owned by accountID
	// Returns ErrInvalidTransition if the job already finished
	CancelJob(ctx context.Context, jobID, accountID uuid.UUID) (*job.Job, error)

	GetJobStatus(ctx context.Context, jobID uuid.UUID) (*job.Job, error)
	GetJobEvents(ctx context.Context, jobID uuid.UUID, page, perPage int) ([]*event.JobEvent, error)
}

// CreditReserver debits a job's cost inside the caller's transaction
type CreditReserver interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, description string, jobID uuid.UUID) (*ledger.Entry, error)
}

// Settler closes a job as failed or cancelled together with its refund
type Settler interface {
	Settle(ctx context.Context, jobID uuid.UUID, to job.Status, detail string) (*job.Job, error)
}

// CreditBook is the part of the credit ledger the account service uses
type CreditBook interface {
	Balance(ctx context.Context, accountID uuid.UUID) (*account.Account, error)
	Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, int64, error)
	Recharge(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*ledger.Entry, error)
	RechargeTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, description string) (*ledger.Entry, error)
	Adjust(ctx context.Context, accountID uuid.UUID, signedAmount int64, description string) (*ledger.Entry, error)
}
