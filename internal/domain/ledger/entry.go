package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies why the balance moved
type Kind string

const (
	KindReserveDebit Kind = "reserve-debit"
	KindRefund       Kind = "refund"
	KindRecharge     Kind = "recharge"
	KindAdminAdjust  Kind = "admin-adjust"
)

// Entry is an append-only record of one balance mutation
type Entry struct {
	ID           uuid.UUID  `json:"id"`
	AccountID    uuid.UUID  `json:"account_id"`
	Amount       int64      `json:"amount"`        // Signed: debits are negative
	BalanceAfter int64      `json:"balance_after"` // Account balance once this entry is applied
	Kind         Kind       `json:"kind"`
	Description  string     `json:"description"`
	JobID        *uuid.UUID `json:"job_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// NewEntry builds an entry for a mutation that already produced balanceAfter
func NewEntry(accountID uuid.UUID, kind Kind, amount, balanceAfter int64, description string, jobID *uuid.UUID) *Entry {
	return &Entry{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Kind:         kind,
		Description:  description,
		JobID:        jobID,
		CreatedAt:    time.Now(),
	}
}
