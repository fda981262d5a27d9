// Package credits is the credit ledger: every balance change locks the
// account row, writes the new balance and appends exactly one ledger entry
// in the same transaction.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/account"
	"github.com/reelforge-backend/internal/domain/ledger"
	"github.com/reelforge-backend/internal/metrics"
	"github.com/reelforge-backend/internal/platform/persistence"
)

var (
	ErrInsufficientFunds = account.ErrInsufficientFunds
	ErrInvalidAmount     = account.ErrInvalidAmount
)

type Ledger struct {
	txManager persistence.TxManager
	accounts  account.Repository
	entries   ledger.Repository
	logger    *slog.Logger
}

func NewLedger(txManager persistence.TxManager, accounts account.Repository, entries ledger.Repository, logger *slog.Logger) *Ledger {
	return &Ledger{
		txManager: txManager,
		accounts:  accounts,
		entries:   entries,
		logger:    logger,
	}
}

// Reserve debits amount for jobID in its own transaction
func (l *Ledger) Reserve(ctx context.Context, accountID uuid.UUID, amount int64, description string, jobID uuid.UUID) (*ledger.Entry, error) {
	return l.inTx(ctx, func(tx pgx.Tx) (*ledger.Entry, error) {
		return l.ReserveTx(ctx, tx, accountID, amount, description, jobID)
	})
}

// ReserveTx debits amount inside tx. The balance is left untouched on
// ErrInsufficientFunds.
func (l *Ledger) ReserveTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, description string, jobID uuid.UUID) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, ledger.KindReserveDebit, -amount, description, &jobID)
}

// Refund credits amount back for jobID in its own transaction
func (l *Ledger) Refund(ctx context.Context, accountID uuid.UUID, amount int64, jobID uuid.UUID, description string) (*ledger.Entry, error) {
	return l.inTx(ctx, func(tx pgx.Tx) (*ledger.Entry, error) {
		return l.RefundTx(ctx, tx, accountID, amount, jobID, description)
	})
}

// RefundTx credits amount inside tx. A second refund for the same job fails
// with ledger.ErrDuplicateRefund and poisons tx.
func (l *Ledger) RefundTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, jobID uuid.UUID, description string) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, ledger.KindRefund, amount, description, &jobID)
}

// Adjust applies an administrative credit (positive) or debit (negative)
func (l *Ledger) Adjust(ctx context.Context, accountID uuid.UUID, signedAmount int64, description string) (*ledger.Entry, error) {
	return l.inTx(ctx, func(tx pgx.Tx) (*ledger.Entry, error) {
		return l.AdjustTx(ctx, tx, accountID, signedAmount, description)
	})
}

func (l *Ledger) AdjustTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, signedAmount int64, description string) (*ledger.Entry, error) {
	if signedAmount == 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, ledger.KindAdminAdjust, signedAmount, description, nil)
}

// Recharge credits purchased credits
func (l *Ledger) Recharge(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*ledger.Entry, error) {
	return l.inTx(ctx, func(tx pgx.Tx) (*ledger.Entry, error) {
		return l.RechargeTx(ctx, tx, accountID, amount, description)
	})
}

func (l *Ledger) RechargeTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, description string) (*ledger.Entry, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, ledger.KindRecharge, amount, description, nil)
}

// Balance returns the account with its current balance
func (l *Ledger) Balance(ctx context.Context, accountID uuid.UUID) (*account.Account, error) {
	return l.accounts.GetByID(ctx, accountID)
}

// Entries returns a page of the account's entries, newest first, and the total count
func (l *Ledger) Entries(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, int64, error) {
	if _, err := l.accounts.GetByID(ctx, accountID); err != nil {
		return nil, 0, err
	}

	entries, err := l.entries.GetByAccountID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := l.entries.CountByAccountID(ctx, accountID)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// RefundsForJob returns the refund entries that reference jobID
func (l *Ledger) RefundsForJob(ctx context.Context, jobID uuid.UUID) ([]*ledger.Entry, error) {
	entries, err := l.entries.GetByJobID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	var refunds []*ledger.Entry
	for _, e := range entries {
		if e.Kind == ledger.KindRefund {
			refunds = append(refunds, e)
		}
	}
	return refunds, nil
}

func (l *Ledger) inTx(ctx context.Context, fn func(tx pgx.Tx) (*ledger.Entry, error)) (*ledger.Entry, error) {
	var entry *ledger.Entry
	err := l.txManager.ExecuteTx(ctx, func(tx pgx.Tx) error {
		var err error
		entry, err = fn(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// apply is the single path through which a balance changes
func (l *Ledger) apply(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, kind ledger.Kind, delta int64, description string, jobID *uuid.UUID) (entry *ledger.Entry, err error) {
	logger := l.logger.With("account_id", accountID.String(), "kind", string(kind))
	if jobID != nil {
		logger = logger.With("job_id", jobID.String())
	}
	defer func() {
		metrics.LedgerOperations.WithLabelValues(string(kind), metrics.Outcome(err)).Inc()
	}()

	accounts := l.accounts.WithTx(tx)
	entries := l.entries.WithTx(tx)

	acc, err := accounts.LockForUpdate(ctx, accountID)
	if err != nil {
		if errors.Is(err, account.ErrAccountNotFound{}) {
			logger.Warn("Account not found for ledger operation")
			return nil, err
		}
		logger.Error("Failed to lock account", "error", err)
		return nil, fmt.Errorf("failed to lock account %s: %w", accountID, err)
	}

	if err = acc.Apply(delta); err != nil {
		if errors.Is(err, ErrInsufficientFunds) {
			logger.Info("Insufficient credits", "balance", acc.Balance, "requested", -delta)
		}
		return nil, err
	}

	if err = accounts.UpdateBalance(ctx, acc.ID, acc.Balance); err != nil {
		logger.Error("Failed to write balance", "error", err)
		return nil, fmt.Errorf("failed to update balance for account %s: %w", accountID, err)
	}

	entry = ledger.NewEntry(acc.ID, kind, delta, acc.Balance, description, jobID)
	if err = entries.Create(ctx, entry); err != nil {
		if errors.Is(err, ledger.ErrDuplicateRefund{}) {
			logger.Error("Refund already recorded for job")
			return nil, err
		}
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	logger.Info("Ledger entry recorded", "amount", delta, "balance_after", acc.Balance, "entry_id", entry.ID.String())
	return entry, nil
}
