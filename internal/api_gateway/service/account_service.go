package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/account"
	"github.com/reelforge-backend/internal/domain/ledger"
	"github.com/reelforge-backend/internal/platform/persistence"
)

const openingBalanceDescription = "opening balance"

// AccountServiceImpl implements the AccountService interface
type AccountServiceImpl struct {
	txManager   persistence.TxManager
	accountRepo account.Repository
	credits     CreditBook
	logger      *slog.Logger
}

// NewAccountService creates a new account service
func NewAccountService(logger *slog.Logger, txManager persistence.TxManager, accountRepo account.Repository, credits CreditBook) AccountService {
	return &AccountServiceImpl{
		txManager:   txManager,
		accountRepo: accountRepo,
		credits:     credits,
		logger:      logger,
	}
}

// CreateAccount creates the account at zero and books any opening balance
// through the ledger so the balance always equals the sum of its entries
func (s *AccountServiceImpl) CreateAccount(ctx context.Context, ownerName string, initialBalance int64) (*account.Account, error) {
	acc, err := account.NewAccount(ownerName, 0)
	if err != nil {
		return nil, err
	}
	if initialBalance < 0 {
		return nil, account.ErrInvalidAmount
	}

	err = s.txManager.ExecuteTx(ctx, func(tx pgx.Tx) error {
		if err := s.accountRepo.WithTx(tx).Create(ctx, acc); err != nil {
			return fmt.Errorf("create account: %w", err)
		}
		if initialBalance == 0 {
			return nil
		}
		entry, err := s.credits.RechargeTx(ctx, tx, acc.ID, initialBalance, openingBalanceDescription)
		if err != nil {
			return err
		}
		acc.Balance = entry.BalanceAfter
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to create account", "owner_name", ownerName, "error", err)
		return nil, err
	}

	s.logger.Info("Account created", "account_id", acc.ID.String(), "balance", acc.Balance)
	return acc, nil
}

// GetAccountByID retrieves an account by its ID, returns ErrAccountNotFound if not found
func (s *AccountServiceImpl) GetAccountByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return s.credits.Balance(ctx, id)
}

// GetLedger returns one page of an account's entries and the total count
func (s *AccountServiceImpl) GetLedger(ctx context.Context, accountID uuid.UUID, page, perPage int) ([]*ledger.Entry, int64, error) {
	if _, err := s.credits.Balance(ctx, accountID); err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * perPage
	return s.credits.Entries(ctx, accountID, perPage, offset)
}

func (s *AccountServiceImpl) Recharge(ctx context.Context, accountID uuid.UUID, amount int64, description string) (*ledger.Entry, error) {
	entry, err := s.credits.Recharge(ctx, accountID, amount, description)
	if err != nil {
		s.logger.Warn("Recharge rejected", "account_id", accountID.String(), "amount", amount, "error", err)
		return nil, err
	}
	return entry, nil
}

func (s *AccountServiceImpl) Adjust(ctx context.Context, accountID uuid.UUID, signedAmount int64, description string) (*ledger.Entry, error) {
	entry, err := s.credits.Adjust(ctx, accountID, signedAmount, description)
	if err != nil {
		s.logger.Warn("Adjustment rejected", "account_id", accountID.String(), "amount", signedAmount, "error", err)
		return nil, err
	}
	s.logger.Info("Balance adjusted", "account_id", accountID.String(), "amount", signedAmount, "balance_after", entry.BalanceAfter)
	return entry, nil
}
