package credits

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/reelforge-backend/internal/domain/account"
	"github.com/reelforge-backend/internal/domain/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockAccountRepo struct {
	mock.Mock
}

func (m *MockAccountRepo) Create(ctx context.Context, acc *account.Account) error {
	args := m.Called(ctx, acc)
	return args.Error(0)
}

func (m *MockAccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *MockAccountRepo) UpdateBalance(ctx context.Context, id uuid.UUID, balance int64) error {
	args := m.Called(ctx, id, balance)
	return args.Error(0)
}

func (m *MockAccountRepo) LockForUpdate(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*account.Account), args.Error(1)
}

func (m *MockAccountRepo) WithTx(tx pgx.Tx) account.Repository {
	return m
}

type MockLedgerRepo struct {
	mock.Mock
}

func (m *MockLedgerRepo) Create(ctx context.Context, entry *ledger.Entry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockLedgerRepo) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepo) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockLedgerRepo) GetByJobID(ctx context.Context, jobID uuid.UUID) ([]*ledger.Entry, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ledger.Entry), args.Error(1)
}

func (m *MockLedgerRepo) WithTx(tx pgx.Tx) ledger.Repository {
	return m
}

// passthroughTx runs fn with a nil transaction
type passthroughTx struct{}

func (passthroughTx) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	return fn(nil)
}

func TestLedger_Reserve(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	jobID := uuid.New()

	tests := []struct {
		name        string
		amount      int64
		balance     int64
		lockErr     error
		expectedErr error
		newBalance  int64
	}{
		{name: "debits and records entry", amount: 7, balance: 10, newBalance: 3},
		{name: "exact balance", amount: 10, balance: 10, newBalance: 0},
		{name: "insufficient funds", amount: 7, balance: 5, expectedErr: ErrInsufficientFunds},
		{name: "invalid amount", amount: 0, balance: 5, expectedErr: ErrInvalidAmount},
		{name: "account not found", amount: 1, lockErr: account.ErrAccountNotFound{AccountID: accountID}, expectedErr: account.ErrAccountNotFound{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accounts := new(MockAccountRepo)
			entries := new(MockLedgerRepo)
			l := NewLedger(passthroughTx{}, accounts, entries, slog.Default())

			if tt.amount > 0 {
				if tt.lockErr != nil {
					accounts.On("LockForUpdate", ctx, accountID).Return(nil, tt.lockErr).Once()
				} else {
					accounts.On("LockForUpdate", ctx, accountID).Return(&account.Account{ID: accountID, Balance: tt.balance}, nil).Once()
				}
			}
			if tt.expectedErr == nil {
				accounts.On("UpdateBalance", ctx, accountID, tt.newBalance).Return(nil).Once()
				entries.On("Create", ctx, mock.MatchedBy(func(e *ledger.Entry) bool {
					return e.Kind == ledger.KindReserveDebit &&
						e.Amount == -tt.amount &&
						e.BalanceAfter == tt.newBalance &&
						e.JobID != nil && *e.JobID == jobID
				})).Return(nil).Once()
			}

			entry, err := l.Reserve(ctx, accountID, tt.amount, "video generation", jobID)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, entry)
				accounts.AssertNotCalled(t, "UpdateBalance", mock.Anything, mock.Anything, mock.Anything)
				entries.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.newBalance, entry.BalanceAfter)
			accounts.AssertExpectations(t)
			entries.AssertExpectations(t)
		})
	}
}

func TestLedger_Refund(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	jobID := uuid.New()

	t.Run("credits back", func(t *testing.T) {
		accounts := new(MockAccountRepo)
		entries := new(MockLedgerRepo)
		l := NewLedger(passthroughTx{}, accounts, entries, slog.Default())

		accounts.On("LockForUpdate", ctx, accountID).Return(&account.Account{ID: accountID, Balance: 3}, nil).Once()
		accounts.On("UpdateBalance", ctx, accountID, int64(10)).Return(nil).Once()
		entries.On("Create", ctx, mock.MatchedBy(func(e *ledger.Entry) bool {
			return e.Kind == ledger.KindRefund && e.Amount == 7 && e.BalanceAfter == 10
		})).Return(nil).Once()

		entry, err := l.Refund(ctx, accountID, 7, jobID, "generation failed")
		require.NoError(t, err)
		assert.Equal(t, jobID, *entry.JobID)
	})

	t.Run("duplicate refund", func(t *testing.T) {
		accounts := new(MockAccountRepo)
		entries := new(MockLedgerRepo)
		l := NewLedger(passthroughTx{}, accounts, entries, slog.Default())

		accounts.On("LockForUpdate", ctx, accountID).Return(&account.Account{ID: accountID, Balance: 3}, nil).Once()
		accounts.On("UpdateBalance", ctx, accountID, int64(10)).Return(nil).Once()
		entries.On("Create", ctx, mock.Anything).Return(ledger.ErrDuplicateRefund{JobID: jobID}).Once()

		_, err := l.Refund(ctx, accountID, 7, jobID, "generation failed")
		assert.ErrorIs(t, err, ledger.ErrDuplicateRefund{})
	})
}

func TestLedger_Adjust(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("debit below zero rejected", func(t *testing.T) {
		accounts := new(MockAccountRepo)
		l := NewLedger(passthroughTx{}, accounts, new(MockLedgerRepo), slog.Default())
		accounts.On("LockForUpdate", ctx, accountID).Return(&account.Account{ID: accountID, Balance: 2}, nil).Once()

		_, err := l.Adjust(ctx, accountID, -3, "correction")
		assert.ErrorIs(t, err, ErrInsufficientFunds)
	})

	t.Run("zero rejected", func(t *testing.T) {
		l := NewLedger(passthroughTx{}, new(MockAccountRepo), new(MockLedgerRepo), slog.Default())
		_, err := l.Adjust(ctx, accountID, 0, "noop")
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("credit past the balance limit rejected", func(t *testing.T) {
		accounts := new(MockAccountRepo)
		entries := new(MockLedgerRepo)
		l := NewLedger(passthroughTx{}, accounts, entries, slog.Default())
		accounts.On("LockForUpdate", ctx, accountID).Return(&account.Account{ID: accountID, Balance: 2}, nil).Once()

		_, err := l.Adjust(ctx, accountID, math.MaxInt64, "typo")
		assert.ErrorIs(t, err, ErrInvalidAmount)
		accounts.AssertNotCalled(t, "UpdateBalance", mock.Anything, mock.Anything, mock.Anything)
		entries.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	})

	t.Run("credit", func(t *testing.T) {
		accounts := new(MockAccountRepo)
		entries := new(MockLedgerRepo)
		l := NewLedger(passthroughTx{}, accounts, entries, slog.Default())
		accounts.On("LockForUpdate", ctx, accountID).Return(&account.Account{ID: accountID, Balance: 2}, nil).Once()
		accounts.On("UpdateBalance", ctx, accountID, int64(12)).Return(nil).Once()
		entries.On("Create", ctx, mock.MatchedBy(func(e *ledger.Entry) bool {
			return e.Kind == ledger.KindAdminAdjust && e.JobID == nil
		})).Return(nil).Once()

		entry, err := l.Adjust(ctx, accountID, 10, "goodwill")
		require.NoError(t, err)
		assert.Equal(t, int64(12), entry.BalanceAfter)
	})
}

func TestLedger_RefundsForJob(t *testing.T) {
	ctx := context.Background()
	jobID := uuid.New()
	entries := new(MockLedgerRepo)
	l := NewLedger(passthroughTx{}, new(MockAccountRepo), entries, slog.Default())

	entries.On("GetByJobID", ctx, jobID).Return([]*ledger.Entry{
		{Kind: ledger.KindReserveDebit, Amount: -7},
		{Kind: ledger.KindRefund, Amount: 7},
	}, nil).Once()

	refunds, err := l.RefundsForJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, refunds, 1)
	assert.Equal(t, int64(7), refunds[0].Amount)
}

func TestLedger_Entries(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()

	t.Run("unknown account", func(t *testing.T) {
		accounts := new(MockAccountRepo)
		accounts.On("GetByID", ctx, accountID).Return(nil, account.ErrAccountNotFound{AccountID: accountID}).Once()
		l := NewLedger(passthroughTx{}, accounts, new(MockLedgerRepo), slog.Default())

		_, _, err := l.Entries(ctx, accountID, 10, 0)
		assert.ErrorIs(t, err, account.ErrAccountNotFound{})
	})

	t.Run("page with total", func(t *testing.T) {
		accounts := new(MockAccountRepo)
		entries := new(MockLedgerRepo)
		accounts.On("GetByID", ctx, accountID).Return(&account.Account{ID: accountID}, nil).Once()
		entries.On("GetByAccountID", ctx, accountID, 10, 0).Return([]*ledger.Entry{{Amount: 5}}, nil).Once()
		entries.On("CountByAccountID", ctx, accountID).Return(int64(12), nil).Once()
		l := NewLedger(passthroughTx{}, accounts, entries, slog.Default())

		page, total, err := l.Entries(ctx, accountID, 10, 0)
		require.NoError(t, err)
		assert.Len(t, page, 1)
		assert.Equal(t, int64(12), total)
	})
}

// memoryBook is an in-memory account table and ledger. Its tx manager
// serialises transactions and restores state on error, which is what the
// row lock and rollback give in Postgres.
type memoryBook struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]int64
	entries  []*ledger.Entry
}

func (b *memoryBook) ExecuteTx(_ context.Context, fn func(tx pgx.Tx) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snapshot := make(map[uuid.UUID]int64, len(b.accounts))
	for k, v := range b.accounts {
		snapshot[k] = v
	}
	n := len(b.entries)

	if err := fn(nil); err != nil {
		b.accounts = snapshot
		b.entries = b.entries[:n]
		return err
	}
	return nil
}

type memoryAccounts struct{ book *memoryBook }

func (m memoryAccounts) Create(context.Context, *account.Account) error { return nil }
func (m memoryAccounts) GetByID(_ context.Context, id uuid.UUID) (*account.Account, error) {
	bal, ok := m.book.accounts[id]
	if !ok {
		return nil, account.ErrAccountNotFound{AccountID: id}
	}
	return &account.Account{ID: id, Balance: bal}, nil
}
func (m memoryAccounts) LockForUpdate(ctx context.Context, id uuid.UUID) (*account.Account, error) {
	return m.GetByID(ctx, id)
}
func (m memoryAccounts) UpdateBalance(_ context.Context, id uuid.UUID, balance int64) error {
	m.book.accounts[id] = balance
	return nil
}
func (m memoryAccounts) WithTx(pgx.Tx) account.Repository { return m }

type memoryEntries struct{ book *memoryBook }

func (m memoryEntries) Create(_ context.Context, e *ledger.Entry) error {
	if e.Kind == ledger.KindRefund {
		for _, existing := range m.book.entries {
			if existing.Kind == ledger.KindRefund && *existing.JobID == *e.JobID {
				return ledger.ErrDuplicateRefund{JobID: *e.JobID}
			}
		}
	}
	m.book.entries = append(m.book.entries, e)
	return nil
}
func (m memoryEntries) GetByAccountID(context.Context, uuid.UUID, int, int) ([]*ledger.Entry, error) {
	return m.book.entries, nil
}
func (m memoryEntries) CountByAccountID(context.Context, uuid.UUID) (int64, error) {
	return int64(len(m.book.entries)), nil
}
func (m memoryEntries) GetByJobID(_ context.Context, jobID uuid.UUID) ([]*ledger.Entry, error) {
	var out []*ledger.Entry
	for _, e := range m.book.entries {
		if e.JobID != nil && *e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}
func (m memoryEntries) WithTx(pgx.Tx) ledger.Repository { return m }

func newMemoryLedger(balances map[uuid.UUID]int64) (*Ledger, *memoryBook) {
	book := &memoryBook{accounts: balances}
	return NewLedger(book, memoryAccounts{book}, memoryEntries{book}, slog.Default()), book
}

func TestLedger_BalanceMatchesEntries(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	l, book := newMemoryLedger(map[uuid.UUID]int64{accountID: 10})

	job1, job2 := uuid.New(), uuid.New()
	_, err := l.Reserve(ctx, accountID, 7, "job 1", job1)
	require.NoError(t, err)
	_, err = l.Reserve(ctx, accountID, 7, "job 2", job2)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = l.Recharge(ctx, accountID, 20, "top up")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, accountID, 7, "job 2", job2)
	require.NoError(t, err)
	_, err = l.Refund(ctx, accountID, 7, job1, "job 1 failed")
	require.NoError(t, err)
	_, err = l.Refund(ctx, accountID, 7, job1, "job 1 failed again")
	require.ErrorIs(t, err, ledger.ErrDuplicateRefund{JobID: job1})
	_, err = l.Adjust(ctx, accountID, -3, "correction")
	require.NoError(t, err)

	var sum int64
	for _, e := range book.entries {
		sum += e.Amount
	}
	last := book.entries[len(book.entries)-1]
	assert.Equal(t, int64(10)+sum, book.accounts[accountID])
	assert.Equal(t, book.accounts[accountID], last.BalanceAfter)
	assert.Equal(t, int64(20), book.accounts[accountID])

	refunds, err := l.RefundsForJob(ctx, job1)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)
}

func TestLedger_ConcurrentReservationsNeverOverspend(t *testing.T) {
	ctx := context.Background()
	accountID := uuid.New()
	l, book := newMemoryLedger(map[uuid.UUID]int64{accountID: 50})

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Reserve(ctx, accountID, 7, "burst", uuid.New())
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, succeeded)
	assert.Equal(t, int64(1), book.accounts[accountID])
}
