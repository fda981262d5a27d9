package account

import (
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
)

// Common errors
var (
	ErrInsufficientFunds = errors.New("insufficient credits")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrEmptyOwnerName    = errors.New("owner name cannot be empty")
)

// Account holds a prepaid credit balance
type Account struct {
	ID        uuid.UUID `json:"id"`
	OwnerName string    `json:"owner_name"`
	Balance   int64     `json:"balance"` // Whole credits, never negative once committed
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewAccount creates a new account with the given opening balance
func NewAccount(ownerName string, initialBalance int64) (*Account, error) {
	if ownerName == "" {
		return nil, ErrEmptyOwnerName
	}
	if initialBalance < 0 {
		return nil, ErrInvalidAmount
	}

	now := time.Now()
	return &Account{
		ID:        uuid.New(),
		OwnerName: ownerName,
		Balance:   initialBalance,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Credit adds the specified amount to the balance. An amount that would
// overflow the balance is rejected as invalid.
func (a *Account) Credit(amount int64) error {
	if amount <= 0 || a.Balance > math.MaxInt64-amount {
		return ErrInvalidAmount
	}

	a.Balance += amount
	a.UpdatedAt = time.Now()
	a.Version++
	return nil
}

// Debit subtracts the specified amount, refusing to go below zero
func (a *Account) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	if !a.CanAfford(amount) {
		return ErrInsufficientFunds
	}

	a.Balance -= amount
	a.UpdatedAt = time.Now()
	a.Version++
	return nil
}

// Apply credits a positive delta and debits a negative one
func (a *Account) Apply(delta int64) error {
	switch {
	case delta > 0:
		return a.Credit(delta)
	case delta < 0:
		return a.Debit(-delta)
	default:
		return ErrInvalidAmount
	}
}

// CanAfford reports whether the balance covers the amount
func (a *Account) CanAfford(amount int64) bool {
	return a.Balance >= amount
}
