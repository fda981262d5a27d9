package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/reelforge-backend/internal/domain/ledger"
	"github.com/reelforge-backend/internal/platform/persistence"
)

const (
	uniqueViolationCode = "23505"
	refundUniqueIndex   = "ux_ledger_entries_refund_job"
	ledgerEntryColumns  = "id, account_id, amount, balance_after, kind, description, job_id, created_at"
)

// LedgerRepository implements the ledger.Repository interface for PostgreSQL.
// Entries are only ever inserted.
type LedgerRepository struct {
	querier persistence.Querier
	logger  *slog.Logger
}

// NewLedgerRepository creates a new PostgreSQL ledger repository
func NewLedgerRepository(logger *slog.Logger, db *persistence.PostgresDB) ledger.Repository {
	return &LedgerRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

func (r *LedgerRepository) WithTx(tx pgx.Tx) ledger.Repository {
	return &LedgerRepository{
		querier: tx,
		logger:  r.logger,
	}
}

// Create appends an entry. A second refund for one job is rejected by the
// database and reported as ErrDuplicateRefund.
func (r *LedgerRepository) Create(ctx context.Context, entry *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (id, account_id, amount, balance_after, kind, description, job_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.querier.Exec(ctx, query,
		entry.ID,
		entry.AccountID,
		entry.Amount,
		entry.BalanceAfter,
		string(entry.Kind),
		entry.Description,
		entry.JobID,
		entry.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode && pgErr.ConstraintName == refundUniqueIndex && entry.JobID != nil {
			return ledger.ErrDuplicateRefund{JobID: *entry.JobID}
		}
		r.logger.Error("Failed to create ledger entry",
			"account_id", entry.AccountID.String(),
			"kind", string(entry.Kind),
			"error", err,
		)
		return fmt.Errorf("failed to create ledger entry: %w", err)
	}

	return nil
}

// GetByAccountID returns an account's entries, newest first
func (r *LedgerRepository) GetByAccountID(ctx context.Context, accountID uuid.UUID, limit, offset int) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + ledgerEntryColumns + `
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`

	rows, err := r.querier.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		r.logger.Error("Failed to list ledger entries", "account_id", accountID.String(), "error", err)
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return r.collect(rows)
}

// CountByAccountID returns the total number of entries for pagination
func (r *LedgerRepository) CountByAccountID(ctx context.Context, accountID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM ledger_entries WHERE account_id = $1`

	var count int64
	if err := r.querier.QueryRow(ctx, query, accountID).Scan(&count); err != nil {
		r.logger.Error("Failed to count ledger entries", "account_id", accountID.String(), "error", err)
		return 0, fmt.Errorf("failed to count ledger entries: %w", err)
	}
	return count, nil
}

// GetByJobID returns every entry referencing a job, oldest first
func (r *LedgerRepository) GetByJobID(ctx context.Context, jobID uuid.UUID) ([]*ledger.Entry, error) {
	query := `
		SELECT ` + ledgerEntryColumns + `
		FROM ledger_entries
		WHERE job_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.querier.Query(ctx, query, jobID)
	if err != nil {
		r.logger.Error("Failed to list ledger entries for job", "job_id", jobID.String(), "error", err)
		return nil, fmt.Errorf("failed to list ledger entries for job: %w", err)
	}
	return r.collect(rows)
}

func (r *LedgerRepository) collect(rows pgx.Rows) ([]*ledger.Entry, error) {
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		var entry ledger.Entry
		err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.Amount,
			&entry.BalanceAfter,
			&entry.Kind,
			&entry.Description,
			&entry.JobID,
			&entry.CreatedAt,
		)
		if err != nil {
			r.logger.Error("Failed to scan ledger entry", "error", err)
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over ledger entries: %w", err)
	}
	return entries, nil
}
