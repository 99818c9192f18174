package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AccountReader abstracts repository operations for the read service.
type AccountReader interface {
	GetByID(ctx context.Context, id string) (Account, error)
	ListEntries(ctx context.Context, accountID string, limit int) ([]Entry, error)
}

// Service exposes business-level account queries to the API layer.
type Service struct {
	repo AccountReader
}

// NewService builds a Service using the provided repository.
func NewService(repo AccountReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the account for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Account, error) {
	return s.repo.GetByID(ctx, id)
}

// ListEntries returns up to limit recent ledger entries for the account.
func (s *Service) ListEntries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	return s.repo.ListEntries(ctx, accountID, limit)
}

// PGAccountRepository implements AccountReader backed by PostgreSQL.
type PGAccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(pool *pgxpool.Pool) *PGAccountRepository {
	return &PGAccountRepository{pool: pool}
}

func (r *PGAccountRepository) GetByID(ctx context.Context, id string) (Account, error) {
	const query = `
        SELECT id, owner_user_id::text, kind::text, balance, created_at
        FROM accounts
        WHERE id = $1
    `
	var acc Account
	if err := r.pool.QueryRow(ctx, query, id).Scan(&acc.ID, &acc.OwnerUserID, &acc.Kind, &acc.Balance, &acc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, fmt.Errorf("ledger: get account: %w", err)
	}
	return acc, nil
}

func (r *PGAccountRepository) ListEntries(ctx context.Context, accountID string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	const query = `
        SELECT id, account_id, job_id::text, entry_type, amount, balance_after, created_at
        FROM ledger_entries
        WHERE account_id = $1
        ORDER BY id DESC
        LIMIT $2
    `
	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list entries: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, 8)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.JobID, &e.EntryType, &e.Amount, &e.BalanceAfter, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}
