package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrInsufficientFunds signals the debited account cannot cover the amount.
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	// ErrAccountNotFound is returned when no account row exists for the identifier.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrNegativeAmount rejects moves with a negative amount.
	ErrNegativeAmount = errors.New("ledger: negative amount")
)

// Querier is the subset of pgxpool.Pool and pgx.Tx the read paths need.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TransferParams describes one balance move between two accounts.
type TransferParams struct {
	From      string
	To        string
	JobID     *string
	EntryType string
	Amount    int64
}

// Transfer moves Amount from one account to another inside the caller's
// transaction, recording both legs in ledger_entries. A zero amount is a
// no-op, not an error. The debit is a conditional update so a shortfall
// surfaces as ErrInsufficientFunds without ever writing a negative balance.
func Transfer(ctx context.Context, tx pgx.Tx, params TransferParams) error {
	if params.Amount < 0 {
		return ErrNegativeAmount
	}
	if params.Amount == 0 {
		return nil
	}

	const debitSQL = `
        UPDATE accounts
        SET balance = balance - $2
        WHERE id = $1 AND balance >= $2
        RETURNING balance
    `
	var fromAfter int64
	if err := tx.QueryRow(ctx, debitSQL, params.From, params.Amount).Scan(&fromAfter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return classifyDebitFailure(ctx, tx, params.From)
		}
		return fmt.Errorf("ledger: debit %s: %w", params.From, err)
	}

	const creditSQL = `
        UPDATE accounts
        SET balance = balance + $2
        WHERE id = $1
        RETURNING balance
    `
	var toAfter int64
	if err := tx.QueryRow(ctx, creditSQL, params.To, params.Amount).Scan(&toAfter); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("ledger: credit %s: %w", params.To, err)
	}

	const entrySQL = `
        INSERT INTO ledger_entries (account_id, job_id, entry_type, amount, balance_after)
        VALUES ($1, $2, $3, $4, $5)
    `
	if _, err := tx.Exec(ctx, entrySQL, params.From, params.JobID, params.EntryType, -params.Amount, fromAfter); err != nil {
		return fmt.Errorf("ledger: record debit entry: %w", err)
	}
	if _, err := tx.Exec(ctx, entrySQL, params.To, params.JobID, params.EntryType, params.Amount, toAfter); err != nil {
		return fmt.Errorf("ledger: record credit entry: %w", err)
	}

	return nil
}

func classifyDebitFailure(ctx context.Context, tx pgx.Tx, accountID string) error {
	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
		return fmt.Errorf("ledger: inspect account %s: %w", accountID, err)
	}
	if !exists {
		return ErrAccountNotFound
	}
	return ErrInsufficientFunds
}

// Deposit credits an account out of thin air. It backs the faucet-style
// top-up used by operators of test and demo deployments.
func Deposit(ctx context.Context, tx pgx.Tx, accountID string, amount int64) error {
	if amount < 0 {
		return ErrNegativeAmount
	}
	if amount == 0 {
		return nil
	}

	var after int64
	err := tx.QueryRow(ctx, `UPDATE accounts SET balance = balance + $2 WHERE id = $1 RETURNING balance`, accountID, amount).Scan(&after)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("ledger: deposit: %w", err)
	}

	if _, err := tx.Exec(ctx, `
        INSERT INTO ledger_entries (account_id, entry_type, amount, balance_after)
        VALUES ($1, $2, $3, $4)
    `, accountID, EntryDeposit, amount, after); err != nil {
		return fmt.Errorf("ledger: record deposit entry: %w", err)
	}
	return nil
}

// OpenEscrowAccount creates the escrow holding for a job. Only FundJob may
// credit it and only the settlement engine may debit it.
func OpenEscrowAccount(ctx context.Context, tx pgx.Tx) (string, error) {
	var id string
	if err := tx.QueryRow(ctx, `INSERT INTO accounts (kind, balance) VALUES ('escrow', 0) RETURNING id`).Scan(&id); err != nil {
		return "", fmt.Errorf("ledger: open escrow account: %w", err)
	}
	return id, nil
}

// Balance returns the current balance of an account.
func Balance(ctx context.Context, q Querier, accountID string) (int64, error) {
	var balance int64
	if err := q.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}

// BalanceForUpdate reads an account balance under a row lock so settlement can
// assert the escrow covers the reward before moving anything.
func BalanceForUpdate(ctx context.Context, tx pgx.Tx, accountID string) (int64, error) {
	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1 FOR UPDATE`, accountID).Scan(&balance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: balance for update: %w", err)
	}
	return balance, nil
}

// AccountForUser resolves the spendable account owned by a user.
func AccountForUser(ctx context.Context, q Querier, userID string) (string, error) {
	var id string
	if err := q.QueryRow(ctx, `SELECT id FROM accounts WHERE owner_user_id = $1 AND kind = 'user'`, userID).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("ledger: account for user: %w", err)
	}
	return id, nil
}
