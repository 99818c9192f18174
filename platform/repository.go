package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrAlreadyInitialized signals the singleton record exists.
	ErrAlreadyInitialized = errors.New("platform: config already initialized")
	// ErrNotInitialized signals no configuration record exists yet.
	ErrNotInitialized = errors.New("platform: config not initialized")
)

const configColumns = `admin_id, ops_id, treasury_account_id, created_at, updated_at`

// PGRepository stores the configuration singleton. The single-row primary key
// constraint supplies the create-once semantics.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, params InitializeParams) (Config, error) {
	const insertSQL = `
        INSERT INTO platform_config (singleton, admin_id, ops_id, treasury_account_id)
        VALUES (TRUE, $1, $2, $3)
        RETURNING ` + configColumns

	var cfg Config
	err := tx.QueryRow(ctx, insertSQL, params.AdminID, params.OpsID, params.TreasuryAccountID).
		Scan(&cfg.AdminID, &cfg.OpsID, &cfg.TreasuryAccountID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Config{}, ErrAlreadyInitialized
		}
		return Config{}, fmt.Errorf("platform: insert config: %w", err)
	}
	return cfg, nil
}

// GetForUpdate loads the singleton under a row lock for mutation.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx) (Config, error) {
	const query = `SELECT ` + configColumns + ` FROM platform_config WHERE singleton FOR UPDATE`
	var cfg Config
	err := tx.QueryRow(ctx, query).
		Scan(&cfg.AdminID, &cfg.OpsID, &cfg.TreasuryAccountID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, fmt.Errorf("platform: get config for update: %w", err)
	}
	return cfg, nil
}

func (r *PGRepository) SetOps(ctx context.Context, tx pgx.Tx, newOpsID string) (Config, error) {
	const updateSQL = `
        UPDATE platform_config
        SET ops_id = $1,
            updated_at = get_tx_timestamp()
        WHERE singleton
        RETURNING ` + configColumns

	var cfg Config
	err := tx.QueryRow(ctx, updateSQL, newOpsID).
		Scan(&cfg.AdminID, &cfg.OpsID, &cfg.TreasuryAccountID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, fmt.Errorf("platform: set ops: %w", err)
	}
	return cfg, nil
}

// Get reads the singleton outside any transaction.
func (r *PGRepository) Get(ctx context.Context) (Config, error) {
	const query = `SELECT ` + configColumns + ` FROM platform_config WHERE singleton`
	var cfg Config
	err := r.pool.QueryRow(ctx, query).
		Scan(&cfg.AdminID, &cfg.OpsID, &cfg.TreasuryAccountID, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNotInitialized
		}
		return Config{}, fmt.Errorf("platform: get config: %w", err)
	}
	return cfg, nil
}
