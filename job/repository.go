package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/events"
	"escrowflow/ledger"
)

const recordColumns = `
    id, job_ref, buyer_id, operator_id, escrow_account_id::text,
    reward, fee_bps, deadline_at, status::text,
    submission_hash, submission_set,
    payout, fee_amount, operator_receive, buyer_refund,
    created_at, updated_at
`

// PGRepository performs all job row and event writes. Mutating methods run
// inside the caller's transaction and include the timeline/outbox writes so
// a rollback erases the notifications along with the change.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID, &rec.JobRef, &rec.BuyerID, &rec.OperatorID, &rec.EscrowAccountID,
		&rec.Reward, &rec.FeeBps, &rec.DeadlineAt, &rec.Status,
		&rec.SubmissionHash, &rec.SubmissionSet,
		&rec.Payout, &rec.FeeAmount, &rec.OperatorReceive, &rec.BuyerRefund,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	return rec, err
}

// ReserveIdempotencyKey claims a caller-supplied replay key inside the active
// transaction. A second reservation fails with ErrDuplicateIdempotencyKey, so
// a retried request surfaces as a duplicate instead of running the operation
// twice.
func (r *PGRepository) ReserveIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if _, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("job: reserve idempotency key: %w", err)
	}
	return nil
}

// Insert allocates the job row in status created. The (buyer_id, job_ref)
// unique constraint supplies the create-once semantics.
func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, buyerID string, params CreateParams) (Record, error) {
	const insertSQL = `
        INSERT INTO jobs (job_ref, buyer_id, operator_id, reward, fee_bps, deadline_at, status)
        VALUES ($1, $2, $3, $4, $5, $6, 'created')
        RETURNING ` + recordColumns

	rec, err := scanRecord(tx.QueryRow(ctx, insertSQL,
		params.JobRef, buyerID, params.OperatorID, params.Reward, params.FeeBps, params.DeadlineAt))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrJobExists
		}
		return Record{}, fmt.Errorf("job: insert: %w", err)
	}

	actor := buyerID
	payload := map[string]any{
		"job_ref":     rec.JobRef,
		"buyer":       rec.BuyerID,
		"operator":    rec.OperatorID,
		"reward":      rec.Reward,
		"fee_bps":     rec.FeeBps,
		"deadline_at": rec.DeadlineAt,
	}
	if err := events.Append(ctx, tx, rec.ID, events.TypeJobCreated, &actor, payload); err != nil {
		return Record{}, err
	}
	if err := events.Publish(ctx, tx, events.TopicJobCreated, map[string]any{
		"job_id":   rec.ID,
		"job_ref":  rec.JobRef,
		"buyer":    rec.BuyerID,
		"operator": rec.OperatorID,
		"reward":   rec.Reward,
	}); err != nil {
		return Record{}, err
	}

	return rec, nil
}

// GetForUpdate loads the job row under a row lock. Every lifecycle operation
// goes through this, which serializes writers per record.
func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, jobID string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM jobs WHERE id = $1 FOR UPDATE`
	rec, err := scanRecord(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrJobNotFound
		}
		return Record{}, fmt.Errorf("job: get for update: %w", err)
	}
	return rec, nil
}

// transition updates the status after re-validating the move against the
// database-side guardrail function.
func (r *PGRepository) transition(ctx context.Context, tx pgx.Tx, jobID string, cur, next Status) error {
	var ok bool
	if err := tx.QueryRow(ctx, `SELECT job_validate_transition($1::job_status, $2::job_status)`, cur, next).Scan(&ok); err != nil {
		return fmt.Errorf("job: validate transition: %w", err)
	}
	if !ok {
		return ErrInvalidStatus
	}
	if _, err := tx.Exec(ctx, `
        UPDATE jobs
        SET status = $2::job_status,
            updated_at = get_tx_timestamp()
        WHERE id = $1
    `, jobID, next); err != nil {
		return fmt.Errorf("job: update status: %w", err)
	}
	return nil
}

// Fund opens the escrow holding, moves exactly the reward from the buyer's
// account into it, and flips the job to funded. A shortfall surfaces as the
// ledger's insufficient-funds error, unchanged.
func (r *PGRepository) Fund(ctx context.Context, tx pgx.Tx, rec Record) (Record, error) {
	buyerAccount, err := ledger.AccountForUser(ctx, tx, rec.BuyerID)
	if err != nil {
		return Record{}, err
	}

	escrowID, err := ledger.OpenEscrowAccount(ctx, tx)
	if err != nil {
		return Record{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE jobs SET escrow_account_id = $2 WHERE id = $1`, rec.ID, escrowID); err != nil {
		return Record{}, fmt.Errorf("job: attach escrow account: %w", err)
	}

	jobID := rec.ID
	if err := ledger.Transfer(ctx, tx, ledger.TransferParams{
		From:      buyerAccount,
		To:        escrowID,
		JobID:     &jobID,
		EntryType: ledger.EntryEscrowLock,
		Amount:    rec.Reward,
	}); err != nil {
		return Record{}, err
	}

	if err := r.transition(ctx, tx, rec.ID, rec.Status, StatusFunded); err != nil {
		return Record{}, err
	}

	actor := rec.BuyerID
	if err := events.Append(ctx, tx, rec.ID, events.TypeJobFunded, &actor, map[string]any{
		"reward": rec.Reward,
		"escrow": escrowID,
	}); err != nil {
		return Record{}, err
	}
	if err := events.Publish(ctx, tx, events.TopicJobFunded, map[string]any{
		"job_id": rec.ID,
		"buyer":  rec.BuyerID,
		"reward": rec.Reward,
	}); err != nil {
		return Record{}, err
	}

	return r.Reload(ctx, tx, rec.ID)
}

// SetSubmission overwrites the content commitment and flips to submitted.
func (r *PGRepository) SetSubmission(ctx context.Context, tx pgx.Tx, rec Record, hash []byte) (Record, error) {
	if err := r.transition(ctx, tx, rec.ID, rec.Status, StatusSubmitted); err != nil {
		return Record{}, err
	}
	if _, err := tx.Exec(ctx, `
        UPDATE jobs
        SET submission_hash = $2,
            submission_set = TRUE,
            updated_at = get_tx_timestamp()
        WHERE id = $1
    `, rec.ID, hash); err != nil {
		return Record{}, fmt.Errorf("job: set submission: %w", err)
	}

	actor := rec.OperatorID
	if err := events.Append(ctx, tx, rec.ID, events.TypeResultSubmitted, &actor, map[string]any{
		"submission_hash": fmt.Sprintf("%x", hash),
		"resubmission":    rec.Status == StatusSubmitted,
	}); err != nil {
		return Record{}, err
	}
	if err := events.Publish(ctx, tx, events.TopicResultSubmitted, map[string]any{
		"job_id":   rec.ID,
		"operator": rec.OperatorID,
	}); err != nil {
		return Record{}, err
	}

	return r.Reload(ctx, tx, rec.ID)
}

// MarkDisputed flips a submitted job to disputed with the given reason.
func (r *PGRepository) MarkDisputed(ctx context.Context, tx pgx.Tx, rec Record, actorID string, reason DisputeReason) (Record, error) {
	if err := r.transition(ctx, tx, rec.ID, rec.Status, StatusDisputed); err != nil {
		return Record{}, err
	}

	if err := events.Append(ctx, tx, rec.ID, events.TypeJobDisputed, &actorID, map[string]any{
		"by":     actorID,
		"reason": string(reason),
	}); err != nil {
		return Record{}, err
	}
	if err := events.Publish(ctx, tx, events.TopicJobDisputed, map[string]any{
		"job_id":   rec.ID,
		"buyer":    rec.BuyerID,
		"operator": rec.OperatorID,
		"by":       actorID,
		"reason":   string(reason),
	}); err != nil {
		return Record{}, err
	}

	return r.Reload(ctx, tx, rec.ID)
}

// RecordResolution appends the audit note after the settlement engine has
// finalized a disputed job.
func (r *PGRepository) RecordResolution(ctx context.Context, tx pgx.Tx, rec Record, opsID string, payout int64, note string) error {
	if err := events.Append(ctx, tx, rec.ID, events.TypeDisputeResolved, &opsID, map[string]any{
		"ops":    opsID,
		"payout": payout,
		"note":   note,
	}); err != nil {
		return err
	}
	return events.Publish(ctx, tx, events.TopicDisputeResolved, map[string]any{
		"job_id": rec.ID,
		"ops":    opsID,
		"payout": payout,
		"note":   note,
	})
}

// ResolveAccounts looks up the two party accounts settlement pays into.
func (r *PGRepository) ResolveAccounts(ctx context.Context, tx pgx.Tx, rec Record) (buyerAccount, operatorAccount string, err error) {
	buyerAccount, err = ledger.AccountForUser(ctx, tx, rec.BuyerID)
	if err != nil {
		return "", "", err
	}
	operatorAccount, err = ledger.AccountForUser(ctx, tx, rec.OperatorID)
	if err != nil {
		return "", "", err
	}
	return buyerAccount, operatorAccount, nil
}

// Reload re-reads the row inside the transaction so callers return exactly
// what was written, timestamps included.
func (r *PGRepository) Reload(ctx context.Context, tx pgx.Tx, jobID string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM jobs WHERE id = $1`
	rec, err := scanRecord(tx.QueryRow(ctx, query, jobID))
	if err != nil {
		return Record{}, fmt.Errorf("job: reload: %w", err)
	}
	return rec, nil
}

// Get reads a job outside any transaction.
func (r *PGRepository) Get(ctx context.Context, jobID string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM jobs WHERE id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrJobNotFound
		}
		return Record{}, fmt.Errorf("job: get: %w", err)
	}
	return rec, nil
}

// List returns jobs matching the filters, newest first.
func (r *PGRepository) List(ctx context.Context, filters ListFilters) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	n := 0
	add := func(clause string, val any) {
		n++
		query += fmt.Sprintf(" AND %s = $%d", clause, n)
		args = append(args, val)
	}
	if filters.BuyerID != "" {
		add("buyer_id", filters.BuyerID)
	}
	if filters.OperatorID != "" {
		add("operator_id", filters.OperatorID)
	}
	if filters.Status != "" {
		add("status", string(filters.Status))
	}
	limit := filters.Limit
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d", limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("job: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("job: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job: iterate: %w", err)
	}
	return out, nil
}
