package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("dispute: not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Disputes are derived, not stored: a job is a dispute while it sits in
// disputed status, and a resolved dispute is a settled job whose timeline
// carries both a JOB_DISPUTED and a DISPUTE_RESOLVED event.
const disputeQuery = `
    SELECT j.id, j.job_ref, j.buyer_id, j.operator_id, j.reward, j.fee_bps,
           COALESCE(d.payload->>'reason', ''),
           d.actor_id,
           d.created_at,
           j.status = 'settled',
           j.payout,
           r.payload->>'note',
           r.created_at
    FROM jobs j
    JOIN LATERAL (
        SELECT payload, actor_id, created_at
        FROM timeline_events
        WHERE job_id = j.id AND type = 'JOB_DISPUTED'
        ORDER BY seq DESC
        LIMIT 1
    ) d ON TRUE
    LEFT JOIN LATERAL (
        SELECT payload, created_at
        FROM timeline_events
        WHERE job_id = j.id AND type = 'DISPUTE_RESOLVED'
        ORDER BY seq DESC
        LIMIT 1
    ) r ON TRUE
`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.JobID, &rec.JobRef, &rec.BuyerID, &rec.OperatorID, &rec.Reward, &rec.FeeBps,
		&rec.Reason, &rec.DisputedBy, &rec.DisputedAt,
		&rec.Resolved, &rec.Payout, &rec.Note, &rec.ResolvedAt,
	)
	return rec, err
}

// ListOpen returns jobs currently awaiting an ops decision, oldest first so
// the queue drains in dispute order.
func (r *Repository) ListOpen(ctx context.Context) ([]Record, error) {
	const query = disputeQuery + `
        WHERE j.status = 'disputed'
        ORDER BY d.created_at ASC
    `
	return r.list(ctx, query)
}

// ListForJob returns the dispute view of a single job, whether open or
// already resolved.
func (r *Repository) ListForJob(ctx context.Context, jobID string) (Record, error) {
	const query = disputeQuery + ` WHERE j.id = $1`
	rec, err := scanRecord(r.pool.QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: get: %w", err)
	}
	return rec, nil
}

// ListResolved returns settled jobs that went through a dispute, newest
// resolution first.
func (r *Repository) ListResolved(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := disputeQuery + `
        WHERE j.status = 'settled' AND r.created_at IS NOT NULL
        ORDER BY r.created_at DESC
        LIMIT ` + fmt.Sprint(limit)
	return r.list(ctx, query)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Record, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}
