package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant checks run while actors hammer the system. Every
// query returns zero rows when the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_settlement_conservation",
			SQL: `SELECT id, reward, fee_amount, operator_receive, buyer_refund FROM jobs
                  WHERE status = 'settled'
                    AND fee_amount + operator_receive + buyer_refund <> reward`,
		},
		{
			Name: "O2_no_negative_balances",
			SQL:  `SELECT id, balance FROM accounts WHERE balance < 0`,
		},
		{
			Name: "O3_timeline_seq_monotonic",
			SQL: `WITH seqs AS (
                      SELECT job_id, seq,
                             LAG(seq) OVER (PARTITION BY job_id ORDER BY seq) AS prev
                      FROM timeline_events)
                  SELECT * FROM seqs WHERE prev IS NOT NULL AND seq <= prev`,
		},
		{
			Name: "O4_settled_escrow_drained",
			SQL: `SELECT j.id, a.balance FROM jobs j
                  JOIN accounts a ON a.id = j.escrow_account_id
                  WHERE j.status = 'settled' AND a.balance <> 0`,
		},
		{
			Name: "O5_active_escrow_holds_reward",
			SQL: `SELECT j.id, j.reward, a.balance FROM jobs j
                  JOIN accounts a ON a.id = j.escrow_account_id
                  WHERE j.status IN ('funded', 'submitted', 'disputed') AND a.balance <> j.reward`,
		},
		{
			Name: "O6_settled_has_settle_event",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.status = 'settled'
                    AND NOT EXISTS (SELECT 1 FROM timeline_events e
                                    WHERE e.job_id = j.id AND e.type = 'JOB_SETTLED')`,
		},
		{
			Name: "O7_outbox_not_stale",
			SQL: `SELECT id FROM outbox
                  WHERE status NOT IN ('processed', 'dead')
                    AND now() - created_at > interval '5 minutes'`,
		},
		{
			Name: "O8_ledger_sums_to_balance",
			SQL: `SELECT a.id, a.balance, COALESCE(l.total, 0) FROM accounts a
                  LEFT JOIN (SELECT account_id, SUM(amount) AS total
                             FROM ledger_entries GROUP BY account_id) l ON l.account_id = a.id
                  WHERE a.balance <> COALESCE(l.total, 0)`,
		},
		{
			Name: "O9_fee_within_bounds",
			SQL: `SELECT id, fee_amount, payout, fee_bps FROM jobs
                  WHERE status = 'settled'
                    AND (fee_amount < 0 OR fee_amount > payout OR payout > reward)`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		if rows.Next() {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
