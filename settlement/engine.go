package settlement

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/events"
	"escrowflow/ledger"
)

// SettleParams carries everything the engine needs to finalize a job: the
// escrowed terms and the three destination accounts.
type SettleParams struct {
	JobID             string
	EscrowAccountID   string
	BuyerAccountID    string
	OperatorAccountID string
	TreasuryAccountID string
	Reward            int64
	FeeBps            int
	Payout            int64
	Reason            Reason
	ActorID           string
}

// Engine performs the terminal settlement: it validates the split fully,
// moves value to the three destinations, records the settlement fields on the
// job row, and emits the settlement notification. It runs entirely inside the
// caller's transaction so a failure at any point leaves balances and the job
// untouched.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// Settle applies the value-conserving split. Every check runs before the
// first balance move: payout bounds, overflow, conservation, and the escrow
// floor. Zero-amount legs are skipped, not errors.
func (e *Engine) Settle(ctx context.Context, tx pgx.Tx, params SettleParams) (Breakdown, error) {
	breakdown, err := Split(params.Reward, params.FeeBps, params.Payout)
	if err != nil {
		return Breakdown{}, err
	}

	held, err := ledger.BalanceForUpdate(ctx, tx, params.EscrowAccountID)
	if err != nil {
		return Breakdown{}, err
	}
	if held < params.Reward {
		return Breakdown{}, ErrInsufficientVaultBalance
	}

	jobID := params.JobID
	moves := []ledger.TransferParams{
		{From: params.EscrowAccountID, To: params.OperatorAccountID, JobID: &jobID, EntryType: ledger.EntryTaskEarning, Amount: breakdown.OperatorReceive},
		{From: params.EscrowAccountID, To: params.TreasuryAccountID, JobID: &jobID, EntryType: ledger.EntryPlatformFee, Amount: breakdown.FeeAmount},
		{From: params.EscrowAccountID, To: params.BuyerAccountID, JobID: &jobID, EntryType: ledger.EntryRefund, Amount: breakdown.BuyerRefund},
	}
	for _, move := range moves {
		if err := ledger.Transfer(ctx, tx, move); err != nil {
			return Breakdown{}, err
		}
	}

	const updateSQL = `
        UPDATE jobs
        SET status = 'settled'::job_status,
            payout = $2,
            fee_amount = $3,
            operator_receive = $4,
            buyer_refund = $5,
            updated_at = get_tx_timestamp()
        WHERE id = $1
    `
	if _, err := tx.Exec(ctx, updateSQL, params.JobID,
		breakdown.Payout, breakdown.FeeAmount, breakdown.OperatorReceive, breakdown.BuyerRefund); err != nil {
		return Breakdown{}, fmt.Errorf("settlement: finalize job: %w", err)
	}

	payload := map[string]any{
		"reason":           string(params.Reason),
		"payout":           breakdown.Payout,
		"fee_amount":       breakdown.FeeAmount,
		"operator_receive": breakdown.OperatorReceive,
		"buyer_refund":     breakdown.BuyerRefund,
	}
	actor := params.ActorID
	if err := events.Append(ctx, tx, params.JobID, events.TypeJobSettled, &actor, payload); err != nil {
		return Breakdown{}, err
	}

	outboxPayload := map[string]any{
		"job_id":           params.JobID,
		"reason":           string(params.Reason),
		"payout":           breakdown.Payout,
		"fee_amount":       breakdown.FeeAmount,
		"operator_receive": breakdown.OperatorReceive,
		"buyer_refund":     breakdown.BuyerRefund,
	}
	if err := events.Publish(ctx, tx, events.TopicJobSettled, outboxPayload); err != nil {
		return Breakdown{}, err
	}

	return breakdown, nil
}
