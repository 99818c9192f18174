package settlement

import (
	"errors"
	"math"
)

// MaxFeeBps is the whole fee scale: 10000 basis points = 100%.
const MaxFeeBps = 10000

var (
	// ErrInvalidPayout signals a payout outside [0, reward].
	ErrInvalidPayout = errors.New("settlement: payout must be <= reward")
	// ErrMathOverflow signals the split arithmetic left the int64 range.
	ErrMathOverflow = errors.New("settlement: math overflow")
	// ErrInsufficientVaultBalance signals the escrow holds less than the reward.
	ErrInsufficientVaultBalance = errors.New("settlement: insufficient vault balance")
)

// Reason records which path finalized the job.
type Reason string

const (
	ReasonBuyerApprove    Reason = "buyer_approve"
	ReasonDisputeResolved Reason = "dispute_resolved"
)

// Breakdown is the value-conserving split of a settlement payout.
type Breakdown struct {
	Payout          int64
	FeeAmount       int64
	OperatorReceive int64
	BuyerRefund     int64
}

// Split computes the fee/operator/refund amounts for a requested payout.
// The fee is floor(payout * feeBps / 10000), a fraction of the payout rather
// than of the reward, so partial dispute payouts carry proportionally smaller
// fees. The three outputs always sum to reward exactly; any step that cannot
// be represented aborts with ErrMathOverflow and nothing is returned.
func Split(reward int64, feeBps int, payout int64) (Breakdown, error) {
	if payout < 0 || payout > reward {
		return Breakdown{}, ErrInvalidPayout
	}

	if feeBps != 0 && payout > math.MaxInt64/int64(feeBps) {
		return Breakdown{}, ErrMathOverflow
	}
	feeAmount := payout * int64(feeBps) / MaxFeeBps

	operatorReceive := payout - feeAmount
	if operatorReceive < 0 {
		return Breakdown{}, ErrMathOverflow
	}
	buyerRefund := reward - payout
	if buyerRefund < 0 {
		return Breakdown{}, ErrMathOverflow
	}

	if operatorReceive+feeAmount+buyerRefund != reward {
		return Breakdown{}, ErrMathOverflow
	}

	return Breakdown{
		Payout:          payout,
		FeeAmount:       feeAmount,
		OperatorReceive: operatorReceive,
		BuyerRefund:     buyerRefund,
	}, nil
}
