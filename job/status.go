package job

// Status is the closed set of lifecycle states. Settled is terminal; every
// path ends there.
type Status string

const (
	StatusCreated   Status = "created"
	StatusFunded    Status = "funded"
	StatusSubmitted Status = "submitted"
	StatusDisputed  Status = "disputed"
	StatusSettled   Status = "settled"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusFunded, StatusSubmitted, StatusDisputed, StatusSettled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further mutation is allowed.
func (s Status) Terminal() bool {
	return s == StatusSettled
}

// ValidTransition reports whether moving from cur to next is allowed.
// Submitted -> Submitted covers operator resubmission before review. States
// not explicitly listed are rejected rather than defaulted.
func ValidTransition(cur, next Status) bool {
	switch cur {
	case StatusCreated:
		return next == StatusFunded
	case StatusFunded:
		return next == StatusSubmitted
	case StatusSubmitted:
		return next == StatusSubmitted || next == StatusDisputed || next == StatusSettled
	case StatusDisputed:
		return next == StatusSettled
	case StatusSettled:
		return false
	default:
		return false
	}
}

// DisputeReason records how a job entered the disputed state.
type DisputeReason string

const (
	DisputeReasonBuyerReject DisputeReason = "buyer_reject"
	DisputeReasonTimeout     DisputeReason = "timeout"
)
