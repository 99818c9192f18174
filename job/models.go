package job

import "time"

// MaxReasonLen bounds the free-form audit note on dispute resolution.
const MaxReasonLen = 160

// SubmissionHashLen is the size of the operator's content commitment.
const SubmissionHashLen = 32

// Record mirrors the jobs table. Parties and terms are fixed at creation;
// the settlement fields stay zero until the job settles.
type Record struct {
	ID              string
	JobRef          int64
	BuyerID         string
	OperatorID      string
	EscrowAccountID *string
	Reward          int64
	FeeBps          int
	DeadlineAt      int64
	Status          Status
	SubmissionHash  []byte
	SubmissionSet   bool
	Payout          int64
	FeeAmount       int64
	OperatorReceive int64
	BuyerRefund     int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// CreateParams enumerates the caller-supplied terms of a new job. A nonempty
// IdempotencyKey is reserved inside the creation transaction so a retried
// request cannot allocate a second job.
type CreateParams struct {
	JobRef         int64
	OperatorID     string
	Reward         int64
	FeeBps         int
	DeadlineAt     int64
	IdempotencyKey string
}

// ListFilters narrows job listings to one party's view.
type ListFilters struct {
	BuyerID    string
	OperatorID string
	Status     Status
	Limit      int
}
