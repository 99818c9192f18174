package job

import "errors"

var (
	// ErrJobNotFound is returned when no job row exists for the identifier.
	ErrJobNotFound = errors.New("job: not found")
	// ErrJobExists signals a (buyer, job_ref) collision on creation.
	ErrJobExists = errors.New("job: already exists for buyer and job_ref")
	// ErrInvalidReward rejects a non-positive reward at creation.
	ErrInvalidReward = errors.New("job: reward must be greater than zero")
	// ErrInvalidFeeBps rejects a fee outside 0..10000 basis points.
	ErrInvalidFeeBps = errors.New("job: fee_bps must be between 0 and 10000")
	// ErrInvalidDeadline rejects a nonzero deadline that is not in the future.
	ErrInvalidDeadline = errors.New("job: deadline must be in the future or zero")
	// ErrInvalidStatus signals the operation does not accept the job's current state.
	ErrInvalidStatus = errors.New("job: invalid status for this operation")
	// ErrUnauthorizedActor signals the caller is not the identity the operation requires.
	ErrUnauthorizedActor = errors.New("job: unauthorized actor")
	// ErrDeadlineNotReached signals escalation was attempted before the deadline.
	ErrDeadlineNotReached = errors.New("job: deadline not reached")
	// ErrSubmissionMissing signals approval with no recorded submission.
	ErrSubmissionMissing = errors.New("job: submission is missing")
	// ErrReasonTooLong rejects audit notes over the length limit.
	ErrReasonTooLong = errors.New("job: dispute reason is too long")
	// ErrInvalidSubmissionHash rejects commitments that are not exactly 32 bytes.
	ErrInvalidSubmissionHash = errors.New("job: submission hash must be 32 bytes")
	// ErrOperatorRequired rejects creation without an operator identity.
	ErrOperatorRequired = errors.New("job: operator id required")
	// ErrDuplicateIdempotencyKey signals a replayed request: the supplied key
	// was already reserved by an earlier operation.
	ErrDuplicateIdempotencyKey = errors.New("job: duplicate idempotency key")
)

// requireActor is the single capability check used at the top of every
// operation: the verified caller must be exactly the stored identity.
func requireActor(callerID, requiredID string) error {
	if callerID == "" || callerID != requiredID {
		return ErrUnauthorizedActor
	}
	return nil
}
