package dispute

import "time"

// Record is the ops console view of a dispute: the disputed job joined with
// the timeline event that opened it, plus resolution details once settled.
type Record struct {
	JobID      string
	JobRef     int64
	BuyerID    string
	OperatorID string
	Reward     int64
	FeeBps     int
	Reason     string
	DisputedBy *string
	DisputedAt time.Time
	Resolved   bool
	Payout     int64
	Note       *string
	ResolvedAt *time.Time
}
