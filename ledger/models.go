package ledger

import "time"

// Kind partitions accounts by role in the value flow.
type Kind string

const (
	KindUser     Kind = "user"
	KindEscrow   Kind = "escrow"
	KindTreasury Kind = "treasury"
)

// Entry types recorded for every balance move.
const (
	EntryDeposit     = "deposit"
	EntryEscrowLock  = "escrow_lock"
	EntryTaskEarning = "task_earning"
	EntryPlatformFee = "platform_fee"
	EntryRefund      = "refund"
)

// Account mirrors the accounts table.
type Account struct {
	ID          string
	OwnerUserID *string
	Kind        Kind
	Balance     int64
	CreatedAt   time.Time
}

// Entry is one leg of a double-entry balance move. Amount is negative for the
// debited account and positive for the credited one.
type Entry struct {
	ID           int64
	AccountID    string
	JobID        *string
	EntryType    string
	Amount       int64
	BalanceAfter int64
	CreatedAt    time.Time
}
