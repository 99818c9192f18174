package platform

import "time"

// Config is the deployment-wide trusted identity record. Exactly one exists;
// only the ops identity is ever mutated after initialization.
type Config struct {
	AdminID           string
	OpsID             string
	TreasuryAccountID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// InitializeParams carries the identities supplied at first boot. The caller
// becomes admin.
type InitializeParams struct {
	AdminID           string
	OpsID             string
	TreasuryAccountID string
}
