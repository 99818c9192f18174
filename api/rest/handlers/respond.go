package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"escrowflow/dispute"
	"escrowflow/identity"
	"escrowflow/job"
	"escrowflow/ledger"
	"escrowflow/platform"
	"escrowflow/settlement"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeDomainError maps service sentinels onto HTTP statuses. Anything not
// recognized is a 500 with a generic body so internals never leak.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, dispute.ErrNotFound),
		errors.Is(err, identity.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, job.ErrUnauthorizedActor),
		errors.Is(err, platform.ErrUnauthorizedAdmin):
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, job.ErrInvalidStatus),
		errors.Is(err, job.ErrDeadlineNotReached),
		errors.Is(err, job.ErrSubmissionMissing),
		errors.Is(err, job.ErrJobExists),
		errors.Is(err, job.ErrDuplicateIdempotencyKey),
		errors.Is(err, platform.ErrAlreadyInitialized),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, settlement.ErrInsufficientVaultBalance):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, job.ErrInvalidReward),
		errors.Is(err, job.ErrInvalidFeeBps),
		errors.Is(err, job.ErrInvalidDeadline),
		errors.Is(err, job.ErrInvalidSubmissionHash),
		errors.Is(err, job.ErrOperatorRequired),
		errors.Is(err, job.ErrReasonTooLong),
		errors.Is(err, settlement.ErrInvalidPayout),
		errors.Is(err, settlement.ErrMathOverflow),
		errors.Is(err, ledger.ErrNegativeAmount),
		errors.Is(err, identity.ErrWeakPassword):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, identity.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, err)
	case errors.Is(err, platform.ErrNotInitialized):
		writeError(w, http.StatusPreconditionFailed, err)
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}
