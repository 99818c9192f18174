package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

// AccountHandler exposes account balances, ledger history, and the
// faucet-style deposit used in demo deployments.
type AccountHandler struct {
	pool     *pgxpool.Pool
	accounts *ledger.Service
}

func NewAccountHandler(pool *pgxpool.Pool, accounts *ledger.Service) *AccountHandler {
	return &AccountHandler{pool: pool, accounts: accounts}
}

type accountResponse struct {
	ID          string    `json:"id"`
	OwnerUserID *string   `json:"owner_user_id,omitempty"`
	Kind        string    `json:"kind"`
	Balance     int64     `json:"balance"`
	CreatedAt   time.Time `json:"created_at"`
}

type entryResponse struct {
	ID           int64     `json:"id"`
	JobID        *string   `json:"job_id,omitempty"`
	EntryType    string    `json:"entry_type"`
	Amount       int64     `json:"amount"`
	BalanceAfter int64     `json:"balance_after"`
	CreatedAt    time.Time `json:"created_at"`
}

// GetMyAccount handles GET /v1/accounts/me.
func (h *AccountHandler) GetMyAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := ledger.AccountForUser(r.Context(), h.pool, CallerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	acc, err := h.accounts.GetByID(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountResponse{
		ID:          acc.ID,
		OwnerUserID: acc.OwnerUserID,
		Kind:        string(acc.Kind),
		Balance:     acc.Balance,
		CreatedAt:   acc.CreatedAt,
	})
}

// ListMyEntries handles GET /v1/accounts/me/entries.
func (h *AccountHandler) ListMyEntries(w http.ResponseWriter, r *http.Request) {
	accountID, err := ledger.AccountForUser(r.Context(), h.pool, CallerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.accounts.ListEntries(r.Context(), accountID, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:           e.ID,
			JobID:        e.JobID,
			EntryType:    e.EntryType,
			Amount:       e.Amount,
			BalanceAfter: e.BalanceAfter,
			CreatedAt:    e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// Deposit handles POST /v1/accounts/me/deposit. Credits appear from nowhere,
// so the route must never be mounted on a deployment with real money.
func (h *AccountHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	accountID, err := ledger.AccountForUser(r.Context(), h.pool, CallerID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tx, err := h.pool.Begin(r.Context())
	if err != nil {
		writeDomainError(w, fmt.Errorf("begin tx: %w", err))
		return
	}
	defer tx.Rollback(r.Context())

	if err := ledger.Deposit(r.Context(), tx, accountID, req.Amount); err != nil {
		writeDomainError(w, err)
		return
	}
	balance, err := ledger.Balance(r.Context(), tx, accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		writeDomainError(w, fmt.Errorf("commit: %w", err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": accountID,
		"balance":    balance,
	})
}
