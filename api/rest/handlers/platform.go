package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"escrowflow/platform"
)

// PlatformHandler manages the configuration singleton endpoints.
type PlatformHandler struct {
	platform *platform.Service
}

func NewPlatformHandler(svc *platform.Service) *PlatformHandler {
	return &PlatformHandler{platform: svc}
}

type configResponse struct {
	AdminID           string    `json:"admin_id"`
	OpsID             string    `json:"ops_id"`
	TreasuryAccountID string    `json:"treasury_account_id"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func toConfigResponse(cfg platform.Config) configResponse {
	return configResponse{
		AdminID:           cfg.AdminID,
		OpsID:             cfg.OpsID,
		TreasuryAccountID: cfg.TreasuryAccountID,
		CreatedAt:         cfg.CreatedAt,
		UpdatedAt:         cfg.UpdatedAt,
	}
}

// Initialize handles POST /v1/platform/init. The caller becomes admin.
func (h *PlatformHandler) Initialize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpsID             string `json:"ops_id"`
		TreasuryAccountID string `json:"treasury_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	cfg, err := h.platform.Initialize(r.Context(), CallerID(r), req.OpsID, req.TreasuryAccountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConfigResponse(cfg))
}

// UpdateOps handles PUT /v1/platform/ops.
func (h *PlatformHandler) UpdateOps(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpsID string `json:"ops_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	cfg, err := h.platform.UpdateOps(r.Context(), CallerID(r), req.OpsID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}

// GetConfig handles GET /v1/platform/config.
func (h *PlatformHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.platform.Get(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConfigResponse(cfg))
}
