package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"escrowflow/dispute"
)

// DisputeHandler exposes the ops console read model.
type DisputeHandler struct {
	disputes *dispute.Service
}

func NewDisputeHandler(disputes *dispute.Service) *DisputeHandler {
	return &DisputeHandler{disputes: disputes}
}

type disputeResponse struct {
	JobID      string     `json:"job_id"`
	JobRef     int64      `json:"job_ref"`
	BuyerID    string     `json:"buyer_id"`
	OperatorID string     `json:"operator_id"`
	Reward     int64      `json:"reward"`
	FeeBps     int        `json:"fee_bps"`
	Reason     string     `json:"reason"`
	DisputedBy *string    `json:"disputed_by,omitempty"`
	DisputedAt time.Time  `json:"disputed_at"`
	Resolved   bool       `json:"resolved"`
	Payout     int64      `json:"payout"`
	Note       *string    `json:"note,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

func toDisputeResponse(rec dispute.Record) disputeResponse {
	return disputeResponse{
		JobID:      rec.JobID,
		JobRef:     rec.JobRef,
		BuyerID:    rec.BuyerID,
		OperatorID: rec.OperatorID,
		Reward:     rec.Reward,
		FeeBps:     rec.FeeBps,
		Reason:     rec.Reason,
		DisputedBy: rec.DisputedBy,
		DisputedAt: rec.DisputedAt,
		Resolved:   rec.Resolved,
		Payout:     rec.Payout,
		Note:       rec.Note,
		ResolvedAt: rec.ResolvedAt,
	}
}

// ListOpen handles GET /v1/disputes.
func (h *DisputeHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	recs, err := h.disputes.ListOpen(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]disputeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": out})
}

// ListResolved handles GET /v1/disputes/resolved.
func (h *DisputeHandler) ListResolved(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := h.disputes.ListResolved(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]disputeResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toDisputeResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"disputes": out})
}

// GetForJob handles GET /v1/jobs/{id}/dispute.
func (h *DisputeHandler) GetForJob(w http.ResponseWriter, r *http.Request) {
	rec, err := h.disputes.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toDisputeResponse(rec))
}
