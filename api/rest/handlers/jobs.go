package handlers

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"escrowflow/job"
)

// JobHandler handles job lifecycle HTTP requests. Every mutation resolves the
// acting party from the verified token, never from the request body.
type JobHandler struct {
	jobs *job.Service
}

func NewJobHandler(jobs *job.Service) *JobHandler {
	return &JobHandler{jobs: jobs}
}

type createJobRequest struct {
	JobRef     int64  `json:"job_ref"`
	OperatorID string `json:"operator_id"`
	Reward     int64  `json:"reward"`
	FeeBps     int    `json:"fee_bps"`
	DeadlineAt int64  `json:"deadline_at"`
}

type jobResponse struct {
	ID              string    `json:"id"`
	JobRef          int64     `json:"job_ref"`
	BuyerID         string    `json:"buyer_id"`
	OperatorID      string    `json:"operator_id"`
	EscrowAccountID *string   `json:"escrow_account_id,omitempty"`
	Reward          int64     `json:"reward"`
	FeeBps          int       `json:"fee_bps"`
	DeadlineAt      int64     `json:"deadline_at"`
	Status          string    `json:"status"`
	SubmissionHash  string    `json:"submission_hash,omitempty"`
	Payout          int64     `json:"payout"`
	FeeAmount       int64     `json:"fee_amount"`
	OperatorReceive int64     `json:"operator_receive"`
	BuyerRefund     int64     `json:"buyer_refund"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toJobResponse(rec job.Record) jobResponse {
	resp := jobResponse{
		ID:              rec.ID,
		JobRef:          rec.JobRef,
		BuyerID:         rec.BuyerID,
		OperatorID:      rec.OperatorID,
		EscrowAccountID: rec.EscrowAccountID,
		Reward:          rec.Reward,
		FeeBps:          rec.FeeBps,
		DeadlineAt:      rec.DeadlineAt,
		Status:          string(rec.Status),
		Payout:          rec.Payout,
		FeeAmount:       rec.FeeAmount,
		OperatorReceive: rec.OperatorReceive,
		BuyerRefund:     rec.BuyerRefund,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if rec.SubmissionSet {
		resp.SubmissionHash = hex.EncodeToString(rec.SubmissionHash)
	}
	return resp
}

// CreateJob handles POST /v1/jobs.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	rec, err := h.jobs.Create(r.Context(), CallerID(r), job.CreateParams{
		JobRef:         req.JobRef,
		OperatorID:     req.OperatorID,
		Reward:         req.Reward,
		FeeBps:         req.FeeBps,
		DeadlineAt:     req.DeadlineAt,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toJobResponse(rec))
}

// idempotencyKey reads the optional replay guard supplied by the client.
// Mutations carrying the same key twice are rejected with a conflict.
func idempotencyKey(r *http.Request) string {
	return r.Header.Get("Idempotency-Key")
}

// FundJob handles POST /v1/jobs/{id}/fund.
func (h *JobHandler) FundJob(w http.ResponseWriter, r *http.Request) {
	rec, err := h.jobs.Fund(r.Context(), CallerID(r), mux.Vars(r)["id"], idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(rec))
}

// SubmitResult handles POST /v1/jobs/{id}/submit.
func (h *JobHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Hash string `json:"hash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	hash, err := hex.DecodeString(req.Hash)
	if err != nil {
		writeDomainError(w, job.ErrInvalidSubmissionHash)
		return
	}

	rec, err := h.jobs.SubmitResult(r.Context(), CallerID(r), mux.Vars(r)["id"], hash)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(rec))
}

// ReviewJob handles POST /v1/jobs/{id}/review.
func (h *JobHandler) ReviewJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Approve bool `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	rec, err := h.jobs.Review(r.Context(), CallerID(r), mux.Vars(r)["id"], req.Approve, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(rec))
}

// TriggerTimeout handles POST /v1/jobs/{id}/timeout.
func (h *JobHandler) TriggerTimeout(w http.ResponseWriter, r *http.Request) {
	rec, err := h.jobs.TriggerTimeout(r.Context(), CallerID(r), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(rec))
}

// ResolveDispute handles POST /v1/jobs/{id}/resolve.
func (h *JobHandler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Payout int64  `json:"payout"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	rec, err := h.jobs.ResolveDispute(r.Context(), CallerID(r), mux.Vars(r)["id"], req.Payout, req.Note, idempotencyKey(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(rec))
}

// GetJob handles GET /v1/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	rec, err := h.jobs.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(rec))
}

// ListJobs handles GET /v1/jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := job.ListFilters{
		BuyerID:    q.Get("buyer_id"),
		OperatorID: q.Get("operator_id"),
		Status:     job.Status(q.Get("status")),
	}

	recs, err := h.jobs.List(r.Context(), filters)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toJobResponse(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}
