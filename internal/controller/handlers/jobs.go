package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"opscore/internal/controller/middleware"
	"opscore/internal/store"
	"opscore/pkg/api"
	"time"

	"github.com/google/uuid"
)

// EnqueueJob handles POST /jobs.
// The job becomes claimable at scheduled_at (defaults to now).
func (h *Handlers) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.EnqueueJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Type == "" {
		h.httpError(w, "Type is required", http.StatusBadRequest)
		return
	}
	if req.Priority < api.PriorityMin || req.Priority > api.PriorityMax {
		h.httpError(w, "Priority must be between 0 and 100", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	job := &store.Job{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Type:        req.Type,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		CreatedAt:   time.Now().UTC(),
	}
	if req.ScheduledAt != nil {
		job.ScheduledAt = *req.ScheduledAt
	}

	if err := h.store.Enqueue(ctx, nil, job); err != nil {
		h.httpError(w, "Failed to enqueue job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.EnqueueJobResponse{JobID: job.ID.String()})
}

// GetJob handles GET /jobs/{id}.
// Completed jobs carry their result payload, so pollers get outcome and
// data in one read.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	job, err := h.store.GetJob(ctx, tenantID, jobID)
	if err != nil {
		h.httpError(w, "Job not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, jobResponse(job))
}

// ListJobs handles GET /jobs.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	status := store.JobStatus(r.URL.Query().Get("status"))
	limit, offset := parseLimitOffset(r, 50)

	jobs, err := h.store.ListJobs(ctx, tenantID, status, limit, offset)
	if err != nil {
		h.httpError(w, "Failed to list jobs", http.StatusInternalServerError)
		return
	}

	resp := make([]api.JobResponse, 0, len(jobs))
	for i := range jobs {
		resp = append(resp, jobResponse(&jobs[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ListDLQ handles GET /dlq.
func (h *Handlers) ListDLQ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, offset := parseLimitOffset(r, 50)

	entries, err := h.store.ListDLQ(ctx, tenantID, limit, offset)
	if err != nil {
		h.httpError(w, "Failed to list dead letter queue", http.StatusInternalServerError)
		return
	}

	resp := make([]api.DLQEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, api.DLQEntryResponse{
			ID:           e.ID,
			JobID:        e.JobID.String(),
			JobType:      e.JobType,
			ErrorMessage: e.ErrorMessage,
			Attempts:     e.Attempts,
			FailedAt:     e.FailedAt,
		})
	}
	h.respondJson(w, http.StatusOK, resp)
}

// RetryDLQ handles POST /dlq/{job_id}/retry.
// The dead job is re-enqueued as a fresh job with a cleared attempt budget.
func (h *Handlers) RetryDLQ(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		h.httpError(w, "Invalid job id", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	job, err := h.store.RetryFromDLQ(ctx, tenantID, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.httpError(w, "Dead letter entry not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to retry job", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusAccepted, api.RetryDLQResponse{NewJobID: job.ID.String()})
}

func jobResponse(j *store.Job) api.JobResponse {
	resp := api.JobResponse{
		ID:          j.ID.String(),
		Type:        j.Type,
		Status:      string(j.Status),
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		ScheduledAt: j.ScheduledAt,
		StartedAt:   j.StartedAt,
		FinishedAt:  j.FinishedAt,
		LastError:   j.LastError,
		Result:      j.Result,
		CreatedAt:   j.CreatedAt,
	}
	if j.RetriedFrom != nil {
		s := j.RetriedFrom.String()
		resp.RetriedFrom = &s
	}
	return resp
}
