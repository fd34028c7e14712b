package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"opscore/internal/controller/middleware"
	"opscore/internal/store"
	"opscore/pkg/api"
	"strconv"
	"time"
)

// CheckBreaker handles POST /breakers/{dependency}/check.
// POST because an open breaker past its timeout flips to half-open here to
// admit the caller as the probe.
func (h *Handlers) CheckBreaker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dependency := r.PathValue("dependency")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	decision, err := h.store.CanProceed(ctx, tenantID, dependency, h.breakerPolicy)
	if err != nil {
		h.httpError(w, "Failed to check breaker", http.StatusInternalServerError)
		return
	}

	resp := api.BreakerCheckResponse{
		Allowed:           decision.Allowed,
		State:             string(decision.State),
		RetryAfterSeconds: int(decision.RetryAfter / time.Second),
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusServiceUnavailable
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	h.respondJson(w, status, resp)
}

// ReportBreaker handles POST /breakers/{dependency}/report.
// Callers that went through CheckBreaker feed the call's outcome back so
// every process shares one view of the dependency's health.
func (h *Handlers) ReportBreaker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dependency := r.PathValue("dependency")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.BreakerReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var record *store.BreakerRecord
	var err error
	if req.Success {
		record, err = h.store.RecordSuccess(ctx, tenantID, dependency, h.breakerPolicy)
	} else {
		record, err = h.store.RecordFailure(ctx, tenantID, dependency, req.Error, h.breakerPolicy)
	}
	if err != nil {
		h.httpError(w, "Failed to record outcome", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, breakerResponse(record))
}

// GetBreaker handles GET /breakers/{dependency}.
func (h *Handlers) GetBreaker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dependency := r.PathValue("dependency")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	record, err := h.store.GetBreaker(ctx, tenantID, dependency)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.httpError(w, "Breaker not found", http.StatusNotFound)
			return
		}
		h.httpError(w, "Failed to load breaker", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, breakerResponse(record))
}

// ListBreakers handles GET /breakers.
func (h *Handlers) ListBreakers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	records, err := h.store.ListBreakers(ctx, tenantID)
	if err != nil {
		h.httpError(w, "Failed to list breakers", http.StatusInternalServerError)
		return
	}

	resp := make([]api.BreakerResponse, 0, len(records))
	for i := range records {
		resp = append(resp, breakerResponse(&records[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ResetBreaker handles POST /breakers/{dependency}/reset.
// Manual close after the dependency is fixed out of band.
func (h *Handlers) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dependency := r.PathValue("dependency")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	record, err := h.store.ResetBreaker(ctx, tenantID, dependency)
	if err != nil {
		h.httpError(w, "Failed to reset breaker", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, breakerResponse(record))
}

func breakerResponse(b *store.BreakerRecord) api.BreakerResponse {
	return api.BreakerResponse{
		Dependency:           b.Dependency,
		State:                string(b.State),
		ConsecutiveFailures:  b.ConsecutiveFailures,
		ConsecutiveSuccesses: b.ConsecutiveSuccesses,
		FailureThreshold:     b.FailureThreshold,
		SuccessThreshold:     b.SuccessThreshold,
		TimeoutSeconds:       int(b.Timeout / time.Second),
		OpenedAt:             b.OpenedAt,
		LastError:            b.LastError,
		UpdatedAt:            b.UpdatedAt,
	}
}
