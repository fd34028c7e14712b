package handlers

import (
	"encoding/json"
	"net/http"
	"opscore/internal/controller/middleware"
	"opscore/pkg/api"
	"strconv"
	"time"
)

// CheckRate handles POST /ratelimit/check.
// Counts one request for the identifier against its fixed window and
// returns the decision. Denied requests get 429 plus a Retry-After hint;
// the attempt still counts, so hammering a saturated window does not
// sneak extra requests through.
func (h *Handlers) CheckRate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.RateCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Identifier == "" {
		h.httpError(w, "Identifier is required", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	window := time.Duration(req.WindowSeconds) * time.Second

	decision, err := h.store.Allow(ctx, tenantID, req.Identifier, req.Limit, window)
	if err != nil {
		h.httpError(w, "Failed to check rate limit", http.StatusInternalServerError)
		return
	}

	resp := api.RateCheckResponse{
		Allowed:           decision.Allowed,
		Count:             decision.Count,
		Limit:             decision.Limit,
		WindowStart:       decision.WindowStart,
		RetryAfterSeconds: int(decision.RetryAfter / time.Second),
	}

	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
		w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
	}
	h.respondJson(w, status, resp)
}
