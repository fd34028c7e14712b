package handlers

import (
	"encoding/json"
	"net/http"
	"opscore/internal/auth"
	"opscore/internal/store"
	"opscore/pkg/api"
	"time"

	"github.com/google/uuid"
)

// CreateTenant handles POST /tenants (Admin Only).
// It generates a new API Key, hashes it for storage, and returns the raw key ONCE.
func (h *Handlers) CreateTenant(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.CreateTenantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		h.httpError(w, "Name is required", http.StatusBadRequest)
		return
	}

	apiKey, err := auth.GenerateKey()
	if err != nil {
		h.httpError(w, "Entropy failure", http.StatusInternalServerError)
		return
	}
	hashedKey := auth.HashKey(apiKey)

	tenant := &store.Tenant{
		ID:           uuid.New(),
		Name:         req.Name,
		APIRateLimit: req.RateLimit,
		APIRateBurst: req.Burst,
		CreatedAt:    time.Now(),
	}

	if err := h.store.CreateTenant(ctx, tenant, hashedKey); err != nil {
		h.httpError(w, "Failed to create tenant", http.StatusInternalServerError)
		return
	}

	// Return the Raw Key (This is the only time the user sees it)
	resp := api.CreateTenantResponse{
		ID:     tenant.ID.String(),
		Name:   tenant.Name,
		ApiKey: apiKey,
	}
	h.respondJson(w, http.StatusCreated, resp)
}
