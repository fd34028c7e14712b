// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"opscore/internal/store"
	"opscore/pkg/api"
	"strconv"
)

// StoreFactory combines the interfaces needed for the controller to function.
type StoreFactory interface {
	BeginTx(ctx context.Context) (store.Tx, error)
	Ping(ctx context.Context) error
	store.TenantStore
	store.SlotStore
	store.Queue
	store.RateLimitStore
	store.BreakerStore
	store.LedgerStore
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store StoreFactory

	// breakerPolicy seeds circuit breaker rows created through the API.
	breakerPolicy store.BreakerPolicy
}

// New creates a new Handlers instance with the given store dependency.
func New(s StoreFactory, breakerPolicy store.BreakerPolicy) *Handlers {
	return &Handlers{store: s, breakerPolicy: breakerPolicy}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// parseLimitOffset reads optional limit/offset query params with defaults.
func parseLimitOffset(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
