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

// BookSlot handles POST /slots.
// On conflict it responds 409 with the reason and alternative start times
// instead of an opaque failure.
func (h *Handlers) BookSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req api.BookSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Location == "" || req.StartsAt.IsZero() {
		h.httpError(w, "Location and starts_at are required", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	result, err := h.store.BookSlot(ctx, store.BookSlotRequest{
		TenantID: tenantID,
		Location: req.Location,
		Assignee: req.Assignee,
		StartsAt: req.StartsAt,
		Duration: time.Duration(req.DurationMinutes) * time.Minute,
		OwnerRef: req.OwnerRef,
		Channel:  req.Channel,
		Metadata: req.Metadata,
	})
	if err != nil {
		h.slotError(w, err)
		return
	}

	status := http.StatusCreated
	if !result.Booked {
		status = http.StatusConflict
	}
	h.respondJson(w, status, bookingResponse(result))
}

// GetSlot handles GET /slots/{id}.
func (h *Handlers) GetSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slotID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid slot id", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	slot, err := h.store.GetSlot(ctx, tenantID, slotID)
	if err != nil {
		h.httpError(w, "Slot not found", http.StatusNotFound)
		return
	}

	h.respondJson(w, http.StatusOK, slotResponse(slot))
}

// ListSlots handles GET /slots.
func (h *Handlers) ListSlots(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	q := r.URL.Query()
	filter := store.SlotFilter{
		Location: q.Get("location"),
		Assignee: q.Get("assignee"),
		Status:   store.SlotStatus(q.Get("status")),
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.httpError(w, "Invalid from timestamp", http.StatusBadRequest)
			return
		}
		filter.From = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			h.httpError(w, "Invalid to timestamp", http.StatusBadRequest)
			return
		}
		filter.To = t
	}
	filter.Limit, filter.Offset = parseLimitOffset(r, 50)

	slots, err := h.store.ListSlots(ctx, tenantID, filter)
	if err != nil {
		h.httpError(w, "Failed to list slots", http.StatusInternalServerError)
		return
	}

	resp := make([]api.SlotResponse, 0, len(slots))
	for i := range slots {
		resp = append(resp, slotResponse(&slots[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// CancelSlot handles POST /slots/{id}/cancel.
// Cancelling twice is not an error; the second call returns the already
// cancelled slot.
func (h *Handlers) CancelSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slotID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid slot id", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CancelSlotRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.httpError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	slot, err := h.store.CancelSlot(ctx, tenantID, slotID, req.Reason)
	if err != nil {
		h.slotError(w, err)
		return
	}

	h.respondJson(w, http.StatusOK, slotResponse(slot))
}

// RescheduleSlot handles POST /slots/{id}/reschedule.
// The slot keeps its original window when the new one conflicts.
func (h *Handlers) RescheduleSlot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	slotID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid slot id", http.StatusBadRequest)
		return
	}

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.RescheduleSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.StartsAt.IsZero() {
		h.httpError(w, "starts_at is required", http.StatusBadRequest)
		return
	}

	result, err := h.store.RescheduleSlot(ctx, tenantID, slotID,
		req.StartsAt, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		h.slotError(w, err)
		return
	}

	status := http.StatusOK
	if !result.Booked {
		status = http.StatusConflict
	}
	h.respondJson(w, status, bookingResponse(result))
}

// slotError maps slot store errors to HTTP statuses.
func (h *Handlers) slotError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrSlotInPast):
		h.httpError(w, "Slot starts in the past", http.StatusBadRequest)
	case errors.Is(err, store.ErrSlotNotActive):
		h.httpError(w, "Slot is no longer active", http.StatusConflict)
	case errors.Is(err, store.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		h.httpError(w, "Resource busy, retry later", http.StatusServiceUnavailable)
	case errors.Is(err, sql.ErrNoRows):
		h.httpError(w, "Slot not found", http.StatusNotFound)
	default:
		h.httpError(w, "Internal error", http.StatusInternalServerError)
	}
}

func slotResponse(s *store.ReservationSlot) api.SlotResponse {
	return api.SlotResponse{
		ID:        s.ID.String(),
		Location:  s.Location,
		Assignee:  s.Assignee,
		StartsAt:  s.StartsAt,
		EndsAt:    s.EndsAt,
		Status:    string(s.Status),
		OwnerRef:  s.OwnerRef,
		Channel:   s.Channel,
		Metadata:  s.Metadata,
		CreatedAt: s.CreatedAt,
	}
}

func bookingResponse(res *store.BookingResult) api.BookSlotResponse {
	resp := api.BookSlotResponse{Booked: res.Booked}
	if res.Slot != nil {
		s := slotResponse(res.Slot)
		resp.Slot = &s
	}
	if res.Conflict != nil {
		resp.Conflict = &api.SlotConflictInfo{
			Reason:        string(res.Conflict.Reason),
			ConflictingID: res.Conflict.ConflictingID,
			Suggestions:   res.Conflict.Suggestions,
		}
	}
	return resp
}
