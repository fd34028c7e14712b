package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"opscore/internal/store"
)

const (
	// DefaultSlotDuration applies when a booking request omits a duration.
	DefaultSlotDuration = 30 * time.Minute

	// Suggestion probing walks forward from the requested time on a
	// half-hour grid, looking at most a day ahead.
	suggestStep    = 30 * time.Minute
	suggestHorizon = 24 * time.Hour
	maxSuggestions = 3
)

// BookSlot books a reservation slot, serializing all bookings for the same
// (tenant, location) behind one advisory lock. On conflict it returns the
// nearest free alternatives instead of an error.
func (s *Store) BookSlot(ctx context.Context, req store.BookSlotRequest) (*store.BookingResult, error) {
	if req.Location == "" {
		return nil, fmt.Errorf("location is required")
	}
	if req.Duration <= 0 {
		req.Duration = DefaultSlotDuration
	}
	if req.StartsAt.Before(time.Now()) {
		return nil, store.ErrSlotInPast
	}

	var result *store.BookingResult
	err := s.WithResourceLock(ctx, req.TenantID, store.ResourceSlot, req.Location, func(tx store.Tx) error {
		var err error
		result, err = s.bookSlotLocked(ctx, tx, req, uuid.Nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// bookSlotLocked runs the probe-then-insert sequence. The caller must hold
// the location's advisory lock. excludeID skips one slot in the overlap
// probe, used when rescheduling a slot against itself.
func (s *Store) bookSlotLocked(ctx context.Context, tx store.DBTransaction, req store.BookSlotRequest, excludeID uuid.UUID) (*store.BookingResult, error) {
	endsAt := req.StartsAt.Add(req.Duration)
	probeTo := req.StartsAt.Add(suggestHorizon)
	if endsAt.After(probeTo) {
		probeTo = endsAt
	}

	busy, err := s.activeWindows(ctx, tx, req.TenantID, req.Location, req.Assignee, req.StartsAt, probeTo, excludeID)
	if err != nil {
		return nil, err
	}

	if conflictingID := overlapping(busy, req.StartsAt, endsAt); conflictingID != uuid.Nil {
		return &store.BookingResult{
			Conflict: &store.SlotConflict{
				Reason:        store.ConflictOverlap,
				ConflictingID: conflictingID.String(),
				Suggestions:   suggestTimes(busy, req.StartsAt, req.Duration),
			},
		}, nil
	}

	slot := &store.ReservationSlot{
		ID:        uuid.New(),
		TenantID:  req.TenantID,
		Location:  req.Location,
		Assignee:  req.Assignee,
		StartsAt:  req.StartsAt,
		EndsAt:    endsAt,
		Status:    store.SlotStatusScheduled,
		OwnerRef:  req.OwnerRef,
		Channel:   req.Channel,
		Metadata:  req.Metadata,
		CreatedAt: time.Now().UTC(),
	}
	slot.UpdatedAt = slot.CreatedAt

	query := `
		INSERT INTO reservation_slots
			(id, tenant_id, location, assignee, starts_at, ends_at, status, owner_ref, channel, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = tx.ExecContext(ctx, query,
		slot.ID,
		slot.TenantID,
		slot.Location,
		slot.Assignee,
		slot.StartsAt,
		slot.EndsAt,
		slot.Status,
		slot.OwnerRef,
		slot.Channel,
		nullJSON(slot.Metadata),
		slot.CreatedAt,
		slot.UpdatedAt,
	)
	if err != nil {
		// The partial unique index catches exact duplicates that slipped
		// past the probe; report them as a conflict, not a failure.
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return &store.BookingResult{
				Conflict: &store.SlotConflict{
					Reason:      store.ConflictDuplicate,
					Suggestions: suggestTimes(busy, req.StartsAt, req.Duration),
				},
			}, nil
		}
		return nil, fmt.Errorf("failed to insert slot: %w", err)
	}

	if err := s.AddOutboxEvent(ctx, tx, outboxForSlot("slot.booked", slot)); err != nil {
		return nil, err
	}

	return &store.BookingResult{Booked: true, Slot: slot}, nil
}

// CancelSlot frees a slot's window. The row stays behind with status
// cancelled as the audit record. Cancelling twice is a no-op.
func (s *Store) CancelSlot(ctx context.Context, tenantID, slotID uuid.UUID, reason string) (*store.ReservationSlot, error) {
	location, err := s.slotLocation(ctx, tenantID, slotID)
	if err != nil {
		return nil, err
	}

	var slot *store.ReservationSlot
	err = s.WithResourceLock(ctx, tenantID, store.ResourceSlot, location, func(tx store.Tx) error {
		slot, err = s.getSlotForUpdate(ctx, tx, tenantID, slotID)
		if err != nil {
			return err
		}
		if slot.Status == store.SlotStatusCancelled {
			return nil
		}

		slot.Status = store.SlotStatusCancelled
		slot.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			"UPDATE reservation_slots SET status = $1, updated_at = $2 WHERE id = $3 AND tenant_id = $4",
			slot.Status, slot.UpdatedAt, slot.ID, tenantID,
		)
		if err != nil {
			return fmt.Errorf("failed to cancel slot: %w", err)
		}

		ev := outboxForSlot("slot.cancelled", slot)
		if reason != "" {
			ev.Payload, _ = json.Marshal(map[string]any{"slot_id": slot.ID, "location": slot.Location, "reason": reason})
		}
		return s.AddOutboxEvent(ctx, tx, ev)
	})
	if err != nil {
		return nil, err
	}
	return slot, nil
}

// RescheduleSlot moves an active slot to a new window under the same
// conflict rules as booking. On conflict the slot keeps its current time
// and the caller gets the alternatives.
func (s *Store) RescheduleSlot(ctx context.Context, tenantID, slotID uuid.UUID, startsAt time.Time, duration time.Duration) (*store.BookingResult, error) {
	if duration <= 0 {
		duration = DefaultSlotDuration
	}
	if startsAt.Before(time.Now()) {
		return nil, store.ErrSlotInPast
	}

	location, err := s.slotLocation(ctx, tenantID, slotID)
	if err != nil {
		return nil, err
	}

	var result *store.BookingResult
	err = s.WithResourceLock(ctx, tenantID, store.ResourceSlot, location, func(tx store.Tx) error {
		slot, err := s.getSlotForUpdate(ctx, tx, tenantID, slotID)
		if err != nil {
			return err
		}
		if !slot.Status.Active() {
			return store.ErrSlotNotActive
		}

		endsAt := startsAt.Add(duration)
		probeTo := startsAt.Add(suggestHorizon)
		if endsAt.After(probeTo) {
			probeTo = endsAt
		}
		busy, err := s.activeWindows(ctx, tx, tenantID, slot.Location, slot.Assignee, startsAt, probeTo, slot.ID)
		if err != nil {
			return err
		}
		if conflictingID := overlapping(busy, startsAt, endsAt); conflictingID != uuid.Nil {
			result = &store.BookingResult{
				Conflict: &store.SlotConflict{
					Reason:        store.ConflictOverlap,
					ConflictingID: conflictingID.String(),
					Suggestions:   suggestTimes(busy, startsAt, duration),
				},
			}
			return nil
		}

		slot.StartsAt = startsAt
		slot.EndsAt = endsAt
		slot.UpdatedAt = time.Now().UTC()
		_, err = tx.ExecContext(ctx,
			"UPDATE reservation_slots SET starts_at = $1, ends_at = $2, updated_at = $3 WHERE id = $4 AND tenant_id = $5",
			slot.StartsAt, slot.EndsAt, slot.UpdatedAt, slot.ID, tenantID,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
				result = &store.BookingResult{
					Conflict: &store.SlotConflict{Reason: store.ConflictDuplicate},
				}
				return nil
			}
			return fmt.Errorf("failed to reschedule slot: %w", err)
		}

		if err := s.AddOutboxEvent(ctx, tx, outboxForSlot("slot.rescheduled", slot)); err != nil {
			return err
		}
		result = &store.BookingResult{Booked: true, Slot: slot}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetSlot returns a slot by its ID.
func (s *Store) GetSlot(ctx context.Context, tenantID, slotID uuid.UUID) (*store.ReservationSlot, error) {
	return scanSlot(s.db.QueryRowContext(ctx,
		selectSlotColumns+" FROM reservation_slots WHERE id = $1 AND tenant_id = $2",
		slotID, tenantID,
	))
}

// ListSlots returns slots matching the filter, newest first.
func (s *Store) ListSlots(ctx context.Context, tenantID uuid.UUID, filter store.SlotFilter) ([]store.ReservationSlot, error) {
	query := selectSlotColumns + " FROM reservation_slots WHERE tenant_id = $1"
	args := []interface{}{tenantID}

	if filter.Location != "" {
		args = append(args, filter.Location)
		query += fmt.Sprintf(" AND location = $%d", len(args))
	}
	if filter.Assignee != "" {
		args = append(args, filter.Assignee)
		query += fmt.Sprintf(" AND assignee = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		query += fmt.Sprintf(" AND starts_at >= $%d", len(args))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		query += fmt.Sprintf(" AND starts_at < $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY starts_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list slots: %w", err)
	}
	defer rows.Close()

	var slots []store.ReservationSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, *slot)
	}
	return slots, rows.Err()
}

// busyWindow is one active slot's interval, used for overlap checks and
// suggestion probing.
type busyWindow struct {
	id       uuid.UUID
	startsAt time.Time
	endsAt   time.Time
}

// activeWindows loads the active slots that could collide with a booking
// for (location, assignee) between from and to. An unassigned slot blocks
// every assignee, and an unassigned request collides with every slot.
func (s *Store) activeWindows(ctx context.Context, tx store.DBTransaction, tenantID uuid.UUID, location, assignee string, from, to time.Time, excludeID uuid.UUID) ([]busyWindow, error) {
	query := `
		SELECT id, starts_at, ends_at
		FROM reservation_slots
		WHERE tenant_id = $1 AND location = $2
		  AND status IN ('scheduled', 'confirmed')
		  AND ends_at > $3 AND starts_at < $4
		  AND (assignee = '' OR $5 = '' OR assignee = $5)
		  AND id <> $6
		ORDER BY starts_at ASC
	`
	rows, err := tx.QueryContext(ctx, query, tenantID, location, from, to, assignee, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load busy windows: %w", err)
	}
	defer rows.Close()

	var busy []busyWindow
	for rows.Next() {
		var w busyWindow
		if err := rows.Scan(&w.id, &w.startsAt, &w.endsAt); err != nil {
			return nil, err
		}
		busy = append(busy, w)
	}
	return busy, rows.Err()
}

// overlapping returns the ID of the first busy window intersecting
// [startsAt, endsAt), or uuid.Nil when the window is free.
func overlapping(busy []busyWindow, startsAt, endsAt time.Time) uuid.UUID {
	for _, w := range busy {
		if w.startsAt.Before(endsAt) && w.endsAt.After(startsAt) {
			return w.id
		}
	}
	return uuid.Nil
}

// suggestTimes walks the half-hour grid after the requested time and
// collects the nearest free start times.
func suggestTimes(busy []busyWindow, requested time.Time, duration time.Duration) []time.Time {
	sort.Slice(busy, func(i, j int) bool { return busy[i].startsAt.Before(busy[j].startsAt) })

	var out []time.Time
	candidate := requested.Truncate(suggestStep)
	if candidate.Before(requested) {
		candidate = candidate.Add(suggestStep)
	}
	limit := requested.Add(suggestHorizon)

	for candidate.Before(limit) && len(out) < maxSuggestions {
		if overlapping(busy, candidate, candidate.Add(duration)) == uuid.Nil {
			out = append(out, candidate)
		}
		candidate = candidate.Add(suggestStep)
	}
	return out
}

const selectSlotColumns = "SELECT id, tenant_id, location, assignee, starts_at, ends_at, status, owner_ref, channel, metadata, created_at, updated_at"

// slotLocation looks up the slot's location so the caller can take the
// right advisory lock before re-reading the row under it.
func (s *Store) slotLocation(ctx context.Context, tenantID, slotID uuid.UUID) (string, error) {
	var location string
	err := s.db.QueryRowContext(ctx,
		"SELECT location FROM reservation_slots WHERE id = $1 AND tenant_id = $2",
		slotID, tenantID,
	).Scan(&location)
	if err != nil {
		return "", err
	}
	return location, nil
}

func (s *Store) getSlotForUpdate(ctx context.Context, tx store.DBTransaction, tenantID, slotID uuid.UUID) (*store.ReservationSlot, error) {
	return scanSlot(tx.QueryRowContext(ctx,
		selectSlotColumns+" FROM reservation_slots WHERE id = $1 AND tenant_id = $2 FOR UPDATE",
		slotID, tenantID,
	))
}

func scanSlot(r rowScanner) (*store.ReservationSlot, error) {
	var slot store.ReservationSlot
	var metadata []byte
	err := r.Scan(
		&slot.ID,
		&slot.TenantID,
		&slot.Location,
		&slot.Assignee,
		&slot.StartsAt,
		&slot.EndsAt,
		&slot.Status,
		&slot.OwnerRef,
		&slot.Channel,
		&metadata,
		&slot.CreatedAt,
		&slot.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	slot.Metadata = metadata
	return &slot, nil
}

// outboxForSlot builds the outbox event announcing a slot state change.
func outboxForSlot(topic string, slot *store.ReservationSlot) *store.OutboxEvent {
	payload, _ := json.Marshal(map[string]any{
		"slot_id":   slot.ID,
		"location":  slot.Location,
		"assignee":  slot.Assignee,
		"starts_at": slot.StartsAt,
		"ends_at":   slot.EndsAt,
		"status":    slot.Status,
		"owner_ref": slot.OwnerRef,
	})
	return &store.OutboxEvent{
		TenantID: slot.TenantID,
		Topic:    topic,
		Payload:  payload,
	}
}

// nullJSON maps empty metadata to NULL instead of the empty string, which
// jsonb rejects.
func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
