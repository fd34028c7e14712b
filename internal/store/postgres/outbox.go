package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"opscore/internal/store"
)

const (
	// outboxMaxAttempts parks an event as failed once delivery has been
	// retried this many times.
	outboxMaxAttempts = 10

	// outboxClaimWindow is how long a claimed event stays invisible to
	// other dispatchers before it becomes deliverable again.
	outboxClaimWindow = time.Minute
)

// AddOutboxEvent appends an event inside the caller's transaction, so the
// announcement commits or rolls back together with the mutation it
// describes.
func (s *Store) AddOutboxEvent(ctx context.Context, tx store.DBTransaction, ev *store.OutboxEvent) error {
	executor := s.getExecutor(tx)

	if ev.Status == "" {
		ev.Status = store.OutboxPending
	}
	now := time.Now().UTC()
	if ev.NextAttemptAt.IsZero() {
		ev.NextAttemptAt = now
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}

	err := executor.QueryRowContext(ctx, `
		INSERT INTO outbox_events (tenant_id, topic, payload, status, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, ev.TenantID, ev.Topic, nullJSON(ev.Payload), ev.Status, ev.NextAttemptAt, ev.CreatedAt).Scan(&ev.ID)
	if err != nil {
		return fmt.Errorf("failed to append outbox event: %w", err)
	}
	return nil
}

// ClaimOutbox locks and returns up to limit due events. Claimed rows are
// pushed one claim window into the future, so a dispatcher that dies
// mid-publish loses the claim instead of wedging the event.
func (s *Store) ClaimOutbox(ctx context.Context, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 10
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT id, tenant_id, topic, payload, status, attempts, next_attempt_at, created_at, sent_at
		FROM outbox_events
		WHERE status = 'pending' AND next_attempt_at <= NOW()
		ORDER BY id ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox claim query failed: %w", err)
	}
	defer rows.Close()

	var events []store.OutboxEvent
	var ids []int64
	for rows.Next() {
		var ev store.OutboxEvent
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.TenantID, &ev.Topic, &payload, &ev.Status,
			&ev.Attempts, &ev.NextAttemptAt, &ev.CreatedAt, &ev.SentAt); err != nil {
			return nil, fmt.Errorf("outbox claim scan failed: %w", err)
		}
		ev.Payload = payload
		events = append(events, ev)
		ids = append(ids, ev.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(events) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE outbox_events
		SET next_attempt_at = NOW() + ($1 * INTERVAL '1 second'), attempts = attempts + 1
		WHERE id = ANY($2)
	`, outboxClaimWindow.Seconds(), pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("outbox claim update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	for i := range events {
		events[i].Attempts++
	}
	return events, nil
}

// CountOutboxPending reports how many events are waiting for delivery,
// used by the backlog gauge.
func (s *Store) CountOutboxPending(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE status = 'pending'",
	).Scan(&count)
	return count, err
}

// MarkOutboxSent finalizes a delivered event.
func (s *Store) MarkOutboxSent(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE outbox_events SET status = 'sent', sent_at = NOW() WHERE id = $1",
		id,
	)
	return err
}

// MarkOutboxFailed schedules a redelivery with the queue's backoff curve,
// or parks the event as failed once attempts run out.
func (s *Store) MarkOutboxFailed(ctx context.Context, id int64, errMsg string) error {
	var attempts int
	err := s.db.QueryRowContext(ctx, "SELECT attempts FROM outbox_events WHERE id = $1", id).Scan(&attempts)
	if err != nil {
		return err
	}

	if attempts >= outboxMaxAttempts {
		_, err = s.db.ExecContext(ctx,
			"UPDATE outbox_events SET status = 'failed' WHERE id = $1",
			id,
		)
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET next_attempt_at = NOW() + ($1 * INTERVAL '1 second')
		WHERE id = $2
	`, retryBackoff(attempts).Seconds(), id)
	return err
}
