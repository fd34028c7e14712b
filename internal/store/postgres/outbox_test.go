package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"

	"opscore/internal/store"
)

var outboxCols = []string{
	"id", "tenant_id", "topic", "payload", "status", "attempts", "next_attempt_at", "created_at", "sent_at",
}

func TestAddOutboxEvent_FillsDefaults(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()

	mock.ExpectQuery(`INSERT INTO outbox_events`).
		WithArgs(tenantID, "slot.booked", []byte(`{"slot_id":"x"}`), store.OutboxPending, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	ev := &store.OutboxEvent{
		TenantID: tenantID,
		Topic:    "slot.booked",
		Payload:  []byte(`{"slot_id":"x"}`),
	}
	if err := s.AddOutboxEvent(context.Background(), nil, ev); err != nil {
		t.Fatalf("AddOutboxEvent failed: %v", err)
	}
	if ev.ID != 42 {
		t.Errorf("got id %d, want 42 from RETURNING", ev.ID)
	}
	if ev.Status != store.OutboxPending {
		t.Errorf("got status %q, want pending", ev.Status)
	}
	if ev.NextAttemptAt.IsZero() || ev.CreatedAt.IsZero() {
		t.Error("expected timestamp defaults")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClaimOutbox_Success(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WithArgs(10).
		WillReturnRows(sqlmock.NewRows(outboxCols).
			AddRow(int64(1), tenantID, "slot.booked", []byte(`{}`), "pending", 0, now, now, nil).
			AddRow(int64(2), tenantID, "balance.credited", []byte(`{}`), "pending", 1, now, now, nil))
	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(outboxClaimWindow.Seconds(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	events, err := s.ClaimOutbox(context.Background(), 10)
	if err != nil {
		t.Fatalf("ClaimOutbox failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Attempts != 1 || events[1].Attempts != 2 {
		t.Errorf("claim must mirror the attempt bump, got %d and %d", events[0].Attempts, events[1].Attempts)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClaimOutbox_Empty(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`FOR UPDATE SKIP LOCKED`).
		WillReturnRows(sqlmock.NewRows(outboxCols))
	mock.ExpectRollback()

	events, err := s.ClaimOutbox(context.Background(), 10)
	if err != nil {
		t.Errorf("expected no error on empty outbox, got %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected 0 events, got %d", len(events))
	}
}

func TestCountOutboxPending(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT COUNT`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := s.CountOutboxPending(context.Background())
	if err != nil {
		t.Fatalf("CountOutboxPending failed: %v", err)
	}
	if n != 4 {
		t.Errorf("got %d, want 4", n)
	}
}

func TestMarkOutboxSent(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectExec(`SET status = 'sent'`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkOutboxSent(context.Background(), 7); err != nil {
		t.Fatalf("MarkOutboxSent failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkOutboxFailed_Reschedules(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT attempts FROM outbox_events`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(2))
	mock.ExpectExec(`UPDATE outbox_events`).
		WithArgs(retryBackoff(2).Seconds(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkOutboxFailed(context.Background(), 7, "broker unreachable"); err != nil {
		t.Fatalf("MarkOutboxFailed failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkOutboxFailed_ParksAfterBudget(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT attempts FROM outbox_events`).
		WillReturnRows(sqlmock.NewRows([]string{"attempts"}).AddRow(outboxMaxAttempts))
	mock.ExpectExec(`SET status = 'failed'`).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkOutboxFailed(context.Background(), 7, "broker unreachable"); err != nil {
		t.Fatalf("MarkOutboxFailed failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestMarkOutboxFailed_UnknownEvent(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`SELECT attempts FROM outbox_events`).
		WillReturnError(sql.ErrNoRows)

	if err := s.MarkOutboxFailed(context.Background(), 99, "x"); err != sql.ErrNoRows {
		t.Errorf("got %v, want sql.ErrNoRows", err)
	}
}
