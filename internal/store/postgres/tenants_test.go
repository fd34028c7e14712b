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

func TestCreateTenant(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenant := &store.Tenant{
		ID:           uuid.New(),
		Name:         "acme",
		APIRateLimit: 100,
		APIRateBurst: 20,
		CreatedAt:    time.Now().UTC(),
	}

	mock.ExpectExec(`INSERT INTO tenants`).
		WithArgs(tenant.ID, "acme", "hashed-key", 100, 20, tenant.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.CreateTenant(context.Background(), tenant, "hashed-key"); err != nil {
		t.Fatalf("CreateTenant failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestGetTenantByID(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()

	mock.ExpectQuery(`FROM tenants WHERE id =`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "rate_limit", "rate_limit_burst", "created_at"}).
			AddRow(tenantID, "acme", 100, 20, time.Now().UTC()))

	tenant, err := s.GetTenantByID(context.Background(), tenantID)
	if err != nil {
		t.Fatalf("GetTenantByID failed: %v", err)
	}
	if tenant.Name != "acme" || tenant.APIRateLimit != 100 {
		t.Errorf("tenant not scanned: %+v", tenant)
	}
}

func TestGetTenantByAPIKeyHash(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	tenantID := uuid.New()

	mock.ExpectQuery(`FROM tenants WHERE api_key_hash =`).
		WithArgs("some-hash").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "rate_limit", "rate_limit_burst", "created_at"}).
			AddRow(tenantID, "acme", 100, 20, time.Now().UTC()))

	tenant, err := s.GetTenantByAPIKeyHash(context.Background(), "some-hash")
	if err != nil {
		t.Fatalf("GetTenantByAPIKeyHash failed: %v", err)
	}
	if tenant.ID != tenantID {
		t.Errorf("got tenant %v, want %v", tenant.ID, tenantID)
	}
}

func TestGetTenantByAPIKeyHash_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	defer s.db.Close()

	mock.ExpectQuery(`FROM tenants WHERE api_key_hash =`).
		WillReturnError(sql.ErrNoRows)

	if _, err := s.GetTenantByAPIKeyHash(context.Background(), "unknown"); err != sql.ErrNoRows {
		t.Errorf("got %v, want sql.ErrNoRows", err)
	}
}
