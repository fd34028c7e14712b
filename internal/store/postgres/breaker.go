package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"opscore/internal/store"
)

const selectBreakerColumns = `SELECT tenant_id, dependency, state, consecutive_failures, consecutive_successes,
	failure_threshold, success_threshold, timeout_seconds, opened_at, last_error, updated_at`

// RecordSuccess registers a successful call against the dependency's
// breaker. In half-open state enough successes close the circuit.
func (s *Store) RecordSuccess(ctx context.Context, tenantID uuid.UUID, dependency string, policy store.BreakerPolicy) (*store.BreakerRecord, error) {
	var record *store.BreakerRecord
	err := s.withBreaker(ctx, tenantID, dependency, policy, func(tx store.DBTransaction, b *store.BreakerRecord) error {
		if b.ApplySuccess() {
			if err := s.writeBreaker(ctx, tx, b); err != nil {
				return err
			}
		}
		record = b
		return nil
	})
	return record, err
}

// RecordFailure registers a failed call. Crossing the failure threshold, or
// any failure while half-open, opens the circuit.
func (s *Store) RecordFailure(ctx context.Context, tenantID uuid.UUID, dependency, errMsg string, policy store.BreakerPolicy) (*store.BreakerRecord, error) {
	var record *store.BreakerRecord
	err := s.withBreaker(ctx, tenantID, dependency, policy, func(tx store.DBTransaction, b *store.BreakerRecord) error {
		b.ApplyFailure(errMsg, time.Now().UTC())
		if err := s.writeBreaker(ctx, tx, b); err != nil {
			return err
		}
		record = b
		return nil
	})
	return record, err
}

// CanProceed reports whether a call to the dependency may go out. An open
// breaker past its timeout flips to half-open here and admits the probe;
// the row lock guarantees only one caller performs that flip.
func (s *Store) CanProceed(ctx context.Context, tenantID uuid.UUID, dependency string, policy store.BreakerPolicy) (*store.BreakerDecision, error) {
	var decision *store.BreakerDecision
	err := s.withBreaker(ctx, tenantID, dependency, policy, func(tx store.DBTransaction, b *store.BreakerRecord) error {
		now := time.Now().UTC()
		allowed, changed := b.TryProbe(now)
		if changed {
			if err := s.writeBreaker(ctx, tx, b); err != nil {
				return err
			}
		}

		decision = &store.BreakerDecision{Allowed: allowed, State: b.State}
		if !allowed && b.OpenedAt != nil {
			decision.RetryAfter = b.OpenedAt.Add(b.Timeout).Sub(now)
		}
		return nil
	})
	return decision, err
}

// ResetBreaker forces the breaker closed with cleared counters, the manual
// escape hatch after a dependency is fixed out of band.
func (s *Store) ResetBreaker(ctx context.Context, tenantID uuid.UUID, dependency string) (*store.BreakerRecord, error) {
	var record *store.BreakerRecord
	err := s.withBreaker(ctx, tenantID, dependency, store.DefaultBreakerPolicy(), func(tx store.DBTransaction, b *store.BreakerRecord) error {
		b.State = store.BreakerClosed
		b.ConsecutiveFailures = 0
		b.ConsecutiveSuccesses = 0
		b.OpenedAt = nil
		b.LastError = nil
		if err := s.writeBreaker(ctx, tx, b); err != nil {
			return err
		}
		record = b
		return nil
	})
	return record, err
}

// GetBreaker returns one breaker record without touching its state.
func (s *Store) GetBreaker(ctx context.Context, tenantID uuid.UUID, dependency string) (*store.BreakerRecord, error) {
	row := s.db.QueryRowContext(ctx,
		selectBreakerColumns+" FROM circuit_breakers WHERE tenant_id = $1 AND dependency = $2",
		tenantID, dependency,
	)
	return scanBreaker(row)
}

// ListBreakers returns every breaker record for the tenant.
func (s *Store) ListBreakers(ctx context.Context, tenantID uuid.UUID) ([]store.BreakerRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectBreakerColumns+" FROM circuit_breakers WHERE tenant_id = $1 ORDER BY dependency ASC",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []store.BreakerRecord
	for rows.Next() {
		b, err := scanBreaker(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *b)
	}
	return records, rows.Err()
}

// withBreaker runs fn against the row for (tenant, dependency) locked FOR
// UPDATE, creating it with the policy's thresholds on first touch. The row
// lock serializes every state transition for the dependency.
func (s *Store) withBreaker(ctx context.Context, tenantID uuid.UUID, dependency string, policy store.BreakerPolicy, fn func(tx store.DBTransaction, b *store.BreakerRecord) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO circuit_breakers (tenant_id, dependency, state, failure_threshold, success_threshold, timeout_seconds)
		VALUES ($1, $2, 'closed', $3, $4, $5)
		ON CONFLICT (tenant_id, dependency) DO NOTHING
	`, tenantID, dependency, policy.FailureThreshold, policy.SuccessThreshold, int64(policy.Timeout.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to ensure breaker row: %w", err)
	}

	row := tx.QueryRowContext(ctx,
		selectBreakerColumns+" FROM circuit_breakers WHERE tenant_id = $1 AND dependency = $2 FOR UPDATE",
		tenantID, dependency,
	)
	b, err := scanBreaker(row)
	if err != nil {
		return fmt.Errorf("failed to load breaker: %w", err)
	}

	if err := fn(tx, b); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Store) writeBreaker(ctx context.Context, tx store.DBTransaction, b *store.BreakerRecord) error {
	b.UpdatedAt = time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE circuit_breakers
		SET state = $1, consecutive_failures = $2, consecutive_successes = $3,
			opened_at = $4, last_error = $5, updated_at = $6
		WHERE tenant_id = $7 AND dependency = $8
	`, b.State, b.ConsecutiveFailures, b.ConsecutiveSuccesses,
		b.OpenedAt, b.LastError, b.UpdatedAt, b.TenantID, b.Dependency)
	if err != nil {
		return fmt.Errorf("failed to write breaker: %w", err)
	}
	return nil
}

func scanBreaker(r rowScanner) (*store.BreakerRecord, error) {
	var b store.BreakerRecord
	var timeoutSeconds int64
	err := r.Scan(
		&b.TenantID, &b.Dependency, &b.State,
		&b.ConsecutiveFailures, &b.ConsecutiveSuccesses,
		&b.FailureThreshold, &b.SuccessThreshold, &timeoutSeconds,
		&b.OpenedAt, &b.LastError, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.Timeout = time.Duration(timeoutSeconds) * time.Second
	return &b, nil
}
