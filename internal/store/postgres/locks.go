package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"opscore/internal/store"
)

const (
	// defaultLockWait bounds advisory lock waits so a wedged holder turns
	// into a retryable timeout instead of a stuck request.
	defaultLockWait = 5 * time.Second

	// pqLockNotAvailable is the SQLSTATE raised when lock_timeout expires.
	pqLockNotAvailable = "55P03"

	// pqUniqueViolation is the SQLSTATE for unique constraint violations.
	pqUniqueViolation = "23505"
)

// lockKey folds (tenant, resourceType, key) into the signed 64-bit space
// Postgres advisory locks use. The top bit is masked off so keys stay
// positive, which keeps them out of the range some extensions claim.
// Collisions between distinct resources are acceptable: they cause extra
// serialization, never lost mutual exclusion.
func lockKey(tenantID uuid.UUID, resourceType, key string) int64 {
	h := fnv.New64a()
	h.Write(tenantID[:])
	h.Write([]byte{0})
	h.Write([]byte(resourceType))
	h.Write([]byte{0})
	h.Write([]byte(key))
	return int64(h.Sum64() & 0x7FFFFFFFFFFFFFFF)
}

// acquireResourceLock takes the transaction-scoped advisory lock for the
// resource, blocking up to the store's lock wait. The lock rides the
// transaction: commit or rollback releases it, so there is no unlock path.
func (s *Store) acquireResourceLock(ctx context.Context, tx store.DBTransaction, tenantID uuid.UUID, resourceType, key string) error {
	// SET LOCAL confines the timeout to this transaction.
	timeoutQuery := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockWait.Milliseconds())
	if _, err := tx.ExecContext(ctx, timeoutQuery); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock($1)", lockKey(tenantID, resourceType, key)); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqLockNotAvailable {
			return store.ErrLockTimeout
		}
		return fmt.Errorf("failed to acquire resource lock: %w", err)
	}

	return nil
}

// WithResourceLock opens a transaction, serializes on the resource's
// advisory lock, and runs fn inside that transaction. fn's error rolls
// everything back; otherwise the transaction commits and the lock drops.
func (s *Store) WithResourceLock(ctx context.Context, tenantID uuid.UUID, resourceType, key string, fn func(tx store.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.acquireResourceLock(ctx, tx, tenantID, resourceType, key); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}
