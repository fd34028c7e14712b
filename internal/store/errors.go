package store

import "errors"

var (
	// ErrLockTimeout means the advisory lock wait budget ran out. The
	// operation was never started and is safe to retry.
	ErrLockTimeout = errors.New("timed out waiting for resource lock")

	// ErrStaleClaim means a worker tried to finish a job it no longer owns,
	// usually because the stale reclaimer handed it to someone else.
	ErrStaleClaim = errors.New("job claim is no longer held by this worker")

	// ErrInvalidAmount rejects zero or negative ledger amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSlotInPast rejects bookings that start before now.
	ErrSlotInPast = errors.New("slot starts in the past")

	// ErrSlotNotActive rejects rescheduling a cancelled slot.
	ErrSlotNotActive = errors.New("slot is not active")

	// ErrDuplicateKey means an idempotency key raced in from a concurrent
	// request after the duplicate check; callers should re-read.
	ErrDuplicateKey = errors.New("idempotency key already used")
)
