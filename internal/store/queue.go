// Package store contains the database layer for opscore.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queue defines the interface for job queue operations.
// Implementations must use SELECT ... FOR UPDATE SKIP LOCKED semantics so
// that claiming never blocks on or duplicates another worker's claim.
type Queue interface {
	// Enqueue adds a new job to the queue. It accepts an open transaction
	// so callers can make enqueueing atomic with their own writes; pass nil
	// to run standalone.
	Enqueue(ctx context.Context, tx DBTransaction, job *Job) error

	// ClaimBatch claims up to limit due jobs for workerID atomically.
	// Jobs come out highest priority first, oldest first within a priority.
	// Returns a nil slice if nothing is claimable.
	ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int) ([]Job, error)

	// Complete marks a job completed and stores its result payload.
	// Fails with ErrStaleClaim if workerID no longer owns the job.
	Complete(ctx context.Context, jobID uuid.UUID, workerID string, result []byte) error

	// Fail records a failed attempt. With budget remaining the job returns
	// to pending at an exponentially backed-off time; otherwise it moves to
	// the dead letter queue.
	Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string) error

	// Heartbeat extends the claim of a long-running job so the stale
	// reclaimer leaves it alone.
	Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) error

	// CacheResult saves an intermediate result on a processing job without
	// finishing it, so a later retry can resume past the expensive part.
	CacheResult(ctx context.Context, jobID uuid.UUID, workerID string, result []byte) error

	// ReclaimStale returns jobs stuck in processing beyond threshold to
	// pending, keeping their attempt counts and noting the recovery on the
	// job. Returns how many were reclaimed.
	ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error)

	// GetJob returns a job by its ID.
	GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*Job, error)

	// ListJobs returns the tenant's jobs, newest first.
	ListJobs(ctx context.Context, tenantID uuid.UUID, status JobStatus, limit, offset int) ([]Job, error)

	// Count tracks count of claimable items in queue
	Count(ctx context.Context) (int64, error)

	// ListDLQ returns dead-lettered jobs for manual review, newest first.
	ListDLQ(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]DLQEntry, error)

	// RetryFromDLQ re-enqueues a dead-lettered job as a fresh job pointing
	// back at the original, and removes the DLQ entry.
	RetryFromDLQ(ctx context.Context, tenantID, jobID uuid.UUID) (*Job, error)
}
