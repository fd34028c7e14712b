package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"opscore/internal/store"
)

// Default retry policy
const (
	MaxRetries     = 5
	StaleThreshold = 5 * time.Minute
)

// retryBackoff returns the delay before the next attempt.
// Exponential: 10s * 2^attempts.
func retryBackoff(attempts int) time.Duration {
	return time.Duration(10*(1<<attempts)) * time.Second
}

const selectJobColumns = `SELECT id, tenant_id, job_type, payload, status, priority, attempts, max_attempts,
	scheduled_at, claimed_by, heartbeat_at, started_at, finished_at, last_error, result, retried_from, created_at`

// Enqueue adds a job to the queue. Pass an open transaction to make the
// enqueue atomic with the caller's writes, or nil to run standalone.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	executor := s.getExecutor(tx)

	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = store.JobStatusPending
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = MaxRetries
	}
	now := time.Now().UTC()
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = now
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}

	query := `
		INSERT INTO jobs (id, tenant_id, job_type, payload, status, priority, max_attempts, scheduled_at, retried_from, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := executor.ExecContext(ctx, query,
		job.ID,
		job.TenantID,
		job.Type,
		nullJSON(job.Payload),
		job.Status,
		job.Priority,
		job.MaxAttempts,
		job.ScheduledAt,
		job.RetriedFrom,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}

	return nil
}

// ClaimBatch claims up to 'limit' due jobs atomically using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent workers never block on
// or double-claim each other's rows. Returns nil slice if nothing is due.
func (s *Store) ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int) ([]store.Job, error) {
	if limit <= 0 {
		limit = 1
	}

	// Claim selection, status flip, and attempt bump ride one transaction.
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	args := []interface{}{limit}
	whereClause := "WHERE status = 'pending' AND scheduled_at <= NOW()"

	if len(jobTypes) > 0 {
		whereClause += " AND job_type = ANY($2)"
		args = append(args, pq.Array(jobTypes))
	}

	selectQuery := fmt.Sprintf(`
		%s
		FROM jobs
		%s
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $1
	`, selectJobColumns, whereClause)

	rows, err := tx.QueryContext(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("batch claim query failed: %w", err)
	}
	defer rows.Close()

	var jobs []store.Job
	var jobIDs []uuid.UUID

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("batch claim scan failed: %w", err)
		}
		jobs = append(jobs, *job)
		jobIDs = append(jobIDs, job.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("batch claim rows error: %w", err)
	}

	// Empty queue
	if len(jobs) == 0 {
		return nil, nil
	}

	// Bulk transition to processing under this worker's claim.
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'processing', claimed_by = $1, attempts = attempts + 1,
			heartbeat_at = NOW(), started_at = COALESCE(started_at, NOW())
		WHERE id = ANY($2)
	`, workerID, pq.Array(jobIDs))
	if err != nil {
		return nil, fmt.Errorf("batch claim update failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	// Mirror the update into the returned copies.
	now := time.Now().UTC()
	for i := range jobs {
		jobs[i].Status = store.JobStatusProcessing
		jobs[i].ClaimedBy = &workerID
		jobs[i].Attempts++
		jobs[i].HeartbeatAt = &now
		if jobs[i].StartedAt == nil {
			jobs[i].StartedAt = &now
		}
	}

	return jobs, nil
}

// Complete finishes a job successfully and stores its result.
// Ownership is re-checked so a reclaimed job cannot be completed twice.
func (s *Store) Complete(ctx context.Context, jobID uuid.UUID, workerID string, result []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed', result = COALESCE($1, result), finished_at = NOW(), claimed_by = NULL, heartbeat_at = NULL
		WHERE id = $2 AND claimed_by = $3 AND status = 'processing'
	`, nullJSON(result), jobID, workerID)
	if err != nil {
		return err
	}
	return requireClaim(res)
}

// Fail records a failed attempt. With budget left the job goes back to
// pending at an exponentially backed-off time; otherwise it is parked in
// the dead letter queue for manual review.
func (s *Store) Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT tenant_id, job_type, payload, attempts, max_attempts
		FROM jobs
		WHERE id = $1 AND claimed_by = $2 AND status = 'processing'
		FOR UPDATE
	`, jobID, workerID)

	var tenantID uuid.UUID
	var jobType string
	var payload []byte
	var attempts, maxAttempts int
	if err := row.Scan(&tenantID, &jobType, &payload, &attempts, &maxAttempts); err != nil {
		if err == sql.ErrNoRows {
			return store.ErrStaleClaim
		}
		return err
	}

	if attempts < maxAttempts {
		// RETRY: Exponential Backoff (10s * 2^attempts)
		backoff := retryBackoff(attempts)
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs
			SET status = 'pending', scheduled_at = NOW() + ($1 * INTERVAL '1 second'),
				claimed_by = NULL, heartbeat_at = NULL, last_error = $2
			WHERE id = $3
		`, backoff.Seconds(), errMsg, jobID)
		if err != nil {
			return err
		}
		return tx.Commit()
	}

	// Budget exhausted: dead-letter the job.
	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'dead_letter', claimed_by = NULL, heartbeat_at = NULL,
			last_error = $1, finished_at = NOW()
		WHERE id = $2
	`, errMsg, jobID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO job_dlq (job_id, tenant_id, job_type, payload, error_message, attempts, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, jobID, tenantID, jobType, nullJSON(payload), errMsg, attempts)
	if err != nil {
		return fmt.Errorf("failed to dead-letter job %s: %w", jobID, err)
	}

	return tx.Commit()
}

// Heartbeat extends a processing job's claim.
func (s *Store) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET heartbeat_at = NOW()
		WHERE id = $1 AND claimed_by = $2 AND status = 'processing'
	`, jobID, workerID)
	if err != nil {
		return err
	}
	return requireClaim(res)
}

// CacheResult saves an intermediate result without finishing the job, so a
// retry after a later failure resumes past the already-done work.
func (s *Store) CacheResult(ctx context.Context, jobID uuid.UUID, workerID string, result []byte) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET result = $1, heartbeat_at = NOW()
		WHERE id = $2 AND claimed_by = $3 AND status = 'processing'
	`, nullJSON(result), jobID, workerID)
	if err != nil {
		return err
	}
	return requireClaim(res)
}

// ReclaimStale returns jobs whose worker stopped heartbeating to the
// pending pool. Attempts are preserved so a crash-looping job still runs
// out of budget and dead-letters.
func (s *Store) ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error) {
	if threshold <= 0 {
		threshold = StaleThreshold
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', claimed_by = NULL, heartbeat_at = NULL, scheduled_at = NOW(),
			last_error = CASE
				WHEN last_error IS NULL OR last_error = '' THEN 'reclaimed from stalled worker'
				ELSE last_error || '; reclaimed from stalled worker'
			END
		WHERE status = 'processing' AND heartbeat_at < NOW() - ($1 * INTERVAL '1 second')
	`, threshold.Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// GetJob returns a job by its ID.
func (s *Store) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*store.Job, error) {
	row := s.db.QueryRowContext(ctx,
		selectJobColumns+" FROM jobs WHERE id = $1 AND tenant_id = $2",
		jobID, tenantID,
	)
	return scanJob(row)
}

// ListJobs returns the tenant's jobs, newest first, optionally filtered by
// status.
func (s *Store) ListJobs(ctx context.Context, tenantID uuid.UUID, status store.JobStatus, limit, offset int) ([]store.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := selectJobColumns + " FROM jobs WHERE tenant_id = $1"
	args := []interface{}{tenantID}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []store.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// Count tracks count of claimable items in queue
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM jobs WHERE status = 'pending' AND scheduled_at <= NOW()",
	).Scan(&count)
	return count, err
}

// ListDLQ returns dead-lettered jobs for manual review, newest first.
func (s *Store) ListDLQ(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]store.DLQEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT id, job_id, tenant_id, job_type, payload, error_message, attempts, failed_at
		FROM job_dlq
		WHERE tenant_id = $1
		ORDER BY failed_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := s.db.QueryContext(ctx, query, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.DLQEntry
	for rows.Next() {
		var e store.DLQEntry
		if err := rows.Scan(
			&e.ID, &e.JobID, &e.TenantID, &e.JobType,
			&e.Payload, &e.ErrorMessage, &e.Attempts, &e.FailedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RetryFromDLQ re-enqueues a dead-lettered job as a fresh job with a reset
// attempt budget, pointing back at the original, and removes the DLQ entry.
// The original row is marked failed so it cannot be retried twice.
func (s *Store) RetryFromDLQ(ctx context.Context, tenantID, jobID uuid.UUID) (*store.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	query := `
		SELECT d.id, d.payload, j.job_type, j.priority, j.max_attempts
		FROM job_dlq d
		JOIN jobs j ON d.job_id = j.id
		WHERE d.job_id = $1 AND d.tenant_id = $2
		FOR UPDATE OF d
	`

	var dlqID int64
	var payload []byte
	var jobType string
	var priority, maxAttempts int
	err = tx.QueryRowContext(ctx, query, jobID, tenantID).Scan(&dlqID, &payload, &jobType, &priority, &maxAttempts)
	if err != nil {
		return nil, err
	}

	retry := &store.Job{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Type:        jobType,
		Payload:     payload,
		Status:      store.JobStatusPending,
		Priority:    priority,
		MaxAttempts: maxAttempts,
		ScheduledAt: time.Now().UTC(),
		RetriedFrom: &jobID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.Enqueue(ctx, tx, retry); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE jobs SET status = 'failed' WHERE id = $1 AND tenant_id = $2",
		jobID, tenantID,
	); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM job_dlq WHERE id = $1", dlqID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return retry, nil
}

// requireClaim converts a zero-row update into ErrStaleClaim.
func requireClaim(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrStaleClaim
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(r rowScanner) (*store.Job, error) {
	var job store.Job
	var payload, result []byte
	err := r.Scan(
		&job.ID, &job.TenantID, &job.Type, &payload,
		&job.Status, &job.Priority, &job.Attempts, &job.MaxAttempts,
		&job.ScheduledAt, &job.ClaimedBy, &job.HeartbeatAt,
		&job.StartedAt, &job.FinishedAt, &job.LastError,
		&result, &job.RetriedFrom, &job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Payload = payload
	job.Result = result
	return &job, nil
}
