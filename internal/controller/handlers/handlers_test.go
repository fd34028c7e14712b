package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"opscore/internal/controller/middleware"
	"opscore/internal/store"

	"github.com/google/uuid"
)

// withTenant injects an authenticated tenant into the request context the
// same way the auth middleware does.
func withTenant(req *http.Request, tenantID uuid.UUID) *http.Request {
	ctx := middleware.NewContextWithTenant(req.Context(), &store.Tenant{ID: tenantID})
	return req.WithContext(ctx)
}

// Mock transaction
type mockTx struct{}

func (m *mockTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (m *mockTx) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (m *mockTx) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return nil
}

func (m *mockTx) Commit() error { return nil }

func (m *mockTx) Rollback() error { return nil }

// Mock Store
type mockStore struct {
	beginTxErr error
	pingErr    error

	// Tenant Hooks
	createTenantErr error

	// Slot Hooks
	bookSlotResp   *store.BookingResult
	bookSlotErr    error
	cancelSlotResp *store.ReservationSlot
	cancelSlotErr  error
	rescheduleResp *store.BookingResult
	rescheduleErr  error
	getSlotResp    *store.ReservationSlot
	getSlotErr     error
	listSlotsResp  []store.ReservationSlot
	listSlotsErr   error

	// Queue Hooks
	enqueueErr   error
	getJobResp   *store.Job
	getJobErr    error
	listJobsResp []store.Job
	listJobsErr  error
	listDLQResp  []store.DLQEntry
	listDLQErr   error
	retryDLQResp *store.Job
	retryDLQErr  error

	// Rate Limit Hooks
	allowResp *store.RateDecision
	allowErr  error

	// Breaker Hooks
	recordSuccessResp *store.BreakerRecord
	recordSuccessErr  error
	recordFailureResp *store.BreakerRecord
	recordFailureErr  error
	canProceedResp    *store.BreakerDecision
	canProceedErr     error
	resetBreakerResp  *store.BreakerRecord
	resetBreakerErr   error
	getBreakerResp    *store.BreakerRecord
	getBreakerErr     error
	listBreakersResp  []store.BreakerRecord
	listBreakersErr   error

	// Ledger Hooks
	creditResp      *store.LedgerResult
	creditErr       error
	debitResp       *store.LedgerResult
	debitErr        error
	redeemResp      *store.LedgerResult
	redeemErr       error
	getBalanceResp  *store.BalanceAccount
	getBalanceErr   error
	listEntriesResp []store.LedgerEntry
	listEntriesErr  error
	createRewardErr error
	listRewardsResp []store.Reward
	listRewardsErr  error

	// Spies (to verify arguments passed by handlers)
	capturedBookReq    store.BookSlotRequest
	capturedFilter     store.SlotFilter
	capturedJob        *store.Job
	capturedJobStatus  store.JobStatus
	capturedIdentifier string
	capturedRateLimit  int64
	capturedWindow     time.Duration
	capturedDependency string
	capturedBreakerErr string
	capturedCreditReq  store.CreditRequest
	capturedDebitReq   store.DebitRequest
	capturedRewardID   uuid.UUID
	capturedIdemKey    string
	capturedReward     *store.Reward
	capturedLimit      int
	capturedOffset     int
}

func (m *mockStore) BeginTx(ctx context.Context) (store.Tx, error) {
	if m.beginTxErr != nil {
		return nil, m.beginTxErr
	}
	return &mockTx{}, nil
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

// Tenants

func (m *mockStore) CreateTenant(ctx context.Context, tenant *store.Tenant, hashedKey string) error {
	return m.createTenantErr
}

func (m *mockStore) GetTenantByID(ctx context.Context, id uuid.UUID) (*store.Tenant, error) {
	return nil, nil // Not used in handlers
}

func (m *mockStore) GetTenantByAPIKeyHash(ctx context.Context, hash string) (*store.Tenant, error) {
	return nil, nil // Handled by Auth Middleware, not Handlers
}

// Slots

func (m *mockStore) BookSlot(ctx context.Context, req store.BookSlotRequest) (*store.BookingResult, error) {
	m.capturedBookReq = req
	return m.bookSlotResp, m.bookSlotErr
}

func (m *mockStore) CancelSlot(ctx context.Context, tenantID, slotID uuid.UUID, reason string) (*store.ReservationSlot, error) {
	return m.cancelSlotResp, m.cancelSlotErr
}

func (m *mockStore) RescheduleSlot(ctx context.Context, tenantID, slotID uuid.UUID, startsAt time.Time, duration time.Duration) (*store.BookingResult, error) {
	return m.rescheduleResp, m.rescheduleErr
}

func (m *mockStore) GetSlot(ctx context.Context, tenantID, slotID uuid.UUID) (*store.ReservationSlot, error) {
	return m.getSlotResp, m.getSlotErr
}

func (m *mockStore) ListSlots(ctx context.Context, tenantID uuid.UUID, filter store.SlotFilter) ([]store.ReservationSlot, error) {
	m.capturedFilter = filter
	return m.listSlotsResp, m.listSlotsErr
}

// Queue

func (m *mockStore) Enqueue(ctx context.Context, tx store.DBTransaction, job *store.Job) error {
	m.capturedJob = job
	return m.enqueueErr
}

func (m *mockStore) ClaimBatch(ctx context.Context, workerID string, jobTypes []string, limit int) ([]store.Job, error) {
	return nil, nil // Worker path, not used by handlers
}

func (m *mockStore) Complete(ctx context.Context, jobID uuid.UUID, workerID string, result []byte) error {
	return nil
}

func (m *mockStore) Fail(ctx context.Context, jobID uuid.UUID, workerID string, errMsg string) error {
	return nil
}

func (m *mockStore) Heartbeat(ctx context.Context, jobID uuid.UUID, workerID string) error {
	return nil
}

func (m *mockStore) CacheResult(ctx context.Context, jobID uuid.UUID, workerID string, result []byte) error {
	return nil
}

func (m *mockStore) ReclaimStale(ctx context.Context, threshold time.Duration) (int64, error) {
	return 0, nil
}

func (m *mockStore) GetJob(ctx context.Context, tenantID, jobID uuid.UUID) (*store.Job, error) {
	return m.getJobResp, m.getJobErr
}

func (m *mockStore) ListJobs(ctx context.Context, tenantID uuid.UUID, status store.JobStatus, limit, offset int) ([]store.Job, error) {
	m.capturedJobStatus = status
	m.capturedLimit = limit
	m.capturedOffset = offset
	return m.listJobsResp, m.listJobsErr
}

func (m *mockStore) Count(ctx context.Context) (int64, error) {
	return 0, nil
}

func (m *mockStore) ListDLQ(ctx context.Context, tenantID uuid.UUID, limit, offset int) ([]store.DLQEntry, error) {
	m.capturedLimit = limit
	m.capturedOffset = offset
	return m.listDLQResp, m.listDLQErr
}

func (m *mockStore) RetryFromDLQ(ctx context.Context, tenantID, jobID uuid.UUID) (*store.Job, error) {
	return m.retryDLQResp, m.retryDLQErr
}

// Rate limits

func (m *mockStore) Allow(ctx context.Context, tenantID uuid.UUID, identifier string, limit int64, window time.Duration) (*store.RateDecision, error) {
	m.capturedIdentifier = identifier
	m.capturedRateLimit = limit
	m.capturedWindow = window
	return m.allowResp, m.allowErr
}

func (m *mockStore) PruneWindows(ctx context.Context, keepFor time.Duration) (int64, error) {
	return 0, nil // Maintenance path, not used by handlers
}

// Breakers

func (m *mockStore) RecordSuccess(ctx context.Context, tenantID uuid.UUID, dependency string, policy store.BreakerPolicy) (*store.BreakerRecord, error) {
	m.capturedDependency = dependency
	return m.recordSuccessResp, m.recordSuccessErr
}

func (m *mockStore) RecordFailure(ctx context.Context, tenantID uuid.UUID, dependency, errMsg string, policy store.BreakerPolicy) (*store.BreakerRecord, error) {
	m.capturedDependency = dependency
	m.capturedBreakerErr = errMsg
	return m.recordFailureResp, m.recordFailureErr
}

func (m *mockStore) CanProceed(ctx context.Context, tenantID uuid.UUID, dependency string, policy store.BreakerPolicy) (*store.BreakerDecision, error) {
	m.capturedDependency = dependency
	return m.canProceedResp, m.canProceedErr
}

func (m *mockStore) ResetBreaker(ctx context.Context, tenantID uuid.UUID, dependency string) (*store.BreakerRecord, error) {
	m.capturedDependency = dependency
	return m.resetBreakerResp, m.resetBreakerErr
}

func (m *mockStore) GetBreaker(ctx context.Context, tenantID uuid.UUID, dependency string) (*store.BreakerRecord, error) {
	return m.getBreakerResp, m.getBreakerErr
}

func (m *mockStore) ListBreakers(ctx context.Context, tenantID uuid.UUID) ([]store.BreakerRecord, error) {
	return m.listBreakersResp, m.listBreakersErr
}

// Ledger

func (m *mockStore) Credit(ctx context.Context, req store.CreditRequest) (*store.LedgerResult, error) {
	m.capturedCreditReq = req
	return m.creditResp, m.creditErr
}

func (m *mockStore) Debit(ctx context.Context, req store.DebitRequest) (*store.LedgerResult, error) {
	m.capturedDebitReq = req
	return m.debitResp, m.debitErr
}

func (m *mockStore) RedeemReward(ctx context.Context, tenantID uuid.UUID, subject string, rewardID uuid.UUID, idempotencyKey string) (*store.LedgerResult, error) {
	m.capturedRewardID = rewardID
	m.capturedIdemKey = idempotencyKey
	return m.redeemResp, m.redeemErr
}

func (m *mockStore) GetBalance(ctx context.Context, tenantID uuid.UUID, subject string) (*store.BalanceAccount, error) {
	return m.getBalanceResp, m.getBalanceErr
}

func (m *mockStore) ListEntries(ctx context.Context, tenantID uuid.UUID, subject string, limit, offset int) ([]store.LedgerEntry, error) {
	m.capturedLimit = limit
	m.capturedOffset = offset
	return m.listEntriesResp, m.listEntriesErr
}

func (m *mockStore) ExpireCredits(ctx context.Context, batchSize int) (int64, error) {
	return 0, nil // Maintenance path, not used by handlers
}

func (m *mockStore) CreateReward(ctx context.Context, reward *store.Reward) error {
	m.capturedReward = reward
	return m.createRewardErr
}

func (m *mockStore) GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*store.Reward, error) {
	return nil, nil // Worker path, not used by handlers
}

func (m *mockStore) ListRewards(ctx context.Context, tenantID uuid.UUID) ([]store.Reward, error) {
	return m.listRewardsResp, m.listRewardsErr
}
