package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// Resource types partition the advisory lock namespace. Two operations
// contend only when tenant, type, and key all match.
const (
	ResourceSlot    = "slot"    // key: location
	ResourceBalance = "balance" // key: subject
	ResourceJob     = "job"     // key: job ID
)

// Locker serializes work on a logical resource using transaction-scoped
// advisory locks. The lock is released automatically when fn's transaction
// commits or rolls back, so there is no manual unlock path to forget.
type Locker interface {
	// WithResourceLock opens a transaction, blocks until the lock for
	// (tenantID, resourceType, key) is held or the wait budget runs out,
	// runs fn inside that transaction, then commits (or rolls back if fn
	// returned an error). A timed-out wait returns ErrLockTimeout.
	WithResourceLock(ctx context.Context, tenantID uuid.UUID, resourceType, key string, fn func(tx Tx) error) error
}

// TenantStore handles retrieving tenant information for authentication.
type TenantStore interface {
	// CreateTenant inserts a new tenant to the database
	CreateTenant(ctx context.Context, tenant *Tenant, hashedKey string) error

	// GetTenantByID returns a tenant by its ID.
	GetTenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error)

	// GetTenantByAPIKeyHash returns a tenant by its API key hash.
	GetTenantByAPIKeyHash(ctx context.Context, hash string) (*Tenant, error)
}

// BookSlotRequest carries everything needed to book one reservation slot.
type BookSlotRequest struct {
	TenantID uuid.UUID
	Location string
	Assignee string // empty requests "any available"
	StartsAt time.Time
	Duration time.Duration
	OwnerRef string
	Channel  string
	Metadata []byte
}

// SlotFilter narrows ListSlots. Zero values mean "no constraint".
type SlotFilter struct {
	Location string
	Assignee string
	Status   SlotStatus
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// SlotStore books and manages reservation slots. Booking operations
// serialize on the slot's resource key and never double-book a
// (location, time, assignee) combination.
type SlotStore interface {
	// BookSlot books a slot or reports the conflict with alternatives.
	BookSlot(ctx context.Context, req BookSlotRequest) (*BookingResult, error)

	// CancelSlot frees a slot's time window, keeping the row for audit.
	// Cancelling an already-cancelled slot is a no-op returning the slot.
	CancelSlot(ctx context.Context, tenantID, slotID uuid.UUID, reason string) (*ReservationSlot, error)

	// RescheduleSlot moves a slot to a new time under the same conflict
	// rules as booking; on conflict the slot keeps its original time.
	RescheduleSlot(ctx context.Context, tenantID, slotID uuid.UUID, startsAt time.Time, duration time.Duration) (*BookingResult, error)

	// GetSlot returns a slot by its ID.
	GetSlot(ctx context.Context, tenantID, slotID uuid.UUID) (*ReservationSlot, error)

	// ListSlots returns slots matching the filter, newest first.
	ListSlots(ctx context.Context, tenantID uuid.UUID, filter SlotFilter) ([]ReservationSlot, error)
}

// RateLimitStore implements durable fixed-window counting shared by every
// process in the fleet.
type RateLimitStore interface {
	// Allow counts one request for (tenantID, identifier) in the current
	// window and reports whether it fit under limit. The increment and the
	// read are a single atomic statement.
	Allow(ctx context.Context, tenantID uuid.UUID, identifier string, limit int64, window time.Duration) (*RateDecision, error)

	// PruneWindows deletes windows older than keepFor and returns how many
	// rows were removed.
	PruneWindows(ctx context.Context, keepFor time.Duration) (int64, error)
}

// BreakerStore persists per-dependency circuit breakers so every worker
// shares one view of a dependency's health.
type BreakerStore interface {
	// RecordSuccess registers a successful call, creating the record with
	// policy on first touch.
	RecordSuccess(ctx context.Context, tenantID uuid.UUID, dependency string, policy BreakerPolicy) (*BreakerRecord, error)

	// RecordFailure registers a failed call and opens the breaker when the
	// failure threshold is crossed.
	RecordFailure(ctx context.Context, tenantID uuid.UUID, dependency, errMsg string, policy BreakerPolicy) (*BreakerRecord, error)

	// CanProceed reports whether a call may go out. An open breaker whose
	// timeout has elapsed flips to half-open and admits the probe.
	CanProceed(ctx context.Context, tenantID uuid.UUID, dependency string, policy BreakerPolicy) (*BreakerDecision, error)

	// ResetBreaker forces the breaker closed with cleared counters.
	ResetBreaker(ctx context.Context, tenantID uuid.UUID, dependency string) (*BreakerRecord, error)

	// GetBreaker returns one breaker record without touching its state.
	GetBreaker(ctx context.Context, tenantID uuid.UUID, dependency string) (*BreakerRecord, error)

	// ListBreakers returns every breaker record for the tenant.
	ListBreakers(ctx context.Context, tenantID uuid.UUID) ([]BreakerRecord, error)
}

// CreditRequest adds points to a subject's balance.
type CreditRequest struct {
	TenantID       uuid.UUID
	Subject        string
	Type           EntryType // earn applies the membership multiplier
	Amount         int64
	Reference      string
	IdempotencyKey string     // optional, dedupes retried submissions
	ExpiresAt      *time.Time // optional credit expiry
}

// DebitRequest removes points from a subject's balance.
type DebitRequest struct {
	TenantID       uuid.UUID
	Subject        string
	Amount         int64 // positive, stored negated
	Reference      string
	IdempotencyKey string
}

// LedgerStore maintains append-only balance ledgers with a cached balance
// per (tenant, subject). Balances never go negative.
type LedgerStore interface {
	// Credit appends a credit entry and raises the cached balance. A reused
	// idempotency key returns the original outcome without a second entry.
	Credit(ctx context.Context, req CreditRequest) (*LedgerResult, error)

	// Debit appends a debit entry when funds suffice, otherwise returns a
	// denial carrying the shortfall. Nothing is written on denial.
	Debit(ctx context.Context, req DebitRequest) (*LedgerResult, error)

	// RedeemReward debits the reward's cost and consumes one unit of stock,
	// enforcing the reward's global and per-subject caps in the same
	// transaction.
	RedeemReward(ctx context.Context, tenantID uuid.UUID, subject string, rewardID uuid.UUID, idempotencyKey string) (*LedgerResult, error)

	// GetBalance returns the account for (tenantID, subject).
	GetBalance(ctx context.Context, tenantID uuid.UUID, subject string) (*BalanceAccount, error)

	// ListEntries returns the subject's ledger, newest first.
	ListEntries(ctx context.Context, tenantID uuid.UUID, subject string, limit, offset int) ([]LedgerEntry, error)

	// ExpireCredits retires entries whose expiry has passed, re-anchoring
	// each touched account's cached balance to the remaining ledger sum.
	// Returns the number of entries expired.
	ExpireCredits(ctx context.Context, batchSize int) (int64, error)

	// CreateReward registers a redeemable reward.
	CreateReward(ctx context.Context, reward *Reward) error

	// GetReward returns one reward.
	GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*Reward, error)

	// ListRewards returns the tenant's rewards.
	ListRewards(ctx context.Context, tenantID uuid.UUID) ([]Reward, error)
}

// OutboxStore appends events and hands pending ones to the dispatcher.
type OutboxStore interface {
	// AddOutboxEvent appends an event inside the caller's transaction so the
	// announcement commits with the mutation it describes; pass nil to run
	// standalone.
	AddOutboxEvent(ctx context.Context, tx DBTransaction, ev *OutboxEvent) error

	// ClaimOutbox locks and returns up to limit due events, skipping rows
	// already claimed by another dispatcher.
	ClaimOutbox(ctx context.Context, limit int) ([]OutboxEvent, error)

	// CountOutboxPending reports the undelivered backlog size.
	CountOutboxPending(ctx context.Context) (int64, error)

	// MarkOutboxSent finalizes a delivered event.
	MarkOutboxSent(ctx context.Context, id int64) error

	// MarkOutboxFailed schedules a redelivery, or parks the event as failed
	// once attempts are exhausted.
	MarkOutboxFailed(ctx context.Context, id int64, errMsg string) error
}
