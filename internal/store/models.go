// Package store contains the database layer for opscore.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Tenant represents a tenant in the multi-tenant system.
// All operations must be scoped by TenantID.
type Tenant struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time

	// Per-tenant API limits, read once per request and passed down as a
	// snapshot so a mid-flight change never splits one request's behavior.
	APIRateLimit int // requests per second against the HTTP API, 0 = unlimited
	APIRateBurst int
}

// SlotStatus represents the lifecycle state of a reservation slot.
type SlotStatus string

const (
	SlotStatusScheduled SlotStatus = "scheduled"
	SlotStatusConfirmed SlotStatus = "confirmed"
	SlotStatusCancelled SlotStatus = "cancelled"
)

// Active reports whether the slot still occupies its time window.
// Cancelled slots are kept for audit but no longer block bookings.
func (s SlotStatus) Active() bool {
	return s == SlotStatusScheduled || s == SlotStatusConfirmed
}

// ReservationSlot is one booked unit of (tenant, location, time, assignee).
// Rows are never hard-deleted; cancellation flips the status and keeps the
// row as the audit trail.
type ReservationSlot struct {
	ID        uuid.UUID
	TenantID  uuid.UUID
	Location  string
	Assignee  string // empty means "any available" and blocks the whole timestamp
	StartsAt  time.Time
	EndsAt    time.Time
	Status    SlotStatus
	OwnerRef  string // external reference of whoever holds the booking
	Channel   string // source channel: chat, voice, webhook, worker
	Metadata  []byte // opaque JSON supplied by the caller
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStatus represents the state of a queued job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusDeadLetter JobStatus = "dead_letter"
)

// Job is a unit of deferred work pulled by workers. A pending job whose
// ScheduledAt has passed is claimable; a processing job belongs to exactly
// one worker until completed, failed, or reclaimed as stale.
type Job struct {
	ID          uuid.UUID
	TenantID    uuid.UUID
	Type        string
	Payload     []byte
	Status      JobStatus
	Priority    int
	Attempts    int
	MaxAttempts int
	ScheduledAt time.Time
	ClaimedBy   *string
	HeartbeatAt *time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	LastError   *string
	// Result caches an intermediate payload (e.g. an expensive generated
	// report) so a retry after a downstream failure can resume instead of
	// recomputing from scratch.
	Result      []byte
	RetriedFrom *uuid.UUID
	CreatedAt   time.Time
}

// DLQEntry is a job that exhausted its retry budget and awaits manual review.
type DLQEntry struct {
	ID           int64
	JobID        uuid.UUID
	TenantID     uuid.UUID
	JobType      string
	Payload      []byte
	ErrorMessage *string
	Attempts     int
	FailedAt     time.Time
}

// RateWindow is one fixed counting window for an identifier. Count only ever
// moves through the store's atomic upsert-increment.
type RateWindow struct {
	TenantID    uuid.UUID
	Identifier  string
	WindowStart time.Time
	Count       int64
}

// BreakerState is the circuit breaker state for one dependency.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerPolicy holds the thresholds applied when a breaker record is first
// created. The stored values govern afterwards, so every concurrent caller
// observes the same configuration for the life of the record.
type BreakerPolicy struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
}

// DefaultBreakerPolicy returns the platform-wide defaults.
func DefaultBreakerPolicy() BreakerPolicy {
	return BreakerPolicy{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

// BreakerRecord is the persisted state machine for one (tenant, dependency).
type BreakerRecord struct {
	TenantID             uuid.UUID
	Dependency           string
	State                BreakerState
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	FailureThreshold     int
	SuccessThreshold     int
	Timeout              time.Duration
	OpenedAt             *time.Time
	LastError            *string
	UpdatedAt            time.Time
}

// ApplySuccess advances the state machine for a successful call.
// Returns true when the record changed and must be written back.
func (b *BreakerRecord) ApplySuccess() bool {
	switch b.State {
	case BreakerHalfOpen:
		b.ConsecutiveSuccesses++
		if b.ConsecutiveSuccesses >= b.SuccessThreshold {
			b.transition(BreakerClosed)
		}
		return true
	case BreakerClosed:
		if b.ConsecutiveFailures == 0 {
			return false
		}
		b.ConsecutiveFailures = 0
		return true
	default:
		// Success while open carries no signal; recovery goes through the
		// half-open probe path.
		return false
	}
}

// ApplyFailure advances the state machine for a failed call at time now.
func (b *BreakerRecord) ApplyFailure(errMsg string, now time.Time) {
	b.LastError = &errMsg
	switch b.State {
	case BreakerClosed:
		b.ConsecutiveFailures++
		if b.ConsecutiveFailures >= b.FailureThreshold {
			b.transition(BreakerOpen)
			b.OpenedAt = &now
		}
	case BreakerHalfOpen:
		// Any failure during probing re-opens immediately.
		b.transition(BreakerOpen)
		b.OpenedAt = &now
	case BreakerOpen:
		b.ConsecutiveFailures++
	}
}

// TryProbe answers "may a call proceed" for the current state. When the open
// timeout has elapsed it moves to half-open and allows the probe; the caller
// must persist the transition.
func (b *BreakerRecord) TryProbe(now time.Time) (allowed, changed bool) {
	switch b.State {
	case BreakerClosed, BreakerHalfOpen:
		return true, false
	default:
		if b.OpenedAt != nil && now.After(b.OpenedAt.Add(b.Timeout)) {
			b.transition(BreakerHalfOpen)
			return true, true
		}
		return false, false
	}
}

// transition switches states and resets both counters.
func (b *BreakerRecord) transition(to BreakerState) {
	b.State = to
	b.ConsecutiveFailures = 0
	b.ConsecutiveSuccesses = 0
	if to != BreakerOpen {
		b.OpenedAt = nil
	}
}

// BalanceAccount holds the cached balance for one (tenant, subject).
// CurrentBalance always equals the signed sum of the subject's non-expired
// ledger entries; the ledger is the source of truth.
type BalanceAccount struct {
	TenantID       uuid.UUID
	Subject        string
	CurrentBalance int64
	TotalEarned    int64
	TotalSpent     int64
	// EarnRateBP is the membership multiplier in basis points applied to
	// earn-type credits (10000 = 1.0x).
	EarnRateBP int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryTypeEarn   EntryType = "earn"   // multiplier applies
	EntryTypeBonus  EntryType = "bonus"  // flat credit
	EntryTypeRedeem EntryType = "redeem" // debit against a reward
	EntryTypeSpend  EntryType = "spend"  // generic debit
	EntryTypeAdjust EntryType = "adjust" // manual correction, either sign
)

// CreditType reports whether entries of this type add to the balance.
func (t EntryType) CreditType() bool {
	return t == EntryTypeEarn || t == EntryTypeBonus || t == EntryTypeAdjust
}

// LedgerEntry is one immutable line in the append-only balance log.
// Amount is signed: credits positive, debits negative. Expired credits are
// flagged in place rather than reversed with synthetic entries.
type LedgerEntry struct {
	ID             int64
	TenantID       uuid.UUID
	Subject        string
	Type           EntryType
	Amount         int64
	Reference      string
	IdempotencyKey *string
	ExpiresAt      *time.Time
	Expired        bool
	CreatedAt      time.Time
}

// Reward is a redeemable item with layered caps: physical stock, a global
// redemption ceiling, and a per-subject ceiling. All three are validated
// under the same serialization as the balance debit.
type Reward struct {
	TenantID      uuid.UUID
	ID            uuid.UUID
	Name          string
	Cost          int64
	Stock         int64 // remaining physical stock, -1 = unlimited
	TotalLimit    int64 // global redemption cap, -1 = unlimited
	PerUserLimit  int64 // per-subject redemption cap, -1 = unlimited
	RedeemedCount int64
	CreatedAt     time.Time
}

// OutboxStatus is the delivery state of an outbox event.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "pending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// OutboxEvent is written in the same transaction as the mutation it
// announces and published asynchronously by the worker, so external side
// effects never couple to a commit path.
type OutboxEvent struct {
	ID            int64
	TenantID      uuid.UUID
	Topic         string
	Payload       []byte
	Status        OutboxStatus
	Attempts      int
	NextAttemptAt time.Time
	CreatedAt     time.Time
	SentAt        *time.Time
}
