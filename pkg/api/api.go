// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// CreateTenantRequest is the request body for creating a new tenant.
type CreateTenantRequest struct {
	Name string `json:"name"`
	// RateLimit caps HTTP requests per second for the tenant, 0 = unlimited.
	RateLimit int `json:"rate_limit,omitempty"`
	Burst     int `json:"burst,omitempty"`
}

// CreateTenantResponse is the response body after creating a tenant.
// The API key is shown exactly once; only its hash is stored.
type CreateTenantResponse struct {
	ID     string `json:"tenant_id"`
	Name   string `json:"name"`
	ApiKey string `json:"api_key"`
}

// BookSlotRequest asks for one reservation slot.
type BookSlotRequest struct {
	Location string `json:"location"`
	// Assignee is who the booking is with; empty books "any available",
	// which holds the whole timestamp at the location.
	Assignee        string          `json:"assignee,omitempty"`
	StartsAt        time.Time       `json:"starts_at"`
	DurationMinutes int             `json:"duration_minutes,omitempty"`
	OwnerRef        string          `json:"owner_ref,omitempty"`
	Channel         string          `json:"channel,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

// SlotResponse represents a reservation slot in API responses.
type SlotResponse struct {
	ID        string          `json:"id"`
	Location  string          `json:"location"`
	Assignee  string          `json:"assignee,omitempty"`
	StartsAt  time.Time       `json:"starts_at"`
	EndsAt    time.Time       `json:"ends_at"`
	Status    string          `json:"status"`
	OwnerRef  string          `json:"owner_ref,omitempty"`
	Channel   string          `json:"channel,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SlotConflictInfo explains a refused booking and offers alternatives.
type SlotConflictInfo struct {
	Reason        string      `json:"reason"`
	ConflictingID string      `json:"conflicting_id,omitempty"`
	Suggestions   []time.Time `json:"suggestions,omitempty"`
}

// BookSlotResponse carries either the booked slot or the conflict.
type BookSlotResponse struct {
	Booked   bool              `json:"booked"`
	Slot     *SlotResponse     `json:"slot,omitempty"`
	Conflict *SlotConflictInfo `json:"conflict,omitempty"`
}

// RescheduleSlotRequest moves a slot to a new window.
type RescheduleSlotRequest struct {
	StartsAt        time.Time `json:"starts_at"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
}

// CancelSlotRequest optionally records why a slot was cancelled.
type CancelSlotRequest struct {
	Reason string `json:"reason,omitempty"`
}

// EnqueueJobRequest is the request body for queueing background work.
type EnqueueJobRequest struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// Priority must be between 0 and 100
	Priority    int        `json:"priority,omitempty"`
	MaxAttempts int        `json:"max_attempts,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
}

// EnqueueJobResponse is the response body after queueing a job.
type EnqueueJobResponse struct {
	JobID string `json:"job_id"`
}

// JobResponse represents a job in API responses.
type JobResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	FinishedAt  *time.Time      `json:"finished_at,omitempty"`
	LastError   *string         `json:"last_error,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	RetriedFrom *string         `json:"retried_from,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DLQEntryResponse represents a dead-lettered job.
type DLQEntryResponse struct {
	ID           int64     `json:"id"`
	JobID        string    `json:"job_id"`
	JobType      string    `json:"job_type"`
	ErrorMessage *string   `json:"error_message"`
	Attempts     int       `json:"attempts"`
	FailedAt     time.Time `json:"failed_at"`
}

// RetryDLQResponse is the response after re-enqueueing a DLQ entry.
type RetryDLQResponse struct {
	NewJobID string `json:"new_job_id"`
}

// RateCheckRequest counts one request against a durable fixed window.
type RateCheckRequest struct {
	Identifier    string `json:"identifier"`
	Limit         int64  `json:"limit"`
	WindowSeconds int    `json:"window_seconds,omitempty"`
}

// RateCheckResponse is the limiter's decision.
type RateCheckResponse struct {
	Allowed           bool      `json:"allowed"`
	Count             int64     `json:"count"`
	Limit             int64     `json:"limit"`
	WindowStart       time.Time `json:"window_start"`
	RetryAfterSeconds int       `json:"retry_after_seconds,omitempty"`
}

// BreakerCheckResponse is the breaker's admission decision.
type BreakerCheckResponse struct {
	Allowed           bool   `json:"allowed"`
	State             string `json:"state"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
}

// BreakerReportRequest records the outcome of a guarded call.
type BreakerReportRequest struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BreakerResponse represents a circuit breaker record.
type BreakerResponse struct {
	Dependency           string     `json:"dependency"`
	State                string     `json:"state"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	FailureThreshold     int        `json:"failure_threshold"`
	SuccessThreshold     int        `json:"success_threshold"`
	TimeoutSeconds       int        `json:"timeout_seconds"`
	OpenedAt             *time.Time `json:"opened_at,omitempty"`
	LastError            *string    `json:"last_error,omitempty"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// CreditRequest adds points to the balance of the subject in the URL.
type CreditRequest struct {
	// Type is earn (multiplier applies), bonus, or adjust. Defaults to earn.
	Type           string     `json:"type,omitempty"`
	Amount         int64      `json:"amount"`
	Reference      string     `json:"reference,omitempty"`
	IdempotencyKey string     `json:"idempotency_key,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
}

// DebitRequest removes points from the balance of the subject in the URL.
type DebitRequest struct {
	Amount         int64  `json:"amount"`
	Reference      string `json:"reference,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// LedgerEntryResponse is one immutable ledger line.
type LedgerEntryResponse struct {
	ID        int64      `json:"id"`
	Type      string     `json:"type"`
	Amount    int64      `json:"amount"`
	Reference string     `json:"reference,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Expired   bool       `json:"expired,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// DenialInfo says why a ledger mutation was refused.
type DenialInfo struct {
	Reason   string `json:"reason"`
	Balance  int64  `json:"balance"`
	Required int64  `json:"required,omitempty"`
}

// LedgerResultResponse is the outcome of a credit, debit, or redemption.
type LedgerResultResponse struct {
	Applied   bool                 `json:"applied"`
	Duplicate bool                 `json:"duplicate,omitempty"`
	Balance   int64                `json:"balance"`
	Entry     *LedgerEntryResponse `json:"entry,omitempty"`
	Denial    *DenialInfo          `json:"denial,omitempty"`
	Reward    *RewardResponse      `json:"reward,omitempty"`
}

// BalanceResponse is a subject's cached balance.
type BalanceResponse struct {
	Subject     string    `json:"subject"`
	Balance     int64     `json:"balance"`
	TotalEarned int64     `json:"total_earned"`
	TotalSpent  int64     `json:"total_spent"`
	EarnRateBP  int64     `json:"earn_rate_bp"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CreateRewardRequest registers a redeemable reward. Caps use -1 for
// unlimited.
type CreateRewardRequest struct {
	Name         string `json:"name"`
	Cost         int64  `json:"cost"`
	Stock        int64  `json:"stock"`
	TotalLimit   int64  `json:"total_limit"`
	PerUserLimit int64  `json:"per_user_limit"`
}

// RewardResponse represents a reward in API responses.
type RewardResponse struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Cost          int64  `json:"cost"`
	Stock         int64  `json:"stock"`
	TotalLimit    int64  `json:"total_limit"`
	PerUserLimit  int64  `json:"per_user_limit"`
	RedeemedCount int64  `json:"redeemed_count"`
}

// RedeemRequest redeems a reward for the subject in the URL.
type RedeemRequest struct {
	RewardID       string `json:"reward_id"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Priority levels for queued jobs
const (
	PriorityLow      = 0
	PriorityNormal   = 50
	PriorityHigh     = 75
	PriorityCritical = 100

	PriorityMin = 0
	PriorityMax = 100
)
