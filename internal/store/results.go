package store

import "time"

// Expected business outcomes (a taken slot, an empty balance, a tripped
// breaker) travel as typed results so callers branch on data instead of
// parsing error strings. Errors are reserved for faults.

// ConflictReason says why a booking could not be placed.
type ConflictReason string

const (
	// ConflictOverlap means an active slot overlaps the requested window.
	ConflictOverlap ConflictReason = "overlap"
	// ConflictDuplicate means the unique index rejected an exact duplicate
	// that raced past the overlap check.
	ConflictDuplicate ConflictReason = "duplicate"
)

// SlotConflict describes the collision and offers the nearest free
// alternatives so the caller can answer with options instead of a flat no.
type SlotConflict struct {
	Reason        ConflictReason
	ConflictingID string // ID of the blocking slot when known
	Suggestions   []time.Time
}

// BookingResult is the outcome of BookSlot or RescheduleSlot.
// Exactly one of Slot or Conflict is set.
type BookingResult struct {
	Booked   bool
	Slot     *ReservationSlot
	Conflict *SlotConflict
}

// RateDecision is the outcome of one rate limit check.
type RateDecision struct {
	Allowed     bool
	Count       int64 // count in the window including this request
	Limit       int64
	WindowStart time.Time
	// RetryAfter is how long until the next window opens; zero when allowed.
	RetryAfter time.Duration
}

// BreakerDecision is the outcome of CanProceed.
type BreakerDecision struct {
	Allowed bool
	State   BreakerState
	// RetryAfter estimates when an open breaker will admit a probe.
	RetryAfter time.Duration
}

// DenialReason says why a ledger mutation was refused.
type DenialReason string

const (
	DenialInsufficientFunds DenialReason = "insufficient_funds"
	DenialRewardOutOfStock  DenialReason = "reward_out_of_stock"
	DenialRewardGlobalCap   DenialReason = "reward_global_cap"
	DenialRewardPerUserCap  DenialReason = "reward_per_user_cap"
)

// LedgerDenial carries the refused mutation's numbers for the caller's
// error message.
type LedgerDenial struct {
	Reason   DenialReason
	Balance  int64
	Required int64
}

// LedgerResult is the outcome of Credit, Debit, or RedeemReward.
// Applied means an entry was written; Duplicate means the idempotency key
// matched an earlier entry, which is returned unchanged.
type LedgerResult struct {
	Applied   bool
	Duplicate bool
	Entry     *LedgerEntry
	Balance   int64
	Denial    *LedgerDenial
	Reward    *Reward // set by RedeemReward
}
