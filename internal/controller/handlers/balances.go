package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"opscore/internal/controller/middleware"
	"opscore/internal/store"
	"opscore/pkg/api"
	"time"

	"github.com/google/uuid"
)

// Credit handles POST /balances/{subject}/credit.
// Earn-type credits are scaled by the account's membership multiplier;
// a reused idempotency key replays the original outcome.
func (h *Handlers) Credit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := r.PathValue("subject")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	entryType := store.EntryTypeEarn
	if req.Type != "" {
		entryType = store.EntryType(req.Type)
		if !entryType.CreditType() {
			h.httpError(w, "Type must be earn, bonus, or adjust", http.StatusBadRequest)
			return
		}
	}

	result, err := h.store.Credit(ctx, store.CreditRequest{
		TenantID:       tenantID,
		Subject:        subject,
		Type:           entryType,
		Amount:         req.Amount,
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
		ExpiresAt:      req.ExpiresAt,
	})
	if err != nil {
		h.ledgerError(w, err)
		return
	}

	h.respondJson(w, ledgerStatus(result), ledgerResultResponse(result))
}

// Debit handles POST /balances/{subject}/debit.
// Insufficient funds come back as 409 with the shortfall; nothing is
// written in that case.
func (h *Handlers) Debit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := r.PathValue("subject")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.DebitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	result, err := h.store.Debit(ctx, store.DebitRequest{
		TenantID:       tenantID,
		Subject:        subject,
		Amount:         req.Amount,
		Reference:      req.Reference,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		h.ledgerError(w, err)
		return
	}

	h.respondJson(w, ledgerStatus(result), ledgerResultResponse(result))
}

// Redeem handles POST /balances/{subject}/redeem.
// Cost, stock, and both redemption caps are checked in one transaction,
// so a reward can never be oversold.
func (h *Handlers) Redeem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := r.PathValue("subject")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rewardID, err := uuid.Parse(req.RewardID)
	if err != nil {
		h.httpError(w, "Invalid reward id", http.StatusBadRequest)
		return
	}

	result, err := h.store.RedeemReward(ctx, tenantID, subject, rewardID, req.IdempotencyKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.httpError(w, "Reward not found", http.StatusNotFound)
			return
		}
		h.ledgerError(w, err)
		return
	}

	h.respondJson(w, ledgerStatus(result), ledgerResultResponse(result))
}

// GetBalance handles GET /balances/{subject}.
// Unknown subjects read as zero balance rather than 404; an account only
// materializes on its first credit.
func (h *Handlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := r.PathValue("subject")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	account, err := h.store.GetBalance(ctx, tenantID, subject)
	if err != nil {
		h.httpError(w, "Failed to load balance", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.BalanceResponse{
		Subject:     account.Subject,
		Balance:     account.CurrentBalance,
		TotalEarned: account.TotalEarned,
		TotalSpent:  account.TotalSpent,
		EarnRateBP:  account.EarnRateBP,
		UpdatedAt:   account.UpdatedAt,
	})
}

// ListLedger handles GET /balances/{subject}/ledger.
func (h *Handlers) ListLedger(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	subject := r.PathValue("subject")

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	limit, offset := parseLimitOffset(r, 50)

	entries, err := h.store.ListEntries(ctx, tenantID, subject, limit, offset)
	if err != nil {
		h.httpError(w, "Failed to list ledger entries", http.StatusInternalServerError)
		return
	}

	resp := make([]api.LedgerEntryResponse, 0, len(entries))
	for i := range entries {
		resp = append(resp, ledgerEntryResponse(&entries[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// CreateReward handles POST /rewards (Admin surface).
func (h *Handlers) CreateReward(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var req api.CreateRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.Cost <= 0 {
		h.httpError(w, "Name and a positive cost are required", http.StatusBadRequest)
		return
	}

	reward := &store.Reward{
		TenantID:     tenantID,
		ID:           uuid.New(),
		Name:         req.Name,
		Cost:         req.Cost,
		Stock:        req.Stock,
		TotalLimit:   req.TotalLimit,
		PerUserLimit: req.PerUserLimit,
		CreatedAt:    time.Now().UTC(),
	}

	if err := h.store.CreateReward(ctx, reward); err != nil {
		h.httpError(w, "Failed to create reward", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusCreated, rewardResponse(reward))
}

// ListRewards handles GET /rewards.
func (h *Handlers) ListRewards(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		h.httpError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	rewards, err := h.store.ListRewards(ctx, tenantID)
	if err != nil {
		h.httpError(w, "Failed to list rewards", http.StatusInternalServerError)
		return
	}

	resp := make([]api.RewardResponse, 0, len(rewards))
	for i := range rewards {
		resp = append(resp, rewardResponse(&rewards[i]))
	}
	h.respondJson(w, http.StatusOK, resp)
}

// ledgerError maps ledger store errors to HTTP statuses.
func (h *Handlers) ledgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrInvalidAmount):
		h.httpError(w, "Amount must be positive", http.StatusBadRequest)
	case errors.Is(err, store.ErrLockTimeout):
		w.Header().Set("Retry-After", "1")
		h.httpError(w, "Resource busy, retry later", http.StatusServiceUnavailable)
	default:
		h.httpError(w, "Internal error", http.StatusInternalServerError)
	}
}

// ledgerStatus picks the HTTP status for a ledger outcome: applied and
// replayed results are 200, denials 409.
func ledgerStatus(res *store.LedgerResult) int {
	if res.Denial != nil {
		return http.StatusConflict
	}
	return http.StatusOK
}

func ledgerResultResponse(res *store.LedgerResult) api.LedgerResultResponse {
	resp := api.LedgerResultResponse{
		Applied:   res.Applied,
		Duplicate: res.Duplicate,
		Balance:   res.Balance,
	}
	if res.Entry != nil {
		e := ledgerEntryResponse(res.Entry)
		resp.Entry = &e
	}
	if res.Denial != nil {
		resp.Denial = &api.DenialInfo{
			Reason:   string(res.Denial.Reason),
			Balance:  res.Denial.Balance,
			Required: res.Denial.Required,
		}
	}
	if res.Reward != nil {
		rw := rewardResponse(res.Reward)
		resp.Reward = &rw
	}
	return resp
}

func ledgerEntryResponse(e *store.LedgerEntry) api.LedgerEntryResponse {
	return api.LedgerEntryResponse{
		ID:        e.ID,
		Type:      string(e.Type),
		Amount:    e.Amount,
		Reference: e.Reference,
		ExpiresAt: e.ExpiresAt,
		Expired:   e.Expired,
		CreatedAt: e.CreatedAt,
	}
}

func rewardResponse(rw *store.Reward) api.RewardResponse {
	return api.RewardResponse{
		ID:            rw.ID.String(),
		Name:          rw.Name,
		Cost:          rw.Cost,
		Stock:         rw.Stock,
		TotalLimit:    rw.TotalLimit,
		PerUserLimit:  rw.PerUserLimit,
		RedeemedCount: rw.RedeemedCount,
	}
}
