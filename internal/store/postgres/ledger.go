package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"opscore/internal/store"
)

// earnRateScale is the basis-point denominator for membership multipliers.
const earnRateScale = 10000

const selectEntryColumns = `SELECT id, tenant_id, subject, entry_type, amount, reference, idempotency_key, expires_at, expired, created_at`

// Credit appends a credit entry and raises the cached balance, all under
// the subject's resource lock. Earn credits are scaled by the account's
// membership multiplier. A reused idempotency key returns the original
// entry without writing a second one.
func (s *Store) Credit(ctx context.Context, req store.CreditRequest) (*store.LedgerResult, error) {
	if req.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}
	if req.Type == "" {
		req.Type = store.EntryTypeEarn
	}
	if !req.Type.CreditType() {
		return nil, fmt.Errorf("entry type %q is not a credit type", req.Type)
	}

	var result *store.LedgerResult
	err := s.WithResourceLock(ctx, req.TenantID, store.ResourceBalance, req.Subject, func(tx store.Tx) error {
		if dup, err := s.findDuplicate(ctx, tx, req.TenantID, req.Subject, req.IdempotencyKey); err != nil || dup != nil {
			result = dup
			return err
		}

		account, err := s.ensureAccount(ctx, tx, req.TenantID, req.Subject)
		if err != nil {
			return err
		}

		applied := req.Amount
		if req.Type == store.EntryTypeEarn {
			applied = req.Amount * account.EarnRateBP / earnRateScale
		}

		entry, err := s.insertEntry(ctx, tx, &store.LedgerEntry{
			TenantID:       req.TenantID,
			Subject:        req.Subject,
			Type:           req.Type,
			Amount:         applied,
			Reference:      req.Reference,
			IdempotencyKey: nullString(req.IdempotencyKey),
			ExpiresAt:      req.ExpiresAt,
		})
		if err != nil {
			return err
		}

		balance, err := s.applyToAccount(ctx, tx, req.TenantID, req.Subject, applied, 0)
		if err != nil {
			return err
		}

		if err := s.AddOutboxEvent(ctx, tx, outboxForLedger("balance.credited", entry, balance)); err != nil {
			return err
		}

		result = &store.LedgerResult{Applied: true, Entry: entry, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Debit appends a debit entry when the balance covers it. On a shortfall
// nothing is written and the result carries the numbers; the CHECK
// constraint on the account is the last line of defense, not the decider.
func (s *Store) Debit(ctx context.Context, req store.DebitRequest) (*store.LedgerResult, error) {
	if req.Amount <= 0 {
		return nil, store.ErrInvalidAmount
	}

	var result *store.LedgerResult
	err := s.WithResourceLock(ctx, req.TenantID, store.ResourceBalance, req.Subject, func(tx store.Tx) error {
		if dup, err := s.findDuplicate(ctx, tx, req.TenantID, req.Subject, req.IdempotencyKey); err != nil || dup != nil {
			result = dup
			return err
		}

		account, err := s.ensureAccount(ctx, tx, req.TenantID, req.Subject)
		if err != nil {
			return err
		}

		if account.CurrentBalance < req.Amount {
			result = &store.LedgerResult{
				Balance: account.CurrentBalance,
				Denial: &store.LedgerDenial{
					Reason:   store.DenialInsufficientFunds,
					Balance:  account.CurrentBalance,
					Required: req.Amount,
				},
			}
			return nil
		}

		entry, err := s.insertEntry(ctx, tx, &store.LedgerEntry{
			TenantID:       req.TenantID,
			Subject:        req.Subject,
			Type:           store.EntryTypeSpend,
			Amount:         -req.Amount,
			Reference:      req.Reference,
			IdempotencyKey: nullString(req.IdempotencyKey),
		})
		if err != nil {
			return err
		}

		balance, err := s.applyToAccount(ctx, tx, req.TenantID, req.Subject, -req.Amount, req.Amount)
		if err != nil {
			return err
		}

		if err := s.AddOutboxEvent(ctx, tx, outboxForLedger("balance.debited", entry, balance)); err != nil {
			return err
		}

		result = &store.LedgerResult{Applied: true, Entry: entry, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RedeemReward debits the reward's cost and consumes one unit of stock,
// validating stock, the global cap, the per-subject cap, and the balance
// inside one serialized transaction. The subject's advisory lock is always
// taken before the reward's row lock, which keeps concurrent redemptions
// deadlock-free.
func (s *Store) RedeemReward(ctx context.Context, tenantID uuid.UUID, subject string, rewardID uuid.UUID, idempotencyKey string) (*store.LedgerResult, error) {
	var result *store.LedgerResult
	err := s.WithResourceLock(ctx, tenantID, store.ResourceBalance, subject, func(tx store.Tx) error {
		if dup, err := s.findDuplicate(ctx, tx, tenantID, subject, idempotencyKey); err != nil || dup != nil {
			result = dup
			return err
		}

		reward, err := s.getRewardForUpdate(ctx, tx, tenantID, rewardID)
		if err != nil {
			return err
		}

		if denial := checkRewardCaps(reward); denial != nil {
			result = &store.LedgerResult{Denial: denial, Reward: reward}
			return nil
		}

		reference := rewardReference(reward.ID)
		if reward.PerUserLimit >= 0 {
			var redeemed int64
			err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM ledger_entries WHERE tenant_id = $1 AND subject = $2 AND entry_type = 'redeem' AND reference = $3",
				tenantID, subject, reference,
			).Scan(&redeemed)
			if err != nil {
				return fmt.Errorf("failed to count redemptions: %w", err)
			}
			if redeemed >= reward.PerUserLimit {
				result = &store.LedgerResult{
					Denial: &store.LedgerDenial{Reason: store.DenialRewardPerUserCap},
					Reward: reward,
				}
				return nil
			}
		}

		account, err := s.ensureAccount(ctx, tx, tenantID, subject)
		if err != nil {
			return err
		}
		if account.CurrentBalance < reward.Cost {
			result = &store.LedgerResult{
				Balance: account.CurrentBalance,
				Denial: &store.LedgerDenial{
					Reason:   store.DenialInsufficientFunds,
					Balance:  account.CurrentBalance,
					Required: reward.Cost,
				},
				Reward: reward,
			}
			return nil
		}

		entry, err := s.insertEntry(ctx, tx, &store.LedgerEntry{
			TenantID:       tenantID,
			Subject:        subject,
			Type:           store.EntryTypeRedeem,
			Amount:         -reward.Cost,
			Reference:      reference,
			IdempotencyKey: nullString(idempotencyKey),
		})
		if err != nil {
			return err
		}

		balance, err := s.applyToAccount(ctx, tx, tenantID, subject, -reward.Cost, reward.Cost)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE rewards
			SET redeemed_count = redeemed_count + 1,
				stock = CASE WHEN stock > 0 THEN stock - 1 ELSE stock END
			WHERE id = $1 AND tenant_id = $2
		`, reward.ID, tenantID)
		if err != nil {
			return fmt.Errorf("failed to consume reward stock: %w", err)
		}
		reward.RedeemedCount++
		if reward.Stock > 0 {
			reward.Stock--
		}

		ev := outboxForLedger("reward.redeemed", entry, balance)
		ev.Payload, _ = json.Marshal(map[string]any{
			"subject":   subject,
			"reward_id": reward.ID,
			"reward":    reward.Name,
			"cost":      reward.Cost,
			"balance":   balance,
		})
		if err := s.AddOutboxEvent(ctx, tx, ev); err != nil {
			return err
		}

		result = &store.LedgerResult{Applied: true, Entry: entry, Balance: balance, Reward: reward}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetBalance returns the account for (tenant, subject). Unknown subjects
// read as an empty account rather than an error.
func (s *Store) GetBalance(ctx context.Context, tenantID uuid.UUID, subject string) (*store.BalanceAccount, error) {
	account, err := s.loadAccount(ctx, s.db, tenantID, subject)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.BalanceAccount{TenantID: tenantID, Subject: subject, EarnRateBP: earnRateScale}, nil
	}
	return account, err
}

// ListEntries returns the subject's ledger, newest first.
func (s *Store) ListEntries(ctx context.Context, tenantID uuid.UUID, subject string, limit, offset int) ([]store.LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx,
		selectEntryColumns+" FROM ledger_entries WHERE tenant_id = $1 AND subject = $2 ORDER BY id DESC LIMIT $3 OFFSET $4",
		tenantID, subject, limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []store.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// ExpireCredits retires due credit entries in place and burns what is left
// of each from the cached balance. Already-spent credit is not clawed
// back, so the balance floor stays at zero. Each entry expires under its
// subject's resource lock, same as every other balance mutation.
func (s *Store) ExpireCredits(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, subject
		FROM ledger_entries
		WHERE expires_at IS NOT NULL AND NOT expired AND expires_at < NOW() AND amount > 0
		ORDER BY expires_at ASC
		LIMIT $1
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to scan expiring entries: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id       int64
		tenantID uuid.UUID
		subject  string
	}
	var due []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.tenantID, &c.subject); err != nil {
			return 0, err
		}
		due = append(due, c)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var expired int64
	for _, c := range due {
		err := s.WithResourceLock(ctx, c.tenantID, store.ResourceBalance, c.subject, func(tx store.Tx) error {
			// Re-check under the lock; a concurrent sweep may have won.
			var amount int64
			err := tx.QueryRowContext(ctx,
				"UPDATE ledger_entries SET expired = TRUE WHERE id = $1 AND NOT expired RETURNING amount",
				c.id,
			).Scan(&amount)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}

			_, err = tx.ExecContext(ctx, `
				UPDATE balance_accounts
				SET current_balance = GREATEST(0, current_balance - $1), updated_at = NOW()
				WHERE tenant_id = $2 AND subject = $3
			`, amount, c.tenantID, c.subject)
			if err != nil {
				return err
			}
			expired++
			return nil
		})
		if err != nil {
			return expired, fmt.Errorf("failed to expire entry %d: %w", c.id, err)
		}
	}
	return expired, nil
}

// CreateReward registers a redeemable reward.
func (s *Store) CreateReward(ctx context.Context, reward *store.Reward) error {
	if reward.ID == uuid.Nil {
		reward.ID = uuid.New()
	}
	if reward.CreatedAt.IsZero() {
		reward.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rewards (id, tenant_id, name, cost, stock, total_limit, per_user_limit, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, reward.ID, reward.TenantID, reward.Name, reward.Cost,
		reward.Stock, reward.TotalLimit, reward.PerUserLimit, reward.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reward: %w", err)
	}
	return nil
}

// GetReward returns one reward.
func (s *Store) GetReward(ctx context.Context, tenantID, rewardID uuid.UUID) (*store.Reward, error) {
	return scanReward(s.db.QueryRowContext(ctx,
		selectRewardColumns+" FROM rewards WHERE id = $1 AND tenant_id = $2",
		rewardID, tenantID,
	))
}

// ListRewards returns the tenant's rewards.
func (s *Store) ListRewards(ctx context.Context, tenantID uuid.UUID) ([]store.Reward, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRewardColumns+" FROM rewards WHERE tenant_id = $1 ORDER BY created_at DESC",
		tenantID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rewards []store.Reward
	for rows.Next() {
		r, err := scanReward(rows)
		if err != nil {
			return nil, err
		}
		rewards = append(rewards, *r)
	}
	return rewards, rows.Err()
}

// findDuplicate resolves an idempotency key to its original entry. A nil,
// nil return means the key is unused and the operation should proceed.
func (s *Store) findDuplicate(ctx context.Context, tx store.DBTransaction, tenantID uuid.UUID, subject, key string) (*store.LedgerResult, error) {
	if key == "" {
		return nil, nil
	}

	entry, err := scanEntry(tx.QueryRowContext(ctx,
		selectEntryColumns+" FROM ledger_entries WHERE tenant_id = $1 AND idempotency_key = $2",
		tenantID, key,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency key: %w", err)
	}

	account, err := s.loadAccount(ctx, tx, tenantID, subject)
	if errors.Is(err, sql.ErrNoRows) {
		account = &store.BalanceAccount{TenantID: tenantID, Subject: subject}
	} else if err != nil {
		return nil, err
	}

	return &store.LedgerResult{Duplicate: true, Entry: entry, Balance: account.CurrentBalance}, nil
}

// ensureAccount creates the account row on first touch and returns it.
func (s *Store) ensureAccount(ctx context.Context, tx store.DBTransaction, tenantID uuid.UUID, subject string) (*store.BalanceAccount, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balance_accounts (tenant_id, subject)
		VALUES ($1, $2)
		ON CONFLICT (tenant_id, subject) DO NOTHING
	`, tenantID, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure account: %w", err)
	}
	return s.loadAccount(ctx, tx, tenantID, subject)
}

func (s *Store) loadAccount(ctx context.Context, q store.DBTransaction, tenantID uuid.UUID, subject string) (*store.BalanceAccount, error) {
	var a store.BalanceAccount
	err := q.QueryRowContext(ctx, `
		SELECT tenant_id, subject, current_balance, total_earned, total_spent, earn_rate_bp, created_at, updated_at
		FROM balance_accounts
		WHERE tenant_id = $1 AND subject = $2
	`, tenantID, subject).Scan(
		&a.TenantID, &a.Subject, &a.CurrentBalance,
		&a.TotalEarned, &a.TotalSpent, &a.EarnRateBP,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// insertEntry appends one ledger line. A duplicate idempotency key that
// raced in from another subject's lock surfaces as ErrDuplicateKey for the
// caller to re-resolve.
func (s *Store) insertEntry(ctx context.Context, tx store.DBTransaction, entry *store.LedgerEntry) (*store.LedgerEntry, error) {
	entry.CreatedAt = time.Now().UTC()
	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (tenant_id, subject, entry_type, amount, reference, idempotency_key, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, entry.TenantID, entry.Subject, entry.Type, entry.Amount,
		entry.Reference, entry.IdempotencyKey, entry.ExpiresAt, entry.CreatedAt).Scan(&entry.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, store.ErrDuplicateKey
		}
		return nil, fmt.Errorf("failed to insert ledger entry: %w", err)
	}
	return entry, nil
}

// applyToAccount moves the cached balance by delta and returns the new
// balance. spent accumulates into total_spent for debits.
func (s *Store) applyToAccount(ctx context.Context, tx store.DBTransaction, tenantID uuid.UUID, subject string, delta, spent int64) (int64, error) {
	earned := int64(0)
	if delta > 0 {
		earned = delta
	}

	var balance int64
	err := tx.QueryRowContext(ctx, `
		UPDATE balance_accounts
		SET current_balance = current_balance + $1,
			total_earned = total_earned + $2,
			total_spent = total_spent + $3,
			updated_at = NOW()
		WHERE tenant_id = $4 AND subject = $5
		RETURNING current_balance
	`, delta, earned, spent, tenantID, subject).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("failed to update account balance: %w", err)
	}
	return balance, nil
}

func (s *Store) getRewardForUpdate(ctx context.Context, tx store.DBTransaction, tenantID, rewardID uuid.UUID) (*store.Reward, error) {
	return scanReward(tx.QueryRowContext(ctx,
		selectRewardColumns+" FROM rewards WHERE id = $1 AND tenant_id = $2 FOR UPDATE",
		rewardID, tenantID,
	))
}

// checkRewardCaps validates stock and the global ceiling. Per-subject
// checks need a query and happen at the call site.
func checkRewardCaps(reward *store.Reward) *store.LedgerDenial {
	if reward.Stock == 0 {
		return &store.LedgerDenial{Reason: store.DenialRewardOutOfStock}
	}
	if reward.TotalLimit >= 0 && reward.RedeemedCount >= reward.TotalLimit {
		return &store.LedgerDenial{Reason: store.DenialRewardGlobalCap}
	}
	return nil
}

func rewardReference(rewardID uuid.UUID) string {
	return "reward:" + rewardID.String()
}

const selectRewardColumns = `SELECT id, tenant_id, name, cost, stock, total_limit, per_user_limit, redeemed_count, created_at`

func scanReward(r rowScanner) (*store.Reward, error) {
	var reward store.Reward
	err := r.Scan(
		&reward.ID, &reward.TenantID, &reward.Name, &reward.Cost,
		&reward.Stock, &reward.TotalLimit, &reward.PerUserLimit,
		&reward.RedeemedCount, &reward.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reward, nil
}

func scanEntry(r rowScanner) (*store.LedgerEntry, error) {
	var e store.LedgerEntry
	err := r.Scan(
		&e.ID, &e.TenantID, &e.Subject, &e.Type, &e.Amount,
		&e.Reference, &e.IdempotencyKey, &e.ExpiresAt, &e.Expired, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// outboxForLedger builds the event announcing a balance change.
func outboxForLedger(topic string, entry *store.LedgerEntry, balance int64) *store.OutboxEvent {
	payload, _ := json.Marshal(map[string]any{
		"subject":    entry.Subject,
		"entry_type": entry.Type,
		"amount":     entry.Amount,
		"reference":  entry.Reference,
		"balance":    balance,
	})
	return &store.OutboxEvent{
		TenantID: entry.TenantID,
		Topic:    topic,
		Payload:  payload,
	}
}

// nullString maps "" to NULL for nullable text columns.
func nullString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
