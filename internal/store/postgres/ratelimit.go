package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"opscore/internal/store"
)

// DefaultRateWindow applies when a caller passes a zero window.
const DefaultRateWindow = time.Minute

// Allow counts one request for (tenant, identifier) in the current fixed
// window and decides against limit. The insert-or-increment and the count
// read are a single atomic statement, so concurrent callers across the
// whole fleet serialize on the row and none of them undercounts.
func (s *Store) Allow(ctx context.Context, tenantID uuid.UUID, identifier string, limit int64, window time.Duration) (*store.RateDecision, error) {
	if window <= 0 {
		window = DefaultRateWindow
	}

	now := time.Now().UTC()
	windowStart := now.Truncate(window)

	// Zero limit means the identifier is not limited; don't burn a row.
	if limit <= 0 {
		return &store.RateDecision{
			Allowed:     true,
			Limit:       limit,
			WindowStart: windowStart,
		}, nil
	}

	// Rejected requests still count: a client hammering past its limit
	// keeps its window saturated instead of sneaking through mid-window.
	query := `
		INSERT INTO rate_windows (tenant_id, identifier, window_start, count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (tenant_id, identifier, window_start)
		DO UPDATE SET count = rate_windows.count + 1
		RETURNING count
	`

	var count int64
	if err := s.db.QueryRowContext(ctx, query, tenantID, identifier, windowStart).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count rate window: %w", err)
	}

	decision := &store.RateDecision{
		Allowed:     count <= limit,
		Count:       count,
		Limit:       limit,
		WindowStart: windowStart,
	}
	if !decision.Allowed {
		decision.RetryAfter = windowStart.Add(window).Sub(now)
	}
	return decision, nil
}

// PruneWindows deletes counting windows older than keepFor. Expired windows
// only matter for post-hoc inspection, so the sweep can lag without
// affecting decisions.
func (s *Store) PruneWindows(ctx context.Context, keepFor time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM rate_windows WHERE window_start < NOW() - ($1 * INTERVAL '1 second')",
		keepFor.Seconds(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate windows: %w", err)
	}
	return res.RowsAffected()
}
