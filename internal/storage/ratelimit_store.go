package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// RateLimitResult is the outcome of one ConsumeRateLimit call
type RateLimitResult struct {
	Allowed       bool
	Count         int
	WindowResetAt time.Time
}

type counterRow struct {
	Count         int   `db:"request_count"`
	WindowResetAt int64 `db:"window_reset_at"`
}

// ConsumeRateLimit records one request for userID against a fixed window.
//
// The whole decision is a single conditional upsert: a missing or expired
// counter starts a new window at count 1, a live counter below limit is
// incremented, and a live counter at limit is left untouched, in which case
// the statement returns no row.
func (s *Storage) ConsumeRateLimit(ctx context.Context, userID string, now time.Time, limit int, window time.Duration) (RateLimitResult, error) {
	nowMs := now.UnixMilli()
	newReset := now.Add(window).UnixMilli()

	query := s.db.Rebind(`
		INSERT INTO rate_limit_counters (user_id, request_count, window_reset_at)
		VALUES (?, 1, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			request_count = CASE
				WHEN rate_limit_counters.window_reset_at <= ? THEN 1
				ELSE rate_limit_counters.request_count + 1
			END,
			window_reset_at = CASE
				WHEN rate_limit_counters.window_reset_at <= ? THEN excluded.window_reset_at
				ELSE rate_limit_counters.window_reset_at
			END
		WHERE rate_limit_counters.window_reset_at <= ?
		   OR rate_limit_counters.request_count < ?
		RETURNING request_count, window_reset_at
	`)

	var row counterRow
	err := s.db.GetContext(ctx, &row, query, userID, newReset, nowMs, nowMs, nowMs, limit)
	if err == nil {
		return RateLimitResult{
			Allowed:       true,
			Count:         row.Count,
			WindowResetAt: time.UnixMilli(row.WindowResetAt).UTC(),
		}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return RateLimitResult{}, fmt.Errorf("failed to consume rate limit: %w", err)
	}

	// limit reached inside a live window
	query = s.db.Rebind(`
		SELECT request_count, window_reset_at
		FROM rate_limit_counters
		WHERE user_id = ?
	`)
	if err := s.db.GetContext(ctx, &row, query, userID); err != nil {
		return RateLimitResult{}, fmt.Errorf("failed to read rate limit counter: %w", err)
	}

	return RateLimitResult{
		Allowed:       false,
		Count:         row.Count,
		WindowResetAt: time.UnixMilli(row.WindowResetAt).UTC(),
	}, nil
}
