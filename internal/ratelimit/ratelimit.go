package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cuongbtq/invoice-service/internal/storage"
)

const (
	DefaultLimit  = 5
	DefaultWindow = time.Minute
)

// CounterStore persists per-user fixed-window counters atomically
type CounterStore interface {
	ConsumeRateLimit(ctx context.Context, userID string, now time.Time, limit int, window time.Duration) (storage.RateLimitResult, error)
}

// Config holds limiter configuration
type Config struct {
	Limit  int
	Window time.Duration
	Logger *slog.Logger
}

// Decision is the result of one CheckAndConsume call
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, at least 1
func (d Decision) RetryAfterSeconds() int {
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Limiter enforces a fixed number of job submissions per user per window.
// Counters live in the shared database so every API instance sees the same state.
type Limiter struct {
	store  CounterStore
	limit  int
	window time.Duration
	logger *slog.Logger
}

// New creates a new Limiter, falling back to 5 requests per minute
func New(store CounterStore, config Config) *Limiter {
	if config.Limit <= 0 {
		config.Limit = DefaultLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Limiter{
		store:  store,
		limit:  config.Limit,
		window: config.Window,
		logger: config.Logger,
	}
}

// CheckAndConsume records one request for userID at now.
// A storage error is returned as-is; the caller must not treat it as allowed.
func (l *Limiter) CheckAndConsume(ctx context.Context, userID string, now time.Time) (Decision, error) {
	res, err := l.store.ConsumeRateLimit(ctx, userID, now, l.limit, l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}

	if !res.Allowed {
		retryAfter := res.WindowResetAt.Sub(now)
		l.logger.Warn("Rate limit exceeded",
			slog.String("user_id", userID),
			slog.Int("limit", l.limit),
			slog.Duration("retry_after", retryAfter),
		)
		return Decision{Allowed: false, RetryAfter: retryAfter}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: l.limit - res.Count,
	}, nil
}

// Limit returns the configured requests per window
func (l *Limiter) Limit() int {
	return l.limit
}
