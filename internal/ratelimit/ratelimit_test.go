package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/invoice-service/internal/storage"
	"github.com/cuongbtq/invoice-service/shared/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteLimiter(t *testing.T, limit int, window time.Duration) *Limiter {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.Migrate(context.Background(), db))

	log := logger.NewNop().Logger
	return New(storage.NewStorage(db, log), Config{Limit: limit, Window: window, Logger: log})
}

func TestCheckAndConsume_SixthRequestDenied(t *testing.T) {
	l := newSQLiteLimiter(t, 5, time.Minute)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		d, err := l.CheckAndConsume(ctx, "user-a", t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 4-i, d.Remaining)
	}

	d, err := l.CheckAndConsume(ctx, "user-a", t0.Add(10*time.Second))
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 50, d.RetryAfterSeconds())

	d, err = l.CheckAndConsume(ctx, "user-a", t0.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 4, d.Remaining)
}

func TestCheckAndConsume_Concurrent(t *testing.T) {
	l := newSQLiteLimiter(t, 5, time.Minute)
	now := time.Now()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.CheckAndConsume(context.Background(), "user-a", now)
			if assert.NoError(t, err) && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(5), allowed.Load())
}

type failingStore struct{}

func (failingStore) ConsumeRateLimit(context.Context, string, time.Time, int, time.Duration) (storage.RateLimitResult, error) {
	return storage.RateLimitResult{}, errors.New("db down")
}

func TestCheckAndConsume_StoreErrorDoesNotAllow(t *testing.T) {
	l := New(failingStore{}, Config{Logger: logger.NewNop().Logger})

	d, err := l.CheckAndConsume(context.Background(), "user-a", time.Now())
	require.Error(t, err)
	assert.False(t, d.Allowed)
}

func TestNew_Defaults(t *testing.T) {
	l := New(failingStore{}, Config{})
	assert.Equal(t, DefaultLimit, l.Limit())
	assert.Equal(t, DefaultWindow, l.window)
}

func TestDecision_RetryAfterSeconds(t *testing.T) {
	tests := []struct {
		retryAfter time.Duration
		want       int
	}{
		{retryAfter: 30 * time.Second, want: 30},
		{retryAfter: 29500 * time.Millisecond, want: 30},
		{retryAfter: 10 * time.Millisecond, want: 1},
		{retryAfter: 0, want: 1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Decision{RetryAfter: tt.retryAfter}.RetryAfterSeconds())
	}
}
