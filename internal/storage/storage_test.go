package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/invoice-service/shared/logger"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/invoice-service/internal/domain"
)

type testClock struct {
	t time.Time
}

func (c *testClock) Now() time.Time { return c.t }

func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStorage(t *testing.T) (*Storage, *testClock) {
	t.Helper()

	db, err := sqlx.Open("sqlite3", "file::memory:?_busy_timeout=5000")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))

	clock := &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := NewStorage(db, logger.NewNop().Logger)
	s.now = clock.Now
	return s, clock
}

func samplePayload() domain.InvoicePayload {
	p := domain.InvoicePayload{
		ClientName: "Acme",
		LineItems: []domain.LineItem{
			{Description: "Widget", Quantity: decimal.NewFromInt(2), Rate: decimal.NewFromInt(10)},
		},
		Tax: decimal.NewFromInt(2),
	}
	p.Normalize()
	return p
}

func TestMigrate_Idempotent(t *testing.T) {
	s, _ := newTestStorage(t)
	require.NoError(t, Migrate(context.Background(), s.db))
}
