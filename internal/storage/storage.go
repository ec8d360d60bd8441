package storage

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Storage handles all database operations for jobs, users and rate-limit counters
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
		now:    time.Now,
	}
}

// timestamp normalizes a time to what the TIMESTAMP columns can hold
func timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
