package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id       VARCHAR(36) PRIMARY KEY,
		email         VARCHAR(320) NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at    TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id         VARCHAR(36) PRIMARY KEY,
		owner_id       VARCHAR(36) NOT NULL,
		status         VARCHAR(16) NOT NULL CHECK (status IN ('processing', 'ready', 'failed')),
		artifact_ref   TEXT,
		payload        TEXT NOT NULL,
		failure_reason TEXT,
		created_at     TIMESTAMP NOT NULL,
		updated_at     TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_owner_created
		ON jobs (owner_id, created_at DESC, job_id DESC)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_counters (
		user_id         VARCHAR(36) PRIMARY KEY,
		request_count   INTEGER NOT NULL,
		window_reset_at BIGINT NOT NULL
	)`,
}

// Migrate creates the tables and indexes if they do not exist.
// The DDL is valid for both PostgreSQL and SQLite.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
