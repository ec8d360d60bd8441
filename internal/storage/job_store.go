package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/google/uuid"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

const jobColumns = `job_id, owner_id, status, artifact_ref, payload, failure_reason, created_at, updated_at`

type jobRow struct {
	JobID         string         `db:"job_id"`
	OwnerID       string         `db:"owner_id"`
	Status        string         `db:"status"`
	ArtifactRef   sql.NullString `db:"artifact_ref"`
	Payload       string         `db:"payload"`
	FailureReason sql.NullString `db:"failure_reason"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

func (r *jobRow) toDomain() (*domain.Job, error) {
	status, err := domain.ParseJobStatus(r.Status)
	if err != nil {
		return nil, err
	}

	payload, err := domain.UnmarshalInvoicePayload(r.Payload)
	if err != nil {
		return nil, err
	}

	return &domain.Job{
		ID:            r.JobID,
		OwnerID:       r.OwnerID,
		Status:        status,
		ArtifactRef:   r.ArtifactRef.String,
		Payload:       payload,
		FailureReason: r.FailureReason.String,
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}, nil
}

// JobFilter narrows ListJobsByOwner
type JobFilter struct {
	Status   domain.JobStatus
	PageSize int
	Cursor   *JobCursor
}

// JobPage is one page of an owner's jobs. NextCursor is empty on the last page.
type JobPage struct {
	Jobs       []*domain.Job
	NextCursor string
}

// CreateJob inserts a new job in the processing state
func (s *Storage) CreateJob(ctx context.Context, ownerID string, payload domain.InvoicePayload) (*domain.Job, error) {
	raw, err := payload.Marshal()
	if err != nil {
		return nil, err
	}

	now := timestamp(s.now())
	job := &domain.Job{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Status:    domain.JobStatusProcessing,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := s.db.Rebind(`
		INSERT INTO jobs (
			job_id, owner_id, status, payload, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`)

	_, err = s.db.ExecContext(ctx, query,
		job.ID,
		job.OwnerID,
		string(job.Status),
		raw,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info("Job created",
		slog.String("job_id", job.ID),
		slog.String("owner_id", ownerID),
	)

	return job, nil
}

// GetJob returns the job only if it belongs to ownerID.
// Missing, foreign and malformed ids all yield domain.ErrJobNotFound.
func (s *Storage) GetJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ? AND owner_id = ?`)
	return s.getJob(ctx, query, jobID, ownerID)
}

// GetJobByID loads a job regardless of owner; used by the runner
func (s *Storage) GetJobByID(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrJobNotFound
	}

	query := s.db.Rebind(`SELECT ` + jobColumns + ` FROM jobs WHERE job_id = ?`)
	return s.getJob(ctx, query, jobID)
}

func (s *Storage) getJob(ctx context.Context, query string, args ...any) (*domain.Job, error) {
	var row jobRow
	if err := s.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return row.toDomain()
}

// ListJobsByOwner returns the owner's jobs newest first, ties broken by id descending
func (s *Storage) ListJobsByOwner(ctx context.Context, ownerID string, filter JobFilter) (*JobPage, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}

	query := `SELECT ` + jobColumns + ` FROM jobs WHERE owner_id = ?`
	args := []any{ownerID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}

	if filter.Cursor != nil {
		query += ` AND (created_at, job_id) < (?, ?)`
		args = append(args, timestamp(filter.Cursor.CreatedAt), filter.Cursor.JobID)
	}

	// one extra row tells us whether another page exists
	query += ` ORDER BY created_at DESC, job_id DESC LIMIT ?`
	args = append(args, pageSize+1)

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	page := &JobPage{Jobs: make([]*domain.Job, 0, len(rows))}
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		last := rows[len(rows)-1]
		page.NextCursor = EncodeJobCursor(&JobCursor{CreatedAt: last.CreatedAt, JobID: last.JobID})
	}

	for i := range rows {
		job, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		page.Jobs = append(page.Jobs, job)
	}

	return page, nil
}

// MarkReady moves a processing job to ready and records its artifact.
// It reports false when the job was not processing (already finished or missing).
func (s *Storage) MarkReady(ctx context.Context, jobID, artifactRef string) (bool, error) {
	if artifactRef == "" {
		return false, fmt.Errorf("%w: ready requires an artifact reference", domain.ErrInvalidTransition)
	}

	query := s.db.Rebind(`
		UPDATE jobs
		SET status = ?,
		    artifact_ref = ?,
		    updated_at = ?
		WHERE job_id = ?
		  AND status = ?
	`)

	return s.transition(ctx, jobID, domain.JobStatusReady, query,
		string(domain.JobStatusReady), artifactRef, timestamp(s.now()), jobID, string(domain.JobStatusProcessing))
}

// MarkFailed moves a processing job to failed, keeping reason for operators
func (s *Storage) MarkFailed(ctx context.Context, jobID, reason string) (bool, error) {
	query := s.db.Rebind(`
		UPDATE jobs
		SET status = ?,
		    failure_reason = ?,
		    updated_at = ?
		WHERE job_id = ?
		  AND status = ?
	`)

	return s.transition(ctx, jobID, domain.JobStatusFailed, query,
		string(domain.JobStatusFailed), reason, timestamp(s.now()), jobID, string(domain.JobStatusProcessing))
}

// transition runs a guarded processing -> to update
func (s *Storage) transition(ctx context.Context, jobID string, to domain.JobStatus, query string, args ...any) (bool, error) {
	if !domain.CanTransition(domain.JobStatusProcessing, to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, domain.JobStatusProcessing, to)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s: %w", to, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		s.logger.Warn("Job status update skipped - job is not processing",
			slog.String("job_id", jobID),
			slog.String("status", string(to)),
		)
		return false, nil
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", string(to)),
	)
	return true, nil
}
