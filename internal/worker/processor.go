package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/invoice-service/internal/artifact"
	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/cuongbtq/invoice-service/internal/render"
)

// processJob renders, stores and finalizes one job. Every failure is terminal.
func (r *Runner) processJob(msg domain.JobMessage) {
	start := r.now()

	job, err := r.store.GetJobByID(r.ctx, msg.JobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			r.logger.Warn("Job not found, skipping", slog.String("job_id", msg.JobID))
			return
		}
		r.logger.Error("Failed to load job",
			slog.String("job_id", msg.JobID),
			slog.String("owner_id", msg.OwnerID),
			slog.Any("error", err),
		)
		r.finish(msg.JobID, msg.OwnerID, domain.JobStatusFailed, start, func() (bool, error) {
			return r.store.MarkFailed(r.ctx, msg.JobID, fmt.Sprintf("load failed: %v", err))
		})
		return
	}

	if !domain.CanTransition(job.Status, domain.JobStatusReady) {
		r.logger.Warn("Job is not processing, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		return
	}

	ref, err := r.execute(job)
	if err != nil {
		r.logger.Error("Job execution failed",
			slog.String("job_id", job.ID),
			slog.String("owner_id", job.OwnerID),
			slog.Any("error", err),
		)
		r.finish(job.ID, job.OwnerID, domain.JobStatusFailed, start, func() (bool, error) {
			return r.store.MarkFailed(r.ctx, job.ID, err.Error())
		})
		return
	}

	r.finish(job.ID, job.OwnerID, domain.JobStatusReady, start, func() (bool, error) {
		return r.store.MarkReady(r.ctx, job.ID, ref)
	})
}

// execute renders the invoice and stores it, bounded by the job timeout
func (r *Runner) execute(job *domain.Job) (ref string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrRenderFailure, p)
		}
	}()

	ctx, cancel := context.WithTimeout(r.ctx, r.jobTimeout)
	defer cancel()

	data, err := r.renderer.Render(ctx, job)
	if err != nil {
		return "", fmt.Errorf("render: %w", err)
	}

	ref, err = r.artifacts.Put(ctx, artifact.ObjectName(job.ID), data, render.ContentTypePDF)
	if err != nil {
		return "", fmt.Errorf("store artifact: %w", err)
	}
	return ref, nil
}

// fail finalizes a job that never reached a worker
func (r *Runner) fail(jobID, ownerID, reason string) {
	r.finish(jobID, ownerID, domain.JobStatusFailed, r.now(), func() (bool, error) {
		return r.store.MarkFailed(r.ctx, jobID, reason)
	})
}

// finish applies a terminal transition and notifies the owner only if this call made it
func (r *Runner) finish(jobID, ownerID string, status domain.JobStatus, start time.Time, mark func() (bool, error)) {
	transitioned, err := mark()
	if err != nil {
		r.logger.Error("Failed to update job status",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
			slog.Any("error", err),
		)
		if status == domain.JobStatusFailed {
			return
		}
		// could not record success; record the failure instead
		r.finish(jobID, ownerID, domain.JobStatusFailed, start, func() (bool, error) {
			return r.store.MarkFailed(r.ctx, jobID, fmt.Sprintf("finalize failed: %v", err))
		})
		return
	}

	if !transitioned {
		r.logger.Warn("Job already finalized, not notifying",
			slog.String("job_id", jobID),
			slog.String("status", string(status)),
		)
		return
	}

	if r.metrics != nil {
		r.metrics.JobCompleted(status, r.now().Sub(start))
	}

	// a message without owner_id has nobody to notify
	delivered := false
	if ownerID != "" {
		delivered = r.notifier.Publish(ownerID, domain.NewJobEvent(jobID, status, r.now().UTC()))
	}
	r.logger.Info("Job finished",
		slog.String("job_id", jobID),
		slog.String("status", string(status)),
		slog.Bool("notified", delivered),
	)
}
