package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"unicode"

	"github.com/cuongbtq/invoice-service/internal/api/dto"
	"github.com/cuongbtq/invoice-service/internal/artifact"
	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/cuongbtq/invoice-service/internal/render"
	"github.com/cuongbtq/invoice-service/internal/storage"
	"github.com/gin-gonic/gin"
)

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	deps      *Dependencies
	logger    *slog.Logger
	jobs      JobStore
	limiter   RateLimiter
	runner    JobSubmitter
	artifacts artifact.Store
	metrics   Recorder
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		deps:      deps,
		logger:    deps.Logger,
		jobs:      deps.Jobs,
		limiter:   deps.Limiter,
		runner:    deps.Runner,
		artifacts: deps.Artifacts,
		metrics:   deps.Metrics,
	}
}

// CreateJob handles POST /api/v1/jobs
// Validates the invoice, charges the caller's rate limit, stores the job and
// hands it to the runner. The response never waits for rendering.
func (h *JobHandler) CreateJob(c *gin.Context) {
	userID := currentUserID(c)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	payload := req.ToPayload()
	if err := payload.Prepare(); err != nil {
		respondError(c, h.logger, err)
		return
	}

	decision, err := h.limiter.CheckAndConsume(c.Request.Context(), userID, h.deps.now())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if !decision.Allowed {
		h.metrics.RateLimited()
		respondError(c, h.logger, domain.NewRateLimitedError(decision.RetryAfter))
		return
	}
	c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))

	job, err := h.jobs.CreateJob(c.Request.Context(), userID, payload)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.metrics.JobCreated()

	h.runner.Submit(job)

	c.Header("Location", jobPath(job.ID))
	c.JSON(http.StatusAccepted, dto.NewJobDTO(job, downloadPath(job.ID)))
}

// GetJob handles GET /api/v1/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	job, err := h.jobs.GetJob(c.Request.Context(), c.Param("job_id"), currentUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(job, downloadPath(job.ID)))
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs newest first with optional status filter and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "page_size must not be negative",
		})
		return
	}

	var status domain.JobStatus
	if req.Status != "" {
		parsed, err := domain.ParseJobStatus(req.Status)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "status must be one of processing, ready, failed",
			})
			return
		}
		status = parsed
	}

	cursor, err := storage.DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	page, err := h.jobs.ListJobsByOwner(c.Request.Context(), currentUserID(c), storage.JobFilter{
		Status:   status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	jobs := make([]dto.JobDTO, len(page.Jobs))
	for i, job := range page.Jobs {
		jobs[i] = dto.NewJobDTO(job, downloadPath(job.ID))
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobs,
		NextCursor: page.NextCursor,
	})
}

// DownloadArtifact handles GET /api/v1/jobs/:job_id/download
// Foreign and missing jobs are indistinguishable (404); unfinished jobs are 409.
func (h *JobHandler) DownloadArtifact(c *gin.Context) {
	userID := currentUserID(c)

	job, err := h.jobs.GetJob(c.Request.Context(), c.Param("job_id"), userID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if !job.Downloadable() {
		respondError(c, h.logger, domain.ErrJobNotReady)
		return
	}

	data, err := h.artifacts.Get(c.Request.Context(), job.ArtifactRef)
	if err != nil {
		if errors.Is(err, domain.ErrArtifactNotFound) {
			h.logger.Error("Artifact missing for ready job",
				slog.String("job_id", job.ID),
				slog.String("artifact_ref", job.ArtifactRef),
			)
		}
		respondError(c, h.logger, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, downloadFilename(job)))
	c.Data(http.StatusOK, render.ContentTypePDF, data)
}

func jobPath(jobID string) string {
	return "/api/v1/jobs/" + jobID
}

func downloadPath(jobID string) string {
	return jobPath(jobID) + "/download"
}

// downloadFilename is invoice-<number or client>-<short id>.pdf, restricted to [a-z0-9-]
func downloadFilename(job *domain.Job) string {
	label := job.Payload.InvoiceNumber
	if label == "" {
		label = job.Payload.ClientName
	}

	short := job.ID
	if len(short) > 8 {
		short = short[:8]
	}

	name := "invoice"
	if slug := slugify(label); slug != "" {
		name += "-" + slug
	}
	return name + "-" + short + ".pdf"
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
