package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/cuongbtq/invoice-service/internal/auth"
	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/gin-gonic/gin"
)

// respondError writes the status and {"error": ...} body for err.
// Unknown errors are logged and reported as 500 without detail.
func respondError(c *gin.Context, logger *slog.Logger, err error) {
	var rateLimited *domain.RateLimitedError

	switch {
	case errors.As(err, &rateLimited):
		secs := rateLimited.RetryAfterSeconds()
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "Rate limit exceeded",
			"retry_after_seconds": secs,
		})
	case errors.Is(err, domain.ErrInvalidPayload), errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrPasswordTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
	case errors.Is(err, domain.ErrArtifactNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Artifact not found"})
	case errors.Is(err, domain.ErrJobNotReady):
		c.JSON(http.StatusConflict, gin.H{"error": "Job is not ready"})
	case errors.Is(err, domain.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	default:
		logger.Error("Request failed",
			slog.String("path", c.FullPath()),
			slog.Any("error", err),
		)
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
