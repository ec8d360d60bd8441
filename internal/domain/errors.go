package domain

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	// ErrJobNotFound is returned when a job does not exist or belongs to another owner
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotReady is returned when a download is attempted before the job is ready
	ErrJobNotReady = errors.New("job not ready")

	// ErrInvalidStatus is returned for an unknown status value
	ErrInvalidStatus = errors.New("invalid job status")

	// ErrInvalidTransition is returned when a status change is not allowed
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrInvalidPayload is returned when invoice content fails validation
	ErrInvalidPayload = errors.New("invalid invoice payload")

	// ErrRenderFailure is returned by renderers when an artifact cannot be produced
	ErrRenderFailure = errors.New("render failure")

	// ErrUnauthorized is returned when identity proof is missing or invalid
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidCredentials is returned by login for unknown email or wrong password
	ErrInvalidCredentials = errors.New("invalid email or password")

	// ErrEmailTaken is returned when registering an email that already exists
	ErrEmailTaken = errors.New("email already registered")

	// ErrUserNotFound is returned when a user lookup misses
	ErrUserNotFound = errors.New("user not found")

	// ErrArtifactNotFound is returned when the artifact store has no object for a ref
	ErrArtifactNotFound = errors.New("artifact not found")
)

// RateLimitedError is returned when a user has exhausted the current window
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfterSeconds())
}

// RetryAfterSeconds rounds the wait up to whole seconds, minimum 1
func (e *RateLimitedError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(retryAfter time.Duration) error {
	return &RateLimitedError{RetryAfter: retryAfter}
}
