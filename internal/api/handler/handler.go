package handler

import (
	"context"
	"log/slog"
	"time"

	"github.com/cuongbtq/invoice-service/internal/artifact"
	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/cuongbtq/invoice-service/internal/notify"
	"github.com/cuongbtq/invoice-service/internal/ratelimit"
	"github.com/cuongbtq/invoice-service/internal/storage"
	"github.com/gin-gonic/gin"
)

// ContextUserIDKey is the gin context key holding the authenticated user id
const ContextUserIDKey = "user_id"

const defaultPingInterval = 30 * time.Second

// JobStore is the job persistence used by the API
type JobStore interface {
	CreateJob(ctx context.Context, ownerID string, payload domain.InvoicePayload) (*domain.Job, error)
	GetJob(ctx context.Context, jobID, ownerID string) (*domain.Job, error)
	ListJobsByOwner(ctx context.Context, ownerID string, filter storage.JobFilter) (*storage.JobPage, error)
}

// RateLimiter admits or rejects job submissions per user
type RateLimiter interface {
	CheckAndConsume(ctx context.Context, userID string, now time.Time) (ratelimit.Decision, error)
}

// JobSubmitter schedules created jobs; Submit must not block
type JobSubmitter interface {
	Submit(job *domain.Job)
}

// Authenticator is the identity provider
type Authenticator interface {
	Register(ctx context.Context, email, password string) (*domain.User, string, error)
	Login(ctx context.Context, email, password string) (*domain.User, string, error)
	Authenticate(token string) (string, error)
	TokenTTL() time.Duration
}

// EventHub registers push connections
type EventHub interface {
	Subscribe(userID string, conn notify.Conn) *notify.Subscription
	Release(sub *notify.Subscription) bool
	Count() int
}

// Recorder counts API-side job events
type Recorder interface {
	JobCreated()
	RateLimited()
}

// HealthChecker reports database reachability
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	ServiceName    string
	Jobs           JobStore
	Limiter        RateLimiter
	Runner         JobSubmitter
	Auth           Authenticator
	Hub            EventHub
	Artifacts      artifact.Store
	Metrics        Recorder
	DB             HealthChecker
	AllowedOrigins []string
	PingInterval   time.Duration
	Now            func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// currentUserID returns the id set by the auth middleware
func currentUserID(c *gin.Context) string {
	return c.GetString(ContextUserIDKey)
}
