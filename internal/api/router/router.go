package router

import (
	"net/http"

	"github.com/cuongbtq/invoice-service/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// HTTPMetrics counts requests and serves the exposition endpoint
type HTTPMetrics interface {
	ObserveRequest(method, path string, status int)
	Handler() http.Handler
}

// SetupRouter configures and returns the Gin router with all routes.
// m may be nil, in which case /metrics is not mounted.
func SetupRouter(deps *handler.Dependencies, m HTTPMetrics) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger, m))
	r.Use(CORSMiddleware(deps.AllowedOrigins))

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	if m != nil {
		r.GET("/metrics", gin.WrapH(m.Handler()))
	}

	authHandler := handler.NewAuthHandler(deps)
	jobHandler := handler.NewJobHandler(deps)
	eventsHandler := handler.NewEventsHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		authRoutes := v1.Group("/auth")
		{
			// POST /api/v1/auth/register - Create an account
			authRoutes.POST("/register", authHandler.Register)

			// POST /api/v1/auth/login - Exchange credentials for a token
			authRoutes.POST("/login", authHandler.Login)
		}

		jobs := v1.Group("/jobs", RequireAuth(deps.Auth, deps.Logger, false))
		{
			// POST /api/v1/jobs - Submit an invoice for rendering
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List the caller's jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// GET /api/v1/jobs/:job_id/download - Download the rendered invoice
			jobs.GET("/:job_id/download", jobHandler.DownloadArtifact)
		}

		// GET /api/v1/events?token=... - WebSocket stream of job events
		v1.GET("/events", RequireAuth(deps.Auth, deps.Logger, true), eventsHandler.Subscribe)
	}

	return r
}
