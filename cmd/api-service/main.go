package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuongbtq/invoice-service/internal/api/handler"
	"github.com/cuongbtq/invoice-service/internal/api/router"
	"github.com/cuongbtq/invoice-service/internal/artifact"
	"github.com/cuongbtq/invoice-service/internal/auth"
	"github.com/cuongbtq/invoice-service/internal/config"
	"github.com/cuongbtq/invoice-service/internal/metrics"
	"github.com/cuongbtq/invoice-service/internal/notify"
	"github.com/cuongbtq/invoice-service/internal/ratelimit"
	"github.com/cuongbtq/invoice-service/internal/render"
	"github.com/cuongbtq/invoice-service/internal/storage"
	"github.com/cuongbtq/invoice-service/internal/worker"
	"github.com/cuongbtq/invoice-service/shared/database"
	"github.com/cuongbtq/invoice-service/shared/logger"
	"github.com/cuongbtq/invoice-service/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting invoice service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("dispatch", cfg.Runner.Dispatch),
	)

	ctx := context.Background()

	// Initialize database client
	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.AutoMigrate || cfg.Database.Driver == database.DriverSQLite {
		if err := storage.Migrate(ctx, dbClient.GetDB()); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		appLogger.Info("Database schema is up to date")
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)

	artifacts, err := initArtifacts(ctx, &cfg.Artifacts, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize artifact store: %w", err)
	}

	appMetrics := metrics.New()

	hub := notify.NewHub(notify.Config{
		WriteTimeout:  cfg.Notifications.WriteTimeout,
		Logger:        appLogger.WithAttrs(slog.String("component", "notify")).Logger,
		OnCountChange: appMetrics.SetSubscribers,
	})

	authService, err := auth.NewService(store, auth.Config{
		Secret:   cfg.Auth.JWTSecret,
		TokenTTL: cfg.Auth.TokenTTL,
		Issuer:   cfg.Auth.Issuer,
		Logger:   appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize auth: %w", err)
	}

	// Initialize RabbitMQ client only when jobs are dispatched through the queue
	var rabbitClient *rabbitmq.Client
	var broker worker.Broker
	if cfg.Runner.Dispatch == worker.DispatchRabbitMQ {
		rabbitClient, err = initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		defer rabbitClient.Close()
		broker = rabbitClient
		appLogger.Info("RabbitMQ connection established")
	}

	runner, err := worker.NewRunner(&worker.Config{
		Logger:      appLogger.With("component", "runner").Logger,
		Store:       store,
		Renderer:    render.NewPDFRenderer(),
		Artifacts:   artifacts,
		Notifier:    hub,
		Metrics:     appMetrics,
		Broker:      broker,
		Dispatch:    cfg.Runner.Dispatch,
		Concurrency: cfg.Runner.Concurrency,
		QueueSize:   cfg.Runner.QueueSize,
		JobTimeout:  cfg.Runner.JobTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create job runner: %w", err)
	}
	if err := runner.Start(); err != nil {
		return fmt.Errorf("failed to start job runner: %w", err)
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Logger:      appLogger.Logger,
		ServiceName: cfg.App.Name,
		Jobs:        store,
		Limiter: ratelimit.New(store, ratelimit.Config{
			Limit:  cfg.RateLimit.Limit,
			Window: cfg.RateLimit.Window,
			Logger: appLogger.Logger,
		}),
		Runner:         runner,
		Auth:           authService,
		Hub:            hub,
		Artifacts:      artifacts,
		Metrics:        appMetrics,
		DB:             dbClient,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		PingInterval:   cfg.Notifications.PingInterval,
	}, appMetrics)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("Invoice service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// open event streams are hijacked, Shutdown does not wait for them
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		runErr = err
	}

	// accepted jobs finish before their owners' connections go away
	runner.Stop()
	hub.Close()

	appLogger.Info("Shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initDatabase initializes the SQL database client
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return database.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initArtifacts builds the configured artifact store
func initArtifacts(ctx context.Context, cfg *config.ArtifactsConfig, logger *slog.Logger) (artifact.Store, error) {
	switch cfg.Driver {
	case artifact.DriverS3:
		return artifact.NewS3Store(ctx, artifact.S3Config{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			KeyPrefix: cfg.S3.KeyPrefix,
			Endpoint:  cfg.S3.Endpoint,
		}, logger)
	default:
		return artifact.NewLocalStore(cfg.LocalDir, logger)
	}
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies, m *metrics.Metrics) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Router configured",
		slog.Int("allowed_origins", len(cfg.Server.AllowedOrigins)),
		slog.Duration("ping_interval", cfg.Notifications.PingInterval),
	)

	return router.SetupRouter(deps, m)
}
