package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cuongbtq/invoice-service/internal/artifact"
	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/cuongbtq/invoice-service/internal/render"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	DispatchInProcess = "inprocess"
	DispatchRabbitMQ  = "rabbitmq"

	defaultConcurrency = 4
	defaultQueueSize   = 100
	defaultJobTimeout  = 30 * time.Second
)

// JobStore is the persistence the runner needs
type JobStore interface {
	GetJobByID(ctx context.Context, jobID string) (*domain.Job, error)
	MarkReady(ctx context.Context, jobID, artifactRef string) (bool, error)
	MarkFailed(ctx context.Context, jobID, reason string) (bool, error)
}

// Notifier pushes completion events to job owners
type Notifier interface {
	Publish(userID string, event domain.Event) bool
}

// Recorder observes finished jobs
type Recorder interface {
	JobCompleted(status domain.JobStatus, took time.Duration)
}

// Broker is the queue used when dispatch is rabbitmq
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
}

// Config holds runner configuration
type Config struct {
	Logger      *slog.Logger
	Store       JobStore
	Renderer    render.Renderer
	Artifacts   artifact.Store
	Notifier    Notifier
	Metrics     Recorder
	Broker      Broker
	Dispatch    string
	Concurrency int
	QueueSize   int
	JobTimeout  time.Duration
}

// task is one unit of work on the jobs channel. acker is set for queue deliveries.
type task struct {
	msg   domain.JobMessage
	acker amqp.Acknowledger
}

// Runner executes invoice jobs in the background.
// Job contexts derive from the runner's lifetime, never from the submitting request.
type Runner struct {
	logger      *slog.Logger
	store       JobStore
	renderer    render.Renderer
	artifacts   artifact.Store
	notifier    Notifier
	metrics     Recorder
	broker      Broker
	dispatch    string
	concurrency int
	jobTimeout  time.Duration
	workerID    string

	jobsChan chan task
	ctx      context.Context
	cancel   context.CancelFunc

	mu      sync.RWMutex
	stopped bool

	wg          sync.WaitGroup // pool goroutines
	pending     sync.WaitGroup // async dispatches and dispatch failures
	consumerWG  sync.WaitGroup
	stopConsume context.CancelFunc
	now         func() time.Time
}

// NewRunner creates a new runner; call Start to spawn workers
func NewRunner(cfg *Config) (*Runner, error) {
	if cfg.Store == nil || cfg.Renderer == nil || cfg.Artifacts == nil || cfg.Notifier == nil {
		return nil, fmt.Errorf("runner requires store, renderer, artifacts and notifier")
	}

	dispatch := cfg.Dispatch
	if dispatch == "" {
		dispatch = DispatchInProcess
	}
	switch dispatch {
	case DispatchInProcess:
	case DispatchRabbitMQ:
		if cfg.Broker == nil {
			return nil, fmt.Errorf("dispatch %q requires a broker", dispatch)
		}
	default:
		return nil, fmt.Errorf("unknown dispatch mode %q", dispatch)
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	jobTimeout := cfg.JobTimeout
	if jobTimeout <= 0 {
		jobTimeout = defaultJobTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger:      logger,
		store:       cfg.Store,
		renderer:    cfg.Renderer,
		artifacts:   cfg.Artifacts,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		broker:      cfg.Broker,
		dispatch:    dispatch,
		concurrency: concurrency,
		jobTimeout:  jobTimeout,
		workerID:    "invoice-runner-" + uuid.New().String()[:8],
		jobsChan:    make(chan task, queueSize),
		ctx:         ctx,
		cancel:      cancel,
		now:         time.Now,
	}, nil
}

// Start spawns the worker pool and, in rabbitmq mode, the queue consumer
func (r *Runner) Start() error {
	r.logger.Info("Starting job runner",
		slog.String("worker_id", r.workerID),
		slog.String("dispatch", r.dispatch),
		slog.Int("concurrency", r.concurrency),
		slog.Duration("job_timeout", r.jobTimeout),
	)

	if r.dispatch == DispatchRabbitMQ {
		deliveries, err := r.broker.Consume(r.workerID)
		if err != nil {
			return fmt.Errorf("failed to start consuming: %w", err)
		}

		consumeCtx, stop := context.WithCancel(r.ctx)
		r.stopConsume = stop
		r.consumerWG.Add(1)
		go func() {
			defer r.consumerWG.Done()
			r.startMessageDispatcher(consumeCtx, deliveries)
		}()
	}

	r.spawnWorkerPool()
	return nil
}

// Submit hands job to the runner and returns immediately.
// A job that cannot be dispatched is marked failed and its owner notified.
func (r *Runner) Submit(job *domain.Job) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.stopped {
		r.fail(job.ID, job.OwnerID, "runner is shutting down")
		return
	}

	switch r.dispatch {
	case DispatchRabbitMQ:
		r.pending.Add(1)
		go func() {
			defer r.pending.Done()
			r.publish(job)
		}()
	default:
		select {
		case r.jobsChan <- task{msg: domain.JobMessage{JobID: job.ID, OwnerID: job.OwnerID}}:
			r.logger.Debug("Job dispatched to worker pool", slog.String("job_id", job.ID))
		default:
			r.logger.Error("Job queue full, failing job",
				slog.String("job_id", job.ID),
				slog.Int("queue_size", cap(r.jobsChan)),
			)
			r.pending.Add(1)
			go func() {
				defer r.pending.Done()
				r.fail(job.ID, job.OwnerID, "dispatch failed: job queue full")
			}()
		}
	}
}

func (r *Runner) publish(job *domain.Job) {
	body, err := json.Marshal(domain.JobMessage{JobID: job.ID, OwnerID: job.OwnerID})
	if err == nil {
		err = r.broker.PublishWithRetry(r.ctx, body, "application/json")
	}
	if err != nil {
		r.logger.Error("Failed to publish job to queue",
			slog.String("job_id", job.ID),
			slog.Any("error", err),
		)
		r.fail(job.ID, job.OwnerID, fmt.Sprintf("dispatch failed: %v", err))
		return
	}

	r.logger.Debug("Job published to queue", slog.String("job_id", job.ID))
}

// Stop refuses new jobs, finishes every queued and in-flight job, then returns
func (r *Runner) Stop() {
	r.logger.Info("Stopping job runner...")

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	if r.stopConsume != nil {
		r.stopConsume()
		r.consumerWG.Wait()
	}

	r.pending.Wait()
	close(r.jobsChan)
	r.wg.Wait()
	r.cancel()

	r.logger.Info("Job runner stopped")
}
