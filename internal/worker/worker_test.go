package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/cuongbtq/invoice-service/shared/logger"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	mu         sync.Mutex
	jobs       map[string]*domain.Job
	markErr    error
	loadErr    error
	readyCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: map[string]*domain.Job{}}
}

func (s *fakeStore) add(ownerID string) *domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := &domain.Job{ID: uuid.New().String(), OwnerID: ownerID, Status: domain.JobStatusProcessing}
	s.jobs[job.ID] = job
	copied := *job
	return &copied
}

func (s *fakeStore) get(jobID string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[jobID]
}

func (s *fakeStore) GetJobByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (s *fakeStore) MarkReady(_ context.Context, jobID, ref string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readyCalls++
	if s.markErr != nil {
		return false, s.markErr
	}
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	job.Status = domain.JobStatusReady
	job.ArtifactRef = ref
	return true, nil
}

func (s *fakeStore) MarkFailed(_ context.Context, jobID, reason string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok || job.Status != domain.JobStatusProcessing {
		return false, nil
	}
	job.Status = domain.JobStatusFailed
	job.FailureReason = reason
	return true, nil
}

type fakeRenderer struct {
	err   error
	delay time.Duration
	block bool
	panic bool
}

func (r *fakeRenderer) Render(ctx context.Context, job *domain.Job) ([]byte, error) {
	if r.panic {
		panic("font missing")
	}
	if r.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.err != nil {
		return nil, r.err
	}
	return []byte("%PDF-" + job.ID), nil
}

type memoryArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memoryArtifacts) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[name] = data
	return name, nil
}

func (m *memoryArtifacts) Get(_ context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[ref]
	if !ok {
		return nil, domain.ErrArtifactNotFound
	}
	return data, nil
}

type published struct {
	userID string
	event  domain.Event
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *fakeNotifier) Publish(userID string, event domain.Event) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{userID: userID, event: event})
	return true
}

func (n *fakeNotifier) all() []published {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]published(nil), n.events...)
}

type harness struct {
	store     *fakeStore
	renderer  *fakeRenderer
	artifacts *memoryArtifacts
	notifier  *fakeNotifier
	runner    *Runner
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		store:     newFakeStore(),
		renderer:  &fakeRenderer{},
		artifacts: &memoryArtifacts{objects: map[string][]byte{}},
		notifier:  &fakeNotifier{},
	}
	cfg.Logger = logger.NewNop().Logger
	cfg.Store = h.store
	cfg.Renderer = h.renderer
	cfg.Artifacts = h.artifacts
	cfg.Notifier = h.notifier

	r, err := NewRunner(&cfg)
	require.NoError(t, err)
	h.runner = r
	return h
}

func waitForEvents(t *testing.T, n *fakeNotifier, count int) []published {
	t.Helper()
	require.Eventually(t, func() bool { return len(n.all()) >= count }, 2*time.Second, 5*time.Millisecond)
	return n.all()
}

func TestRunner_ReadyPath(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 2})
	require.NoError(t, h.runner.Start())
	defer h.runner.Stop()

	job := h.store.add("user-a")
	h.runner.Submit(job)

	events := waitForEvents(t, h.notifier, 1)
	require.Len(t, events, 1)
	assert.Equal(t, "user-a", events[0].userID)
	assert.Equal(t, domain.EventJobReady, events[0].event.Type)
	assert.Equal(t, job.ID, events[0].event.JobID)

	stored := h.store.get(job.ID)
	assert.Equal(t, domain.JobStatusReady, stored.Status)
	assert.Equal(t, job.ID+".pdf", stored.ArtifactRef)

	data, err := h.artifacts.Get(context.Background(), stored.ArtifactRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-"+job.ID), data)
}

func TestRunner_FailurePaths(t *testing.T) {
	tests := []struct {
		name     string
		renderer fakeRenderer
		timeout  time.Duration
	}{
		{name: "render error", renderer: fakeRenderer{err: domain.ErrRenderFailure}},
		{name: "timeout", renderer: fakeRenderer{block: true}, timeout: 20 * time.Millisecond},
		{name: "panic", renderer: fakeRenderer{panic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Config{Concurrency: 1, JobTimeout: tt.timeout})
			*h.renderer = tt.renderer
			require.NoError(t, h.runner.Start())
			defer h.runner.Stop()

			job := h.store.add("user-a")
			h.runner.Submit(job)

			events := waitForEvents(t, h.notifier, 1)
			assert.Equal(t, domain.EventJobFailed, events[0].event.Type)

			stored := h.store.get(job.ID)
			assert.Equal(t, domain.JobStatusFailed, stored.Status)
			assert.Empty(t, stored.ArtifactRef)
			assert.NotEmpty(t, stored.FailureReason)
		})
	}
}

func TestRunner_AlreadyFinalizedIsNotNotified(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 1})
	require.NoError(t, h.runner.Start())

	job := h.store.add("user-a")
	_, err := h.store.MarkReady(context.Background(), job.ID, "earlier.pdf")
	require.NoError(t, err)

	h.runner.Submit(job)
	h.runner.Stop()

	assert.Empty(t, h.notifier.all())
	assert.Equal(t, "earlier.pdf", h.store.get(job.ID).ArtifactRef)
}

func TestRunner_DuplicateSignalNotifiesOnce(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 1})
	require.NoError(t, h.runner.Start())

	job := h.store.add("user-a")
	h.runner.processJob(domain.JobMessage{JobID: job.ID})
	h.runner.processJob(domain.JobMessage{JobID: job.ID})
	h.runner.Stop()

	assert.Len(t, h.notifier.all(), 1)
}

func TestRunner_MarkReadyErrorFallsBackToFailed(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 1})
	h.store.markErr = errors.New("db down")
	require.NoError(t, h.runner.Start())

	job := h.store.add("user-a")
	h.runner.Submit(job)
	h.runner.Stop()

	events := h.notifier.all()
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventJobFailed, events[0].event.Type)
	assert.Equal(t, domain.JobStatusFailed, h.store.get(job.ID).Status)
}

func TestRunner_LoadErrorFailsAndNotifiesOwner(t *testing.T) {
	tests := []struct {
		name     string
		dispatch string
	}{
		{name: "in process", dispatch: DispatchInProcess},
		{name: "rabbitmq", dispatch: DispatchRabbitMQ},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := newFakeBroker()
			h := newHarness(t, Config{Dispatch: tt.dispatch, Broker: broker, Concurrency: 1})
			h.store.loadErr = errors.New("connection reset")
			require.NoError(t, h.runner.Start())

			job := h.store.add("user-a")
			h.runner.Submit(job)

			events := waitForEvents(t, h.notifier, 1)
			h.runner.Stop()

			require.Len(t, events, 1)
			assert.Equal(t, "user-a", events[0].userID)
			assert.Equal(t, domain.EventJobFailed, events[0].event.Type)
			assert.Equal(t, job.ID, events[0].event.JobID)

			stored := h.store.get(job.ID)
			assert.Equal(t, domain.JobStatusFailed, stored.Status)
			assert.Contains(t, stored.FailureReason, "connection reset")
		})
	}
}

func TestRunner_MessageWithoutOwnerIsFailedSilently(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 1})
	h.store.loadErr = errors.New("connection reset")

	job := h.store.add("user-a")
	h.runner.processJob(domain.JobMessage{JobID: job.ID})
	h.runner.Stop()

	assert.Empty(t, h.notifier.all())
	assert.Equal(t, domain.JobStatusFailed, h.store.get(job.ID).Status)
}

func TestRunner_QueueFullFailsJob(t *testing.T) {
	h := newHarness(t, Config{QueueSize: 1})
	// no Start: nothing drains the queue

	first := h.store.add("user-a")
	second := h.store.add("user-a")
	h.runner.Submit(first)
	h.runner.Submit(second)

	events := waitForEvents(t, h.notifier, 1)
	assert.Equal(t, second.ID, events[0].event.JobID)
	assert.Equal(t, domain.EventJobFailed, events[0].event.Type)
	assert.Contains(t, h.store.get(second.ID).FailureReason, "queue full")
	assert.Equal(t, domain.JobStatusProcessing, h.store.get(first.ID).Status)

	h.runner.Stop()
}

func TestRunner_StopDrainsInFlightJobs(t *testing.T) {
	h := newHarness(t, Config{Concurrency: 2})
	h.renderer.delay = 30 * time.Millisecond
	require.NoError(t, h.runner.Start())

	var jobs []*domain.Job
	for i := 0; i < 5; i++ {
		job := h.store.add("user-a")
		jobs = append(jobs, job)
		h.runner.Submit(job)
	}

	h.runner.Stop()

	for _, job := range jobs {
		assert.Equal(t, domain.JobStatusReady, h.store.get(job.ID).Status)
	}
	assert.Len(t, h.notifier.all(), 5)

	late := h.store.add("user-a")
	h.runner.Submit(late)
	assert.Equal(t, domain.JobStatusFailed, h.store.get(late.ID).Status)
}

func TestNewRunner_Validation(t *testing.T) {
	_, err := NewRunner(&Config{})
	assert.Error(t, err)

	h := newHarness(t, Config{})
	cfg := Config{Store: h.store, Renderer: h.renderer, Artifacts: h.artifacts, Notifier: h.notifier}

	cfg.Dispatch = DispatchRabbitMQ
	_, err = NewRunner(&cfg)
	assert.ErrorContains(t, err, "requires a broker")

	cfg.Dispatch = "kafka"
	_, err = NewRunner(&cfg)
	assert.ErrorContains(t, err, "unknown dispatch mode")
}

type fakeAcker struct {
	mu    sync.Mutex
	acks  []uint64
	nacks map[uint64]bool // tag -> requeue
}

func (a *fakeAcker) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcker) Nack(tag uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks[tag] = requeue
	return nil
}

func (a *fakeAcker) Reject(tag uint64, requeue bool) error {
	return a.Nack(tag, false, requeue)
}

func (a *fakeAcker) snapshot() ([]uint64, map[uint64]bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	nacks := make(map[uint64]bool, len(a.nacks))
	for k, v := range a.nacks {
		nacks[k] = v
	}
	return append([]uint64(nil), a.acks...), nacks
}

// fakeBroker loops published bodies back as deliveries
type fakeBroker struct {
	deliveries chan amqp.Delivery
	acker      *fakeAcker
	publishErr error

	mu  sync.Mutex
	tag uint64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		deliveries: make(chan amqp.Delivery, 10),
		acker:      &fakeAcker{nacks: map[uint64]bool{}},
	}
}

func (b *fakeBroker) deliver(body []byte) uint64 {
	b.mu.Lock()
	b.tag++
	tag := b.tag
	b.mu.Unlock()
	b.deliveries <- amqp.Delivery{Acknowledger: b.acker, DeliveryTag: tag, Body: body}
	return tag
}

func (b *fakeBroker) PublishWithRetry(_ context.Context, body []byte, _ string) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.deliver(body)
	return nil
}

func (b *fakeBroker) Consume(string) (<-chan amqp.Delivery, error) {
	return b.deliveries, nil
}

func TestRunner_RabbitMQDispatch(t *testing.T) {
	broker := newFakeBroker()
	h := newHarness(t, Config{Dispatch: DispatchRabbitMQ, Broker: broker, Concurrency: 1})
	require.NoError(t, h.runner.Start())

	job := h.store.add("user-a")
	h.runner.Submit(job)

	events := waitForEvents(t, h.notifier, 1)
	assert.Equal(t, domain.EventJobReady, events[0].event.Type)

	require.Eventually(t, func() bool {
		acks, _ := broker.acker.snapshot()
		return len(acks) == 1
	}, time.Second, 5*time.Millisecond)

	h.runner.Stop()
}

func TestRunner_RabbitMQRejectsMalformed(t *testing.T) {
	broker := newFakeBroker()
	h := newHarness(t, Config{Dispatch: DispatchRabbitMQ, Broker: broker, Concurrency: 1})
	require.NoError(t, h.runner.Start())

	badJSON := broker.deliver([]byte("{not json"))
	body, err := json.Marshal(domain.JobMessage{JobID: "not-a-uuid"})
	require.NoError(t, err)
	badID := broker.deliver(body)

	require.Eventually(t, func() bool {
		_, nacks := broker.acker.snapshot()
		return len(nacks) == 2
	}, time.Second, 5*time.Millisecond)

	_, nacks := broker.acker.snapshot()
	assert.False(t, nacks[badJSON])
	assert.False(t, nacks[badID])
	assert.Empty(t, h.notifier.all())

	h.runner.Stop()
}

func TestRunner_RabbitMQPublishFailureFailsJob(t *testing.T) {
	broker := newFakeBroker()
	broker.publishErr = errors.New("connection refused")
	h := newHarness(t, Config{Dispatch: DispatchRabbitMQ, Broker: broker, Concurrency: 1})
	require.NoError(t, h.runner.Start())

	job := h.store.add("user-a")
	h.runner.Submit(job)

	events := waitForEvents(t, h.notifier, 1)
	assert.Equal(t, domain.EventJobFailed, events[0].event.Type)
	assert.Contains(t, h.store.get(job.ID).FailureReason, "connection refused")

	h.runner.Stop()
}
