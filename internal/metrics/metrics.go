package metrics

import (
	"net/http"
	"time"

	"github.com/cuongbtq/invoice-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "invoice_service"

// Metrics holds the pipeline collectors and the registry they are exposed from
type Metrics struct {
	registry *prometheus.Registry

	jobsCreated       prometheus.Counter
	jobsCompleted     *prometheus.CounterVec
	rateLimited       prometheus.Counter
	renderDuration    *prometheus.HistogramVec
	activeSubscribers prometheus.Gauge
	httpRequests      *prometheus.CounterVec
}

// New creates collectors on a fresh registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		jobsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "created_total",
			Help:      "Total number of invoice jobs accepted.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "completed_total",
			Help:      "Total number of invoice jobs that reached a terminal status.",
		}, []string{"status"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Total number of job submissions rejected by the rate limiter.",
		}),
		renderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "render_duration_seconds",
			Help:      "Duration of artifact rendering and upload.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"status"}),
		activeSubscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "active_subscribers",
			Help:      "Current number of connected notification subscribers.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		}, []string{"method", "path", "status"}),
	}

	m.registry.MustRegister(
		m.jobsCreated,
		m.jobsCompleted,
		m.rateLimited,
		m.renderDuration,
		m.activeSubscribers,
		m.httpRequests,
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	return m
}

// Handler exposes the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) JobCreated() {
	m.jobsCreated.Inc()
}

func (m *Metrics) JobCompleted(status domain.JobStatus, took time.Duration) {
	m.jobsCompleted.WithLabelValues(string(status)).Inc()
	m.renderDuration.WithLabelValues(string(status)).Observe(took.Seconds())
}

func (m *Metrics) RateLimited() {
	m.rateLimited.Inc()
}

func (m *Metrics) SetSubscribers(n int) {
	m.activeSubscribers.Set(float64(n))
}

// ObserveRequest counts one HTTP request; path is the route template, not the raw URL
func (m *Metrics) ObserveRequest(method, path string, status int) {
	m.httpRequests.WithLabelValues(method, path, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
