// Package metrics holds the Prometheus instrumentation on a standalone
// registry exposed at GET /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter, histogram, and gauge the service exports.
type Metrics struct {
	registry *prometheus.Registry

	SyncRunsTotal    *prometheus.CounterVec
	SyncDuration     prometheus.Histogram
	IssuesSynced     prometheus.Counter
	ProjectsFailed   prometheus.Counter
	APILatency       *prometheus.HistogramVec
	BlockWritesTotal *prometheus.CounterVec
	EventsTotal      *prometheus.CounterVec
	Divergences      prometheus.Gauge
	LastSyncSuccess  prometheus.Gauge
}

// New creates and registers all metrics on a standalone registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())

	m := &Metrics{
		registry: reg,

		SyncRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trisync",
				Name:      "sync_runs_total",
				Help:      "Total sync runs by result.",
			},
			[]string{"result"},
		),
		SyncDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "trisync",
				Name:      "sync_duration_seconds",
				Help:      "Duration of full sync runs in seconds.",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
			},
		),
		IssuesSynced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trisync",
				Name:      "issues_synced_total",
				Help:      "Total issue writes propagated to any source.",
			},
		),
		ProjectsFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "trisync",
				Name:      "projects_failed_total",
				Help:      "Total per-project sync failures.",
			},
		),
		APILatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "trisync",
				Name:      "api_latency_seconds",
				Help:      "Latency of outbound API calls by target.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"target"},
		),
		BlockWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trisync",
				Name:      "agent_block_writes_total",
				Help:      "Memory block upserts by outcome (written, suppressed, failed).",
			},
			[]string{"outcome"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "trisync",
				Name:      "events_total",
				Help:      "Ingress events dispatched by type.",
			},
			[]string{"type"},
		),
		Divergences: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "trisync",
				Name:      "divergences",
				Help:      "Divergences found by the most recent reconciliation pass.",
			},
		),
		LastSyncSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "trisync",
				Name:      "last_sync_success",
				Help:      "Whether the most recent sync run succeeded (1) or failed (0).",
			},
		),
	}

	reg.MustRegister(
		m.SyncRunsTotal, m.SyncDuration, m.IssuesSynced, m.ProjectsFailed,
		m.APILatency, m.BlockWritesTotal, m.EventsTotal, m.Divergences,
		m.LastSyncSuccess,
	)
	return m
}

// Handler returns the /metrics exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
