// Package metrics provides Prometheus metrics for the crawler.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "infovore"

// Metrics holds the crawler collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// FetchAttempts counts single HTTP attempts by result.
	FetchAttempts *prometheus.CounterVec
	// RunsTotal counts completed crawl runs.
	RunsTotal prometheus.Counter
	// RunDuration measures crawl run duration.
	RunDuration prometheus.Histogram
	// Subscriptions counts per-subscription outcomes by result.
	Subscriptions *prometheus.CounterVec
	// BuildRecords counts appended build records by status.
	BuildRecords *prometheus.CounterVec
	// Articles counts article upserts by operation.
	Articles *prometheus.CounterVec
	// Failures counts failures by kind.
	Failures *prometheus.CounterVec
	// Enrichments counts enrichment outcomes by result.
	Enrichments *prometheus.CounterVec
	// Phase is the current crawl phase as a number.
	Phase prometheus.Gauge
	// CleanupDeleted counts articles removed by retention cleanup.
	CleanupDeleted prometheus.Counter
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		FetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "Total number of HTTP fetch attempts",
		}, []string{"result"}),
		RunsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "crawl_runs_total",
			Help:      "Total number of completed crawl runs",
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "crawl_run_duration_seconds",
			Help:      "Duration of crawl runs in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}),
		Subscriptions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_refresh_total",
			Help:      "Total number of subscription refreshes by result",
		}, []string{"result"}),
		BuildRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "build_records_total",
			Help:      "Total number of build records written by status",
		}, []string{"status"}),
		Articles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "articles_upserted_total",
			Help:      "Total number of article upserts by operation",
		}, []string{"op"}),
		Failures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Total number of failures by kind",
		}, []string{"kind"}),
		Enrichments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "enrichments_total",
			Help:      "Total number of article enrichments by result",
		}, []string{"result"}),
		Phase: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "crawl_phase",
			Help:      "Current crawl phase (0 = idle)",
		}),
		CleanupDeleted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_deleted_articles_total",
			Help:      "Total number of articles removed by retention cleanup",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// RecordFetch records one fetch attempt.
func (m *Metrics) RecordFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchAttempts.WithLabelValues(result).Inc()
}

// RecordRun records a finished crawl run.
func (m *Metrics) RecordRun(d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.Inc()
	m.RunDuration.Observe(d.Seconds())
}

// RecordSubscription records one subscription outcome ("failed", "productive", "unproductive").
func (m *Metrics) RecordSubscription(result string) {
	if m == nil {
		return
	}
	m.Subscriptions.WithLabelValues(result).Inc()
}

// RecordBuildRecord records an appended build record.
func (m *Metrics) RecordBuildRecord(status string) {
	if m == nil {
		return
	}
	m.BuildRecords.WithLabelValues(status).Inc()
}

// RecordArticles adds article upsert counts.
func (m *Metrics) RecordArticles(inserted, updated int) {
	if m == nil {
		return
	}
	m.Articles.WithLabelValues("inserted").Add(float64(inserted))
	m.Articles.WithLabelValues("updated").Add(float64(updated))
}

// RecordFailure records a failure of the given kind.
func (m *Metrics) RecordFailure(kind string) {
	if m == nil {
		return
	}
	m.Failures.WithLabelValues(kind).Inc()
}

// RecordEnrichment records one enrichment outcome.
func (m *Metrics) RecordEnrichment(result string) {
	if m == nil {
		return
	}
	m.Enrichments.WithLabelValues(result).Inc()
}

// SetPhase publishes the current crawl phase.
func (m *Metrics) SetPhase(phase int) {
	if m == nil {
		return
	}
	m.Phase.Set(float64(phase))
}

// RecordCleanup adds the number of articles removed by cleanup.
func (m *Metrics) RecordCleanup(deleted int64) {
	if m == nil {
		return
	}
	m.CleanupDeleted.Add(float64(deleted))
}
