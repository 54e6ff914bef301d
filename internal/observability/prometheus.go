package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"specsync/pkg/domain"
)

// PrometheusMetrics exports stage latency and per-domain record outcomes.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	// Stage latencies by operation and status
	StageLatency *prometheus.HistogramVec

	// Record outcomes by domain and outcome (added, retired, quarantined...)
	RecordOutcomes *prometheus.CounterVec

	// Quarantined records by domain and reason code
	Quarantined *prometheus.CounterVec

	// Compare-and-swap attempts beyond the first, by domain
	CASRetries *prometheus.CounterVec

	// Last written document version by domain
	DocumentVersion *prometheus.GaugeVec

	// Domains that ended with a fatal error
	DomainFailures *prometheus.CounterVec
}

// NewPrometheusMetrics registers every metric on a dedicated registry so
// several recorders can coexist in one process.
func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &PrometheusMetrics{
		registry: reg,
		StageLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "specsync_stage_duration_seconds",
			Help:    "Duration of pipeline stages by operation and status",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
		}, []string{"operation", "status"}),

		RecordOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "specsync_records_total",
			Help: "Records processed by domain and merge outcome",
		}, []string{"domain", "outcome"}),

		Quarantined: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "specsync_quarantined_total",
			Help: "Quarantined candidate records by domain and reason",
		}, []string{"domain", "reason"}),

		CASRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "specsync_cas_retries_total",
			Help: "Compare-and-swap retries caused by concurrent writers",
		}, []string{"domain"}),

		DocumentVersion: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "specsync_document_version",
			Help: "Current document version by domain",
		}, []string{"domain"}),

		DomainFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "specsync_domain_failures_total",
			Help: "Domain pipelines that ended with a fatal error",
		}, []string{"domain"}),
	}
}

// Registry exposes the registry backing the recorder.
func (m *PrometheusMetrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Observe records a stage latency.
func (m *PrometheusMetrics) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if m == nil || operation == "" {
		return
	}
	status := "error"
	if success {
		status = "success"
	}
	m.StageLatency.WithLabelValues(operation, status).Observe(duration.Seconds())
}

// RecordDomain records a finished domain report.
func (m *PrometheusMetrics) RecordDomain(_ context.Context, report domain.DomainReport) {
	if m == nil {
		return
	}
	d := string(report.Domain)
	for outcome, n := range outcomes(report) {
		if n > 0 {
			m.RecordOutcomes.WithLabelValues(d, outcome).Add(float64(n))
		}
	}
	for _, q := range report.Quarantined {
		m.Quarantined.WithLabelValues(d, string(q.Reason)).Inc()
	}
	if report.Attempts > 1 {
		m.CASRetries.WithLabelValues(d).Add(float64(report.Attempts - 1))
	}
	if report.Version > 0 {
		m.DocumentVersion.WithLabelValues(d).Set(float64(report.Version))
	}
	if report.Failed() {
		m.DomainFailures.WithLabelValues(d).Inc()
	}
}
