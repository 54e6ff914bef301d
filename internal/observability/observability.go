// Package observability provides metrics recorders and tracers for sync runs.
// Recorders implement MetricsRecorder and, optionally, DomainRecorder; tracers
// implement Tracer.
package observability

import (
	"context"
	"io"
	"time"

	"specsync/pkg/domain"
)

// MetricsRecorder observes the outcome and latency of one pipeline stage
// (extract, normalize, validate, merge, write).
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// DomainRecorder receives the finished report of one domain.
type DomainRecorder interface {
	RecordDomain(ctx context.Context, report domain.DomainReport)
}

// Tracer starts spans around pipeline stages.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is ended exactly once with the stage's error, if any.
type TraceSpan interface {
	End(err error)
}

// NoopMetrics discards observations.
type NoopMetrics struct{}

func (NoopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// NoopTracer starts spans that do nothing.
type NoopTracer struct{}

func (NoopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

// outcomes flattens a report into per-outcome record counts.
func outcomes(r domain.DomainReport) map[string]int {
	return map[string]int{
		"added":       len(r.Added),
		"refreshed":   len(r.Refreshed),
		"unchanged":   len(r.Unchanged),
		"stale":       len(r.Stale),
		"retired":     len(r.Retired),
		"archived":    len(r.Archived),
		"conflicted":  len(r.Conflicted),
		"quarantined": len(r.Quarantined),
		"warnings":    len(r.Warnings),
	}
}

// FromConfig builds the configured metrics recorder and tracer. JSON spans are
// written to traceOut.
func FromConfig(metrics, tracing string, traceOut io.Writer) (MetricsRecorder, Tracer) {
	var m MetricsRecorder = NoopMetrics{}
	switch metrics {
	case "expvar":
		m = NewExpvarMetricsRecorder("")
	case "prometheus":
		m = NewPrometheusMetrics()
	}
	var t Tracer = NoopTracer{}
	switch tracing {
	case "json":
		t = NewJSONTracer(traceOut)
	case "otel":
		t = NewOTelTracer(nil)
	}
	return m, t
}
