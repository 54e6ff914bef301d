package observability

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"specsync/pkg/domain"
)

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing, result and per-domain record
// counters via expvar. The recorder maintains totals in milliseconds per
// operation and success/error counters.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	records   map[string]map[string]int64
	versions  map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	Records     map[string]map[string]int64 `json:"records_total"`
	Versions    map[string]int64            `json:"document_versions"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("specsync_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		records:   make(map[string]map[string]int64),
		versions:  make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

func copyCounts(in map[string]map[string]int64) map[string]map[string]int64 {
	out := make(map[string]map[string]int64, len(in))
	for k, counts := range in {
		cpy := make(map[string]int64, len(counts))
		for status, n := range counts {
			cpy[status] = n
		}
		out[k] = cpy
	}
	return out
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}
	versions := make(map[string]int64, len(r.versions))
	for d, v := range r.versions {
		versions[d] = v
	}

	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     copyCounts(r.results),
		Records:     copyCounts(r.records),
		Versions:    versions,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a pipeline stage outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := "error"
	if success {
		status = "success"
	}

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

// RecordDomain accumulates per-outcome record counts for the report's domain.
func (r *ExpvarMetricsRecorder) RecordDomain(_ context.Context, report domain.DomainReport) {
	d := string(report.Domain)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[d]; !ok {
		r.records[d] = make(map[string]int64)
	}
	for outcome, n := range outcomes(report) {
		r.records[d][outcome] += int64(n)
	}
	if report.Version > 0 {
		r.versions[d] = report.Version
	}
}
