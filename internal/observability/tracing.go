package observability

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"specsync/pkg/domain"
)

// Labels identify the run and domain a stage belongs to.
type Labels struct {
	RunID  string
	Domain domain.Domain
}

type labelsKey struct{}

// WithLabels attaches labels to ctx so tracers can tag the spans started under it.
func WithLabels(ctx context.Context, l Labels) context.Context {
	return context.WithValue(ctx, labelsKey{}, l)
}

// LabelsFrom returns the labels attached to ctx, if any.
func LabelsFrom(ctx context.Context) Labels {
	l, _ := ctx.Value(labelsKey{}).(Labels)
	return l
}

// SpanEntry is one finished stage as written by JSONTracer.
type SpanEntry struct {
	RunID      string        `json:"run_id,omitempty"`
	Domain     domain.Domain `json:"domain,omitempty"`
	Stage      string        `json:"stage"`
	Status     string        `json:"status"`
	DurationMS float64       `json:"duration_ms"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
}

// JSONTracer writes finished spans as JSON lines and keeps them for inspection.
type JSONTracer struct {
	mu      sync.Mutex
	entries []SpanEntry
	enc     *json.Encoder
}

// NewJSONTracer writes to w; a nil w only retains the spans.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of the finished spans in completion order.
func (t *JSONTracer) Entries() []SpanEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]SpanEntry(nil), t.entries...)
}

func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	l := LabelsFrom(ctx)
	return ctx, &jsonSpan{
		tracer: t,
		entry:  SpanEntry{RunID: l.RunID, Domain: l.Domain, Stage: operation, StartedAt: time.Now().UTC()},
	}
}

func (t *JSONTracer) finish(e SpanEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	if t.enc != nil {
		_ = t.enc.Encode(e)
	}
}

type jsonSpan struct {
	tracer *JSONTracer
	entry  SpanEntry
}

func (s *jsonSpan) End(err error) {
	e := s.entry
	e.DurationMS = float64(time.Since(e.StartedAt)) / float64(time.Millisecond)
	e.Status = "success"
	if err != nil {
		e.Status = "error"
		e.Error = err.Error()
	}
	s.tracer.finish(e)
}

// OTelTracer adapts an OpenTelemetry tracer to the Tracer interface.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer uses provider, or the globally registered provider when nil.
func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &OTelTracer{tracer: provider.Tracer("specsync")}
}

// Start opens a span named after the stage and tagged with the run labels.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	l := LabelsFrom(ctx)
	attrs := []attribute.KeyValue{attribute.String("specsync.stage", operation)}
	if l.RunID != "" {
		attrs = append(attrs, attribute.String("specsync.run_id", l.RunID))
	}
	if l.Domain != "" {
		attrs = append(attrs, attribute.String("specsync.domain", string(l.Domain)))
	}
	ctx, span := t.tracer.Start(ctx, "specsync."+operation, trace.WithAttributes(attrs...))
	return ctx, otelSpan{span: span}
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}
