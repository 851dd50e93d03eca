package calculators

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var expvarSeq atomic.Uint64

// OperationStats aggregates one calculator operation.
type OperationStats struct {
	Successes      int64   `json:"successes"`
	Errors         int64   `json:"errors"`
	SecondsTotal   float64 `json:"seconds_total"`
	SlowestSeconds float64 `json:"slowest_seconds"`
}

// ExpvarMetricsRecorder publishes one expvar map per recorder, holding a
// nested map per operation with successes, errors, seconds_total and
// slowest_seconds.
type ExpvarMetricsRecorder struct {
	name string
	mu   sync.Mutex
	ops  *expvar.Map
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name
// gets a generated one; a name already published is an error.
func NewExpvarMetricsRecorder(name string) (*ExpvarMetricsRecorder, error) {
	if name == "" {
		name = fmt.Sprintf("scfcore_calculator_metrics_%d", expvarSeq.Add(1))
	}
	if expvar.Get(name) != nil {
		return nil, fmt.Errorf("expvar %q is already published", name)
	}
	r := &ExpvarMetricsRecorder{name: name, ops: new(expvar.Map).Init()}
	expvar.Publish(name, r.ops)
	return r, nil
}

// Name returns the expvar export name.
func (r *ExpvarMetricsRecorder) Name() string { return r.name }

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	op, _ := r.ops.Get(operation).(*expvar.Map)
	if op == nil {
		op = new(expvar.Map).Init()
		r.ops.Set(operation, op)
	}
	if success {
		op.Add("successes", 1)
	} else {
		op.Add("errors", 1)
	}
	secs := duration.Seconds()
	op.AddFloat("seconds_total", secs)
	if slowest, _ := op.Get("slowest_seconds").(*expvar.Float); slowest == nil || secs > slowest.Value() {
		v := new(expvar.Float)
		v.Set(secs)
		op.Set("slowest_seconds", v)
	}
}

// Snapshot reads the published counters back.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	out := make(map[string]OperationStats)
	r.ops.Do(func(kv expvar.KeyValue) {
		op, ok := kv.Value.(*expvar.Map)
		if !ok {
			return
		}
		out[kv.Key] = OperationStats{
			Successes:      expvarInt(op, "successes"),
			Errors:         expvarInt(op, "errors"),
			SecondsTotal:   expvarFloat(op, "seconds_total"),
			SlowestSeconds: expvarFloat(op, "slowest_seconds"),
		}
	})
	return out
}

// WriteTo writes the published map as JSON.
func (r *ExpvarMetricsRecorder) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, r.ops.String()+"\n")
	return int64(n), err
}

func expvarInt(m *expvar.Map, key string) int64 {
	if v, ok := m.Get(key).(*expvar.Int); ok {
		return v.Value()
	}
	return 0
}

func expvarFloat(m *expvar.Map, key string) float64 {
	if v, ok := m.Get(key).(*expvar.Float); ok {
		return v.Value()
	}
	return 0
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// PrometheusMetricsRecorder exports operation latencies and outcome counts
// as Prometheus collectors.
type PrometheusMetricsRecorder struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers its collectors with reg, or with
// the default registerer when reg is nil.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &PrometheusMetricsRecorder{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scfcore",
			Subsystem: "calculator",
			Name:      "operation_duration_seconds",
			Help:      "Duration of calculator operations.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"operation"}),
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scfcore",
			Subsystem: "calculator",
			Name:      "operations_total",
			Help:      "Calculator operations by outcome.",
		}, []string{"operation", "status"}),
	}
	for _, c := range []prometheus.Collector{r.duration, r.total} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register calculator metrics: %w", err)
		}
	}
	return r, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
	r.total.WithLabelValues(operation, status(success)).Inc()
}

// JSONTraceEntry is one finished span. Parent is zero for spans started
// outside any other span.
type JSONTraceEntry struct {
	ID         uint64    `json:"id"`
	Parent     uint64    `json:"parent,omitempty"`
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS float64   `json:"duration_ms"`
}

type jsonSpanKey struct{}

// JSONTraceTracer writes finished spans as JSON lines and keeps them in
// order of completion. Spans started from a context carrying another span
// record it as their parent.
type JSONTraceTracer struct {
	seq     atomic.Uint64
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
}

// NewJSONTracer returns a tracer writing to w; a nil writer only retains.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries copies the finished spans.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]JSONTraceEntry(nil), t.entries...)
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	parent, _ := ctx.Value(jsonSpanKey{}).(uint64)
	span := &jsonTraceSpan{tracer: t, entry: JSONTraceEntry{
		ID:        t.seq.Add(1),
		Parent:    parent,
		Operation: operation,
		StartedAt: time.Now().UTC(),
	}}
	return context.WithValue(ctx, jsonSpanKey{}, span.entry.ID), span
}

type jsonTraceSpan struct {
	tracer *JSONTraceTracer
	entry  JSONTraceEntry
}

func (s *jsonTraceSpan) End(err error) {
	e := s.entry
	e.DurationMS = float64(time.Since(e.StartedAt)) / float64(time.Millisecond)
	e.Status = status(err == nil)
	if err != nil {
		e.Error = err.Error()
	}
	t := s.tracer
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, e)
	if t.enc != nil {
		_ = t.enc.Encode(e)
	}
}

// OTelTracer opens OpenTelemetry spans for calculator operations.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer wraps t, falling back to the global provider's
// "scfcore/calculators" tracer when nil.
func NewOTelTracer(t trace.Tracer) *OTelTracer {
	if t == nil {
		t = otel.Tracer("scfcore/calculators")
	}
	return &OTelTracer{tracer: t}
}

// Start implements Tracer.
func (t *OTelTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	ctx, span := t.tracer.Start(ctx, "calculator."+operation,
		trace.WithAttributes(attribute.String("scfcore.operation", operation)))
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
