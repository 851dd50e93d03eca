package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"scfcore/internal/calculators"
)

const (
	traceJSON = "json"
	traceOTel = "otel"

	metricsExpvar     = "expvar"
	metricsPrometheus = "prometheus"
)

// telemetry holds the tracer and metrics recorder selected by --trace and
// --metrics.
type telemetry struct {
	tracer   calculators.Tracer
	provider *sdktrace.TracerProvider

	recorder calculators.MetricsRecorder
	expvar   *calculators.ExpvarMetricsRecorder
	registry *prometheus.Registry
}

func newTelemetry(trace, metrics string, w io.Writer) (*telemetry, error) {
	t := &telemetry{}
	switch trace {
	case "":
	case traceJSON:
		t.tracer = calculators.NewJSONTracer(w)
	case traceOTel:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("otel exporter: %w", err)
		}
		t.provider = sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
		t.tracer = calculators.NewOTelTracer(t.provider.Tracer("scfcalc"))
	default:
		return nil, fmt.Errorf("unknown trace format %q, want %s or %s", trace, traceJSON, traceOTel)
	}

	switch metrics {
	case "":
	case metricsExpvar:
		rec, err := calculators.NewExpvarMetricsRecorder("")
		if err != nil {
			return nil, err
		}
		t.expvar, t.recorder = rec, rec
	case metricsPrometheus:
		t.registry = prometheus.NewRegistry()
		rec, err := calculators.NewPrometheusMetricsRecorder(t.registry)
		if err != nil {
			return nil, err
		}
		t.recorder = rec
	default:
		return nil, fmt.Errorf("unknown metrics format %q, want %s or %s", metrics, metricsExpvar, metricsPrometheus)
	}
	return t, nil
}

func (t *telemetry) options() []calculators.Option {
	if t == nil {
		return nil
	}
	var opts []calculators.Option
	if t.tracer != nil {
		opts = append(opts, calculators.WithTracer(t.tracer))
	}
	if t.recorder != nil {
		opts = append(opts, calculators.WithMetricsRecorder(t.recorder))
	}
	return opts
}

// flush ends the span pipeline and dumps the collected metrics to w.
func (t *telemetry) flush(ctx context.Context, w io.Writer) error {
	var errs []error
	if t.provider != nil {
		errs = append(errs, t.provider.Shutdown(ctx))
	}
	if t.expvar != nil {
		_, err := t.expvar.WriteTo(w)
		errs = append(errs, err)
	}
	if t.registry != nil {
		families, err := t.registry.Gather()
		errs = append(errs, err)
		for _, mf := range families {
			if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}
