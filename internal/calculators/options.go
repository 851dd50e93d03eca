package calculators

import (
	"log/slog"
	"os"
	"time"

	"scfcore/internal/autocomplete"
	"scfcore/internal/engine"
	"scfcore/internal/engine/integrals"
	"scfcore/internal/engine/reference"
	"scfcore/internal/journal"
	"scfcore/internal/state"
	"scfcore/pkg/property"
)

// Completer derives secondary properties after the engine routine ran.
type Completer interface {
	Complete(r *property.Results, req autocomplete.Request) error
}

// sharedPool is used by every calculator built without WithIntegralPool.
var sharedPool = integrals.NewPool()

type config struct {
	logger    Logger
	engineOut *slog.Logger
	clock     func() time.Time
	metrics   MetricsRecorder
	tracer    Tracer
	pool      *integrals.Pool
	factory   engine.Factory
	completer Completer
	archive   *state.Archive
	journal   journal.Journal
}

func defaultConfig() config {
	return config{
		logger:    noopLogger{},
		engineOut: slog.New(slog.NewTextHandler(os.Stderr, nil)),
		clock:     time.Now,
		metrics:   noopMetrics{},
		tracer:    noopTracer{},
		pool:      sharedPool,
		factory:   reference.NewFactory(),
		completer: autocomplete.New(),
	}
}

// Option configures a calculator.
type Option func(*config)

// WithLogger routes calculator lifecycle logs to l.
func WithLogger(l Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithEngineOutput sets where engine progress goes when show_engine_output
// is on. The default writes text to stderr.
func WithEngineOutput(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.engineOut = l
		}
	}
}

// WithClock overrides the time source used for durations and timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		if now != nil {
			c.clock = now
		}
	}
}

// WithMetricsRecorder installs a metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(c *config) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracer installs a tracer.
func WithTracer(t Tracer) Option {
	return func(c *config) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithIntegralPool draws integral handles from p instead of the process
// wide pool.
func WithIntegralPool(p *integrals.Pool) Option {
	return func(c *config) {
		if p != nil {
			c.pool = p
		}
	}
}

// WithEngine builds systems with f instead of the reference engine.
func WithEngine(f engine.Factory) Option {
	return func(c *config) {
		if f != nil {
			c.factory = f
		}
	}
}

// WithCompleter replaces the result auto-completer.
func WithCompleter(comp Completer) Option {
	return func(c *config) {
		if comp != nil {
			c.completer = comp
		}
	}
}

// WithStateArchive saves every snapshot produced by GetState to a.
func WithStateArchive(a *state.Archive) Option {
	return func(c *config) { c.archive = a }
}

// WithJournal records every successful calculation in j.
func WithJournal(j journal.Journal) Option {
	return func(c *config) { c.journal = j }
}
