package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"scfcore/internal/blob"
	"scfcore/internal/calculators"
	"scfcore/internal/journal"
	"scfcore/internal/module"
	"scfcore/internal/state"
	"scfcore/pkg/calculator"
	"scfcore/pkg/chem"
	"scfcore/pkg/settings"
)

type app struct {
	stdout, stderr io.Writer

	model        string
	settingsFile string
	overrides    []string
	verbose      bool
	trace        string
	metrics      string

	logger    *slog.Logger
	journal   journal.Journal
	archive   *state.Archive
	telemetry *telemetry
}

// newRootCmd builds the command tree. The returned cleanup closes the
// journal and flushes telemetry and must run after Execute.
func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, func(context.Context)) {
	a := &app{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "scfcalc",
		Short:         "Run DFT, HF and coupled cluster calculations on XYZ structures",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			level := slog.LevelInfo
			if a.verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
			t, err := newTelemetry(a.trace, a.metrics, a.stderr)
			if err != nil {
				return err
			}
			a.telemetry = t
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	pf := root.PersistentFlags()
	pf.StringVarP(&a.model, "model", "m", "DFT", "calculator model (DFT, HF or CC)")
	pf.StringVarP(&a.settingsFile, "settings", "s", "", "YAML file with calculator settings")
	pf.StringArrayVar(&a.overrides, "set", nil, "override a setting, e.g. --set basis_set=STO-3G (repeatable)")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.StringVar(&a.trace, "trace", "", "write operation spans to stderr: json or otel")
	pf.Lookup("trace").NoOptDefVal = traceJSON
	pf.StringVar(&a.metrics, "metrics", "", "dump operation metrics to stderr on exit: expvar or prometheus")

	root.AddCommand(
		a.energyCmd(),
		a.stateCmd(),
		a.settingsCmd(),
		a.journalCmd(),
		a.modelsCmd(),
	)
	return root, a.close
}

func (a *app) close(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.flush(ctx, a.stderr); err != nil {
			a.logger.Warn("flushing telemetry failed", "error", err)
		}
		a.telemetry = nil
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("closing journal failed", "error", err)
		}
		a.journal = nil
	}
}

func (a *app) openJournal(ctx context.Context) (journal.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	j, err := journal.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	a.journal = j
	return j, nil
}

func (a *app) openArchive(ctx context.Context) (*state.Archive, error) {
	if a.archive != nil {
		return a.archive, nil
	}
	store, err := blob.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	a.archive = state.NewArchive(store, "")
	return a.archive, nil
}

// newCalculator resolves the model and applies the settings file and
// overrides, in that order.
func (a *app) newCalculator(ctx context.Context, withArchive bool) (calculator.Calculator, error) {
	opts := []calculators.Option{
		calculators.WithLogger(a.logger),
		calculators.WithEngineOutput(a.logger),
	}
	opts = append(opts, a.telemetry.options()...)
	j, err := a.openJournal(ctx)
	if err != nil {
		return nil, err
	}
	if j != nil {
		opts = append(opts, calculators.WithJournal(j))
	}
	if withArchive {
		archive, err := a.openArchive(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, calculators.WithStateArchive(archive))
	}
	c, err := module.New(opts...).Get(module.InterfaceCalculator, a.model)
	if err != nil {
		return nil, err
	}
	if err := a.applySettings(c.Settings()); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func (a *app) applySettings(s *settings.Settings) error {
	if a.settingsFile != "" {
		if err := s.ApplyYAMLFile(a.settingsFile); err != nil {
			return fmt.Errorf("settings file: %w", err)
		}
	}
	for _, o := range a.overrides {
		name, raw, ok := strings.Cut(o, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return fmt.Errorf("override %q is not name=value", o)
		}
		name = strings.TrimSpace(name)
		v, err := overrideValue(s, name, raw)
		if err != nil {
			return err
		}
		if err := s.Set(name, v); err != nil {
			return err
		}
	}
	return nil
}

// overrideValue keeps text options verbatim and decodes everything else as a
// YAML scalar.
func overrideValue(s *settings.Settings, name, raw string) (any, error) {
	d, ok := s.Descriptor(name)
	if !ok {
		return nil, fmt.Errorf("settings: unknown option %q", name)
	}
	if d.Kind == settings.KindString || d.Kind == settings.KindOption {
		return raw, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("override %s: %w", name, err)
	}
	return v, nil
}

func readStructure(path string) (chem.AtomCollection, error) {
	f, err := os.Open(path)
	if err != nil {
		return chem.AtomCollection{}, err
	}
	defer func() { _ = f.Close() }()
	return chem.ReadXYZ(f)
}
