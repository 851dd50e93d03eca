// Package calculators implements the DFT, HF and CC calculators on top of an
// engine system: structure and settings bookkeeping, dirty tracking, spin
// mode dispatch, result assembly and orbital state transplantation.
package calculators

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"scfcore/internal/autocomplete"
	"scfcore/internal/engine"
	"scfcore/internal/engine/integrals"
	"scfcore/internal/translate"
	"scfcore/pkg/calculator"
	"scfcore/pkg/chem"
	"scfcore/pkg/property"
	"scfcore/pkg/settings"
)

// ProgramName is reported in every result bundle.
const ProgramName = "scfcore"

var discard = slog.New(slog.DiscardHandler)

// Base carries the state shared by every calculator variant. A Base is not
// safe for concurrent use; the integral pool it draws from is.
type Base struct {
	routine  routine
	cfg      config
	settings *settings.Settings
	results  property.Results
	required property.List

	atoms    chem.AtomCollection
	hasAtoms bool

	sys engine.System
	// moved is set whenever the orbitals of sys may not belong to the
	// current positions; the next Calculate re-solves.
	moved bool

	lease  *integrals.Lease
	closed bool
}

var _ calculator.Calculator = (*Base)(nil)

func newBase(r routine, opts ...Option) *Base {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Base{
		routine:  r,
		cfg:      cfg,
		settings: translate.NewSettings(r.variant()),
		moved:    true,
		lease:    cfg.pool.Acquire(integrals.CalculatorKeys...),
	}
}

// run wraps a public operation with tracing, metrics and failure logging.
func (b *Base) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := b.cfg.tracer.Start(ctx, op)
	start := b.cfg.clock()
	err := fn(ctx)
	b.cfg.metrics.Observe(ctx, op, err == nil, b.cfg.clock().Sub(start))
	span.End(err)
	if err != nil {
		b.cfg.logger.Debug("calculator operation failed", "calculator", b.Name(), "operation", op, "error", err)
	}
	return err
}

func (b *Base) checkOpen(op string) error {
	if b.closed {
		return calculator.StateError{Op: op, Reason: "calculator is closed"}
	}
	return nil
}

func (b *Base) checkStructure(op string) error {
	if err := b.checkOpen(op); err != nil {
		return err
	}
	if !b.hasAtoms {
		return calculator.StateError{Op: op, Reason: "no structure set"}
	}
	return nil
}

func (b *Base) failed(err error) error {
	return calculator.CalculationFailedError{Calculator: b.Name(), Err: err}
}

// Name identifies the calculator variant.
func (b *Base) Name() string { return b.routine.name() }

// SupportsMethodFamily reports whether family is the variant's method family.
func (b *Base) SupportsMethodFamily(family string) bool { return b.routine.family() == family }

// PossibleProperties lists what the variant can produce.
func (b *Base) PossibleProperties() property.List { return b.routine.possible() }

// Settings exposes the live option collection. Changes take effect on the
// next Calculate, GetState or LoadState.
func (b *Base) Settings() *settings.Settings { return b.settings }

// Results returns a copy of the last result bundle.
func (b *Base) Results() property.Results { return b.results.Clone() }

func (b *Base) SetRequiredProperties(list property.List) { b.required = list }
func (b *Base) GetRequiredProperties() property.List    { return b.required }

// SetStructure replaces the structure. The engine system and all results are
// discarded.
func (b *Base) SetStructure(atoms chem.AtomCollection) error {
	return b.run(context.Background(), "set_structure", func(context.Context) error {
		if err := b.checkOpen("set structure"); err != nil {
			return err
		}
		if err := atoms.Validate(); err != nil {
			return calculator.ValidationError{Problems: []string{err.Error()}}
		}
		if err := checkFinite(atoms.Positions); err != nil {
			return err
		}
		b.dropSystem()
		b.atoms = atoms.Clone()
		b.hasAtoms = true
		b.results.Reset()
		b.moved = true
		return nil
	})
}

// GetStructure returns a copy of the current structure.
func (b *Base) GetStructure() (chem.AtomCollection, error) {
	if !b.hasAtoms {
		return chem.AtomCollection{}, calculator.StateError{Op: "get structure", Reason: "no structure set"}
	}
	return b.atoms.Clone(), nil
}

// GetPositions returns a copy of the current positions.
func (b *Base) GetPositions() (chem.PositionCollection, error) {
	if !b.hasAtoms {
		return nil, calculator.StateError{Op: "get positions", Reason: "no structure set"}
	}
	return b.atoms.Positions.Clone(), nil
}

func (b *Base) translate() (engine.Settings, error) {
	return translate.Translate(b.settings, b.routine.variant())
}

// checkElectrons rejects charge, multiplicity and spin mode combinations
// the structure cannot hold.
func checkElectrons(atoms chem.AtomCollection, native engine.Settings) error {
	if _, _, err := engine.NElectrons(atoms.NuclearCharge(), native.Charge, native.Multiplicity); err != nil {
		return calculator.ValidationError{Problems: []string{fmt.Sprintf("%s/%s: %v", translate.OptionMolecularCharge, translate.OptionSpinMultiplicity, err)}}
	}
	if native.SCFMode == engine.Restricted && native.Multiplicity != 1 {
		return calculator.ValidationError{Problems: []string{fmt.Sprintf("%s: restricted calculations need multiplicity 1, got %d", translate.OptionSpinMode, native.Multiplicity)}}
	}
	return nil
}

func (b *Base) engineOutput() *slog.Logger {
	if b.settings.Bool(translate.OptionShowEngineOutput) {
		return b.cfg.engineOut
	}
	return discard
}

// newSystem builds an engine system with a fresh unique name.
func (b *Base) newSystem(ctx context.Context, atoms chem.AtomCollection, native engine.Settings) (engine.System, error) {
	native.Name = uuid.NewString()
	sys, err := b.cfg.factory.NewSystem(ctx, atoms, native, b.lease)
	if err != nil {
		return nil, err
	}
	b.cfg.logger.Info("generated engine system", "calculator", b.Name(), "system", native.Name, "engine", b.cfg.factory.Name())
	return sys, nil
}

// ensureSystem builds the system on first use and rebuilds it when the
// translated settings no longer match the ones it was built with.
func (b *Base) ensureSystem(ctx context.Context, native engine.Settings) error {
	if b.sys != nil {
		if b.sys.Settings().Fingerprint() == native.Fingerprint() {
			return nil
		}
		b.cfg.logger.Info("settings changed, rebuilding engine system", "calculator", b.Name(), "system", b.sys.Name())
		b.dropSystem()
	}
	sys, err := b.newSystem(ctx, b.atoms, native)
	if err != nil {
		return b.failed(err)
	}
	b.sys = sys
	b.moved = true
	return nil
}

func (b *Base) dropSystem() {
	if b.sys == nil {
		return
	}
	if err := b.sys.Close(); err != nil {
		b.cfg.logger.Warn("closing engine system failed", "system", b.sys.Name(), "error", err)
	}
	b.sys = nil
}

// Calculate runs the variant routine for the required properties and
// returns a copy of the result bundle.
func (b *Base) Calculate(ctx context.Context, description string) (property.Results, error) {
	var out property.Results
	err := b.run(ctx, "calculate", func(ctx context.Context) error {
		if err := b.checkStructure("calculate"); err != nil {
			return err
		}
		if possible := b.PossibleProperties(); !possible.ContainsSubSet(b.required) {
			return calculator.UnsupportedPropertyError{Calculator: b.Name(), Requested: b.required, Possible: possible}
		}
		native, err := b.translate()
		if err != nil {
			return err
		}
		if err := b.routine.check(native); err != nil {
			return calculator.UnsupportedConfigurationError{Calculator: b.Name(), Reason: err.Error()}
		}
		if err := checkElectrons(b.atoms, native); err != nil {
			return err
		}
		if err := b.ensureSystem(ctx, native); err != nil {
			return err
		}
		b.results.Reset()
		started := b.cfg.clock()
		wanted, err := b.routine.compute(ctx, b, strategyFor(native.SCFMode), b.engineOutput())
		if err != nil {
			b.results.Reset()
			b.moved = true
			return b.failed(err)
		}
		req := autocomplete.Request{
			Atoms:        b.atoms.Clone(),
			Wanted:       wanted,
			Temperature:  b.settings.Float(translate.OptionTemperature),
			Pressure:     b.settings.Float(translate.OptionPressure),
			Multiplicity: native.Multiplicity,
		}
		if err := b.cfg.completer.Complete(&b.results, req); err != nil {
			b.results.Reset()
			return b.failed(err)
		}
		b.results.SetProgramName(ProgramName)
		if description != "" {
			b.results.SetDescription(description)
		}
		b.record(ctx, native, b.cfg.clock().Sub(started))
		out = b.results.Clone()
		return nil
	})
	return out, err
}

// Clone returns an independent calculator with copied settings, structure,
// requirements and results. It holds its own integral lease and builds its
// own engine system on first use.
func (b *Base) Clone() (calculator.Calculator, error) {
	if err := b.checkOpen("clone"); err != nil {
		return nil, err
	}
	c := &Base{
		routine:  b.routine,
		cfg:      b.cfg,
		settings: b.settings.Clone(),
		results:  b.results.Clone(),
		required: b.required,
		atoms:    b.atoms.Clone(),
		hasAtoms: b.hasAtoms,
		moved:    true,
		lease:    b.cfg.pool.Acquire(integrals.CalculatorKeys...),
	}
	return c, nil
}

// Close releases the engine system and the integral lease. Further calls
// are no-ops.
func (b *Base) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true
	var err error
	if b.sys != nil {
		err = b.sys.Close()
		b.sys = nil
	}
	b.lease.Release()
	if err != nil {
		return fmt.Errorf("close %s: %w", b.Name(), err)
	}
	return nil
}

func checkFinite(positions chem.PositionCollection) error {
	var problems []string
	for i, p := range positions {
		for _, x := range p {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				problems = append(problems, fmt.Sprintf("atom %d has a non-finite coordinate", i))
				break
			}
		}
	}
	if len(problems) > 0 {
		return calculator.ValidationError{Problems: problems}
	}
	return nil
}
