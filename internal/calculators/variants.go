package calculators

import (
	"context"
	"errors"
	"log/slog"

	"scfcore/internal/engine"
	"scfcore/internal/translate"
	"scfcore/pkg/property"
)

// routine is the variant specific part of a calculator.
type routine interface {
	variant() translate.Variant
	name() string
	family() string
	possible() property.List
	// check rejects translated settings the variant cannot honor before any
	// engine call.
	check(native engine.Settings) error
	// compute fills b.results and returns the properties the auto-completer
	// should derive.
	compute(ctx context.Context, b *Base, s spinStrategy, out *slog.Logger) (property.List, error)
}

var scfProperties = property.NewList(
	property.Energy, property.Gradients, property.Hessian, property.BondOrderMatrix,
	property.Thermochemistry, property.AtomicCharges, property.AOtoAtomMapping,
	property.DensityMatrix, property.OverlapMatrix, property.ElectronicOccupation,
)

// NewDFT returns a Kohn-Sham DFT calculator. The method option takes a
// functional with an optional dispersion suffix, e.g. "PBE-D2".
func NewDFT(opts ...Option) *Base {
	return newBase(scfRoutine{v: translate.VariantDFT, calcName: "DFTCalculator"}, opts...)
}

// NewHF returns a Hartree-Fock calculator.
func NewHF(opts ...Option) *Base {
	return newBase(scfRoutine{v: translate.VariantHF, calcName: "HFCalculator"}, opts...)
}

// NewCC returns a coupled cluster calculator on a restricted Hartree-Fock
// reference.
func NewCC(opts ...Option) *Base {
	return newBase(ccRoutine{}, opts...)
}

// New returns the calculator for variant v.
func New(v translate.Variant, opts ...Option) (*Base, error) {
	switch v {
	case translate.VariantDFT:
		return NewDFT(opts...), nil
	case translate.VariantHF:
		return NewHF(opts...), nil
	case translate.VariantCC:
		return NewCC(opts...), nil
	}
	return nil, errors.New("unknown calculator variant " + string(v))
}

type scfRoutine struct {
	v        translate.Variant
	calcName string
}

func (r scfRoutine) variant() translate.Variant { return r.v }
func (r scfRoutine) name() string               { return r.calcName }
func (r scfRoutine) family() string             { return string(r.v) }
func (scfRoutine) possible() property.List      { return scfProperties }
func (scfRoutine) check(engine.Settings) error  { return nil }

func (scfRoutine) compute(ctx context.Context, b *Base, s spinStrategy, out *slog.Logger) (property.List, error) {
	sys := b.sys
	energy, err := solveOrEvaluate(ctx, b, out)
	if err != nil {
		return 0, err
	}
	b.results.SetEnergy(energy)

	if b.required.Contains(property.Gradients) {
		g, err := sys.Gradients(ctx, out)
		if err != nil {
			return 0, err
		}
		_, dg, err := sys.Dispersion()
		if err != nil {
			return 0, err
		}
		if dg != nil {
			g.Add(g, dg)
		}
		b.results.SetGradients(g)
	}
	thermo := b.required.Contains(property.Hessian) || b.required.Contains(property.Thermochemistry)
	if thermo {
		h, err := sys.Hessian(ctx, out)
		if err != nil {
			return 0, err
		}
		b.results.SetHessian(h)
	}
	b.results.SetSuccessful(true)

	if b.required.Contains(property.AtomicCharges) {
		q, err := mullikenCharges(sys, s)
		if err != nil {
			return 0, err
		}
		b.results.SetAtomicCharges(q)
	}

	// Set on every run regardless of the request; bond orders read them.
	b.results.SetAOtoAtomMapping(aoToAtomMapping(sys))
	b.results.SetOverlapMatrix(sys.Overlap())
	d, err := s.density(sys)
	if err != nil {
		return 0, err
	}
	b.results.SetDensityMatrix(d)
	b.results.SetElectronicOccupation(s.occupation(sys))

	var wanted property.List
	if b.required.Contains(property.BondOrderMatrix) {
		wanted = wanted.Add(property.BondOrderMatrix)
	}
	if thermo {
		wanted = wanted.Add(property.Thermochemistry)
	}
	return wanted, nil
}

// solveOrEvaluate converges the orbitals when the structure moved and
// otherwise evaluates the energy of the present ones.
func solveOrEvaluate(ctx context.Context, b *Base, out *slog.Logger) (float64, error) {
	if !b.moved {
		return b.sys.Energy(ctx, out)
	}
	e, err := b.sys.RunSCF(ctx, out)
	if err != nil {
		return 0, err
	}
	b.moved = false
	return e, nil
}

var ccProperties = property.NewList(
	property.Energy, property.AtomicCharges, property.OverlapMatrix, property.AOtoAtomMapping,
)

type ccRoutine struct{}

func (ccRoutine) variant() translate.Variant { return translate.VariantCC }
func (ccRoutine) name() string               { return "CCCalculator" }
func (ccRoutine) family() string             { return "CC" }
func (ccRoutine) possible() property.List    { return ccProperties }

func (ccRoutine) check(native engine.Settings) error {
	if native.SCFMode == engine.Unrestricted {
		return errors.New("coupled cluster needs a restricted reference")
	}
	return nil
}

func (ccRoutine) compute(ctx context.Context, b *Base, s spinStrategy, out *slog.Logger) (property.List, error) {
	sys := b.sys
	level := sys.Settings().Method.CCLevel
	if level == engine.CCNone {
		level = engine.CCDLPNOSDT0
	}
	var (
		reference float64
		corr      engine.Correlation
		err       error
	)
	if b.moved {
		if reference, err = sys.RunSCF(ctx, out); err != nil {
			return 0, err
		}
		if corr, err = correlate(ctx, sys, level, out); err != nil {
			return 0, err
		}
		b.moved = false
	} else {
		if reference, err = sys.Energy(ctx, out); err != nil {
			return 0, err
		}
		var ok bool
		if corr, ok = sys.Correlation(); !ok || corr.Level != level {
			if corr, err = correlate(ctx, sys, level, out); err != nil {
				return 0, err
			}
		}
	}
	b.results.SetEnergy(reference + corr.Total())
	b.results.SetSuccessful(true)

	if b.required.Contains(property.AtomicCharges) {
		q, err := mullikenCharges(sys, s)
		if err != nil {
			return 0, err
		}
		b.results.SetAtomicCharges(q)
	}
	b.results.SetAOtoAtomMapping(aoToAtomMapping(sys))
	b.results.SetOverlapMatrix(sys.Overlap())
	return 0, nil
}

func correlate(ctx context.Context, sys engine.System, level engine.CCLevel, out *slog.Logger) (engine.Correlation, error) {
	if level.NeedsLocalization() {
		if err := sys.Localize(ctx, out); err != nil {
			return engine.Correlation{}, err
		}
	}
	return sys.RunCorrelation(ctx, level, out)
}
