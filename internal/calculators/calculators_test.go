package calculators

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"

	"scfcore/internal/engine"
	"scfcore/internal/engine/integrals"
	"scfcore/internal/engine/reference"
	"scfcore/internal/translate"
	"scfcore/pkg/calculator"
	"scfcore/pkg/chem"
	"scfcore/pkg/property"
)

const hfH2STO3G = -1.1167143

func hydrogenMolecule(r float64) chem.AtomCollection {
	return chem.AtomCollection{
		Elements:  []chem.ElementType{chem.H, chem.H},
		Positions: chem.PositionCollection{{0, 0, 0}, {0, 0, r}},
	}
}

func hydrogenAtom() chem.AtomCollection {
	return chem.AtomCollection{Elements: []chem.ElementType{chem.H}, Positions: chem.PositionCollection{{0, 0, 0}}}
}

// countingFactory wraps the reference engine and counts systems and solves.
type countingFactory struct {
	inner   engine.Factory
	systems int
	scf     int
	failSCF error
}

func newCountingFactory() *countingFactory {
	return &countingFactory{inner: reference.NewFactory()}
}

func (f *countingFactory) Name() string { return "counting" }

func (f *countingFactory) NewSystem(ctx context.Context, atoms chem.AtomCollection, s engine.Settings, h integrals.Provider) (engine.System, error) {
	f.systems++
	sys, err := f.inner.NewSystem(ctx, atoms, s, h)
	if err != nil {
		return nil, err
	}
	return &countingSystem{System: sys, f: f}, nil
}

type countingSystem struct {
	engine.System
	f *countingFactory
}

func (s *countingSystem) RunSCF(ctx context.Context, out *slog.Logger) (float64, error) {
	s.f.scf++
	if s.f.failSCF != nil {
		return 0, s.f.failSCF
	}
	return s.System.RunSCF(ctx, out)
}

func configure(t *testing.T, c *Base, basis string) {
	t.Helper()
	for name, v := range map[string]any{
		translate.OptionWorkingDirectory:  t.TempDir(),
		translate.OptionBasisSet:          basis,
		translate.OptionGridType:          "BECKE",
		translate.OptionSmallGridAccuracy: 1,
		translate.OptionGridAccuracy:      2,
		translate.OptionInitialGuess:      "HCORE",
		translate.OptionSCFCriterion:      1e-10,
	} {
		if err := c.Settings().Set(name, v); err != nil {
			t.Fatalf("set %s: %v", name, err)
		}
	}
}

func newTestCalculator(t *testing.T, ctor func(...Option) *Base, atoms chem.AtomCollection, opts ...Option) *Base {
	t.Helper()
	opts = append([]Option{WithIntegralPool(integrals.NewPool())}, opts...)
	c := ctor(opts...)
	t.Cleanup(func() { _ = c.Close() })
	configure(t, c, "STO-3G")
	if err := c.SetStructure(atoms); err != nil {
		t.Fatalf("set structure: %v", err)
	}
	return c
}

func TestHydrogenMoleculeEnergy(t *testing.T) {
	c := newTestCalculator(t, NewHF, hydrogenMolecule(1.4))
	c.SetRequiredProperties(property.NewList(property.Energy))
	res, err := c.Calculate(context.Background(), "h2 single point")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	e, ok := res.Energy()
	if !ok || math.Abs(e-hfH2STO3G) > 1e-5 {
		t.Fatalf("expected energy %.7f, got %.7f (%v)", hfH2STO3G, e, ok)
	}
	if done, ok := res.Successful(); !ok || !done {
		t.Fatalf("calculation not flagged successful")
	}
	if res.Has(property.Gradients) {
		t.Fatalf("gradients were not requested")
	}
	if name, _ := res.ProgramName(); name != ProgramName {
		t.Fatalf("program name %q", name)
	}
	if d, _ := res.Description(); d != "h2 single point" {
		t.Fatalf("description %q", d)
	}
	for _, p := range []property.Property{property.AOtoAtomMapping, property.OverlapMatrix, property.DensityMatrix, property.ElectronicOccupation} {
		if !res.Has(p) {
			t.Fatalf("%s missing", p)
		}
	}
}

func TestDefaultDensityFunctionalEnergyIsFinite(t *testing.T) {
	c := NewDFT(WithIntegralPool(integrals.NewPool()))
	t.Cleanup(func() { _ = c.Close() })
	if err := c.Settings().Set(translate.OptionWorkingDirectory, t.TempDir()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := c.SetStructure(hydrogenMolecule(1.4)); err != nil {
		t.Fatalf("set structure: %v", err)
	}
	c.SetRequiredProperties(property.NewList(property.Energy))
	res, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	e, _ := res.Energy()
	if math.IsNaN(e) || math.IsInf(e, 0) || e > -1 {
		t.Fatalf("unexpected PBE energy %v", e)
	}
	if res.Has(property.Description) {
		t.Fatalf("empty description must not be stored")
	}
}

func TestUnsupportedPropertiesRejected(t *testing.T) {
	for _, ctor := range []func(...Option) *Base{NewDFT, NewHF, NewCC} {
		f := newCountingFactory()
		c := newTestCalculator(t, ctor, hydrogenMolecule(1.4), WithEngine(f))
		possible := c.PossibleProperties()
		var extra property.Property
		for p := property.Energy; p <= property.Description; p <<= 1 {
			if !possible.Contains(p) {
				extra = p
				break
			}
		}
		c.SetRequiredProperties(property.NewList(property.Energy, extra))
		_, err := c.Calculate(context.Background(), "")
		var unsupported calculator.UnsupportedPropertyError
		if !errors.As(err, &unsupported) {
			t.Fatalf("%s: expected UnsupportedPropertyError, got %v", c.Name(), err)
		}
		if f.systems != 0 {
			t.Fatalf("%s: engine used before the property check", c.Name())
		}
	}
}

func TestCoupledClusterRejectsUnrestricted(t *testing.T) {
	for _, setup := range []map[string]any{
		{translate.OptionSpinMode: translate.SpinUnrestricted},
		{translate.OptionSpinMultiplicity: 3},
	} {
		f := newCountingFactory()
		c := newTestCalculator(t, NewCC, hydrogenMolecule(1.4), WithEngine(f))
		for k, v := range setup {
			if err := c.Settings().Set(k, v); err != nil {
				t.Fatalf("set %s: %v", k, err)
			}
		}
		c.SetRequiredProperties(property.NewList(property.Energy))
		_, err := c.Calculate(context.Background(), "")
		var unsupported calculator.UnsupportedConfigurationError
		if !errors.As(err, &unsupported) {
			t.Fatalf("expected UnsupportedConfigurationError, got %v", err)
		}
		if f.systems != 0 || f.scf != 0 {
			t.Fatalf("engine called %d/%d times", f.systems, f.scf)
		}
	}
}

func TestInconsistentElectronCountRejected(t *testing.T) {
	cases := []struct {
		name  string
		setup map[string]any
	}{
		{"odd multiplicity parity", map[string]any{translate.OptionSpinMultiplicity: 2}},
		{"charge beyond nuclei", map[string]any{translate.OptionMolecularCharge: 4}},
		{"restricted triplet", map[string]any{translate.OptionSpinMode: translate.SpinRestricted, translate.OptionSpinMultiplicity: 3}},
	}
	for _, tc := range cases {
		f := newCountingFactory()
		c := newTestCalculator(t, NewHF, hydrogenMolecule(1.4), WithEngine(f))
		for k, v := range tc.setup {
			if err := c.Settings().Set(k, v); err != nil {
				t.Fatalf("%s: set %s: %v", tc.name, k, err)
			}
		}
		c.SetRequiredProperties(property.NewList(property.Energy))
		var invalid calculator.ValidationError
		if _, err := c.Calculate(context.Background(), ""); !errors.As(err, &invalid) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
		if _, err := c.GetState(context.Background()); !errors.As(err, &invalid) {
			t.Fatalf("%s: get state expected ValidationError, got %v", tc.name, err)
		}
		if f.systems != 0 {
			t.Fatalf("%s: engine built %d systems", tc.name, f.systems)
		}
	}
}

func TestCoupledClusterEnergy(t *testing.T) {
	c := newTestCalculator(t, NewCC, hydrogenMolecule(1.4))
	if err := c.Settings().Set(translate.OptionMethod, "CCSD(T)"); err != nil {
		t.Fatalf("set method: %v", err)
	}
	c.SetRequiredProperties(property.NewList(property.Energy, property.AtomicCharges))
	res, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	e, _ := res.Energy()
	if math.Abs(e-(-1.137284)) > 1e-4 {
		t.Fatalf("expected exact two-electron energy, got %.6f", e)
	}
	q, ok := res.AtomicCharges()
	if !ok || math.Abs(q[0]) > 1e-8 || math.Abs(q[1]) > 1e-8 {
		t.Fatalf("charges %v", q)
	}
	if !res.Has(property.AOtoAtomMapping) || !res.Has(property.OverlapMatrix) || res.Has(property.DensityMatrix) {
		t.Fatalf("unexpected property set %s", res.Available())
	}
	again, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("second calculate: %v", err)
	}
	if e2, _ := again.Energy(); math.Abs(e2-e) > 1e-8 {
		t.Fatalf("energy changed without a move: %.8f vs %.8f", e, e2)
	}
}

func TestDisplacementGatesWarmStart(t *testing.T) {
	c := newTestCalculator(t, NewHF, hydrogenMolecule(1.4))
	c.SetRequiredProperties(property.NewList(property.Energy))
	if _, err := c.Calculate(context.Background(), ""); err != nil {
		t.Fatalf("calculate: %v", err)
	}

	if err := c.ModifyPositions(chem.PositionCollection{{0, 0, 0}, {0, 0, 1.45}}); err != nil {
		t.Fatalf("modify: %v", err)
	}
	if _, ok := c.sys.ElectronicStructure(engine.Restricted); !ok {
		t.Fatalf("small displacement must keep orbitals")
	}
	if !c.moved || c.Results().Available() != 0 {
		t.Fatalf("modify must mark stale and reset results")
	}

	if err := c.ModifyPositions(chem.PositionCollection{{0, 0, 0}, {0, 0, 1.55}}); err != nil {
		t.Fatalf("modify: %v", err)
	}
	for _, mode := range []engine.SCFMode{engine.Restricted, engine.Unrestricted} {
		if _, ok := c.sys.ElectronicStructure(mode); ok {
			t.Fatalf("%s orbitals survived a 0.1 bohr displacement", mode)
		}
	}
	res, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("calculate after move: %v", err)
	}
	if e, _ := res.Energy(); e <= hfH2STO3G {
		t.Fatalf("stretched energy %.7f not above the 1.4 bohr energy", e)
	}
}

func TestModifyPositionsValidation(t *testing.T) {
	c := NewHF(WithIntegralPool(integrals.NewPool()))
	defer c.Close()
	var stateErr calculator.StateError
	if err := c.ModifyPositions(chem.PositionCollection{{0, 0, 0}}); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if _, err := c.GetPositions(); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if _, err := c.Calculate(context.Background(), ""); !errors.As(err, &stateErr) {
		t.Fatalf("expected StateError, got %v", err)
	}
	if err := c.SetStructure(hydrogenMolecule(1.4)); err != nil {
		t.Fatalf("set structure: %v", err)
	}
	var invalid calculator.ValidationError
	if err := c.ModifyPositions(chem.PositionCollection{{0, 0, 0}}); !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError for a count mismatch, got %v", err)
	}
	if err := c.ModifyPositions(chem.PositionCollection{{0, 0, 0}, {0, 0, math.NaN()}}); !errors.As(err, &invalid) {
		t.Fatalf("expected ValidationError for NaN, got %v", err)
	}
}

func TestSettingsChangeRebuildsSystem(t *testing.T) {
	f := newCountingFactory()
	c := newTestCalculator(t, NewHF, hydrogenMolecule(1.4), WithEngine(f))
	c.SetRequiredProperties(property.NewList(property.Energy))
	small, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if _, err := c.Calculate(context.Background(), ""); err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if f.systems != 1 || f.scf != 1 {
		t.Fatalf("unchanged settings rebuilt or re-solved: %d systems, %d solves", f.systems, f.scf)
	}
	if err := c.Settings().Set(translate.OptionBasisSet, "6-31G"); err != nil {
		t.Fatalf("set basis: %v", err)
	}
	large, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if f.systems != 2 || f.scf != 2 {
		t.Fatalf("basis change not applied: %d systems, %d solves", f.systems, f.scf)
	}
	es, _ := small.Energy()
	el, _ := large.Energy()
	if el >= es {
		t.Fatalf("6-31G energy %.6f not below STO-3G %.6f", el, es)
	}
}

func TestFailedCalculationStaysStale(t *testing.T) {
	f := newCountingFactory()
	c := newTestCalculator(t, NewHF, hydrogenMolecule(1.4), WithEngine(f))
	c.SetRequiredProperties(property.NewList(property.Energy))
	f.failSCF = engine.Errorf("scf", "did not converge")
	_, err := c.Calculate(context.Background(), "")
	var failed calculator.CalculationFailedError
	if !errors.As(err, &failed) {
		t.Fatalf("expected CalculationFailedError, got %v", err)
	}
	var ee *engine.Error
	if !errors.As(err, &ee) {
		t.Fatalf("engine error must stay reachable")
	}
	if c.Results().Available() != 0 || !c.moved {
		t.Fatalf("failure left results or cleared the stale flag")
	}
	f.failSCF = nil
	if _, err := c.Calculate(context.Background(), ""); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.scf != 2 {
		t.Fatalf("retry did not re-solve")
	}
}

func TestDerivedProperties(t *testing.T) {
	c := newTestCalculator(t, NewHF, hydrogenMolecule(1.4))
	c.SetRequiredProperties(property.NewList(
		property.Energy, property.Gradients, property.BondOrderMatrix,
		property.AtomicCharges, property.Thermochemistry,
	))
	res, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	g, ok := res.Gradients()
	if !ok || math.Abs(g.At(0, 2)+g.At(1, 2)) > 1e-6 {
		t.Fatalf("gradients missing or not antisymmetric")
	}
	bo, ok := res.BondOrders()
	if !ok || math.Abs(bo.At(0, 1)-1) > 1e-6 {
		t.Fatalf("H2 bond order should be one")
	}
	q, _ := res.AtomicCharges()
	if math.Abs(q[0]+q[1]) > 1e-8 {
		t.Fatalf("charges do not sum to zero: %v", q)
	}
	if !res.Has(property.Hessian) {
		t.Fatalf("thermochemistry needs the hessian")
	}
	thermo, ok := res.Thermochemistry()
	if !ok || len(thermo.Frequencies) != 1 || thermo.Frequencies[0] <= 0 || thermo.Temperature != 300 {
		t.Fatalf("thermochemistry %+v", thermo)
	}
}

func TestUnrestrictedHydrogenAtom(t *testing.T) {
	c := newTestCalculator(t, NewHF, hydrogenAtom())
	if err := c.Settings().Set(translate.OptionSpinMultiplicity, 2); err != nil {
		t.Fatalf("set multiplicity: %v", err)
	}
	c.SetRequiredProperties(property.NewList(property.Energy, property.DensityMatrix))
	res, err := c.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if e, _ := res.Energy(); math.Abs(e-(-0.466582)) > 1e-5 {
		t.Fatalf("unexpected energy %.6f", e)
	}
	d, _ := res.DensityMatrix()
	if !d.Unrestricted || d.Alpha == nil || d.Beta == nil {
		t.Fatalf("expected an unrestricted density")
	}
	occ, _ := res.ElectronicOccupation()
	if !occ.Unrestricted || occ.Alpha != 1 || occ.Beta != 0 {
		t.Fatalf("occupation %+v", occ)
	}
}

func TestCloneHoldsOwnLease(t *testing.T) {
	pool := integrals.NewPool()
	key := integrals.CalculatorKeys[0]
	c := NewHF(WithIntegralPool(pool))
	configure(t, c, "STO-3G")
	if err := c.SetStructure(hydrogenMolecule(1.4)); err != nil {
		t.Fatalf("set structure: %v", err)
	}
	c.SetRequiredProperties(property.NewList(property.Energy))
	if pool.RefCount(key) != 1 {
		t.Fatalf("refcount %d after construction", pool.RefCount(key))
	}
	cl, err := c.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	if pool.RefCount(key) != 2 {
		t.Fatalf("clone must acquire its own lease")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if pool.RefCount(key) != 1 {
		t.Fatalf("refcount %d after closing the original", pool.RefCount(key))
	}
	res, err := cl.Calculate(context.Background(), "")
	if err != nil {
		t.Fatalf("clone calculate: %v", err)
	}
	if e, _ := res.Energy(); math.Abs(e-hfH2STO3G) > 1e-5 {
		t.Fatalf("clone energy %.7f", e)
	}
	if err := cl.Close(); err != nil {
		t.Fatalf("close clone: %v", err)
	}
	if len(pool.Live()) != 0 {
		t.Fatalf("handles still live: %v", pool.Live())
	}
	var stateErr calculator.StateError
	if _, err := c.Calculate(context.Background(), ""); !errors.As(err, &stateErr) {
		t.Fatalf("closed calculator must refuse work, got %v", err)
	}
}

func TestIdentity(t *testing.T) {
	cases := []struct {
		ctor   func(...Option) *Base
		name   string
		family string
	}{
		{NewDFT, "DFTCalculator", "DFT"},
		{NewHF, "HFCalculator", "HF"},
		{NewCC, "CCCalculator", "CC"},
	}
	for _, tc := range cases {
		c := tc.ctor(WithIntegralPool(integrals.NewPool()))
		if c.Name() != tc.name || !c.SupportsMethodFamily(tc.family) || c.SupportsMethodFamily("semi-empirical") {
			t.Fatalf("identity of %s", tc.name)
		}
		_ = c.Close()
	}
	if _, err := New("MP2"); err == nil {
		t.Fatalf("unknown variant accepted")
	}
}

func TestMethodLabel(t *testing.T) {
	cases := []struct {
		m    engine.MethodSettings
		want string
	}{
		{engine.MethodSettings{Theory: engine.TheoryDFT, Functional: engine.FunctionalPBE, Dispersion: engine.DispersionD2}, "DFT/PBE-D2"},
		{engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone}, "HF"},
		{engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone, CCLevel: engine.CCDLPNOSDT0}, "HF/DLPNO-CCSD(T0)"},
	}
	for _, tc := range cases {
		if got := methodLabel(tc.m); got != tc.want {
			t.Fatalf("methodLabel = %q, want %q", got, tc.want)
		}
	}
}
