package reference

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"testing"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
	"scfcore/internal/engine/integrals"
	"scfcore/pkg/chem"
)

var quiet = slog.New(slog.DiscardHandler)

func hfSettings(t *testing.T, basis string) engine.Settings {
	t.Helper()
	return engine.Settings{
		Name:         "test-" + t.Name(),
		Path:         t.TempDir(),
		Multiplicity: 1,
		SCFMode:      engine.Restricted,
		Method:       engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone},
		Basis:        engine.BasisSettings{Label: basis},
		Grid:         engine.GridSettings{GridType: "BECKE", SmallGridAccuracy: 1, Accuracy: 2},
		SCF:          engine.SCFSettings{MaxIterations: 100, EnergyThreshold: 1e-10, InitialGuess: "HCORE"},
	}
}

func diatomic(a, b chem.ElementType, r float64) chem.AtomCollection {
	return chem.AtomCollection{
		Elements:  []chem.ElementType{a, b},
		Positions: chem.PositionCollection{{0, 0, 0}, {0, 0, r}},
	}
}

func newTestSystem(t *testing.T, atoms chem.AtomCollection, s engine.Settings) engine.System {
	t.Helper()
	lease := integrals.NewPool().Acquire(BoysKey)
	t.Cleanup(lease.Release)
	sys, err := NewFactory().NewSystem(context.Background(), atoms, s, lease)
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func TestHydrogenMoleculeMinimalBasis(t *testing.T) {
	sys := newTestSystem(t, diatomic(chem.H, chem.H, 1.4), hfSettings(t, "STO-3G"))
	e, err := sys.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	if math.Abs(e-(-1.1167143)) > 1e-5 {
		t.Fatalf("expected -1.1167143, got %.7f", e)
	}
	es, ok := sys.ElectronicStructure(engine.Restricted)
	if !ok || es.Alpha.Occupied != 1 {
		t.Fatalf("expected one doubly occupied orbital, got %+v", es)
	}
	if _, ok := sys.ElectronicStructure(engine.Unrestricted); ok {
		t.Fatalf("unrestricted orbitals must not exist after a restricted solve")
	}
}

func TestSplitValenceLowersEnergy(t *testing.T) {
	small := newTestSystem(t, diatomic(chem.H, chem.H, 1.4), hfSettings(t, "STO-3G"))
	large := newTestSystem(t, diatomic(chem.H, chem.H, 1.4), hfSettings(t, "6-31G*"))
	es, err := small.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	el, err := large.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	if large.NBasisFunctions() != 4 {
		t.Fatalf("6-31G on H2 has 4 functions, got %d", large.NBasisFunctions())
	}
	if !(el < es) || el < -1.135 {
		t.Fatalf("6-31G energy %.6f should lie between the basis limit and STO-3G %.6f", el, es)
	}
}

func TestHeliumHydrideCation(t *testing.T) {
	s := hfSettings(t, "STO-3G")
	s.Charge = 1
	sys := newTestSystem(t, diatomic(chem.He, chem.H, 1.4632), s)
	e, err := sys.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	// bound relative to the separated He atom (-2.8078) and bare proton
	if e > -2.81 || e < -3.0 {
		t.Fatalf("HeH+ energy %.6f outside the bound range", e)
	}
	pops, err := sys.MullikenPopulations(engine.Restricted)
	if err != nil {
		t.Fatalf("mulliken: %v", err)
	}
	if math.Abs(pops[0]+pops[1]-2) > 1e-8 {
		t.Fatalf("populations must sum to the electron count, got %v", pops)
	}
	if pops[0] <= pops[1] {
		t.Fatalf("helium should carry most of the density, got %v", pops)
	}
}

func TestUnrestrictedHydrogenAtom(t *testing.T) {
	s := hfSettings(t, "STO-3G")
	s.Multiplicity = 2
	s.SCFMode = engine.Unrestricted
	atoms := chem.AtomCollection{Elements: []chem.ElementType{chem.H}, Positions: chem.PositionCollection{{0, 0, 0}}}
	sys := newTestSystem(t, atoms, s)
	e, err := sys.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	if math.Abs(e-(-0.466582)) > 1e-5 {
		t.Fatalf("expected -0.466582, got %.6f", e)
	}
	es, _ := sys.ElectronicStructure(engine.Unrestricted)
	if es.Alpha.Occupied != 1 || es.Beta.Occupied != 0 {
		t.Fatalf("unexpected occupations %d/%d", es.Alpha.Occupied, es.Beta.Occupied)
	}
}

func TestRestrictedOpenShellRejected(t *testing.T) {
	s := hfSettings(t, "STO-3G")
	s.Multiplicity = 3
	lease := integrals.NewPool().Acquire(BoysKey)
	defer lease.Release()
	_, err := NewFactory().NewSystem(context.Background(), diatomic(chem.H, chem.H, 1.4), s, lease)
	var ee *engine.Error
	if !errors.As(err, &ee) {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestCapabilitiesRejected(t *testing.T) {
	cases := map[string]func(*engine.Settings){
		"pcm": func(s *engine.Settings) {
			s.PCM = engine.PCMSettings{Use: true, Solver: engine.PCMCPCM, Solvent: "WATER"}
		},
		"d3bj": func(s *engine.Settings) {
			s.Method = engine.MethodSettings{Theory: engine.TheoryDFT, Functional: engine.FunctionalPBE, Dispersion: engine.DispersionD3BJ}
		},
		"basis":       func(s *engine.Settings) { s.Basis.Label = "CC-PVTZ" },
		"smearing":    func(s *engine.Settings) { s.ElectronicTemperature = 500 },
		"d2 for lda":  func(s *engine.Settings) { s.Method = engine.MethodSettings{Theory: engine.TheoryDFT, Functional: engine.FunctionalLDA, Dispersion: engine.DispersionD2} },
		"unknown xc":  func(s *engine.Settings) { s.Method = engine.MethodSettings{Theory: engine.TheoryDFT, Functional: "B3LYP", Dispersion: engine.DispersionNone} },
		"bad element": nil,
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			s := hfSettings(t, "STO-3G")
			atoms := diatomic(chem.H, chem.H, 1.4)
			if mutate == nil {
				atoms.Elements[1] = chem.Li
			} else {
				mutate(&s)
			}
			lease := integrals.NewPool().Acquire(BoysKey)
			defer lease.Release()
			if _, err := NewFactory().NewSystem(context.Background(), atoms, s, lease); err == nil {
				t.Fatalf("expected rejection")
			}
		})
	}
}

func TestReleasedLeaseRejected(t *testing.T) {
	lease := integrals.NewPool().Acquire(BoysKey)
	lease.Release()
	_, err := NewFactory().NewSystem(context.Background(), diatomic(chem.H, chem.H, 1.4), hfSettings(t, "STO-3G"), lease)
	if !errors.Is(err, integrals.ErrReleased) {
		t.Fatalf("expected ErrReleased, got %v", err)
	}
}

func TestEnergyFromStoredOrbitalsMatchesSCF(t *testing.T) {
	atoms := diatomic(chem.H, chem.H, 1.4)
	src := newTestSystem(t, atoms, hfSettings(t, "6-31G"))
	want, err := src.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	es, _ := src.ElectronicStructure(engine.Restricted)

	dst := newTestSystem(t, atoms, hfSettings(t, "6-31G"))
	if _, err := dst.Energy(context.Background(), quiet); err == nil {
		t.Fatalf("energy without orbitals must fail")
	}
	if err := dst.SetElectronicStructure(es); err != nil {
		t.Fatalf("set orbitals: %v", err)
	}
	got, err := dst.Energy(context.Background(), quiet)
	if err != nil {
		t.Fatalf("energy: %v", err)
	}
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("energy from stored orbitals %.10f differs from %.10f", got, want)
	}

	es.Alpha.Coefficients = mat.NewDense(4, 2, nil)
	es.Alpha.Energies = make([]float64, 4)
	if err := dst.SetElectronicStructure(es); err == nil {
		t.Fatalf("mismatched coefficient shape must be rejected")
	}
}

func TestGradientsAreAntisymmetricForDiatomics(t *testing.T) {
	sys := newTestSystem(t, diatomic(chem.H, chem.H, 1.6), hfSettings(t, "STO-3G"))
	g, err := sys.Gradients(context.Background(), quiet)
	if err != nil {
		t.Fatalf("gradients: %v", err)
	}
	if math.Abs(g.At(0, 2)+g.At(1, 2)) > 1e-6 {
		t.Fatalf("z gradients must cancel: %v %v", g.At(0, 2), g.At(1, 2))
	}
	// stretched beyond equilibrium, atom 2 is pulled back towards atom 1
	if g.At(1, 2) <= 0 {
		t.Fatalf("expected positive gradient on the outer atom, got %v", g.At(1, 2))
	}
	for a := 0; a < 2; a++ {
		for c := 0; c < 2; c++ {
			if math.Abs(g.At(a, c)) > 1e-6 {
				t.Fatalf("perpendicular gradient must vanish, got %v", g.At(a, c))
			}
		}
	}
}

func TestHessianSymmetricAndStretchPositive(t *testing.T) {
	sys := newTestSystem(t, diatomic(chem.H, chem.H, 1.346), hfSettings(t, "STO-3G"))
	h, err := sys.Hessian(context.Background(), quiet)
	if err != nil {
		t.Fatalf("hessian: %v", err)
	}
	r, c := h.Dims()
	if r != 6 || c != 6 {
		t.Fatalf("expected 6x6 hessian, got %dx%d", r, c)
	}
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			if h.At(i, j) != h.At(j, i) {
				t.Fatalf("hessian not symmetric at %d,%d", i, j)
			}
		}
	}
	if h.At(2, 2) <= 0.1 || math.Abs(h.At(2, 5)+h.At(2, 2)) > 1e-3 {
		t.Fatalf("unexpected stretch block %v %v", h.At(2, 2), h.At(2, 5))
	}
}

func TestHessianStencil(t *testing.T) {
	diag := hessianStencil(2, 2)
	if len(diag) != 3 || diag[1].coeff != -2 || diag[1].steps != nil {
		t.Fatalf("unexpected diagonal stencil %+v", diag)
	}
	off := hessianStencil(1, 4)
	var sum float64
	for _, term := range off {
		sum += term.coeff
	}
	if len(off) != 4 || sum != 0 {
		t.Fatalf("unexpected off-diagonal stencil %+v", off)
	}
	if stencilKey([]int{4, -1}) != stencilKey([]int{-1, 4}) {
		t.Fatalf("stencil keys must not depend on step order")
	}
	moved := displace(chem.PositionCollection{{0, 0, 0}, {0, 0, 1}}, []int{6, 6, -1}, 0.5)
	if moved[1][2] != 2 || moved[0][0] != -0.5 {
		t.Fatalf("unexpected displacement %v", moved)
	}
}

func TestDispersionGradientMatchesEnergy(t *testing.T) {
	m := engine.MethodSettings{Theory: engine.TheoryDFT, Functional: engine.FunctionalPBE, Dispersion: engine.DispersionD2}
	atoms := diatomic(chem.He, chem.He, 5.0)
	e, g := dispersionD2(m, atoms)
	if e >= 0 {
		t.Fatalf("dispersion must be attractive, got %v", e)
	}
	h := 1e-5
	plus := atoms.Clone()
	plus.Positions[1][2] += h
	minus := atoms.Clone()
	minus.Positions[1][2] -= h
	ep, _ := dispersionD2(m, plus)
	em, _ := dispersionD2(m, minus)
	if fd := (ep - em) / (2 * h); math.Abs(fd-g.At(1, 2)) > 1e-8 {
		t.Fatalf("analytic %v vs numeric %v", g.At(1, 2), fd)
	}
	none, zero := dispersionD2(engine.MethodSettings{Dispersion: engine.DispersionNone}, atoms)
	if none != 0 || mat.Sum(zero) != 0 {
		t.Fatalf("disabled dispersion must be zero")
	}
}

func TestDensityFunctionalsConverge(t *testing.T) {
	for _, fn := range []engine.Functional{engine.FunctionalLDA, engine.FunctionalPBE, engine.FunctionalPBE0} {
		t.Run(string(fn), func(t *testing.T) {
			s := hfSettings(t, "STO-3G")
			s.Method = engine.MethodSettings{Theory: engine.TheoryDFT, Functional: fn, Dispersion: engine.DispersionNone}
			s.SCF.EnergyThreshold = 1e-8
			sys := newTestSystem(t, diatomic(chem.H, chem.H, 1.4), s)
			e, err := sys.RunSCF(context.Background(), quiet)
			if err != nil {
				t.Fatalf("scf: %v", err)
			}
			if e > -1.05 || e < -1.25 {
				t.Fatalf("%s energy %.6f outside the plausible range", fn, e)
			}
		})
	}
}

func TestSlaterExchangeUniformLimit(t *testing.T) {
	// PBE exchange reduces to Slater exchange for vanishing gradients.
	x := xcVars{0.3, 0.3, 0, 0, 0}
	if d := math.Abs(pbeExchange(x) - slaterExchange(x)); d > 1e-14 {
		t.Fatalf("gradient-free PBE exchange differs from Slater by %g", d)
	}
	// PBE correlation reduces to PW92 likewise.
	if d := math.Abs(pbeCorrelation(x) - pw92Density(x)); d > 1e-14 {
		t.Fatalf("gradient-free PBE correlation differs from PW92 by %g", d)
	}
	// Fully polarized and unpolarized PW92 at rs = 1.
	rho := 3 / (4 * math.Pi)
	if e := pw92Epsilon(rho, 0); math.Abs(e-(-0.0598)) > 5e-4 {
		t.Fatalf("unpolarized PW92 at rs=1 gave %v", e)
	}
}

func TestGridIntegratesDensity(t *testing.T) {
	atoms := diatomic(chem.H, chem.H, 1.4)
	s := hfSettings(t, "6-31G")
	sys := newTestSystem(t, atoms, s)
	if _, err := sys.RunSCF(context.Background(), quiet); err != nil {
		t.Fatalf("scf: %v", err)
	}
	impl := sys.(*system)
	geo, err := impl.currentGeometry()
	if err != nil {
		t.Fatalf("geometry: %v", err)
	}
	pa, _, err := sys.Density(engine.Restricted)
	if err != nil {
		t.Fatalf("density: %v", err)
	}
	for _, gt := range []string{"BECKE", "SSF"} {
		geo.gridType = gt
		geo.grids = map[int]molecularGrid{}
		g := geo.grid(4)
		u := make([]float64, sys.NBasisFunctions())
		var n float64
		for _, pt := range g.points {
			rho, _ := pointDensity(pa, pt, u)
			n += 2 * pt.weight * rho
		}
		if math.Abs(n-2) > 1e-3 {
			t.Fatalf("%s grid integrates %v electrons", gt, n)
		}
	}
}

func TestLocalizationPreservesEnergy(t *testing.T) {
	atoms := chem.AtomCollection{
		Elements:  []chem.ElementType{chem.H, chem.H, chem.H, chem.H},
		Positions: chem.PositionCollection{{0, 0, 0}, {0, 0, 1.4}, {0, 0, 6}, {0, 0, 7.4}},
	}
	sys := newTestSystem(t, atoms, hfSettings(t, "STO-3G"))
	e, err := sys.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	if err := sys.Localize(context.Background(), quiet); err != nil {
		t.Fatalf("localize: %v", err)
	}
	got, err := sys.Energy(context.Background(), quiet)
	if err != nil {
		t.Fatalf("energy: %v", err)
	}
	if math.Abs(got-e) > 1e-9 {
		t.Fatalf("localization changed the energy: %v vs %v", got, e)
	}
	// each localized orbital sits on one H2 unit
	es, _ := sys.ElectronicStructure(engine.Restricted)
	for i := 0; i < 2; i++ {
		row := es.Alpha.Coefficients.RawRowView(i)
		left := row[0]*row[0] + row[1]*row[1]
		right := row[2]*row[2] + row[3]*row[3]
		if math.Min(left, right)/math.Max(left, right) > 1e-2 {
			t.Fatalf("orbital %d is not localized: %v", i, row)
		}
	}
}

func TestCorrelationTwoElectrons(t *testing.T) {
	atoms := diatomic(chem.H, chem.H, 1.4)
	sys := newTestSystem(t, atoms, hfSettings(t, "STO-3G"))
	hf, err := sys.RunSCF(context.Background(), quiet)
	if err != nil {
		t.Fatalf("scf: %v", err)
	}
	mp2, err := sys.RunCorrelation(context.Background(), engine.CCMP2, quiet)
	if err != nil {
		t.Fatalf("mp2: %v", err)
	}
	if math.Abs(mp2.Doubles-(-0.01314)) > 2e-4 {
		t.Fatalf("unexpected MP2 correlation %v", mp2.Doubles)
	}
	cc, err := sys.RunCorrelation(context.Background(), engine.CCSDT, quiet)
	if err != nil {
		t.Fatalf("ccsd(t): %v", err)
	}
	// two electrons: CCSD is exact and there are no triples
	if math.Abs(hf+cc.Total()-(-1.137284)) > 1e-4 {
		t.Fatalf("expected full CI energy -1.137284, got %.6f", hf+cc.Total())
	}
	if cc.Triples != 0 {
		t.Fatalf("two-electron triples must vanish, got %v", cc.Triples)
	}
	if got, ok := sys.Correlation(); !ok || got != cc {
		t.Fatalf("correlation not stored")
	}
	if err := sys.SetPositions(chem.PositionCollection{{0, 0, 0}, {0, 0, 1.5}}); err != nil {
		t.Fatalf("set positions: %v", err)
	}
	if _, ok := sys.Correlation(); ok {
		t.Fatalf("moving nuclei must drop the correlation energy")
	}
}

func TestCCSDInvariantToOccupiedRotations(t *testing.T) {
	atoms := diatomic(chem.He, chem.He, 5.6)
	canonical := newTestSystem(t, atoms, hfSettings(t, "6-31G"))
	local := newTestSystem(t, atoms, hfSettings(t, "6-31G"))
	for _, sys := range []engine.System{canonical, local} {
		if _, err := sys.RunSCF(context.Background(), quiet); err != nil {
			t.Fatalf("scf: %v", err)
		}
	}
	if err := local.Localize(context.Background(), quiet); err != nil {
		t.Fatalf("localize: %v", err)
	}
	a, err := canonical.RunCorrelation(context.Background(), engine.CCSD, quiet)
	if err != nil {
		t.Fatalf("ccsd: %v", err)
	}
	b, err := local.RunCorrelation(context.Background(), engine.CCSD, quiet)
	if err != nil {
		t.Fatalf("ccsd: %v", err)
	}
	if math.Abs(a.Doubles-b.Doubles) > 1e-7 {
		t.Fatalf("ccsd depends on occupied rotations: %v vs %v", a.Doubles, b.Doubles)
	}
	if a.Doubles >= 0 {
		t.Fatalf("correlation energy must be negative, got %v", a.Doubles)
	}

	canonT, err := local.RunCorrelation(context.Background(), engine.CCSDT, quiet)
	if err != nil {
		t.Fatalf("ccsd(t): %v", err)
	}
	localT, err := local.RunCorrelation(context.Background(), engine.CCDLPNOSDT0, quiet)
	if err != nil {
		t.Fatalf("dlpno: %v", err)
	}
	if canonT.Triples > 0 || localT.Triples > 0 {
		t.Fatalf("triples corrections should be non-positive: %v %v", canonT.Triples, localT.Triples)
	}
}

func TestDiskModeWorkingDirectory(t *testing.T) {
	s := hfSettings(t, "STO-3G")
	s.DiskMode = true
	lease := integrals.NewPool().Acquire(BoysKey)
	defer lease.Release()
	sys, err := NewFactory().NewSystem(context.Background(), diatomic(chem.H, chem.H, 1.4), s, lease)
	if err != nil {
		t.Fatalf("new system: %v", err)
	}
	if _, err := sys.RunSCF(context.Background(), quiet); err != nil {
		t.Fatalf("scf: %v", err)
	}
	dir := s.Path + "/" + s.Name
	if _, err := os.Stat(dir + "/restricted.orbitals.json"); err != nil {
		t.Fatalf("orbitals not written: %v", err)
	}
	if err := sys.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("working directory should be removed, stat err %v", err)
	}
	if _, err := sys.RunSCF(context.Background(), quiet); err == nil {
		t.Fatalf("closed system must refuse work")
	}
}

func TestCancelledContextStopsSCF(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sys := newTestSystem(t, diatomic(chem.H, chem.H, 1.4), hfSettings(t, "STO-3G"))
	if _, err := sys.RunSCF(ctx, quiet); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
