package reference

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
	"scfcore/internal/engine/integrals"
	"scfcore/pkg/chem"
)

// BoysKey is the integral handle category the reference engine draws on.
var BoysKey = integrals.Key{Operator: integrals.Coulomb, DerivOrder: 0, MaxL: 2}

const minSeparation = 1e-4

// Factory builds reference systems.
type Factory struct{}

// NewFactory returns the reference engine factory.
func NewFactory() *Factory { return &Factory{} }

// Name identifies the engine.
func (*Factory) Name() string { return "reference" }

// NewSystem validates the settings against the engine's capabilities and
// returns a system without orbitals.
func (*Factory) NewSystem(ctx context.Context, atoms chem.AtomCollection, settings engine.Settings, handles integrals.Provider) (engine.System, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, &engine.Error{Op: "new system", Err: err}
	}
	if err := checkCapabilities(settings); err != nil {
		return nil, &engine.Error{Op: "new system", Err: err}
	}
	if err := checkAtoms(atoms); err != nil {
		return nil, &engine.Error{Op: "new system", Err: err}
	}
	boys, err := handles.Handle(BoysKey)
	if err != nil {
		return nil, &engine.Error{Op: "new system", Err: err}
	}
	shells, ranges, err := buildBasis(settings.Basis.Label, atoms)
	if err != nil {
		return nil, &engine.Error{Op: "new system", Err: err}
	}
	nAlpha, nBeta, err := engine.NElectrons(atoms.NuclearCharge(), settings.Charge, settings.Multiplicity)
	if err != nil {
		return nil, &engine.Error{Op: "new system", Err: err}
	}
	if nAlpha > len(shells) {
		return nil, engine.Errorf("new system", "%d alpha electrons exceed %d basis functions", nAlpha, len(shells))
	}
	if settings.SCFMode == engine.Restricted && nAlpha != nBeta {
		return nil, engine.Errorf("new system", "restricted treatment needs a closed shell, got multiplicity %d", settings.Multiplicity)
	}
	s := &system{
		settings:   settings,
		atoms:      atoms.Clone(),
		boys:       boys,
		shells:     shells,
		ranges:     ranges,
		nAlpha:     nAlpha,
		nBeta:      nBeta,
		structures: make(map[engine.SCFMode]*engine.ElectronicStructure),
	}
	if settings.Method.Theory == engine.TheoryDFT {
		fn, err := lookupFunctional(settings.Method.Functional)
		if err != nil {
			return nil, &engine.Error{Op: "new system", Err: err}
		}
		s.fn = &fn
	}
	if settings.DiskMode {
		s.dir = filepath.Join(settings.Path, settings.Name)
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, &engine.Error{Op: "new system", Err: err}
		}
	}
	return s, nil
}

func checkCapabilities(s engine.Settings) error {
	if s.PCM.Use {
		return fmt.Errorf("implicit solvation (%s) is not available", s.PCM.Solver)
	}
	if s.ElectronicTemperature > 0 {
		return fmt.Errorf("fractional occupations are not available")
	}
	if err := checkDispersion(s.Method); err != nil {
		return err
	}
	_, err := resolveBasis(s.Basis.Label)
	return err
}

func checkAtoms(atoms chem.AtomCollection) error {
	if err := atoms.Validate(); err != nil {
		return err
	}
	for i := range atoms.Positions {
		for j := 0; j < i; j++ {
			if atoms.Positions[i].Distance(atoms.Positions[j]) < minSeparation {
				return fmt.Errorf("atoms %d and %d coincide", j, i)
			}
		}
	}
	return nil
}

type system struct {
	settings   engine.Settings
	atoms      chem.AtomCollection
	boys       *integrals.Handle
	fn         *functional
	shells     []shell
	ranges     [][2]int
	nAlpha     int
	nBeta      int
	geo        *geometry
	structures map[engine.SCFMode]*engine.ElectronicStructure
	corr       *engine.Correlation
	dir        string
	closed     bool
}

func (s *system) Name() string { return s.settings.Name }
func (s *system) Settings() engine.Settings { return s.settings }
func (s *system) Atoms() chem.AtomCollection { return s.atoms.Clone() }
func (s *system) NBasisFunctions() int { return len(s.shells) }
func (s *system) NElectrons() (alpha, beta int) { return s.nAlpha, s.nBeta }

func (s *system) BasisIndices() []engine.BasisRange {
	out := make([]engine.BasisRange, len(s.ranges))
	for i, r := range s.ranges {
		out[i] = engine.BasisRange{First: r[0], End: r[1]}
	}
	return out
}

// SetPositions moves the nuclei. Orbitals are kept as a starting point for
// the next solve; derived energies are dropped.
func (s *system) SetPositions(positions chem.PositionCollection) error {
	if len(positions) != s.atoms.Size() {
		return engine.Errorf("set positions", "%d positions for %d atoms", len(positions), s.atoms.Size())
	}
	moved := chem.AtomCollection{Elements: s.atoms.Elements, Positions: positions.Clone()}
	if err := checkAtoms(moved); err != nil {
		return &engine.Error{Op: "set positions", Err: err}
	}
	s.atoms = moved
	s.shells = moveShells(s.shells, moved.Positions)
	s.geo = nil
	s.corr = nil
	return nil
}

func (s *system) currentGeometry() (*geometry, error) {
	if s.closed {
		return nil, errors.New("system closed")
	}
	if s.geo == nil {
		g, err := newGeometry(s.shells, s.atoms, s.boys, s.settings.Grid.GridType)
		if err != nil {
			return nil, err
		}
		s.geo = g
	}
	return s.geo, nil
}

func (s *system) ElectronicStructure(mode engine.SCFMode) (*engine.ElectronicStructure, bool) {
	es, ok := s.structures[mode]
	if !ok {
		return nil, false
	}
	return es.Clone(), true
}

func (s *system) SetElectronicStructure(es *engine.ElectronicStructure) error {
	if es == nil {
		return engine.Errorf("set electronic structure", "nil electronic structure")
	}
	if err := es.Validate(len(s.shells)); err != nil {
		return &engine.Error{Op: "set electronic structure", Err: err}
	}
	s.structures[es.Mode] = es.Clone()
	if es.Mode == s.settings.SCFMode {
		s.corr = nil
	}
	return s.persist(es.Mode)
}

func (s *system) ClearElectronicStructure(mode engine.SCFMode) {
	delete(s.structures, mode)
	if mode == s.settings.SCFMode {
		s.corr = nil
	}
	if s.dir != "" {
		_ = os.Remove(s.orbitalFile(mode))
	}
}

func (s *system) hamiltonian(geo *geometry, accuracy int) hamiltonian {
	h := hamiltonian{geo: geo, fn: s.fn, restricted: s.settings.SCFMode == engine.Restricted}
	if s.fn != nil {
		h.grid = geo.grid(accuracy)
	}
	return h
}

// solve converges the active mode at geo starting from guess.
func (s *system) solve(ctx context.Context, geo *geometry, guess *engine.ElectronicStructure, threshold float64, out *slog.Logger) (*engine.ElectronicStructure, float64, error) {
	Pa, Pb, err := guessDensities(geo, guess, s.settings.SCF.InitialGuess, s.nAlpha, s.nBeta, s.boys)
	if err != nil {
		return nil, 0, err
	}
	accuracies := []int{s.settings.Grid.Accuracy}
	if s.fn != nil && s.settings.Grid.SmallGridAccuracy < s.settings.Grid.Accuracy {
		accuracies = []int{s.settings.Grid.SmallGridAccuracy, s.settings.Grid.Accuracy}
	}
	var es *engine.ElectronicStructure
	var energy float64
	for i, acc := range accuracies {
		run := scfRun{
			ham:       s.hamiltonian(geo, acc),
			nAlpha:    s.nAlpha,
			nBeta:     s.nBeta,
			cfg:       s.settings.SCF,
			threshold: threshold,
			out:       out,
		}
		if i > 0 {
			Pa, Pb = spinDensities(es, s.nAlpha, s.nBeta)
		}
		es, energy, err = run.iterate(ctx, Pa, Pb)
		if err != nil {
			return nil, 0, err
		}
	}
	return es, energy, nil
}

func spinDensities(es *engine.ElectronicStructure, nAlpha, nBeta int) (*mat.Dense, *mat.Dense) {
	pa := densityOf(es.Alpha, nAlpha)
	if es.Mode == engine.Restricted {
		return pa, pa
	}
	return pa, densityOf(es.Beta, nBeta)
}

// warmStart returns orbitals of the active mode, falling back to the other
// mode's orbitals.
func (s *system) warmStart() *engine.ElectronicStructure {
	if es, ok := s.structures[s.settings.SCFMode]; ok {
		return es
	}
	for _, es := range s.structures {
		return es
	}
	return nil
}

func (s *system) RunSCF(ctx context.Context, out *slog.Logger) (float64, error) {
	geo, err := s.currentGeometry()
	if err != nil {
		return 0, &engine.Error{Op: "scf", Err: err}
	}
	out.Info("scf started", "system", s.Name(), "mode", s.settings.SCFMode.String(), "basis", s.settings.Basis.Label, "method", describeMethod(s.settings.Method))
	es, energy, err := s.solve(ctx, geo, s.warmStart(), s.settings.SCF.EnergyThreshold, out)
	if err != nil {
		return 0, &engine.Error{Op: "scf", Err: err}
	}
	s.structures[es.Mode] = es
	s.corr = nil
	if err := s.persist(es.Mode); err != nil {
		return 0, err
	}
	edisp, _ := dispersionD2(s.settings.Method, s.atoms)
	return energy + edisp, nil
}

func (s *system) Energy(ctx context.Context, out *slog.Logger) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	es, ok := s.structures[s.settings.SCFMode]
	if !ok {
		return 0, engine.Errorf("energy", "no %s orbitals available", s.settings.SCFMode)
	}
	geo, err := s.currentGeometry()
	if err != nil {
		return 0, &engine.Error{Op: "energy", Err: err}
	}
	Pa, Pb := spinDensities(es, s.nAlpha, s.nBeta)
	_, _, energy := s.hamiltonian(geo, s.settings.Grid.Accuracy).fock(Pa, Pb)
	edisp, _ := dispersionD2(s.settings.Method, s.atoms)
	out.Debug("energy evaluated", "system", s.Name(), "energy", energy+edisp)
	return energy + edisp, nil
}

func (s *system) Dispersion() (float64, *mat.Dense, error) {
	e, g := dispersionD2(s.settings.Method, s.atoms)
	return e, g, nil
}

func (s *system) Overlap() *mat.Dense {
	geo, err := s.currentGeometry()
	if err != nil {
		return nil
	}
	return mat.DenseCopyOf(geo.one.overlap)
}

func (s *system) Density(mode engine.SCFMode) (*mat.Dense, *mat.Dense, error) {
	es, ok := s.structures[mode]
	if !ok {
		return nil, nil, engine.Errorf("density", "no %s orbitals available", mode)
	}
	pa, pb := spinDensities(es, s.nAlpha, s.nBeta)
	return mat.DenseCopyOf(pa), mat.DenseCopyOf(pb), nil
}

// MullikenPopulations returns the gross electron population of every atom.
func (s *system) MullikenPopulations(mode engine.SCFMode) ([]float64, error) {
	pa, pb, err := s.Density(mode)
	if err != nil {
		return nil, err
	}
	geo, err := s.currentGeometry()
	if err != nil {
		return nil, &engine.Error{Op: "mulliken", Err: err}
	}
	var pt, ps mat.Dense
	pt.Add(pa, pb)
	ps.Mul(&pt, geo.one.overlap)
	pops := make([]float64, len(s.ranges))
	for a, r := range s.ranges {
		for mu := r[0]; mu < r[1]; mu++ {
			pops[a] += ps.At(mu, mu)
		}
	}
	return pops, nil
}

func (s *system) Correlation() (engine.Correlation, bool) {
	if s.corr == nil {
		return engine.Correlation{}, false
	}
	return *s.corr, true
}

func (s *system) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.geo = nil
	s.structures = nil
	if s.dir != "" {
		if err := os.RemoveAll(s.dir); err != nil {
			return &engine.Error{Op: "close", Err: err}
		}
	}
	return nil
}

type orbitalFile struct {
	Mode  string       `json:"mode"`
	Alpha channelFile  `json:"alpha"`
	Beta  *channelFile `json:"beta,omitempty"`
}

type channelFile struct {
	Rows         int       `json:"rows"`
	Cols         int       `json:"cols"`
	Coefficients []float64 `json:"coefficients"`
	Energies     []float64 `json:"energies"`
	Occupied     int       `json:"occupied"`
}

func (s *system) orbitalFile(mode engine.SCFMode) string {
	return filepath.Join(s.dir, mode.String()+".orbitals.json")
}

func toChannelFile(o *engine.Orbitals) channelFile {
	r, c := o.Coefficients.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, o.Coefficients.RawRowView(i)...)
	}
	return channelFile{Rows: r, Cols: c, Coefficients: data, Energies: o.Energies, Occupied: o.Occupied}
}

// persist writes the orbitals of mode to the working directory in disk mode.
func (s *system) persist(mode engine.SCFMode) error {
	if s.dir == "" {
		return nil
	}
	es := s.structures[mode]
	f := orbitalFile{Mode: mode.String(), Alpha: toChannelFile(es.Alpha)}
	if es.Beta != nil {
		b := toChannelFile(es.Beta)
		f.Beta = &b
	}
	data, err := json.Marshal(f)
	if err != nil {
		return &engine.Error{Op: "persist", Err: err}
	}
	if err := os.WriteFile(s.orbitalFile(mode), data, 0o644); err != nil {
		return &engine.Error{Op: "persist", Err: err}
	}
	return nil
}
