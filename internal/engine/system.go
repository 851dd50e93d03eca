package engine

import (
	"context"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine/integrals"
	"scfcore/pkg/chem"
)

// Orbitals is one spin channel of an electronic structure. Coefficients has
// one row per orbital and one column per basis function.
type Orbitals struct {
	Coefficients *mat.Dense
	Energies     []float64
	Occupied     int
}

// Clone returns a deep copy.
func (o *Orbitals) Clone() *Orbitals {
	if o == nil {
		return nil
	}
	return &Orbitals{
		Coefficients: mat.DenseCopyOf(o.Coefficients),
		Energies:     append([]float64(nil), o.Energies...),
		Occupied:     o.Occupied,
	}
}

// Validate checks the channel shape against a basis dimension.
func (o *Orbitals) Validate(nBasis int) error {
	if o == nil || o.Coefficients == nil {
		return fmt.Errorf("missing orbital coefficients")
	}
	rows, cols := o.Coefficients.Dims()
	if cols != nBasis {
		return fmt.Errorf("coefficient matrix has %d columns, basis has %d functions", cols, nBasis)
	}
	if len(o.Energies) != rows {
		return fmt.Errorf("%d orbital energies for %d orbitals", len(o.Energies), rows)
	}
	if o.Occupied < 0 || o.Occupied > rows {
		return fmt.Errorf("occupied count %d outside [0,%d]", o.Occupied, rows)
	}
	return nil
}

// ElectronicStructure holds the orbitals of one spin mode. Restricted
// structures only use Alpha.
type ElectronicStructure struct {
	Mode  SCFMode
	Alpha *Orbitals
	Beta  *Orbitals
}

// Clone returns a deep copy.
func (es *ElectronicStructure) Clone() *ElectronicStructure {
	if es == nil {
		return nil
	}
	return &ElectronicStructure{Mode: es.Mode, Alpha: es.Alpha.Clone(), Beta: es.Beta.Clone()}
}

// Validate checks every channel present for the mode.
func (es *ElectronicStructure) Validate(nBasis int) error {
	if err := es.Alpha.Validate(nBasis); err != nil {
		return fmt.Errorf("%s alpha: %w", es.Mode, err)
	}
	if es.Mode == Unrestricted {
		if err := es.Beta.Validate(nBasis); err != nil {
			return fmt.Errorf("%s beta: %w", es.Mode, err)
		}
	}
	return nil
}

// Correlation carries the correlation energy contributions of a post-SCF
// treatment.
type Correlation struct {
	Level   CCLevel
	Doubles float64
	Triples float64
}

// Total returns the sum of all contributions.
func (c Correlation) Total() float64 { return c.Doubles + c.Triples }

// BasisRange is the half-open range of basis function indices on one atom.
type BasisRange struct {
	First int
	End   int
}

// System is a live engine-side model of one structure.
//
// Calls that accept an output logger write engine progress to it; callers
// pass a discarding logger to silence the engine.
type System interface {
	Name() string
	Settings() Settings
	Atoms() chem.AtomCollection
	SetPositions(positions chem.PositionCollection) error

	NBasisFunctions() int
	BasisIndices() []BasisRange
	NElectrons() (alpha, beta int)

	ElectronicStructure(mode SCFMode) (*ElectronicStructure, bool)
	SetElectronicStructure(es *ElectronicStructure) error
	ClearElectronicStructure(mode SCFMode)

	// RunSCF converges the active spin mode and returns the total energy
	// including any configured dispersion correction.
	RunSCF(ctx context.Context, out *slog.Logger) (float64, error)
	// Energy evaluates the total energy of the present orbitals without
	// iterating.
	Energy(ctx context.Context, out *slog.Logger) (float64, error)
	// Dispersion returns the dispersion energy and its N x 3 gradient.
	Dispersion() (float64, *mat.Dense, error)
	// Gradients returns the N x 3 electronic gradient excluding dispersion.
	Gradients(ctx context.Context, out *slog.Logger) (*mat.Dense, error)
	// Hessian returns the 3N x 3N cartesian Hessian of the total energy.
	Hessian(ctx context.Context, out *slog.Logger) (*mat.Dense, error)

	Overlap() *mat.Dense
	Density(mode SCFMode) (alpha, beta *mat.Dense, err error)
	MullikenPopulations(mode SCFMode) ([]float64, error)

	Localize(ctx context.Context, out *slog.Logger) error
	RunCorrelation(ctx context.Context, level CCLevel, out *slog.Logger) (Correlation, error)
	Correlation() (Correlation, bool)

	Close() error
}

// Factory builds systems. Integral handles are drawn from the provider for
// the lifetime of the system.
type Factory interface {
	Name() string
	NewSystem(ctx context.Context, atoms chem.AtomCollection, settings Settings, handles integrals.Provider) (System, error)
}

// Error is a failure reported by the engine.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("engine %s: %v", e.Op, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an engine error for op.
func Errorf(op, format string, args ...any) error {
	return &Error{Op: op, Err: fmt.Errorf(format, args...)}
}
