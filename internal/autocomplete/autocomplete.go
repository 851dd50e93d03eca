// Package autocomplete derives secondary properties from the primary results
// of a calculation: Mayer bond orders from the density and overlap, and
// rigid-rotor harmonic-oscillator thermochemistry from the Hessian.
package autocomplete

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"scfcore/pkg/chem"
	"scfcore/pkg/property"
)

// Request describes what to derive and the conditions to derive it at.
type Request struct {
	Atoms  chem.AtomCollection
	Wanted property.List
	// Temperature in kelvin and Pressure in pascal.
	Temperature float64
	Pressure    float64
	// Multiplicity enters the electronic entropy; values below 1 count as 1.
	Multiplicity int
	// SymmetryNumber divides the rotational partition function; values
	// below 1 count as 1.
	SymmetryNumber int
}

// Completer fills wanted properties that are missing but derivable from
// what the results already hold. Existing values are never overwritten and
// properties whose inputs are absent are skipped.
type Completer struct{}

// New returns a completer.
func New() *Completer { return &Completer{} }

// Complete derives the wanted properties into r.
func (c *Completer) Complete(r *property.Results, req Request) error {
	if req.Wanted.Contains(property.BondOrderMatrix) && !r.Has(property.BondOrderMatrix) {
		bo, ok, err := bondOrders(r)
		if err != nil {
			return fmt.Errorf("bond orders: %w", err)
		}
		if ok {
			r.SetBondOrders(bo)
		}
	}
	if req.Wanted.Contains(property.Thermochemistry) && !r.Has(property.Thermochemistry) {
		h, ok := r.Hessian()
		if !ok {
			return nil
		}
		energy, _ := r.Energy()
		data, err := Thermochemistry(req.Atoms, h, energy, req)
		if err != nil {
			return fmt.Errorf("thermochemistry: %w", err)
		}
		r.SetThermochemistry(data)
	}
	return nil
}

func bondOrders(r *property.Results) (*mat.Dense, bool, error) {
	d, okD := r.DensityMatrix()
	s, okS := r.OverlapMatrix()
	m, okM := r.AOtoAtomMapping()
	if !okD || !okS || !okM {
		return nil, false, nil
	}
	if d.Unrestricted {
		if d.Alpha == nil || d.Beta == nil {
			return nil, false, fmt.Errorf("unrestricted density without both spin channels")
		}
		a, err := MayerBondOrders(d.Alpha, s, m)
		if err != nil {
			return nil, false, err
		}
		b, err := MayerBondOrders(d.Beta, s, m)
		if err != nil {
			return nil, false, err
		}
		a.Add(a, b)
		a.Scale(2, a)
		return a, true, nil
	}
	if d.Restricted == nil {
		return nil, false, fmt.Errorf("restricted density missing")
	}
	bo, err := MayerBondOrders(d.Restricted, s, m)
	return bo, err == nil, err
}

// MayerBondOrders returns the atom x atom matrix
// B_AB = sum over mu on A, nu on B of (PS)_mu,nu (PS)_nu,mu with a zero
// diagonal. For a spin density the caller doubles the sum of both channels.
func MayerBondOrders(p, s *mat.Dense, m property.AtomsOrbitalsIndexes) (*mat.Dense, error) {
	pr, pc := p.Dims()
	sr, sc := s.Dims()
	if pr != pc || sr != sc || pr != sr {
		return nil, fmt.Errorf("density %dx%d and overlap %dx%d do not match", pr, pc, sr, sc)
	}
	if m.NOrbitals() != pr {
		return nil, fmt.Errorf("mapping covers %d functions, matrices have %d", m.NOrbitals(), pr)
	}
	var ps mat.Dense
	ps.Mul(p, s)
	n := m.NAtoms()
	out := mat.NewDense(n, n, nil)
	for a := 0; a < n; a++ {
		for b := a + 1; b < n; b++ {
			var sum float64
			for mu := m.First[a]; mu < m.First[a]+m.Count[a]; mu++ {
				for nu := m.First[b]; nu < m.First[b]+m.Count[b]; nu++ {
					sum += ps.At(mu, nu) * ps.At(nu, mu)
				}
			}
			out.Set(a, b, sum)
			out.Set(b, a, sum)
		}
	}
	return out, nil
}
