package property

import (
	"gonum.org/v1/gonum/mat"
)

// Density holds the AO density in either a restricted (total density)
// or unrestricted (alpha and beta densities) layout.
type Density struct {
	Unrestricted bool
	Restricted   *mat.Dense // total density, restricted layout
	Alpha        *mat.Dense
	Beta         *mat.Dense
	NAlpha       int
	NBeta        int
}

// Total returns the total density matrix.
func (d Density) Total() *mat.Dense {
	if !d.Unrestricted {
		return d.Restricted
	}
	var sum mat.Dense
	sum.Add(d.Alpha, d.Beta)
	return &sum
}

func (d Density) clone() Density {
	out := d
	out.Restricted = cloneDense(d.Restricted)
	out.Alpha = cloneDense(d.Alpha)
	out.Beta = cloneDense(d.Beta)
	return out
}

// AtomsOrbitalsIndexes maps atoms to their contiguous block of basis functions.
type AtomsOrbitalsIndexes struct {
	First []int `json:"first"`
	Count []int `json:"count"`
}

// AddAtom appends an atom owning n consecutive basis functions.
func (a *AtomsOrbitalsIndexes) AddAtom(n int) {
	first := 0
	if k := len(a.First); k > 0 {
		first = a.First[k-1] + a.Count[k-1]
	}
	a.First = append(a.First, first)
	a.Count = append(a.Count, n)
}

// NAtoms returns the number of atoms.
func (a AtomsOrbitalsIndexes) NAtoms() int { return len(a.First) }

// NOrbitals returns the total number of basis functions.
func (a AtomsOrbitalsIndexes) NOrbitals() int {
	var n int
	for _, c := range a.Count {
		n += c
	}
	return n
}

// AtomOf returns the atom owning basis function i, or -1.
func (a AtomsOrbitalsIndexes) AtomOf(i int) int {
	for atom := range a.First {
		if i >= a.First[atom] && i < a.First[atom]+a.Count[atom] {
			return atom
		}
	}
	return -1
}

func (a AtomsOrbitalsIndexes) clone() AtomsOrbitalsIndexes {
	return AtomsOrbitalsIndexes{First: append([]int(nil), a.First...), Count: append([]int(nil), a.Count...)}
}

// Occupation records how many of the lowest orbitals are filled.
type Occupation struct {
	Unrestricted bool `json:"unrestricted"`
	// Restricted counts doubly occupied orbitals.
	Restricted int `json:"restricted,omitempty"`
	Alpha      int `json:"alpha,omitempty"`
	Beta       int `json:"beta,omitempty"`
}

// NElectrons returns the total electron count.
func (o Occupation) NElectrons() int {
	if o.Unrestricted {
		return o.Alpha + o.Beta
	}
	return 2 * o.Restricted
}

// ThermochemicalData is the rigid-rotor harmonic-oscillator summary at a
// given temperature and pressure. Energies in hartree, entropy and heat
// capacity in hartree per kelvin.
type ThermochemicalData struct {
	Temperature        float64   `json:"temperature"`
	Pressure           float64   `json:"pressure"`
	Frequencies        []float64 `json:"frequencies_cm"`
	ZeroPointEnergy    float64   `json:"zpve"`
	Enthalpy           float64   `json:"enthalpy"`
	Entropy            float64   `json:"entropy"`
	HeatCapacityP      float64   `json:"heat_capacity_p"`
	GibbsFreeEnergy    float64   `json:"gibbs_free_energy"`
	ImaginaryModeCount int       `json:"imaginary_modes"`
}

// Results is the bundle returned by a calculation. Only set properties are
// present; accessors report presence through their second return value.
type Results struct {
	values map[Property]any
}

// Reset clears every property.
func (r *Results) Reset() { r.values = nil }

// Has reports whether p was populated.
func (r Results) Has(p Property) bool {
	_, ok := r.values[p]
	return ok
}

// Available returns the populated property set.
func (r Results) Available() List {
	var l List
	for p := range r.values {
		l = l.Add(p)
	}
	return l
}

// Delete removes p from the bundle.
func (r *Results) Delete(p Property) { delete(r.values, p) }

func (r *Results) set(p Property, v any) {
	if r.values == nil {
		r.values = make(map[Property]any)
	}
	r.values[p] = v
}

func get[T any](r Results, p Property) (T, bool) {
	var zero T
	v, ok := r.values[p]
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func (r *Results) SetEnergy(e float64) { r.set(Energy, e) }
func (r Results) Energy() (float64, bool) {
	return get[float64](r, Energy)
}

// SetGradients stores an N x 3 gradient matrix in hartree/bohr.
func (r *Results) SetGradients(g *mat.Dense) { r.set(Gradients, g) }
func (r Results) Gradients() (*mat.Dense, bool) {
	return get[*mat.Dense](r, Gradients)
}

// SetHessian stores a 3N x 3N cartesian Hessian.
func (r *Results) SetHessian(h *mat.Dense) { r.set(Hessian, h) }
func (r Results) Hessian() (*mat.Dense, bool) {
	return get[*mat.Dense](r, Hessian)
}

func (r *Results) SetBondOrders(b *mat.Dense) { r.set(BondOrderMatrix, b) }
func (r Results) BondOrders() (*mat.Dense, bool) {
	return get[*mat.Dense](r, BondOrderMatrix)
}

func (r *Results) SetThermochemistry(t ThermochemicalData) { r.set(Thermochemistry, t) }
func (r Results) Thermochemistry() (ThermochemicalData, bool) {
	return get[ThermochemicalData](r, Thermochemistry)
}

func (r *Results) SetAtomicCharges(q []float64) { r.set(AtomicCharges, q) }
func (r Results) AtomicCharges() ([]float64, bool) {
	return get[[]float64](r, AtomicCharges)
}

func (r *Results) SetAOtoAtomMapping(m AtomsOrbitalsIndexes) { r.set(AOtoAtomMapping, m) }
func (r Results) AOtoAtomMapping() (AtomsOrbitalsIndexes, bool) {
	return get[AtomsOrbitalsIndexes](r, AOtoAtomMapping)
}

func (r *Results) SetDensityMatrix(d Density) { r.set(DensityMatrix, d) }
func (r Results) DensityMatrix() (Density, bool) {
	return get[Density](r, DensityMatrix)
}

func (r *Results) SetOverlapMatrix(s *mat.Dense) { r.set(OverlapMatrix, s) }
func (r Results) OverlapMatrix() (*mat.Dense, bool) {
	return get[*mat.Dense](r, OverlapMatrix)
}

func (r *Results) SetElectronicOccupation(o Occupation) { r.set(ElectronicOccupation, o) }
func (r Results) ElectronicOccupation() (Occupation, bool) {
	return get[Occupation](r, ElectronicOccupation)
}

func (r *Results) SetSuccessful(ok bool) { r.set(SuccessfulCalculation, ok) }
func (r Results) Successful() (bool, bool) {
	return get[bool](r, SuccessfulCalculation)
}

func (r *Results) SetProgramName(name string) { r.set(ProgramName, name) }
func (r Results) ProgramName() (string, bool) {
	return get[string](r, ProgramName)
}

func (r *Results) SetDescription(d string) { r.set(Description, d) }
func (r Results) Description() (string, bool) {
	return get[string](r, Description)
}

// Clone returns a deep copy of the bundle.
func (r Results) Clone() Results {
	out := Results{}
	for p, v := range r.values {
		switch val := v.(type) {
		case *mat.Dense:
			out.set(p, cloneDense(val))
		case []float64:
			out.set(p, append([]float64(nil), val...))
		case Density:
			out.set(p, val.clone())
		case AtomsOrbitalsIndexes:
			out.set(p, val.clone())
		case ThermochemicalData:
			val.Frequencies = append([]float64(nil), val.Frequencies...)
			out.set(p, val)
		default:
			out.set(p, v)
		}
	}
	return out
}

func cloneDense(m *mat.Dense) *mat.Dense {
	if m == nil {
		return nil
	}
	return mat.DenseCopyOf(m)
}
