package autocomplete

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"scfcore/pkg/chem"
	"scfcore/pkg/property"
)

// Physical constants. Atomic units unless noted.
const (
	electronMassPerAMU = 1822.888486209
	boltzmannHartree   = 3.166811563e-6 // hartree per kelvin
	hartreeToWavenum   = 219474.6313632
	boltzmannSI        = 1.380649e-23    // J/K
	planckSI           = 6.62607015e-34  // J s
	amuKG              = 1.66053906660e-27
)

// Thermochemistry evaluates the ideal-gas rigid-rotor harmonic-oscillator
// model for atoms with Cartesian Hessian h (hartree/bohr^2). Enthalpy and
// Gibbs free energy include electronicEnergy. Imaginary modes are reported
// as negative frequencies and left out of the sums.
func Thermochemistry(atoms chem.AtomCollection, h mat.Matrix, electronicEnergy float64, req Request) (property.ThermochemicalData, error) {
	if err := atoms.Validate(); err != nil {
		return property.ThermochemicalData{}, err
	}
	n := atoms.Size()
	if r, c := h.Dims(); r != 3*n || c != 3*n {
		return property.ThermochemicalData{}, fmt.Errorf("hessian is %dx%d, want %dx%d", r, c, 3*n, 3*n)
	}
	T, P := req.Temperature, req.Pressure
	if T <= 0 || P <= 0 {
		return property.ThermochemicalData{}, fmt.Errorf("temperature %v K and pressure %v Pa must be positive", T, P)
	}
	sigma := float64(max(req.SymmetryNumber, 1))
	mult := float64(max(req.Multiplicity, 1))
	kT := boltzmannHartree * T

	masses := atoms.Masses()
	var total float64
	for _, m := range masses {
		total += m
	}
	com := centerOfMass(atoms, masses, total)
	moments := principalMoments(atoms, masses, com)

	// translation
	massKG := total * amuKG
	qTrans := math.Pow(2*math.Pi*massKG*boltzmannSI*T/(planckSI*planckSI), 1.5) * boltzmannSI * T / P
	energy := 1.5 * kT
	entropy := boltzmannHartree * (math.Log(qTrans) + 2.5)
	cv := 1.5 * boltzmannHartree

	// rotation
	linear := false
	switch {
	case n == 1:
	case moments[0] < 1e-6*moments[2]:
		linear = true
		theta := 1 / (2 * moments[2] * electronMassPerAMU * boltzmannHartree)
		energy += kT
		entropy += boltzmannHartree * (math.Log(T/(sigma*theta)) + 1)
		cv += boltzmannHartree
	default:
		prod := 1.0
		for _, I := range moments {
			prod *= 1 / (2 * I * electronMassPerAMU * boltzmannHartree)
		}
		energy += 1.5 * kT
		entropy += boltzmannHartree * (math.Log(math.Sqrt(math.Pi)/sigma*math.Sqrt(T*T*T/prod)) + 1.5)
		cv += 1.5 * boltzmannHartree
	}

	// vibration
	freqs, err := harmonicFrequencies(atoms, masses, com, h, linear)
	if err != nil {
		return property.ThermochemicalData{}, err
	}
	data := property.ThermochemicalData{Temperature: T, Pressure: P}
	for _, w := range freqs {
		data.Frequencies = append(data.Frequencies, w*hartreeToWavenum)
		if w <= 0 {
			data.ImaginaryModeCount++
			continue
		}
		x := w / kT
		data.ZeroPointEnergy += w / 2
		energy += w/2 + w/math.Expm1(x)
		entropy += boltzmannHartree * (x/math.Expm1(x) - math.Log(-math.Expm1(-x)))
		cv += boltzmannHartree * x * x * math.Exp(x) / (math.Expm1(x) * math.Expm1(x))
	}

	// electronic
	entropy += boltzmannHartree * math.Log(mult)

	data.Enthalpy = electronicEnergy + energy + kT
	data.Entropy = entropy
	data.HeatCapacityP = cv + boltzmannHartree
	data.GibbsFreeEnergy = data.Enthalpy - T*entropy
	return data, nil
}

func centerOfMass(atoms chem.AtomCollection, masses []float64, total float64) chem.Position {
	var c chem.Position
	for i, p := range atoms.Positions {
		for k := 0; k < 3; k++ {
			c[k] += masses[i] * p[k] / total
		}
	}
	return c
}

// principalMoments returns the ascending principal moments of inertia in
// amu bohr^2.
func principalMoments(atoms chem.AtomCollection, masses []float64, com chem.Position) [3]float64 {
	inertia := mat.NewSymDense(3, nil)
	for i, p := range atoms.Positions {
		r := p.Sub(com)
		r2 := r[0]*r[0] + r[1]*r[1] + r[2]*r[2]
		for a := 0; a < 3; a++ {
			for b := a; b < 3; b++ {
				v := -masses[i] * r[a] * r[b]
				if a == b {
					v += masses[i] * r2
				}
				inertia.SetSym(a, b, inertia.At(a, b)+v)
			}
		}
	}
	var eig mat.EigenSym
	var out [3]float64
	if !eig.Factorize(inertia, false) {
		return out
	}
	copy(out[:], eig.Values(nil))
	sort.Float64s(out[:])
	return out
}

// harmonicFrequencies mass-weights h, projects out translations and
// rotations and returns the remaining angular frequencies in hartree,
// negative for imaginary modes, in ascending order.
func harmonicFrequencies(atoms chem.AtomCollection, masses []float64, com chem.Position, h mat.Matrix, linear bool) ([]float64, error) {
	n := atoms.Size()
	dim := 3 * n
	if n == 1 {
		return nil, nil
	}
	sqrtM := make([]float64, dim)
	for i, m := range masses {
		for k := 0; k < 3; k++ {
			sqrtM[3*i+k] = math.Sqrt(m * electronMassPerAMU)
		}
	}

	var basis []*mat.VecDense
	addVector := func(v *mat.VecDense) {
		for _, b := range basis {
			v.AddScaledVec(v, -mat.Dot(v, b), b)
		}
		if norm := mat.Norm(v, 2); norm > 1e-8 {
			v.ScaleVec(1/norm, v)
			basis = append(basis, v)
		}
	}
	for axis := 0; axis < 3; axis++ {
		v := mat.NewVecDense(dim, nil)
		for i := 0; i < n; i++ {
			v.SetVec(3*i+axis, sqrtM[3*i])
		}
		addVector(v)
	}
	for axis := 0; axis < 3; axis++ {
		v := mat.NewVecDense(dim, nil)
		for i, p := range atoms.Positions {
			r := p.Sub(com)
			var e chem.Position
			e[axis] = 1
			cross := chem.Position{e[1]*r[2] - e[2]*r[1], e[2]*r[0] - e[0]*r[2], e[0]*r[1] - e[1]*r[0]}
			for k := 0; k < 3; k++ {
				v.SetVec(3*i+k, sqrtM[3*i]*cross[k])
			}
		}
		addVector(v)
	}
	external := 6
	if linear {
		external = 5
	}
	if len(basis) < external {
		external = len(basis)
	}

	proj := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		proj.Set(i, i, 1)
	}
	for _, b := range basis {
		var outer mat.Dense
		outer.Outer(1, b, b)
		proj.Sub(proj, &outer)
	}

	weighted := mat.NewDense(dim, dim, nil)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			weighted.Set(i, j, h.At(i, j)/(sqrtM[i]*sqrtM[j]))
		}
	}
	var tmp, projected mat.Dense
	tmp.Mul(proj, weighted)
	projected.Mul(&tmp, proj)
	sym := mat.NewSymDense(dim, nil)
	for i := 0; i < dim; i++ {
		for j := i; j < dim; j++ {
			sym.SetSym(i, j, (projected.At(i, j)+projected.At(j, i))/2)
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(sym, false) {
		return nil, fmt.Errorf("hessian diagonalization failed")
	}
	values := eig.Values(nil)
	sort.Slice(values, func(i, j int) bool { return math.Abs(values[i]) < math.Abs(values[j]) })
	values = values[external:]
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = math.Copysign(math.Sqrt(math.Abs(v)), v)
	}
	sort.Float64s(out)
	return out, nil
}
