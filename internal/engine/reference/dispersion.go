package reference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
	"scfcore/pkg/chem"
)

// d2Param holds Grimme D2 atomic parameters in atomic units.
type d2Param struct {
	c6 float64 // Eh bohr^6
	r0 float64 // bohr
}

// J nm^6 mol^-1 to Eh bohr^6.
const c6Conversion = 17.34527758

var d2Params = map[chem.ElementType]d2Param{
	chem.H:  {c6: 0.14 * c6Conversion, r0: 1.001 * chem.BohrPerAngstrom},
	chem.He: {c6: 0.08 * c6Conversion, r0: 1.012 * chem.BohrPerAngstrom},
}

var d2Scaling = map[engine.Functional]float64{
	engine.FunctionalPBE:  0.75,
	engine.FunctionalPBE0: 0.60,
}

const d2Damping = 20.0

func checkDispersion(m engine.MethodSettings) error {
	switch m.Dispersion {
	case engine.DispersionNone, "":
		return nil
	case engine.DispersionD2:
		if _, ok := d2Scaling[m.Functional]; !ok {
			return fmt.Errorf("D2 is not parameterized for %s", describeMethod(m))
		}
		return nil
	}
	return fmt.Errorf("dispersion correction %s is not available", m.Dispersion)
}

func describeMethod(m engine.MethodSettings) string {
	if m.Theory == engine.TheoryDFT {
		return string(m.Functional)
	}
	return string(m.Theory)
}

// dispersionD2 returns the energy and the N x 3 gradient.
func dispersionD2(m engine.MethodSettings, atoms chem.AtomCollection) (float64, *mat.Dense) {
	n := atoms.Size()
	grad := mat.NewDense(n, 3, nil)
	if m.Dispersion != engine.DispersionD2 {
		return 0, grad
	}
	s6 := d2Scaling[m.Functional]
	var e float64
	for i := 0; i < n; i++ {
		pi := d2Params[atoms.Elements[i]]
		for j := 0; j < i; j++ {
			pj := d2Params[atoms.Elements[j]]
			d := atoms.Positions[i].Sub(atoms.Positions[j])
			r := d.Norm()
			c6 := math.Sqrt(pi.c6 * pj.c6)
			rr := pi.r0 + pj.r0
			f := 1 / (1 + math.Exp(-d2Damping*(r/rr-1)))
			r6 := math.Pow(r, 6)
			e -= s6 * c6 / r6 * f
			df := f * (1 - f) * d2Damping / rr
			dEdr := -s6 * c6 * (-6/(r6*r)*f + df/r6)
			for c := 0; c < 3; c++ {
				g := dEdr * d[c] / r
				grad.Set(i, c, grad.At(i, c)+g)
				grad.Set(j, c, grad.At(j, c)-g)
			}
		}
	}
	return e, grad
}
