// Package reference is a compact Gaussian-basis engine for hydrogen and
// helium built on gonum. It supports restricted and unrestricted SCF with
// Hartree-Fock or LDA, PBE and PBE0 exchange-correlation, an empirical D2
// dispersion correction, finite-difference derivatives, Pipek-Mezey
// localization and canonical MP2, CCSD and (T) correlation.
package reference

import (
	"fmt"
	"math"
	"strings"

	"scfcore/pkg/chem"
)

type primitive struct {
	exp  float64
	coef float64 // includes primitive normalization and contraction normalization
}

// shell is a contracted s function centred on an atom.
type shell struct {
	atom   int
	center chem.Position
	prims  []primitive
}

type rawShell struct {
	exps  []float64
	coefs []float64
}

var basisLibrary = map[string]map[chem.ElementType][]rawShell{
	"STO-3G": {
		chem.H: {{
			exps:  []float64{3.42525091, 0.62391373, 0.16885540},
			coefs: []float64{0.15432897, 0.53532814, 0.44463454},
		}},
		chem.He: {{
			exps:  []float64{6.36242139, 1.15892300, 0.31364979},
			coefs: []float64{0.15432897, 0.53532814, 0.44463454},
		}},
	},
	"6-31G": {
		chem.H: {
			{exps: []float64{18.7311370, 2.8253937, 0.6401217}, coefs: []float64{0.03349460, 0.23472695, 0.81375733}},
			{exps: []float64{0.1612778}, coefs: []float64{1.0}},
		},
		chem.He: {
			{exps: []float64{38.4216340, 5.7780300, 1.2417740}, coefs: []float64{0.0237660, 0.1546790, 0.4696300}},
			{exps: []float64{0.2979640}, coefs: []float64{1.0}},
		},
	},
}

// Polarization sets add functions to heavy atoms only, so for hydrogen and
// helium they coincide with their parent set.
var basisAliases = map[string]string{
	"6-31G*": "6-31G",
	"6-31GS": "6-31G",
}

// SupportedBases lists the basis labels the engine resolves.
func SupportedBases() []string {
	return []string{"STO-3G", "6-31G", "6-31G*", "6-31GS"}
}

func resolveBasis(label string) (map[chem.ElementType][]rawShell, error) {
	key := strings.ToUpper(strings.TrimSpace(label))
	if alias, ok := basisAliases[key]; ok {
		key = alias
	}
	lib, ok := basisLibrary[key]
	if !ok {
		return nil, fmt.Errorf("basis set %q is not available", label)
	}
	return lib, nil
}

// buildBasis places normalized shells on every atom and returns them in atom
// order together with per-atom index ranges.
func buildBasis(label string, atoms chem.AtomCollection) ([]shell, [][2]int, error) {
	lib, err := resolveBasis(label)
	if err != nil {
		return nil, nil, err
	}
	var shells []shell
	ranges := make([][2]int, atoms.Size())
	for i, el := range atoms.Elements {
		raws, ok := lib[el]
		if !ok {
			return nil, nil, fmt.Errorf("basis set %q has no functions for %s", label, el)
		}
		ranges[i][0] = len(shells)
		for _, raw := range raws {
			shells = append(shells, newShell(i, atoms.Positions[i], raw))
		}
		ranges[i][1] = len(shells)
	}
	return shells, ranges, nil
}

func newShell(atom int, center chem.Position, raw rawShell) shell {
	prims := make([]primitive, len(raw.exps))
	for k, a := range raw.exps {
		prims[k] = primitive{exp: a, coef: raw.coefs[k] * math.Pow(2*a/math.Pi, 0.75)}
	}
	// renormalize the contraction
	var self float64
	for _, p := range prims {
		for _, q := range prims {
			self += p.coef * q.coef * math.Pow(math.Pi/(p.exp+q.exp), 1.5)
		}
	}
	scale := 1 / math.Sqrt(self)
	for k := range prims {
		prims[k].coef *= scale
	}
	return shell{atom: atom, center: center, prims: prims}
}

func moveShells(shells []shell, positions chem.PositionCollection) []shell {
	out := make([]shell, len(shells))
	for i, sh := range shells {
		out[i] = shell{atom: sh.atom, center: positions[sh.atom], prims: sh.prims}
	}
	return out
}

// value returns the shell amplitude and gradient at r.
func (sh shell) value(r chem.Position) (float64, [3]float64) {
	d := r.Sub(sh.center)
	r2 := d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
	var v, dv float64
	for _, p := range sh.prims {
		e := p.coef * math.Exp(-p.exp*r2)
		v += e
		dv += -2 * p.exp * e
	}
	return v, [3]float64{dv * d[0], dv * d[1], dv * d[2]}
}
