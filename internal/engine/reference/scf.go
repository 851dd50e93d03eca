package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
	"scfcore/internal/engine/integrals"
	"scfcore/pkg/chem"
)

const (
	dampingFactor = 0.4 // weight of the previous density during damped steps
	diisSize      = 8
)

// geometry bundles everything that depends on nuclear positions.
type geometry struct {
	atoms    chem.AtomCollection
	shells   []shell
	one      oneElectron
	eri      *eriTensor
	x        *mat.Dense
	enuc     float64
	gridType string
	grids    map[int]molecularGrid
}

func newGeometry(shells []shell, atoms chem.AtomCollection, boys *integrals.Handle, gridType string) (*geometry, error) {
	one := buildOneElectron(shells, atoms, boys)
	x, err := orthogonalizer(one.overlap)
	if err != nil {
		return nil, err
	}
	return &geometry{
		atoms:    atoms,
		shells:   shells,
		one:      one,
		eri:      buildERI(shells, boys),
		x:        x,
		enuc:     nuclearRepulsion(atoms),
		gridType: gridType,
		grids:    make(map[int]molecularGrid),
	}, nil
}

func (g *geometry) nBasis() int { return len(g.shells) }

func (g *geometry) grid(accuracy int) molecularGrid {
	if gr, ok := g.grids[accuracy]; ok {
		return gr
	}
	gr := buildGrid(g.gridType, accuracy, g.atoms, g.shells)
	g.grids[accuracy] = gr
	return gr
}

func orthogonalizer(S *mat.SymDense) (*mat.Dense, error) {
	var eig mat.EigenSym
	if !eig.Factorize(S, true) {
		return nil, errors.New("overlap diagonalization failed")
	}
	vals := eig.Values(nil)
	if vals[0] < 1e-8 {
		return nil, fmt.Errorf("basis is linearly dependent (smallest overlap eigenvalue %.3g)", vals[0])
	}
	var vecs mat.Dense
	eig.VectorsTo(&vecs)
	d := mat.NewDiagDense(len(vals), nil)
	for i, v := range vals {
		d.SetDiag(i, 1/math.Sqrt(v))
	}
	var tmp, x mat.Dense
	tmp.Mul(&vecs, d)
	x.Mul(&tmp, vecs.T())
	return &x, nil
}

func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// diagonalize solves FC = SCE and returns orbitals sorted by energy.
func (g *geometry) diagonalize(F mat.Matrix) (*engine.Orbitals, error) {
	var fp, tmp mat.Dense
	tmp.Mul(g.x.T(), F)
	fp.Mul(&tmp, g.x)
	var eig mat.EigenSym
	if !eig.Factorize(symmetrize(&fp), true) {
		return nil, errors.New("fock diagonalization failed")
	}
	var v, c mat.Dense
	eig.VectorsTo(&v)
	c.Mul(g.x, &v)
	return &engine.Orbitals{Coefficients: mat.DenseCopyOf(c.T()), Energies: eig.Values(nil)}, nil
}

// densityOf returns sum over the first nocc orbitals of c c^T.
func densityOf(o *engine.Orbitals, nocc int) *mat.Dense {
	_, n := o.Coefficients.Dims()
	P := mat.NewDense(n, n, nil)
	for i := 0; i < nocc; i++ {
		row := o.Coefficients.RawRowView(i)
		for mu := 0; mu < n; mu++ {
			for nu := 0; nu < n; nu++ {
				P.Set(mu, nu, P.At(mu, nu)+row[mu]*row[nu])
			}
		}
	}
	return P
}

func frobenius(a, b mat.Matrix) float64 {
	r, c := a.Dims()
	var s float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			s += a.At(i, j) * b.At(i, j)
		}
	}
	return s
}

// hamiltonian assembles Fock matrices and energies for one geometry.
type hamiltonian struct {
	geo        *geometry
	fn         *functional
	grid       molecularGrid
	restricted bool
}

func (h hamiltonian) exactExchange() float64 {
	if h.fn == nil {
		return 1
	}
	return h.fn.exactExchange
}

// fock returns the spin Fock matrices and the total energy without
// dispersion for the spin densities Pa, Pb.
func (h hamiltonian) fock(Pa, Pb *mat.Dense) (*mat.Dense, *mat.Dense, float64) {
	eri := h.geo.eri
	var Pt mat.Dense
	Pt.Add(Pa, Pb)
	J := eri.coulomb(&Pt)
	cx := h.exactExchange()

	Fa := mat.DenseCopyOf(h.geo.one.core)
	Fa.Add(Fa, J)
	var Fb *mat.Dense

	energy := frobenius(&Pt, h.geo.one.core) + 0.5*frobenius(&Pt, J) + h.geo.enuc
	if cx != 0 {
		Ka := eri.exchange(Pa)
		Kb := Ka
		if !h.restricted {
			Kb = eri.exchange(Pb)
		}
		energy -= 0.5 * cx * (frobenius(Pa, Ka) + frobenius(Pb, Kb))
		Fb = mat.DenseCopyOf(Fa)
		Ka.Scale(cx, Ka)
		Fa.Sub(Fa, Ka)
		if !h.restricted {
			Kb.Scale(cx, Kb)
			Fb.Sub(Fb, Kb)
		}
	} else {
		Fb = mat.DenseCopyOf(Fa)
	}
	if h.fn != nil {
		exc, Va, Vb := h.grid.integrateXC(*h.fn, Pa, Pb, h.restricted)
		energy += exc
		Fa.Add(Fa, Va)
		if !h.restricted {
			Fb.Add(Fb, Vb)
		}
	}
	if h.restricted {
		Fb = Fa
	}
	return Fa, Fb, energy
}

// commutator returns X^T (F P S - S P F) X.
func (h hamiltonian) commutator(F, P *mat.Dense) *mat.Dense {
	S := h.geo.one.overlap
	var fps, spf, tmp, e, out mat.Dense
	tmp.Mul(F, P)
	fps.Mul(&tmp, S)
	tmp.Reset()
	tmp.Mul(S, P)
	spf.Mul(&tmp, F)
	e.Sub(&fps, &spf)
	tmp.Reset()
	tmp.Mul(h.geo.x.T(), &e)
	out.Mul(&tmp, h.geo.x)
	return &out
}

func maxAbs(m mat.Matrix) float64 {
	r, c := m.Dims()
	var v float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v = math.Max(v, math.Abs(m.At(i, j)))
		}
	}
	return v
}

// diis keeps a Pulay subspace of Fock matrices and commutator errors.
type diis struct {
	focks [][2]*mat.Dense
	errs  [][2]*mat.Dense
}

func (d *diis) push(fa, fb, ea, eb *mat.Dense) {
	d.focks = append(d.focks, [2]*mat.Dense{fa, fb})
	d.errs = append(d.errs, [2]*mat.Dense{ea, eb})
	if len(d.focks) > diisSize {
		d.focks = d.focks[1:]
		d.errs = d.errs[1:]
	}
}

func (d *diis) extrapolate() (*mat.Dense, *mat.Dense, bool) {
	m := len(d.focks)
	if m < 2 {
		return nil, nil, false
	}
	B := mat.NewDense(m+1, m+1, nil)
	rhs := mat.NewVecDense(m+1, nil)
	for i := 0; i < m; i++ {
		for j := 0; j <= i; j++ {
			v := frobenius(d.errs[i][0], d.errs[j][0]) + frobenius(d.errs[i][1], d.errs[j][1])
			B.Set(i, j, v)
			B.Set(j, i, v)
		}
		B.Set(i, m, -1)
		B.Set(m, i, -1)
	}
	rhs.SetVec(m, -1)
	var c mat.VecDense
	if err := c.SolveVec(B, rhs); err != nil {
		return nil, nil, false
	}
	n, _ := d.focks[0][0].Dims()
	fa := mat.NewDense(n, n, nil)
	fb := mat.NewDense(n, n, nil)
	for i := 0; i < m; i++ {
		var t mat.Dense
		t.Scale(c.AtVec(i), d.focks[i][0])
		fa.Add(fa, &t)
		t.Reset()
		t.Scale(c.AtVec(i), d.focks[i][1])
		fb.Add(fb, &t)
	}
	return fa, fb, true
}

// scfRun is one SCF problem: a hamiltonian plus occupation and controls.
type scfRun struct {
	ham       hamiltonian
	nAlpha    int
	nBeta     int
	cfg       engine.SCFSettings
	threshold float64
	out       *slog.Logger
}

func (r scfRun) iterate(ctx context.Context, Pa, Pb *mat.Dense) (*engine.ElectronicStructure, float64, error) {
	var acc diis
	var eOld float64
	for it := 1; it <= r.cfg.MaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		Fa, Fb, energy := r.ham.fock(Pa, Pb)
		ea := r.ham.commutator(Fa, Pa)
		eb := ea
		if !r.ham.restricted {
			eb = r.ham.commutator(Fb, Pb)
		}
		errMax := math.Max(maxAbs(ea), maxAbs(eb))
		delta := energy - eOld
		r.out.Debug("scf iteration", "iteration", it, "energy", energy, "delta", delta, "error", errMax)
		converged := it > 1 && math.Abs(delta) < r.threshold && errMax < math.Sqrt(r.threshold)

		fa, fb := Fa, Fb
		if !converged && it > r.cfg.DampingInitialSteps {
			acc.push(Fa, Fb, ea, eb)
			if xa, xb, ok := acc.extrapolate(); ok {
				fa, fb = xa, xb
			}
		}
		oa, err := r.ham.geo.diagonalize(fa)
		if err != nil {
			return nil, 0, err
		}
		ob := oa
		if !r.ham.restricted {
			if ob, err = r.ham.geo.diagonalize(fb); err != nil {
				return nil, 0, err
			}
		}
		if converged {
			r.out.Info("scf converged", "iterations", it, "energy", energy)
			return r.structure(oa, ob), energy, nil
		}
		newPa := densityOf(oa, r.nAlpha)
		newPb := newPa
		if !r.ham.restricted {
			newPb = densityOf(ob, r.nBeta)
		}
		if it <= r.cfg.DampingInitialSteps {
			newPa = mix(newPa, Pa)
			if r.ham.restricted {
				newPb = newPa
			} else {
				newPb = mix(newPb, Pb)
			}
		}
		Pa, Pb = newPa, newPb
		eOld = energy
	}
	return nil, 0, fmt.Errorf("scf not converged after %d iterations", r.cfg.MaxIterations)
}

func mix(next, prev *mat.Dense) *mat.Dense {
	var a, b mat.Dense
	a.Scale(1-dampingFactor, next)
	b.Scale(dampingFactor, prev)
	a.Add(&a, &b)
	return &a
}

func (r scfRun) structure(oa, ob *engine.Orbitals) *engine.ElectronicStructure {
	oa.Occupied = r.nAlpha
	if r.ham.restricted {
		return &engine.ElectronicStructure{Mode: engine.Restricted, Alpha: oa}
	}
	ob.Occupied = r.nBeta
	return &engine.ElectronicStructure{Mode: engine.Unrestricted, Alpha: oa, Beta: ob}
}

// guessDensities derives starting densities. Orbitals from a previous solve
// are preferred; their occupations are refilled with the current counts.
func guessDensities(geo *geometry, guess *engine.ElectronicStructure, initial string, nAlpha, nBeta int, boys *integrals.Handle) (*mat.Dense, *mat.Dense, error) {
	if guess != nil && guess.Validate(geo.nBasis()) == nil {
		pa := densityOf(guess.Alpha, nAlpha)
		beta := guess.Alpha
		if guess.Mode == engine.Unrestricted {
			beta = guess.Beta
		}
		return pa, densityOf(beta, nBeta), nil
	}
	if initial == "SAD" {
		return superposedDensities(geo, nAlpha, nBeta, boys)
	}
	o, err := geo.diagonalize(geo.one.core)
	if err != nil {
		return nil, nil, err
	}
	return densityOf(o, nAlpha), densityOf(o, nBeta), nil
}

// superposedDensities places a neutral atomic density on every atom and
// rescales each spin to the requested electron count.
func superposedDensities(geo *geometry, nAlpha, nBeta int, boys *integrals.Handle) (*mat.Dense, *mat.Dense, error) {
	n := geo.nBasis()
	P := mat.NewDense(n, n, nil)
	var electrons float64
	for a, el := range geo.atoms.Elements {
		var idx []int
		var local []shell
		for mu, sh := range geo.shells {
			if sh.atom == a {
				idx = append(idx, mu)
				local = append(local, sh)
			}
		}
		single := chem.AtomCollection{Elements: []chem.ElementType{el}, Positions: chem.PositionCollection{geo.atoms.Positions[a]}}
		sub, err := newGeometry(local, single, boys, geo.gridType)
		if err != nil {
			return nil, nil, err
		}
		o, err := sub.diagonalize(sub.one.core)
		if err != nil {
			return nil, nil, err
		}
		z := float64(el.Z())
		electrons += z
		lowest := densityOf(o, 1)
		for i, mu := range idx {
			for j, nu := range idx {
				P.Set(mu, nu, z*lowest.At(i, j))
			}
		}
	}
	var pa, pb mat.Dense
	pa.Scale(float64(nAlpha)/electrons, P)
	pb.Scale(float64(nBeta)/electrons, P)
	return &pa, &pb, nil
}
