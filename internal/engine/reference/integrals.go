package reference

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine/integrals"
	"scfcore/pkg/chem"
)

// eriTensor stores (ij|kl) in chemist notation as a dense n^4 slice.
type eriTensor struct {
	n    int
	data []float64
}

func (t *eriTensor) at(i, j, k, l int) float64 {
	n := t.n
	return t.data[((i*n+j)*n+k)*n+l]
}

func (t *eriTensor) set(i, j, k, l int, v float64) {
	n := t.n
	t.data[((i*n+j)*n+k)*n+l] = v
}

// oneElectron holds the geometry-dependent one-electron matrices.
type oneElectron struct {
	overlap *mat.SymDense
	core    *mat.SymDense
}

func dist2(a, b chem.Position) float64 {
	d := a.Sub(b)
	return d[0]*d[0] + d[1]*d[1] + d[2]*d[2]
}

func gaussianProduct(a float64, A chem.Position, b float64, B chem.Position) chem.Position {
	p := a + b
	return chem.Position{(a*A[0] + b*B[0]) / p, (a*A[1] + b*B[1]) / p, (a*A[2] + b*B[2]) / p}
}

func buildOneElectron(shells []shell, atoms chem.AtomCollection, h *integrals.Handle) oneElectron {
	n := len(shells)
	S := mat.NewSymDense(n, nil)
	H := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			var s, t, v float64
			A, B := shells[i].center, shells[j].center
			ab2 := dist2(A, B)
			for _, pa := range shells[i].prims {
				for _, pb := range shells[j].prims {
					a, b := pa.exp, pb.exp
					p := a + b
					mu := a * b / p
					cc := pa.coef * pb.coef
					ov := math.Pow(math.Pi/p, 1.5) * math.Exp(-mu*ab2)
					s += cc * ov
					t += cc * mu * (3 - 2*mu*ab2) * ov
					P := gaussianProduct(a, A, b, B)
					pre := 2 * math.Pi / p * math.Exp(-mu*ab2)
					for k, el := range atoms.Elements {
						v -= cc * float64(el.Z()) * pre * h.Boys(0, p*dist2(P, atoms.Positions[k]))
					}
				}
			}
			S.SetSym(i, j, s)
			H.SetSym(i, j, t+v)
		}
	}
	return oneElectron{overlap: S, core: H}
}

func buildERI(shells []shell, h *integrals.Handle) *eriTensor {
	n := len(shells)
	t := &eriTensor{n: n, data: make([]float64, n*n*n*n)}
	pair := func(i, j int) int { return i*(i+1)/2 + j }
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			for k := 0; k < n; k++ {
				for l := 0; l <= k; l++ {
					if pair(i, j) < pair(k, l) {
						continue
					}
					v := contractedERI(shells[i], shells[j], shells[k], shells[l], h)
					for _, idx := range [][4]int{
						{i, j, k, l}, {j, i, k, l}, {i, j, l, k}, {j, i, l, k},
						{k, l, i, j}, {l, k, i, j}, {k, l, j, i}, {l, k, j, i},
					} {
						t.set(idx[0], idx[1], idx[2], idx[3], v)
					}
				}
			}
		}
	}
	return t
}

func contractedERI(si, sj, sk, sl shell, h *integrals.Handle) float64 {
	ab2 := dist2(si.center, sj.center)
	cd2 := dist2(sk.center, sl.center)
	var sum float64
	for _, pa := range si.prims {
		for _, pb := range sj.prims {
			p := pa.exp + pb.exp
			P := gaussianProduct(pa.exp, si.center, pb.exp, sj.center)
			eab := math.Exp(-pa.exp * pb.exp / p * ab2)
			for _, pc := range sk.prims {
				for _, pd := range sl.prims {
					q := pc.exp + pd.exp
					Q := gaussianProduct(pc.exp, sk.center, pd.exp, sl.center)
					ecd := math.Exp(-pc.exp * pd.exp / q * cd2)
					rho := p * q / (p + q)
					pre := 2 * math.Pow(math.Pi, 2.5) / (p * q * math.Sqrt(p+q))
					sum += pa.coef * pb.coef * pc.coef * pd.coef * pre * eab * ecd * h.Boys(0, rho*dist2(P, Q))
				}
			}
		}
	}
	return sum
}

func nuclearRepulsion(atoms chem.AtomCollection) float64 {
	var e float64
	for i := range atoms.Elements {
		for j := 0; j < i; j++ {
			e += float64(atoms.Elements[i].Z()*atoms.Elements[j].Z()) / atoms.Positions[i].Distance(atoms.Positions[j])
		}
	}
	return e
}

// coulomb returns J[P].
func (t *eriTensor) coulomb(P mat.Matrix) *mat.Dense {
	n := t.n
	J := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			var v float64
			for k := 0; k < n; k++ {
				for l := 0; l < n; l++ {
					v += P.At(k, l) * t.at(i, j, k, l)
				}
			}
			J.Set(i, j, v)
			J.Set(j, i, v)
		}
	}
	return J
}

// exchange returns K[P].
func (t *eriTensor) exchange(P mat.Matrix) *mat.Dense {
	n := t.n
	K := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j <= i; j++ {
			var v float64
			for k := 0; k < n; k++ {
				for l := 0; l < n; l++ {
					v += P.At(k, l) * t.at(i, k, j, l)
				}
			}
			K.Set(i, j, v)
			K.Set(j, i, v)
		}
	}
	return K
}
