package reference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
)

const (
	ccMaxIterations = 200
	ccThreshold     = 1e-9
)

// RunCorrelation computes the correlation energy of the restricted
// reference at the requested level. Canonical triples re-diagonalize the
// occupied block first; DLPNO-CCSD(T0) keeps the localized orbitals and
// uses only diagonal Fock elements for the triples.
func (s *system) RunCorrelation(ctx context.Context, level engine.CCLevel, out *slog.Logger) (engine.Correlation, error) {
	if s.settings.SCFMode != engine.Restricted {
		return engine.Correlation{}, engine.Errorf("correlation", "only restricted references are supported")
	}
	es, ok := s.structures[engine.Restricted]
	if !ok {
		return engine.Correlation{}, engine.Errorf("correlation", "no restricted orbitals available")
	}
	geo, err := s.currentGeometry()
	if err != nil {
		return engine.Correlation{}, &engine.Error{Op: "correlation", Err: err}
	}
	Pa, Pb := spinDensities(es, s.nAlpha, s.nBeta)
	F, _, _ := s.hamiltonian(geo, s.settings.Grid.Accuracy).fock(Pa, Pb)
	C := mat.DenseCopyOf(es.Alpha.Coefficients)
	nocc := es.Alpha.Occupied
	if level == engine.CCSDT {
		if err := canonicalizeOccupied(C, F, nocc); err != nil {
			return engine.Correlation{}, &engine.Error{Op: "correlation", Err: err}
		}
	}
	so := newSpinOrbitalSystem(transformFock(C, F), transformERI(geo.eri, C), nocc)
	out.Info("correlation started", "system", s.Name(), "level", string(level), "occupied", so.no, "virtual", so.nv)

	corr := engine.Correlation{Level: level}
	switch level {
	case engine.CCMP2:
		corr.Doubles = so.mp2()
	case engine.CCSD, engine.CCSDT, engine.CCDLPNOSDT0:
		t1, t2, e, err := so.ccsd(ctx, out)
		if err != nil {
			return engine.Correlation{}, &engine.Error{Op: "correlation", Err: err}
		}
		corr.Doubles = e
		if level.HasTriples() {
			corr.Triples = so.triples(t1, t2)
		}
	default:
		return engine.Correlation{}, engine.Errorf("correlation", "unknown level %q", level)
	}
	out.Info("correlation finished", "system", s.Name(), "doubles", corr.Doubles, "triples", corr.Triples)
	s.corr = &corr
	return corr, nil
}

// canonicalizeOccupied rotates the occupied rows of C to diagonalize the
// occupied-occupied Fock block.
func canonicalizeOccupied(C *mat.Dense, F mat.Matrix, nocc int) error {
	if nocc < 2 {
		return nil
	}
	block := mat.NewSymDense(nocc, nil)
	for i := 0; i < nocc; i++ {
		for j := i; j < nocc; j++ {
			block.SetSym(i, j, fockElement(C, F, i, j))
		}
	}
	var eig mat.EigenSym
	if !eig.Factorize(block, true) {
		return errors.New("occupied block diagonalization failed")
	}
	var U mat.Dense
	eig.VectorsTo(&U)
	_, n := C.Dims()
	occ := mat.DenseCopyOf(C.Slice(0, nocc, 0, n))
	var rotated mat.Dense
	rotated.Mul(U.T(), occ)
	for i := 0; i < nocc; i++ {
		C.SetRow(i, rotated.RawRowView(i))
	}
	return nil
}

func transformFock(C *mat.Dense, F mat.Matrix) *mat.Dense {
	var tmp, out mat.Dense
	tmp.Mul(C, F)
	out.Mul(&tmp, C.T())
	return &out
}

// transformERI returns (pq|rs) over molecular orbitals, the rows of C.
func transformERI(eri *eriTensor, C *mat.Dense) *eriTensor {
	n := eri.n
	nmo, _ := C.Dims()
	step := func(in []float64, dims [4]int, axis int) ([]float64, [4]int) {
		outDims := dims
		outDims[axis] = nmo
		out := make([]float64, outDims[0]*outDims[1]*outDims[2]*outDims[3])
		var idx [4]int
		for idx[0] = 0; idx[0] < dims[0]; idx[0]++ {
			for idx[1] = 0; idx[1] < dims[1]; idx[1]++ {
				for idx[2] = 0; idx[2] < dims[2]; idx[2]++ {
					for idx[3] = 0; idx[3] < dims[3]; idx[3]++ {
						v := in[((idx[0]*dims[1]+idx[1])*dims[2]+idx[2])*dims[3]+idx[3]]
						if v == 0 {
							continue
						}
						mu := idx[axis]
						o := idx
						for p := 0; p < nmo; p++ {
							o[axis] = p
							out[((o[0]*outDims[1]+o[1])*outDims[2]+o[2])*outDims[3]+o[3]] += C.At(p, mu) * v
						}
					}
				}
			}
		}
		return out, outDims
	}
	data, dims := eri.data, [4]int{n, n, n, n}
	for axis := 0; axis < 4; axis++ {
		data, dims = step(data, dims, axis)
	}
	return &eriTensor{n: nmo, data: data}
}

// spinOrbitalSystem holds antisymmetrized integrals over spin orbitals with
// occupied orbitals first.
type spinOrbitalSystem struct {
	no, nv, n int
	f         []float64 // n x n
	g         []float64 // <pq||rs>, n^4
}

func newSpinOrbitalSystem(fmo *mat.Dense, mo *eriTensor, noccSpatial int) *spinOrbitalSystem {
	nmo := mo.n
	n := 2 * nmo
	s := &spinOrbitalSystem{no: 2 * noccSpatial, nv: n - 2*noccSpatial, n: n, f: make([]float64, n*n), g: make([]float64, n*n*n*n)}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			if p%2 == q%2 {
				s.f[p*n+q] = fmo.At(p/2, q/2)
			}
		}
	}
	// <pq|rs> = (pr|qs) with matching spins
	phys := func(p, q, r, t int) float64 {
		if p%2 != r%2 || q%2 != t%2 {
			return 0
		}
		return mo.at(p/2, r/2, q/2, t/2)
	}
	for p := 0; p < n; p++ {
		for q := 0; q < n; q++ {
			for r := 0; r < n; r++ {
				for t := 0; t < n; t++ {
					s.g[((p*n+q)*n+r)*n+t] = phys(p, q, r, t) - phys(p, q, t, r)
				}
			}
		}
	}
	return s
}

func (s *spinOrbitalSystem) fock(p, q int) float64 { return s.f[p*s.n+q] }

// ints returns <pq||rs> for global spin-orbital indices.
func (s *spinOrbitalSystem) ints(p, q, r, t int) float64 {
	n := s.n
	return s.g[((p*n+q)*n+r)*n+t]
}

// amp2 and amp4 are dense amplitude arrays over occupied/virtual blocks.
type amp2 struct {
	d1 int
	v  []float64
}

func newAmp2(a, b int) *amp2 { return &amp2{d1: b, v: make([]float64, a*b)} }

func (t *amp2) at(i, j int) float64 { return t.v[i*t.d1+j] }

func (t *amp2) add(i, j int, x float64) { t.v[i*t.d1+j] += x }

type amp4 struct {
	d [4]int
	v []float64
}

func newAmp4(a, b, c, d int) *amp4 { return &amp4{d: [4]int{a, b, c, d}, v: make([]float64, a*b*c*d)} }

func (t *amp4) idx(i, j, k, l int) int { return ((i*t.d[1]+j)*t.d[2]+k)*t.d[3] + l }

func (t *amp4) at(i, j, k, l int) float64 { return t.v[t.idx(i, j, k, l)] }

func (t *amp4) add(i, j, k, l int, x float64) { t.v[t.idx(i, j, k, l)] += x }

func (s *spinOrbitalSystem) denom1(i, a int) float64 {
	return s.fock(i, i) - s.fock(s.no+a, s.no+a)
}

func (s *spinOrbitalSystem) denom2(i, j, a, b int) float64 {
	return s.fock(i, i) + s.fock(j, j) - s.fock(s.no+a, s.no+a) - s.fock(s.no+b, s.no+b)
}

// mp2 returns the second-order energy with diagonal denominators.
func (s *spinOrbitalSystem) mp2() float64 {
	var e float64
	o := s.no
	for i := 0; i < o; i++ {
		for j := 0; j < o; j++ {
			for a := 0; a < s.nv; a++ {
				for b := 0; b < s.nv; b++ {
					g := s.ints(i, j, o+a, o+b)
					e += 0.25 * g * g / s.denom2(i, j, a, b)
				}
			}
		}
	}
	return e
}

func (s *spinOrbitalSystem) tau(t1 *amp2, t2 *amp4, i, j, a, b int, half float64) float64 {
	return t2.at(i, j, a, b) + half*(t1.at(i, a)*t1.at(j, b)-t1.at(i, b)*t1.at(j, a))
}

func (s *spinOrbitalSystem) energy(t1 *amp2, t2 *amp4) float64 {
	o := s.no
	var e float64
	for i := 0; i < o; i++ {
		for a := 0; a < s.nv; a++ {
			e += s.fock(i, o+a) * t1.at(i, a)
		}
	}
	for i := 0; i < o; i++ {
		for j := 0; j < o; j++ {
			for a := 0; a < s.nv; a++ {
				for b := 0; b < s.nv; b++ {
					g := s.ints(i, j, o+a, o+b)
					e += 0.25*g*t2.at(i, j, a, b) + 0.5*g*t1.at(i, a)*t1.at(j, b)
				}
			}
		}
	}
	return e
}

// ccsd iterates the spin-orbital singles and doubles equations. Off-diagonal
// Fock elements are carried in the intermediates, so the occupied orbitals
// need not be canonical.
func (s *spinOrbitalSystem) ccsd(ctx context.Context, out *slog.Logger) (*amp2, *amp4, float64, error) {
	o, v := s.no, s.nv
	t1 := newAmp2(o, v)
	t2 := newAmp4(o, o, v, v)
	for i := 0; i < o; i++ {
		for j := 0; j < o; j++ {
			for a := 0; a < v; a++ {
				for b := 0; b < v; b++ {
					t2.add(i, j, a, b, s.ints(i, j, o+a, o+b)/s.denom2(i, j, a, b))
				}
			}
		}
	}
	eOld := s.energy(t1, t2)
	for it := 1; it <= ccMaxIterations; it++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, 0, err
		}
		n1, n2 := s.ccsdUpdate(t1, t2)
		var rms float64
		for k := range n1.v {
			d := n1.v[k] - t1.v[k]
			rms += d * d
		}
		for k := range n2.v {
			d := n2.v[k] - t2.v[k]
			rms += d * d
		}
		rms = math.Sqrt(rms)
		t1, t2 = n1, n2
		e := s.energy(t1, t2)
		out.Debug("ccsd iteration", "iteration", it, "energy", e, "delta", e-eOld, "rms", rms)
		if math.Abs(e-eOld) < ccThreshold && rms < math.Sqrt(ccThreshold) {
			return t1, t2, e, nil
		}
		eOld = e
	}
	return nil, nil, 0, fmt.Errorf("ccsd not converged after %d iterations", ccMaxIterations)
}

func (s *spinOrbitalSystem) ccsdUpdate(t1 *amp2, t2 *amp4) (*amp2, *amp4) {
	o, v := s.no, s.nv
	g := s.ints
	f := s.fock

	// one-particle intermediates
	fae := newAmp2(v, v)
	for a := 0; a < v; a++ {
		for e := 0; e < v; e++ {
			var x float64
			if a != e {
				x = f(o+a, o+e)
			}
			for m := 0; m < o; m++ {
				x -= 0.5 * f(m, o+e) * t1.at(m, a)
				for fv := 0; fv < v; fv++ {
					x += t1.at(m, fv) * g(m, o+a, o+fv, o+e)
				}
				for n := 0; n < o; n++ {
					for fv := 0; fv < v; fv++ {
						x -= 0.5 * s.tau(t1, t2, m, n, a, fv, 0.5) * g(m, n, o+e, o+fv)
					}
				}
			}
			fae.add(a, e, x)
		}
	}
	fmi := newAmp2(o, o)
	for m := 0; m < o; m++ {
		for i := 0; i < o; i++ {
			var x float64
			if m != i {
				x = f(m, i)
			}
			for e := 0; e < v; e++ {
				x += 0.5 * t1.at(i, e) * f(m, o+e)
				for n := 0; n < o; n++ {
					x += t1.at(n, e) * g(m, n, i, o+e)
					for fv := 0; fv < v; fv++ {
						x += 0.5 * s.tau(t1, t2, i, n, e, fv, 0.5) * g(m, n, o+e, o+fv)
					}
				}
			}
			fmi.add(m, i, x)
		}
	}
	fme := newAmp2(o, v)
	for m := 0; m < o; m++ {
		for e := 0; e < v; e++ {
			x := f(m, o+e)
			for n := 0; n < o; n++ {
				for fv := 0; fv < v; fv++ {
					x += t1.at(n, fv) * g(m, n, o+e, o+fv)
				}
			}
			fme.add(m, e, x)
		}
	}

	// two-particle intermediates
	wmnij := newAmp4(o, o, o, o)
	for m := 0; m < o; m++ {
		for n := 0; n < o; n++ {
			for i := 0; i < o; i++ {
				for j := 0; j < o; j++ {
					x := g(m, n, i, j)
					for e := 0; e < v; e++ {
						x += t1.at(j, e)*g(m, n, i, o+e) - t1.at(i, e)*g(m, n, j, o+e)
						for fv := 0; fv < v; fv++ {
							x += 0.25 * s.tau(t1, t2, i, j, e, fv, 1) * g(m, n, o+e, o+fv)
						}
					}
					wmnij.add(m, n, i, j, x)
				}
			}
		}
	}
	wabef := newAmp4(v, v, v, v)
	for a := 0; a < v; a++ {
		for b := 0; b < v; b++ {
			for e := 0; e < v; e++ {
				for fv := 0; fv < v; fv++ {
					x := g(o+a, o+b, o+e, o+fv)
					for m := 0; m < o; m++ {
						x -= t1.at(m, b)*g(o+a, m, o+e, o+fv) - t1.at(m, a)*g(o+b, m, o+e, o+fv)
						for n := 0; n < o; n++ {
							x += 0.25 * s.tau(t1, t2, m, n, a, b, 1) * g(m, n, o+e, o+fv)
						}
					}
					wabef.add(a, b, e, fv, x)
				}
			}
		}
	}
	wmbej := newAmp4(o, v, v, o)
	for m := 0; m < o; m++ {
		for b := 0; b < v; b++ {
			for e := 0; e < v; e++ {
				for j := 0; j < o; j++ {
					x := g(m, o+b, o+e, j)
					for fv := 0; fv < v; fv++ {
						x += t1.at(j, fv) * g(m, o+b, o+e, o+fv)
					}
					for n := 0; n < o; n++ {
						x -= t1.at(n, b) * g(m, n, o+e, j)
						for fv := 0; fv < v; fv++ {
							x -= (0.5*t2.at(j, n, fv, b) + t1.at(j, fv)*t1.at(n, b)) * g(m, n, o+e, o+fv)
						}
					}
					wmbej.add(m, b, e, j, x)
				}
			}
		}
	}

	// singles
	n1 := newAmp2(o, v)
	for i := 0; i < o; i++ {
		for a := 0; a < v; a++ {
			x := f(i, o+a)
			for e := 0; e < v; e++ {
				x += t1.at(i, e) * fae.at(a, e)
			}
			for m := 0; m < o; m++ {
				x -= t1.at(m, a) * fmi.at(m, i)
				for e := 0; e < v; e++ {
					x += t2.at(i, m, a, e) * fme.at(m, e)
					for fv := 0; fv < v; fv++ {
						x -= 0.5 * t2.at(i, m, e, fv) * g(m, o+a, o+e, o+fv)
					}
					for n := 0; n < o; n++ {
						x -= 0.5 * t2.at(m, n, a, e) * g(n, m, o+e, i)
					}
				}
			}
			for n := 0; n < o; n++ {
				for fv := 0; fv < v; fv++ {
					x -= t1.at(n, fv) * g(n, o+a, i, o+fv)
				}
			}
			n1.add(i, a, x/s.denom1(i, a))
		}
	}

	// doubles; raw collects terms that are antisymmetrized afterwards
	n2 := newAmp4(o, o, v, v)
	pab := newAmp4(o, o, v, v)   // needs P(ab)
	pij := newAmp4(o, o, v, v)   // needs P(ij)
	pijab := newAmp4(o, o, v, v) // needs P(ij)P(ab)
	for i := 0; i < o; i++ {
		for j := 0; j < o; j++ {
			for a := 0; a < v; a++ {
				for b := 0; b < v; b++ {
					x := g(i, j, o+a, o+b)
					for m := 0; m < o; m++ {
						for n := 0; n < o; n++ {
							x += 0.5 * s.tau(t1, t2, m, n, a, b, 1) * wmnij.at(m, n, i, j)
						}
					}
					for e := 0; e < v; e++ {
						for fv := 0; fv < v; fv++ {
							x += 0.5 * s.tau(t1, t2, i, j, e, fv, 1) * wabef.at(a, b, e, fv)
						}
					}
					n2.add(i, j, a, b, x)

					var xab, xij, xijab float64
					for e := 0; e < v; e++ {
						var mb float64
						for m := 0; m < o; m++ {
							mb += t1.at(m, b) * fme.at(m, e)
						}
						xab += t2.at(i, j, a, e) * (fae.at(b, e) - 0.5*mb)
						xij += t1.at(i, e) * g(o+a, o+b, o+e, j)
					}
					for m := 0; m < o; m++ {
						var je float64
						for e := 0; e < v; e++ {
							je += t1.at(j, e) * fme.at(m, e)
						}
						xij -= t2.at(i, m, a, b) * (fmi.at(m, j) + 0.5*je)
						xab -= t1.at(m, a) * g(m, o+b, i, j)
						for e := 0; e < v; e++ {
							xijab += t2.at(i, m, a, e)*wmbej.at(m, b, e, j) -
								t1.at(i, e)*t1.at(m, a)*g(m, o+b, o+e, j)
						}
					}
					pab.add(i, j, a, b, xab)
					pij.add(i, j, a, b, xij)
					pijab.add(i, j, a, b, xijab)
				}
			}
		}
	}
	for i := 0; i < o; i++ {
		for j := 0; j < o; j++ {
			for a := 0; a < v; a++ {
				for b := 0; b < v; b++ {
					x := pab.at(i, j, a, b) - pab.at(i, j, b, a) +
						pij.at(i, j, a, b) - pij.at(j, i, a, b) +
						pijab.at(i, j, a, b) - pijab.at(j, i, a, b) - pijab.at(i, j, b, a) + pijab.at(j, i, b, a)
					n2.add(i, j, a, b, x)
					n2.v[n2.idx(i, j, a, b)] /= s.denom2(i, j, a, b)
				}
			}
		}
	}
	return n1, n2
}

// triples returns the perturbative triples energy using diagonal Fock
// denominators.
func (s *spinOrbitalSystem) triples(t1 *amp2, t2 *amp4) float64 {
	o, v := s.no, s.nv
	g := s.ints
	disconnected := func(i, j, k, a, b, c int) float64 {
		return t1.at(i, a) * g(j, k, o+b, o+c)
	}
	connected := func(i, j, k, a, b, c int) float64 {
		var x float64
		for e := 0; e < v; e++ {
			x += t2.at(j, k, a, e) * g(o+e, i, o+b, o+c)
		}
		for m := 0; m < o; m++ {
			x -= t2.at(i, m, b, c) * g(m, o+a, j, k)
		}
		return x
	}
	type perm struct {
		p    [3]int
		sign float64
	}
	perms := []perm{{[3]int{0, 1, 2}, 1}, {[3]int{1, 0, 2}, -1}, {[3]int{2, 1, 0}, -1}}
	antisym := func(term func(i, j, k, a, b, c int) float64, occ, vir [3]int) float64 {
		var x float64
		for _, po := range perms {
			for _, pv := range perms {
				x += po.sign * pv.sign * term(
					occ[po.p[0]], occ[po.p[1]], occ[po.p[2]],
					vir[pv.p[0]], vir[pv.p[1]], vir[pv.p[2]])
			}
		}
		return x
	}
	var e float64
	for i := 0; i < o; i++ {
		for j := i + 1; j < o; j++ {
			for k := j + 1; k < o; k++ {
				occ := [3]int{i, j, k}
				for a := 0; a < v; a++ {
					for b := a + 1; b < v; b++ {
						for c := b + 1; c < v; c++ {
							vir := [3]int{a, b, c}
							wc := antisym(connected, occ, vir)
							wd := antisym(disconnected, occ, vir)
							d := s.fock(i, i) + s.fock(j, j) + s.fock(k, k) -
								s.fock(o+a, o+a) - s.fock(o+b, o+b) - s.fock(o+c, o+c)
							e += wc * (wc + wd) / d
						}
					}
				}
			}
		}
	}
	return e
}
