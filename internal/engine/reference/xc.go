package reference

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
)

// xcVars are the spin densities and gradient invariants at one point:
// rho_a, rho_b, sigma_aa, sigma_ab, sigma_bb.
type xcVars [5]float64

const (
	rhoA = iota
	rhoB
	sigAA
	sigAB
	sigBB
)

type functional struct {
	name          engine.Functional
	exactExchange float64
	gga           bool
	density       func(x xcVars) float64
}

func lookupFunctional(name engine.Functional) (functional, error) {
	switch name {
	case engine.FunctionalLDA:
		return functional{name: name, density: func(x xcVars) float64 {
			return slaterExchange(x) + pw92Density(x)
		}}, nil
	case engine.FunctionalPBE:
		return functional{name: name, gga: true, density: func(x xcVars) float64 {
			return pbeExchange(x) + pbeCorrelation(x)
		}}, nil
	case engine.FunctionalPBE0:
		return functional{name: name, gga: true, exactExchange: 0.25, density: func(x xcVars) float64 {
			return 0.75*pbeExchange(x) + pbeCorrelation(x)
		}}, nil
	}
	return functional{}, fmt.Errorf("functional %q is not available", name)
}

const densityCutoff = 1e-10

var cx = 0.75 * math.Cbrt(3/math.Pi)

func slaterExchange(x xcVars) float64 {
	// spin scaling: E[a,b] = (E[2a] + E[2b]) / 2
	return -cx * math.Cbrt(2) * (math.Pow(x[rhoA], 4.0/3) + math.Pow(x[rhoB], 4.0/3))
}

const (
	pbeKappa = 0.804
	pbeMu    = 0.2195149727645171
	pbeBeta  = 0.06672455060314922
	pbeGamma = 0.031090690869654895
)

func pbeExchange(x xcVars) float64 {
	return 0.5*pbeExchangeUnpolarized(2*x[rhoA], 4*x[sigAA]) +
		0.5*pbeExchangeUnpolarized(2*x[rhoB], 4*x[sigBB])
}

func pbeExchangeUnpolarized(rho, sigma float64) float64 {
	if rho < densityCutoff {
		return 0
	}
	kf := math.Cbrt(3 * math.Pi * math.Pi * rho)
	s2 := math.Max(sigma, 0) / (4 * kf * kf * rho * rho)
	fx := 1 + pbeKappa - pbeKappa/(1+pbeMu*s2/pbeKappa)
	return -cx * math.Pow(rho, 4.0/3) * fx
}

type pwParams struct{ a, alpha1, beta1, beta2, beta3, beta4 float64 }

var (
	pwUnpolarized = pwParams{0.031091, 0.21370, 7.5957, 3.5876, 1.6382, 0.49294}
	pwPolarized   = pwParams{0.015545, 0.20548, 14.1189, 6.1977, 3.3662, 0.62517}
	pwStiffness   = pwParams{0.016887, 0.11125, 10.357, 3.6231, 0.88026, 0.49671}
)

const fzz = 1.709921

func (p pwParams) g(rs float64) float64 {
	sq := math.Sqrt(rs)
	den := 2 * p.a * (p.beta1*sq + p.beta2*rs + p.beta3*rs*sq + p.beta4*rs*rs)
	return -2 * p.a * (1 + p.alpha1*rs) * math.Log1p(1/den)
}

func spinPolarization(x xcVars) (rho, zeta float64) {
	rho = x[rhoA] + x[rhoB]
	zeta = (x[rhoA] - x[rhoB]) / rho
	return rho, math.Max(-1, math.Min(1, zeta))
}

// pw92Epsilon is the correlation energy per particle.
func pw92Epsilon(rho, zeta float64) float64 {
	rs := math.Cbrt(3 / (4 * math.Pi * rho))
	e0 := pwUnpolarized.g(rs)
	e1 := pwPolarized.g(rs)
	ac := -pwStiffness.g(rs)
	z4 := zeta * zeta * zeta * zeta
	fz := (math.Pow(1+zeta, 4.0/3) + math.Pow(1-zeta, 4.0/3) - 2) / (2*math.Cbrt(2) - 2)
	return e0 + ac*fz/fzz*(1-z4) + (e1-e0)*fz*z4
}

func pw92Density(x xcVars) float64 {
	rho, zeta := spinPolarization(x)
	if rho < densityCutoff {
		return 0
	}
	return rho * pw92Epsilon(rho, zeta)
}

func pbeCorrelation(x xcVars) float64 {
	rho, zeta := spinPolarization(x)
	if rho < densityCutoff {
		return 0
	}
	ec := pw92Epsilon(rho, zeta)
	phi := 0.5 * (math.Pow(1+zeta, 2.0/3) + math.Pow(1-zeta, 2.0/3))
	phi3 := phi * phi * phi
	kf := math.Cbrt(3 * math.Pi * math.Pi * rho)
	ks2 := 4 * kf / math.Pi
	sigma := math.Max(x[sigAA]+2*x[sigAB]+x[sigBB], 0)
	t2 := sigma / (4 * phi * phi * ks2 * rho * rho)
	den := math.Expm1(-ec / (pbeGamma * phi3))
	if den <= 0 {
		return rho * ec
	}
	A := pbeBeta / pbeGamma / den
	At2 := A * t2
	h := pbeGamma * phi3 * math.Log1p(pbeBeta/pbeGamma*t2*(1+At2)/(1+At2+At2*At2))
	return rho * (ec + h)
}

// partials returns the energy density and its first derivatives by central
// differences, falling back to one-sided steps at the non-negative bounds.
func (f functional) partials(x xcVars, restricted bool) (float64, xcVars) {
	var d xcVars
	e := f.density(x)
	vars := []int{rhoA, rhoB, sigAA, sigAB, sigBB}
	if restricted {
		vars = []int{rhoA, sigAA, sigAB}
	}
	if !f.gga {
		vars = vars[:1]
		if !restricted {
			vars = []int{rhoA, rhoB}
		}
	}
	for _, k := range vars {
		h := 1e-4*math.Abs(x[k]) + 1e-12
		up, down := x, x
		up[k] += h
		if k != sigAB && x[k]-h < 0 {
			d[k] = (f.density(up) - e) / h
			continue
		}
		down[k] -= h
		d[k] = (f.density(up) - f.density(down)) / (2 * h)
	}
	if restricted {
		d[rhoB] = d[rhoA]
		d[sigBB] = d[sigAA]
	}
	return e, d
}

// integrateXC returns the exchange-correlation energy and the alpha and beta
// potential matrices for the given spin densities.
func (g molecularGrid) integrateXC(f functional, Pa, Pb mat.Matrix, restricted bool) (float64, *mat.Dense, *mat.Dense) {
	n, _ := Pa.Dims()
	Va := mat.NewDense(n, n, nil)
	Vb := Va
	if !restricted {
		Vb = mat.NewDense(n, n, nil)
	}
	ua := make([]float64, n)
	ub := make([]float64, n)
	var exc float64
	for _, pt := range g.points {
		ra, ga := pointDensity(Pa, pt, ua)
		rb, gb := ra, ga
		if !restricted {
			rb, gb = pointDensity(Pb, pt, ub)
		}
		if ra+rb < densityCutoff {
			continue
		}
		x := xcVars{ra, rb, dot3(ga, ga), dot3(ga, gb), dot3(gb, gb)}
		e, d := f.partials(x, restricted)
		exc += pt.weight * e
		accumulatePotential(Va, pt, d[rhoA], vecComb(2*d[sigAA], ga, d[sigAB], gb), f.gga)
		if !restricted {
			accumulatePotential(Vb, pt, d[rhoB], vecComb(2*d[sigBB], gb, d[sigAB], ga), f.gga)
		}
	}
	return exc, Va, Vb
}

func pointDensity(P mat.Matrix, pt gridPoint, u []float64) (float64, [3]float64) {
	n := len(pt.phi)
	var rho float64
	var grad [3]float64
	for mu := 0; mu < n; mu++ {
		var s float64
		for nu := 0; nu < n; nu++ {
			s += P.At(mu, nu) * pt.phi[nu]
		}
		u[mu] = s
		rho += s * pt.phi[mu]
		for c := 0; c < 3; c++ {
			grad[c] += 2 * s * pt.dphi[mu][c]
		}
	}
	return rho, grad
}

func accumulatePotential(V *mat.Dense, pt gridPoint, vrho float64, vgrad [3]float64, gga bool) {
	n := len(pt.phi)
	w := pt.weight
	for mu := 0; mu < n; mu++ {
		for nu := 0; nu <= mu; nu++ {
			v := vrho * pt.phi[mu] * pt.phi[nu]
			if gga {
				for c := 0; c < 3; c++ {
					v += vgrad[c] * (pt.dphi[mu][c]*pt.phi[nu] + pt.phi[mu]*pt.dphi[nu][c])
				}
			}
			v *= w
			V.Set(mu, nu, V.At(mu, nu)+v)
			if nu != mu {
				V.Set(nu, mu, V.At(nu, mu)+v)
			}
		}
	}
}

func dot3(a, b [3]float64) float64 { return a[0]*b[0] + a[1]*b[1] + a[2]*b[2] }

func vecComb(ca float64, a [3]float64, cb float64, b [3]float64) [3]float64 {
	return [3]float64{ca*a[0] + cb*b[0], ca*a[1] + cb*b[1], ca*a[2] + cb*b[2]}
}
