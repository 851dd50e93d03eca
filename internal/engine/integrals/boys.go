package integrals

import (
	"math"

	"gonum.org/v1/gonum/mathext"
)

const (
	boysStep   = 0.05
	boysTMax   = 40.0
	boysTaylor = 6
)

// Handle evaluates Boys functions F_m(T) from a precomputed table. The table
// covers every order needed for the handle's angular momentum and derivative
// range, which makes construction the expensive part worth sharing.
type Handle struct {
	key   Key
	maxM  int
	table [][]float64 // table[k][m] = F_m(k*boysStep)
}

func newHandle(k Key) *Handle {
	maxM := 4*k.MaxL + k.DerivOrder
	rows := int(boysTMax/boysStep) + 1
	cols := maxM + boysTaylor + 1
	table := make([][]float64, rows)
	for i := range table {
		t := float64(i) * boysStep
		row := make([]float64, cols)
		for m := range row {
			row[m] = boysExact(m, t)
		}
		table[i] = row
	}
	return &Handle{key: k, maxM: maxM, table: table}
}

// Key returns the handle category.
func (h *Handle) Key() Key { return h.key }

// MaxOrder is the highest Boys order the handle serves.
func (h *Handle) MaxOrder() int { return h.maxM }

// Boys returns F_m(t). Orders above MaxOrder fall back to direct evaluation.
func (h *Handle) Boys(m int, t float64) float64 {
	if m > h.maxM || t < 0 {
		return boysExact(m, t)
	}
	if t >= boysTMax {
		return boysAsymptotic(m, t)
	}
	k := int(math.Round(t / boysStep))
	d := t - float64(k)*boysStep
	row := h.table[k]
	// Taylor expansion around the grid point using dF_m/dT = -F_{m+1}.
	var sum, fac float64 = 0, 1
	for j := 0; j <= boysTaylor; j++ {
		if j > 0 {
			fac *= -d / float64(j)
		}
		sum += row[m+j] * fac
	}
	return sum
}

func boysExact(m int, t float64) float64 {
	if t < 1e-10 {
		return 1/float64(2*m+1) - t/float64(2*m+3)
	}
	a := float64(m) + 0.5
	return math.Gamma(a) * mathext.GammaIncReg(a, t) / (2 * math.Pow(t, a))
}

func boysAsymptotic(m int, t float64) float64 {
	// (2m-1)!! / 2^(m+1) * sqrt(pi / t^(2m+1))
	df := 1.0
	for k := 2*m - 1; k > 1; k -= 2 {
		df *= float64(k)
	}
	return df / math.Pow(2, float64(m+1)) * math.Sqrt(math.Pi/math.Pow(t, float64(2*m+1)))
}
