package reference

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
	"scfcore/pkg/chem"
)

const (
	gradientStep        = 1e-3
	hessianStep         = 5e-3
	derivativeThreshold = 1e-10
)

// stencilTerm is one energy in a finite-difference formula. Steps are signed
// 1-based cartesian indices; each entry shifts that coordinate by one step
// in the direction of its sign.
type stencilTerm struct {
	coeff float64
	steps []int
}

// hessianStencil returns the second-derivative formula for coordinates i and
// j, both 1-based, to be divided by (2d)^2.
func hessianStencil(i, j int) []stencilTerm {
	if i == j {
		// E(+i+i) - 2*E(0) + E(-i-i)
		return []stencilTerm{
			{1, []int{i, i}},
			{-2, nil},
			{1, []int{-i, -i}},
		}
	}
	// E(+i+j) - E(+i-j) - E(-i+j) + E(-i-j)
	return []stencilTerm{
		{1, []int{i, j}},
		{-1, []int{i, -j}},
		{-1, []int{-i, j}},
		{1, []int{-i, -j}},
	}
}

func stencilKey(steps []int) string {
	s := append([]int(nil), steps...)
	sort.Ints(s)
	parts := make([]string, len(s))
	for k, v := range s {
		parts[k] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}

func displace(base chem.PositionCollection, steps []int, d float64) chem.PositionCollection {
	out := base.Clone()
	for _, s := range steps {
		dir := 1.0
		if s < 0 {
			dir, s = -1, -s
		}
		idx := s - 1
		out[idx/3][idx%3] += dir * d
	}
	return out
}

// energyAt converges the active mode at positions without altering the
// system's stored state.
func (s *system) energyAt(ctx context.Context, positions chem.PositionCollection, guess *engine.ElectronicStructure, dispersion bool, out *slog.Logger) (float64, error) {
	atoms := chem.AtomCollection{Elements: s.atoms.Elements, Positions: positions}
	geo, err := newGeometry(moveShells(s.shells, positions), atoms, s.boys, s.settings.Grid.GridType)
	if err != nil {
		return 0, err
	}
	threshold := s.settings.SCF.EnergyThreshold
	if threshold > derivativeThreshold {
		threshold = derivativeThreshold
	}
	_, e, err := s.solve(ctx, geo, guess, threshold, out)
	if err != nil {
		return 0, err
	}
	if dispersion {
		edisp, _ := dispersionD2(s.settings.Method, atoms)
		e += edisp
	}
	return e, nil
}

// converged returns the active mode's orbitals, solving first if needed.
func (s *system) converged(ctx context.Context, out *slog.Logger) (*engine.ElectronicStructure, error) {
	if es, ok := s.structures[s.settings.SCFMode]; ok {
		return es, nil
	}
	if _, err := s.RunSCF(ctx, out); err != nil {
		return nil, err
	}
	return s.structures[s.settings.SCFMode], nil
}

func (s *system) Gradients(ctx context.Context, out *slog.Logger) (*mat.Dense, error) {
	guess, err := s.converged(ctx, out)
	if err != nil {
		return nil, err
	}
	n := s.atoms.Size()
	grad := mat.NewDense(n, 3, nil)
	quiet := slog.New(slog.DiscardHandler)
	for k := 1; k <= 3*n; k++ {
		plus, err := s.energyAt(ctx, displace(s.atoms.Positions, []int{k}, gradientStep), guess, false, quiet)
		if err != nil {
			return nil, &engine.Error{Op: "gradients", Err: err}
		}
		minus, err := s.energyAt(ctx, displace(s.atoms.Positions, []int{-k}, gradientStep), guess, false, quiet)
		if err != nil {
			return nil, &engine.Error{Op: "gradients", Err: err}
		}
		grad.Set((k-1)/3, (k-1)%3, (plus-minus)/(2*gradientStep))
	}
	out.Info("gradients evaluated", "system", s.Name(), "displacements", 6*n)
	return grad, nil
}

func (s *system) Hessian(ctx context.Context, out *slog.Logger) (*mat.Dense, error) {
	guess, err := s.converged(ctx, out)
	if err != nil {
		return nil, err
	}
	dim := 3 * s.atoms.Size()
	hess := mat.NewDense(dim, dim, nil)
	energies := make(map[string]float64)
	quiet := slog.New(slog.DiscardHandler)
	energy := func(steps []int) (float64, error) {
		key := stencilKey(steps)
		if e, ok := energies[key]; ok {
			return e, nil
		}
		e, err := s.energyAt(ctx, displace(s.atoms.Positions, steps, hessianStep), guess, true, quiet)
		if err != nil {
			return 0, err
		}
		energies[key] = e
		return e, nil
	}
	denom := 4 * hessianStep * hessianStep
	for i := 1; i <= dim; i++ {
		for j := 1; j <= i; j++ {
			var v float64
			for _, term := range hessianStencil(i, j) {
				e, err := energy(term.steps)
				if err != nil {
					return nil, &engine.Error{Op: "hessian", Err: err}
				}
				v += term.coeff * e
			}
			v /= denom
			hess.Set(i-1, j-1, v)
			hess.Set(j-1, i-1, v)
		}
	}
	out.Info("hessian evaluated", "system", s.Name(), "energies", len(energies))
	return hess, nil
}
