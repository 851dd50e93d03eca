package calculators

import (
	"context"
	"fmt"

	"scfcore/internal/engine"
	"scfcore/pkg/calculator"
	"scfcore/pkg/chem"
)

// warmStartThreshold is the per-atom displacement in bohr from which orbitals
// are no longer used as the starting guess of the next solve.
const warmStartThreshold = 0.1

func displacementReaches(from, to chem.PositionCollection, threshold float64) (bool, error) {
	d, err := from.MaxDisplacement(to)
	if err != nil {
		return false, err
	}
	return d >= threshold, nil
}

// ModifyPositions moves the atoms of the current structure. The next
// Calculate always re-solves; orbitals are dropped as a warm start once any
// atom moved by 0.1 bohr or more.
func (b *Base) ModifyPositions(positions chem.PositionCollection) error {
	return b.run(context.Background(), "modify_positions", func(context.Context) error {
		if err := b.checkStructure("modify positions"); err != nil {
			return err
		}
		if len(positions) != b.atoms.Size() {
			return calculator.ValidationError{Problems: []string{
				fmt.Sprintf("%d positions for %d atoms", len(positions), b.atoms.Size()),
			}}
		}
		if err := checkFinite(positions); err != nil {
			return err
		}
		if b.sys != nil {
			reached, err := displacementReaches(b.atoms.Positions, positions, warmStartThreshold)
			if err != nil {
				return calculator.ValidationError{Problems: []string{err.Error()}}
			}
			if err := b.sys.SetPositions(positions); err != nil {
				return calculator.ValidationError{Problems: []string{err.Error()}}
			}
			if reached {
				b.sys.ClearElectronicStructure(engine.Restricted)
				b.sys.ClearElectronicStructure(engine.Unrestricted)
				b.cfg.logger.Debug("large displacement, dropped orbitals", "calculator", b.Name(), "system", b.sys.Name())
			}
		}
		b.atoms.Positions = positions.Clone()
		b.results.Reset()
		b.moved = true
		return nil
	})
}
