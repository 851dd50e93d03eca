package chem

import (
	"errors"
	"fmt"
	"math"
)

// BohrPerAngstrom converts Angstrom lengths to bohr.
const BohrPerAngstrom = 1.8897261254578281

// Position is a cartesian coordinate in bohr.
type Position [3]float64

// Sub returns p - q.
func (p Position) Sub(q Position) Position {
	return Position{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// Norm returns the euclidean length of p.
func (p Position) Norm() float64 {
	return math.Sqrt(p[0]*p[0] + p[1]*p[1] + p[2]*p[2])
}

// Distance returns |p - q|.
func (p Position) Distance(q Position) float64 { return p.Sub(q).Norm() }

// PositionCollection is an ordered list of atom positions.
type PositionCollection []Position

// Clone returns a deep copy.
func (pc PositionCollection) Clone() PositionCollection {
	if pc == nil {
		return nil
	}
	out := make(PositionCollection, len(pc))
	copy(out, pc)
	return out
}

// MaxDisplacement returns the largest per-atom distance between two
// equally sized collections.
func (pc PositionCollection) MaxDisplacement(other PositionCollection) (float64, error) {
	if len(pc) != len(other) {
		return 0, fmt.Errorf("position count mismatch: %d vs %d", len(pc), len(other))
	}
	var maxDisp float64
	for i := range pc {
		if d := pc[i].Distance(other[i]); d > maxDisp {
			maxDisp = d
		}
	}
	return maxDisp, nil
}

// AtomCollection is an ordered sequence of element identities and positions.
type AtomCollection struct {
	Elements  []ElementType      `json:"elements"`
	Positions PositionCollection `json:"positions"`
}

// NewAtomCollection builds a collection and validates its shape.
func NewAtomCollection(elements []ElementType, positions PositionCollection) (AtomCollection, error) {
	ac := AtomCollection{Elements: append([]ElementType(nil), elements...), Positions: positions.Clone()}
	if err := ac.Validate(); err != nil {
		return AtomCollection{}, err
	}
	return ac, nil
}

// Size returns the number of atoms.
func (ac AtomCollection) Size() int { return len(ac.Elements) }

// Validate checks that every element is known and that element and position
// counts agree.
func (ac AtomCollection) Validate() error {
	if len(ac.Elements) == 0 {
		return errors.New("atom collection is empty")
	}
	if len(ac.Elements) != len(ac.Positions) {
		return fmt.Errorf("%d elements but %d positions", len(ac.Elements), len(ac.Positions))
	}
	for i, e := range ac.Elements {
		if !e.Valid() {
			return fmt.Errorf("atom %d: unsupported element %d", i, int(e))
		}
	}
	return nil
}

// Clone returns a deep copy.
func (ac AtomCollection) Clone() AtomCollection {
	return AtomCollection{
		Elements:  append([]ElementType(nil), ac.Elements...),
		Positions: ac.Positions.Clone(),
	}
}

// NuclearCharge returns the sum of nuclear charges.
func (ac AtomCollection) NuclearCharge() int {
	var z int
	for _, e := range ac.Elements {
		z += e.Z()
	}
	return z
}

// Masses returns per-atom masses in atomic mass units.
func (ac AtomCollection) Masses() []float64 {
	out := make([]float64, len(ac.Elements))
	for i, e := range ac.Elements {
		out[i] = e.Mass()
	}
	return out
}
