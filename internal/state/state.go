// Package state defines the detachable orbital snapshot calculators export
// and import, its JSON encoding and an archive on top of a blob store.
package state

import (
	"fmt"
	"sort"
	"time"

	"scfcore/internal/engine"
	"scfcore/pkg/calculator"
	"scfcore/pkg/chem"
)

// KindOrbitals tags snapshots produced by this package.
const KindOrbitals calculator.StateKind = "scfcore/orbitals"

// OrbitalState is a detached copy of a system: its structure and the
// orbitals of every spin mode that had been solved. Values handed in and out
// are deep copies.
type OrbitalState struct {
	ID         string
	Calculator string
	// Fingerprint is the engine settings fingerprint the orbitals were
	// converged with.
	Fingerprint string
	CreatedAt   time.Time
	Atoms       chem.AtomCollection
	structures  map[engine.SCFMode]*engine.ElectronicStructure
}

// Kind implements calculator.State.
func (s *OrbitalState) Kind() calculator.StateKind { return KindOrbitals }

// SetStructure stores a copy of es under its spin mode.
func (s *OrbitalState) SetStructure(es *engine.ElectronicStructure) {
	if es == nil {
		return
	}
	if s.structures == nil {
		s.structures = make(map[engine.SCFMode]*engine.ElectronicStructure)
	}
	s.structures[es.Mode] = es.Clone()
}

// Structure returns a copy of the orbitals of mode.
func (s *OrbitalState) Structure(mode engine.SCFMode) (*engine.ElectronicStructure, bool) {
	es, ok := s.structures[mode]
	if !ok {
		return nil, false
	}
	return es.Clone(), true
}

// Modes lists the spin modes with orbitals, restricted first.
func (s *OrbitalState) Modes() []engine.SCFMode {
	out := make([]engine.SCFMode, 0, len(s.structures))
	for m := range s.structures {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate checks the structure and every channel against nBasis.
func (s *OrbitalState) Validate(nBasis int) error {
	if err := s.Atoms.Validate(); err != nil {
		return err
	}
	for _, m := range s.Modes() {
		if err := s.structures[m].Validate(nBasis); err != nil {
			return fmt.Errorf("snapshot %s: %w", s.ID, err)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *OrbitalState) Clone() *OrbitalState {
	out := *s
	out.Atoms = s.Atoms.Clone()
	out.structures = nil
	for _, es := range s.structures {
		out.SetStructure(es)
	}
	return &out
}
