package calculators

import (
	"context"
	"fmt"

	"scfcore/internal/engine"
	"scfcore/internal/state"
	"scfcore/pkg/calculator"
)

var spinModes = []engine.SCFMode{engine.Restricted, engine.Unrestricted}

// GetState detaches a snapshot of the current structure and of every spin
// mode the live system has orbitals for. The orbitals are re-seated on a
// fresh disk-backed system built from the current settings, so the snapshot
// does not refer to the live one. With a state archive configured the
// snapshot is also saved.
func (b *Base) GetState(ctx context.Context) (calculator.State, error) {
	var snap *state.OrbitalState
	err := b.run(ctx, "get_state", func(ctx context.Context) error {
		if err := b.checkStructure("get state"); err != nil {
			return err
		}
		native, err := b.translate()
		if err != nil {
			return err
		}
		if err := checkElectrons(b.atoms, native); err != nil {
			return err
		}
		native.DiskMode = true
		fresh, err := b.newSystem(ctx, b.atoms, native)
		if err != nil {
			return b.failed(err)
		}
		defer func() {
			if err := fresh.Close(); err != nil {
				b.cfg.logger.Warn("closing snapshot system failed", "system", fresh.Name(), "error", err)
			}
		}()

		snap = &state.OrbitalState{
			ID:          fresh.Name(),
			Calculator:  b.Name(),
			Fingerprint: native.Fingerprint(),
			CreatedAt:   b.cfg.clock().UTC(),
			Atoms:       b.atoms.Clone(),
		}
		if b.sys != nil {
			for _, mode := range spinModes {
				es, ok := b.sys.ElectronicStructure(mode)
				if !ok {
					continue
				}
				if err := fresh.SetElectronicStructure(es); err != nil {
					return calculator.ValidationError{Problems: []string{fmt.Sprintf("%s orbitals: %v", mode, err)}}
				}
				copied, _ := fresh.ElectronicStructure(mode)
				snap.SetStructure(copied)
			}
		}
		if b.cfg.archive != nil {
			key, err := b.cfg.archive.Save(ctx, snap)
			if err != nil {
				return err
			}
			b.cfg.logger.Info("archived orbital state", "calculator", b.Name(), "key", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// LoadState replaces the engine system with one built from the snapshot's
// structure and this calculator's own settings, seeded with the snapshot's
// orbitals. Results are reset. When the snapshot was converged with the
// same settings and holds orbitals for the active spin mode, the next
// Calculate evaluates them without solving again.
func (b *Base) LoadState(ctx context.Context, st calculator.State) error {
	return b.run(ctx, "load_state", func(ctx context.Context) error {
		if err := b.checkOpen("load state"); err != nil {
			return err
		}
		snap, err := orbitalState(st)
		if err != nil {
			return err
		}
		if err := snap.Atoms.Validate(); err != nil {
			return calculator.ValidationError{Problems: []string{err.Error()}}
		}
		if err := checkFinite(snap.Atoms.Positions); err != nil {
			return err
		}
		native, err := b.translate()
		if err != nil {
			return err
		}
		if err := checkElectrons(snap.Atoms, native); err != nil {
			return err
		}
		sys, err := b.newSystem(ctx, snap.Atoms, native)
		if err != nil {
			return b.failed(err)
		}
		for _, mode := range snap.Modes() {
			es, _ := snap.Structure(mode)
			if err := sys.SetElectronicStructure(es); err != nil {
				if cerr := sys.Close(); cerr != nil {
					b.cfg.logger.Warn("closing engine system failed", "system", sys.Name(), "error", cerr)
				}
				return calculator.ValidationError{Problems: []string{fmt.Sprintf("%s orbitals: %v", mode, err)}}
			}
		}

		b.dropSystem()
		b.sys = sys
		b.atoms = snap.Atoms.Clone()
		b.hasAtoms = true
		b.results.Reset()
		_, active := snap.Structure(native.SCFMode)
		b.moved = !(active && snap.Fingerprint == native.Fingerprint())
		b.cfg.logger.Info("loaded orbital state", "calculator", b.Name(), "state", snap.ID, "stale", b.moved)
		return nil
	})
}

// LoadArchivedState reads a snapshot from the configured archive and loads
// it.
func (b *Base) LoadArchivedState(ctx context.Context, key string) error {
	if b.cfg.archive == nil {
		return calculator.StateError{Op: "load archived state", Reason: "no state archive configured"}
	}
	snap, err := b.cfg.archive.Load(ctx, key)
	if err != nil {
		return err
	}
	return b.LoadState(ctx, snap)
}

func orbitalState(st calculator.State) (*state.OrbitalState, error) {
	if st == nil {
		return nil, calculator.StateTypeMismatchError{Want: state.KindOrbitals}
	}
	if st.Kind() != state.KindOrbitals {
		return nil, calculator.StateTypeMismatchError{Want: state.KindOrbitals, Got: st.Kind()}
	}
	snap, ok := st.(*state.OrbitalState)
	if !ok || snap == nil {
		return nil, calculator.StateTypeMismatchError{Want: state.KindOrbitals, Got: st.Kind()}
	}
	return snap, nil
}
