package calculators

import (
	"fmt"

	"scfcore/internal/engine"
	"scfcore/pkg/property"
)

// spinStrategy shapes results that differ between restricted and
// unrestricted treatments.
type spinStrategy interface {
	mode() engine.SCFMode
	density(sys engine.System) (property.Density, error)
	occupation(sys engine.System) property.Occupation
}

func strategyFor(mode engine.SCFMode) spinStrategy {
	if mode == engine.Unrestricted {
		return unrestrictedStrategy{}
	}
	return restrictedStrategy{}
}

type restrictedStrategy struct{}

func (restrictedStrategy) mode() engine.SCFMode { return engine.Restricted }

func (restrictedStrategy) density(sys engine.System) (property.Density, error) {
	pa, pb, err := sys.Density(engine.Restricted)
	if err != nil {
		return property.Density{}, err
	}
	pa.Add(pa, pb)
	na, nb := sys.NElectrons()
	return property.Density{Restricted: pa, NAlpha: na, NBeta: nb}, nil
}

func (restrictedStrategy) occupation(sys engine.System) property.Occupation {
	na, _ := sys.NElectrons()
	return property.Occupation{Restricted: na}
}

type unrestrictedStrategy struct{}

func (unrestrictedStrategy) mode() engine.SCFMode { return engine.Unrestricted }

func (unrestrictedStrategy) density(sys engine.System) (property.Density, error) {
	pa, pb, err := sys.Density(engine.Unrestricted)
	if err != nil {
		return property.Density{}, err
	}
	na, nb := sys.NElectrons()
	return property.Density{Unrestricted: true, Alpha: pa, Beta: pb, NAlpha: na, NBeta: nb}, nil
}

func (unrestrictedStrategy) occupation(sys engine.System) property.Occupation {
	na, nb := sys.NElectrons()
	return property.Occupation{Unrestricted: true, Alpha: na, Beta: nb}
}

// mullikenCharges converts gross populations into partial charges.
func mullikenCharges(sys engine.System, s spinStrategy) ([]float64, error) {
	pops, err := sys.MullikenPopulations(s.mode())
	if err != nil {
		return nil, err
	}
	atoms := sys.Atoms()
	if len(pops) != atoms.Size() {
		return nil, fmt.Errorf("%d populations for %d atoms", len(pops), atoms.Size())
	}
	charges := make([]float64, len(pops))
	for i, e := range atoms.Elements {
		charges[i] = float64(e.Z()) - pops[i]
	}
	return charges, nil
}

func aoToAtomMapping(sys engine.System) property.AtomsOrbitalsIndexes {
	var m property.AtomsOrbitalsIndexes
	for _, r := range sys.BasisIndices() {
		m.AddAtom(r.End - r.First)
	}
	return m
}
