// Package property defines the result property tags produced by calculators
// and the results bundle that carries their values.
package property

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Property is a single result tag. Tags are bit flags so that sets of them
// can be combined into a List.
type Property uint32

// Result property tags.
const (
	Energy Property = 1 << iota
	Gradients
	Hessian
	BondOrderMatrix
	Thermochemistry
	AtomicCharges
	AOtoAtomMapping
	DensityMatrix
	OverlapMatrix
	ElectronicOccupation
	SuccessfulCalculation
	ProgramName
	Description
)

var propertyNames = map[Property]string{
	Energy:                "energy",
	Gradients:             "gradients",
	Hessian:               "hessian",
	BondOrderMatrix:       "bond_order_matrix",
	Thermochemistry:       "thermochemistry",
	AtomicCharges:         "atomic_charges",
	AOtoAtomMapping:       "ao_to_atom_mapping",
	DensityMatrix:         "density_matrix",
	OverlapMatrix:         "overlap_matrix",
	ElectronicOccupation:  "electronic_occupation",
	SuccessfulCalculation: "successful_calculation",
	ProgramName:           "program_name",
	Description:           "description",
}

func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return fmt.Sprintf("property(%d)", uint32(p))
}

// Parse resolves a property name as produced by String.
func Parse(name string) (Property, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for p, s := range propertyNames {
		if s == n {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown property %q", name)
}

// List is a set of properties.
type List uint32

// NewList builds a set from individual tags.
func NewList(props ...Property) List {
	var l List
	for _, p := range props {
		l |= List(p)
	}
	return l
}

// Add returns the set extended by p.
func (l List) Add(p Property) List { return l | List(p) }

// Remove returns the set without p.
func (l List) Remove(p Property) List { return l &^ List(p) }

// Contains reports whether p is a member.
func (l List) Contains(p Property) bool { return l&List(p) == List(p) }

// ContainsSubSet reports whether every member of other is also in l.
func (l List) ContainsSubSet(other List) bool { return l&other == other }

// Union merges two sets.
func (l List) Union(other List) List { return l | other }

// Len returns the number of members.
func (l List) Len() int { return bits.OnesCount32(uint32(l)) }

// Properties lists the members in ascending tag order.
func (l List) Properties() []Property {
	var out []Property
	for b := List(1); b != 0 && b <= l; b <<= 1 {
		if l&b != 0 {
			out = append(out, Property(b))
		}
	}
	return out
}

func (l List) String() string {
	props := l.Properties()
	names := make([]string, len(props))
	for i, p := range props {
		names[i] = p.String()
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ",") + "}"
}

// ParseList resolves a comma separated list of property names.
func ParseList(s string) (List, error) {
	var l List
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := Parse(part)
		if err != nil {
			return 0, err
		}
		l = l.Add(p)
	}
	return l, nil
}
