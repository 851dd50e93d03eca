// Package chem holds the structural vocabulary shared by calculators: element
// identities, atom positions and ordered atom collections.
package chem

import (
	"fmt"
	"strings"
)

// ElementType identifies a chemical element by atomic number.
type ElementType int

// Supported element identities.
const (
	ElementNone ElementType = iota
	H
	He
	Li
	Be
	B
	C
	N
	O
	F
	Ne
)

type elementInfo struct {
	symbol string
	mass   float64 // unified atomic mass units, most abundant isotope
}

var elementTable = map[ElementType]elementInfo{
	H:  {symbol: "H", mass: 1.00782503223},
	He: {symbol: "He", mass: 4.00260325413},
	Li: {symbol: "Li", mass: 7.0160034366},
	Be: {symbol: "Be", mass: 9.012183065},
	B:  {symbol: "B", mass: 11.00930536},
	C:  {symbol: "C", mass: 12.0},
	N:  {symbol: "N", mass: 14.00307400443},
	O:  {symbol: "O", mass: 15.99491461957},
	F:  {symbol: "F", mass: 18.99840316273},
	Ne: {symbol: "Ne", mass: 19.9924401762},
}

// Z returns the nuclear charge.
func (e ElementType) Z() int { return int(e) }

// Symbol returns the IUPAC element symbol.
func (e ElementType) Symbol() string {
	if info, ok := elementTable[e]; ok {
		return info.symbol
	}
	return "?"
}

// Mass returns the isotopic mass in atomic mass units.
func (e ElementType) Mass() float64 {
	return elementTable[e].mass
}

func (e ElementType) String() string { return e.Symbol() }

// Valid reports whether the element is part of the supported table.
func (e ElementType) Valid() bool {
	_, ok := elementTable[e]
	return ok
}

// ElementForSymbol resolves a case-insensitive element symbol.
func ElementForSymbol(symbol string) (ElementType, error) {
	s := strings.TrimSpace(symbol)
	for e, info := range elementTable {
		if strings.EqualFold(info.symbol, s) {
			return e, nil
		}
	}
	return ElementNone, fmt.Errorf("unknown element symbol %q", symbol)
}

// MarshalText encodes the element as its symbol.
func (e ElementType) MarshalText() ([]byte, error) {
	if !e.Valid() {
		return nil, fmt.Errorf("invalid element %d", int(e))
	}
	return []byte(e.Symbol()), nil
}

// UnmarshalText decodes an element symbol.
func (e *ElementType) UnmarshalText(b []byte) error {
	el, err := ElementForSymbol(string(b))
	if err != nil {
		return err
	}
	*e = el
	return nil
}
