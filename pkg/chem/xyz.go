package chem

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReadXYZ parses an XYZ document. Coordinates are read in Angstrom and
// converted to bohr.
func ReadXYZ(r io.Reader) (AtomCollection, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return AtomCollection{}, fmt.Errorf("xyz: missing atom count")
	}
	n, err := strconv.Atoi(strings.TrimSpace(sc.Text()))
	if err != nil || n <= 0 {
		return AtomCollection{}, fmt.Errorf("xyz: invalid atom count %q", sc.Text())
	}
	// comment line
	if !sc.Scan() {
		return AtomCollection{}, fmt.Errorf("xyz: missing comment line")
	}
	elements := make([]ElementType, 0, n)
	positions := make(PositionCollection, 0, n)
	for len(elements) < n && sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) < 4 {
			return AtomCollection{}, fmt.Errorf("xyz: line %d: expected symbol and three coordinates", len(elements)+3)
		}
		el, err := ElementForSymbol(fields[0])
		if err != nil {
			return AtomCollection{}, fmt.Errorf("xyz: %w", err)
		}
		var p Position
		for k := 0; k < 3; k++ {
			v, err := strconv.ParseFloat(fields[k+1], 64)
			if err != nil {
				return AtomCollection{}, fmt.Errorf("xyz: coordinate %q: %w", fields[k+1], err)
			}
			p[k] = v * BohrPerAngstrom
		}
		elements = append(elements, el)
		positions = append(positions, p)
	}
	if err := sc.Err(); err != nil {
		return AtomCollection{}, err
	}
	if len(elements) != n {
		return AtomCollection{}, fmt.Errorf("xyz: expected %d atoms, found %d", n, len(elements))
	}
	return NewAtomCollection(elements, positions)
}

// WriteXYZ writes the collection in Angstrom.
func WriteXYZ(w io.Writer, ac AtomCollection, comment string) error {
	if _, err := fmt.Fprintf(w, "%d\n%s\n", ac.Size(), comment); err != nil {
		return err
	}
	for i, e := range ac.Elements {
		p := ac.Positions[i]
		if _, err := fmt.Fprintf(w, "%-2s %14.8f %14.8f %14.8f\n", e.Symbol(),
			p[0]/BohrPerAngstrom, p[1]/BohrPerAngstrom, p[2]/BohrPerAngstrom); err != nil {
			return err
		}
	}
	return nil
}
