package state

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gonum.org/v1/gonum/mat"

	"scfcore/internal/engine"
	"scfcore/pkg/calculator"
	"scfcore/pkg/chem"
)

// FormatVersion is written into every encoded snapshot.
const FormatVersion = 1

type document struct {
	Kind        calculator.StateKind `json:"kind"`
	Version     int                  `json:"version"`
	ID          string               `json:"id"`
	Calculator  string               `json:"calculator"`
	Fingerprint string               `json:"fingerprint"`
	CreatedAt   time.Time            `json:"created_at"`
	Atoms       chem.AtomCollection  `json:"atoms"`
	Structures  []structureDoc       `json:"structures"`
}

type structureDoc struct {
	Mode  string      `json:"mode"`
	Alpha channelDoc  `json:"alpha"`
	Beta  *channelDoc `json:"beta,omitempty"`
}

type channelDoc struct {
	Orbitals     int       `json:"orbitals"`
	Basis        int       `json:"basis"`
	Coefficients []float64 `json:"coefficients"`
	Energies     []float64 `json:"energies"`
	Occupied     int       `json:"occupied"`
}

func encodeChannel(o *engine.Orbitals) channelDoc {
	r, c := o.Coefficients.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, o.Coefficients.RawRowView(i)...)
	}
	return channelDoc{Orbitals: r, Basis: c, Coefficients: data, Energies: append([]float64(nil), o.Energies...), Occupied: o.Occupied}
}

func (c channelDoc) decode() (*engine.Orbitals, error) {
	if c.Orbitals <= 0 || c.Basis <= 0 || len(c.Coefficients) != c.Orbitals*c.Basis {
		return nil, fmt.Errorf("channel shape %dx%d does not match %d coefficients", c.Orbitals, c.Basis, len(c.Coefficients))
	}
	o := &engine.Orbitals{
		Coefficients: mat.NewDense(c.Orbitals, c.Basis, append([]float64(nil), c.Coefficients...)),
		Energies:     append([]float64(nil), c.Energies...),
		Occupied:     c.Occupied,
	}
	if err := o.Validate(c.Basis); err != nil {
		return nil, err
	}
	return o, nil
}

func parseMode(s string) (engine.SCFMode, error) {
	switch s {
	case engine.Restricted.String():
		return engine.Restricted, nil
	case engine.Unrestricted.String():
		return engine.Unrestricted, nil
	}
	return 0, fmt.Errorf("unknown spin mode %q", s)
}

// Encode writes s as versioned JSON.
func Encode(w io.Writer, s *OrbitalState) error {
	doc := document{
		Kind:        KindOrbitals,
		Version:     FormatVersion,
		ID:          s.ID,
		Calculator:  s.Calculator,
		Fingerprint: s.Fingerprint,
		CreatedAt:   s.CreatedAt,
		Atoms:       s.Atoms,
	}
	for _, m := range s.Modes() {
		es := s.structures[m]
		sd := structureDoc{Mode: m.String(), Alpha: encodeChannel(es.Alpha)}
		if m == engine.Unrestricted && es.Beta != nil {
			b := encodeChannel(es.Beta)
			sd.Beta = &b
		}
		doc.Structures = append(doc.Structures, sd)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", " ")
	return enc.Encode(doc)
}

// Decode reads a snapshot written by Encode. A document of another kind is
// reported as calculator.StateTypeMismatchError.
func Decode(r io.Reader) (*OrbitalState, error) {
	var doc document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if doc.Kind != KindOrbitals {
		return nil, calculator.StateTypeMismatchError{Want: KindOrbitals, Got: doc.Kind}
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("decode state: unsupported version %d", doc.Version)
	}
	if err := doc.Atoms.Validate(); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	s := &OrbitalState{
		ID:          doc.ID,
		Calculator:  doc.Calculator,
		Fingerprint: doc.Fingerprint,
		CreatedAt:   doc.CreatedAt,
		Atoms:       doc.Atoms,
	}
	for _, sd := range doc.Structures {
		mode, err := parseMode(sd.Mode)
		if err != nil {
			return nil, fmt.Errorf("decode state: %w", err)
		}
		es := &engine.ElectronicStructure{Mode: mode}
		if es.Alpha, err = sd.Alpha.decode(); err != nil {
			return nil, fmt.Errorf("decode state: %s alpha: %w", mode, err)
		}
		if mode == engine.Unrestricted {
			if sd.Beta == nil {
				return nil, fmt.Errorf("decode state: unrestricted orbitals without beta channel")
			}
			if es.Beta, err = sd.Beta.decode(); err != nil {
				return nil, fmt.Errorf("decode state: %s beta: %w", mode, err)
			}
		}
		s.SetStructure(es)
	}
	return s, nil
}
