package settings

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Settings is an ordered collection of descriptors and their current values.
// Values start at the descriptor defaults.
type Settings struct {
	order       []string
	descriptors map[string]Descriptor
	values      map[string]any
}

// New builds a collection from descriptors. Duplicate names panic since they
// indicate a programming error in the descriptor table.
func New(descs ...Descriptor) *Settings {
	s := &Settings{descriptors: make(map[string]Descriptor, len(descs)), values: make(map[string]any, len(descs))}
	for _, d := range descs {
		s.Declare(d)
	}
	return s
}

// Declare adds a descriptor and resets its value to the default.
func (s *Settings) Declare(d Descriptor) {
	if _, exists := s.descriptors[d.Name]; exists {
		panic(fmt.Sprintf("settings: duplicate descriptor %q", d.Name))
	}
	def, err := d.coerce(d.Default)
	if err != nil {
		panic(fmt.Sprintf("settings: default: %v", err))
	}
	s.order = append(s.order, d.Name)
	s.descriptors[d.Name] = d
	s.values[d.Name] = def
}

// Names returns option names in declaration order.
func (s *Settings) Names() []string { return append([]string(nil), s.order...) }

// Descriptor returns the descriptor for name.
func (s *Settings) Descriptor(name string) (Descriptor, bool) {
	d, ok := s.descriptors[name]
	return d, ok
}

// Has reports whether name is declared.
func (s *Settings) Has(name string) bool {
	_, ok := s.descriptors[name]
	return ok
}

// Set assigns a value after type coercion. Bounds are checked by Validate so
// that a collection can be staged through intermediate invalid states.
func (s *Settings) Set(name string, v any) error {
	d, ok := s.descriptors[name]
	if !ok {
		return fmt.Errorf("settings: unknown option %q", name)
	}
	cv, err := d.coerce(v)
	if err != nil {
		return err
	}
	s.values[name] = cv
	return nil
}

// Reset restores the default value of name.
func (s *Settings) Reset(name string) {
	if d, ok := s.descriptors[name]; ok {
		s.values[name], _ = d.coerce(d.Default)
	}
}

// Value returns the raw value for name.
func (s *Settings) Value(name string) (any, bool) {
	v, ok := s.values[name]
	return v, ok
}

func (s *Settings) mustKind(name string, kinds ...Kind) any {
	d, ok := s.descriptors[name]
	if !ok {
		panic(fmt.Sprintf("settings: unknown option %q", name))
	}
	for _, k := range kinds {
		if d.Kind == k {
			return s.values[name]
		}
	}
	panic(fmt.Sprintf("settings: option %q is %s", name, d.Kind))
}

// String returns a string or option value. It panics on undeclared names.
func (s *Settings) String(name string) string {
	return s.mustKind(name, KindString, KindOption).(string)
}

// Int returns an int value. It panics on undeclared names.
func (s *Settings) Int(name string) int { return s.mustKind(name, KindInt).(int) }

// Float returns a float value. It panics on undeclared names.
func (s *Settings) Float(name string) float64 { return s.mustKind(name, KindFloat).(float64) }

// Bool returns a bool value. It panics on undeclared names.
func (s *Settings) Bool(name string) bool { return s.mustKind(name, KindBool).(bool) }

// Validate checks every value against its descriptor.
func (s *Settings) Validate() Result {
	var res Result
	for _, name := range s.order {
		if err := s.descriptors[name].validate(s.values[name]); err != nil {
			res.Add(Violation{Option: name, Severity: SeverityBlock, Message: err.Error()})
		}
	}
	return res
}

// Clone returns an independent copy sharing descriptor definitions.
func (s *Settings) Clone() *Settings {
	out := &Settings{
		order:       append([]string(nil), s.order...),
		descriptors: make(map[string]Descriptor, len(s.descriptors)),
		values:      make(map[string]any, len(s.values)),
	}
	for k, d := range s.descriptors {
		out.descriptors[k] = d
	}
	for k, v := range s.values {
		out.values[k] = v
	}
	return out
}

// Values returns a copy of all values keyed by option name.
func (s *Settings) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Fingerprint hashes the current values. Two collections with the same
// values produce the same fingerprint.
func (s *Settings) Fingerprint() string {
	names := append([]string(nil), s.order...)
	sort.Strings(names)
	type kv struct {
		K string `json:"k"`
		V any    `json:"v"`
	}
	pairs := make([]kv, len(names))
	for i, n := range names {
		pairs[i] = kv{K: n, V: s.values[n]}
	}
	b, _ := json.Marshal(pairs)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
