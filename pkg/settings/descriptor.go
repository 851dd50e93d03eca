// Package settings implements typed, self-describing option collections.
// Every option carries a descriptor with its kind, default value, optional
// bounds or enumeration and an optional validity predicate.
package settings

import (
	"fmt"
	"math"
)

// Kind is the value type of an option.
type Kind int

// Option kinds.
const (
	KindString Kind = iota
	KindInt
	KindFloat
	KindBool
	KindOption
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindOption:
		return "option"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Descriptor declares one option.
type Descriptor struct {
	Name        string
	Description string
	Kind        Kind
	Default     any
	// Min and Max bound int and float options when set.
	Min *float64
	Max *float64
	// Options enumerates allowed values of KindOption descriptors.
	Options []string
	// Check is an optional predicate run after type and bound checks.
	Check func(v any) error
}

// StringOption declares a free-form string.
func StringOption(name, description, def string) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindString, Default: def}
}

// IntOption declares an integer option.
func IntOption(name, description string, def int) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindInt, Default: def}
}

// FloatOption declares a floating point option.
func FloatOption(name, description string, def float64) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindFloat, Default: def}
}

// BoolOption declares a switch.
func BoolOption(name, description string, def bool) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindBool, Default: def}
}

// EnumOption declares an option restricted to a list of values.
func EnumOption(name, description, def string, options ...string) Descriptor {
	return Descriptor{Name: name, Description: description, Kind: KindOption, Default: def, Options: options}
}

// WithMin returns a copy bounded from below.
func (d Descriptor) WithMin(v float64) Descriptor {
	d.Min = &v
	return d
}

// WithMax returns a copy bounded from above.
func (d Descriptor) WithMax(v float64) Descriptor {
	d.Max = &v
	return d
}

// WithRange returns a copy bounded on both sides.
func (d Descriptor) WithRange(lo, hi float64) Descriptor {
	return d.WithMin(lo).WithMax(hi)
}

// WithCheck attaches a validity predicate.
func (d Descriptor) WithCheck(fn func(v any) error) Descriptor {
	d.Check = fn
	return d
}

// coerce converts v to the canonical Go type for the descriptor kind.
func (d Descriptor) coerce(v any) (any, error) {
	switch d.Kind {
	case KindString, KindOption:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("%s: expected string, got %T", d.Name, v)
		}
		return s, nil
	case KindBool:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("%s: expected bool, got %T", d.Name, v)
		}
		return b, nil
	case KindInt:
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case uint64:
			return int(n), nil
		case float64:
			if n != math.Trunc(n) {
				return nil, fmt.Errorf("%s: expected integer, got %v", d.Name, n)
			}
			return int(n), nil
		}
		return nil, fmt.Errorf("%s: expected int, got %T", d.Name, v)
	case KindFloat:
		switch n := v.(type) {
		case float64:
			return n, nil
		case float32:
			return float64(n), nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
		return nil, fmt.Errorf("%s: expected float, got %T", d.Name, v)
	}
	return nil, fmt.Errorf("%s: unknown kind %s", d.Name, d.Kind)
}

// validate checks bounds, enumeration and the predicate for a coerced value.
func (d Descriptor) validate(v any) error {
	var num float64
	numeric := false
	switch n := v.(type) {
	case int:
		num, numeric = float64(n), true
	case float64:
		num, numeric = n, true
	}
	if numeric {
		if math.IsNaN(num) {
			return fmt.Errorf("value is NaN")
		}
		if d.Min != nil && num < *d.Min {
			return fmt.Errorf("value %v below minimum %v", v, *d.Min)
		}
		if d.Max != nil && num > *d.Max {
			return fmt.Errorf("value %v above maximum %v", v, *d.Max)
		}
	}
	if d.Kind == KindOption {
		s := v.(string)
		found := false
		for _, o := range d.Options {
			if o == s {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("value %q not one of %v", s, d.Options)
		}
	}
	if d.Check != nil {
		return d.Check(v)
	}
	return nil
}
