package calculator

import (
	"fmt"
	"strings"

	"scfcore/pkg/property"
)

// ValidationError reports malformed, missing or inconsistent configuration.
type ValidationError struct {
	Problems []string
}

func (e ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// StateError reports an unmet precondition such as a missing structure.
type StateError struct {
	Op     string
	Reason string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// UnsupportedPropertyError reports requested properties outside the
// producible set of a calculator.
type UnsupportedPropertyError struct {
	Calculator string
	Requested  property.List
	Possible   property.List
}

func (e UnsupportedPropertyError) Error() string {
	missing := e.Requested &^ e.Possible
	return fmt.Sprintf("%s cannot produce %s", e.Calculator, missing)
}

// UnsupportedConfigurationError reports a valid configuration the active
// model variant cannot honor.
type UnsupportedConfigurationError struct {
	Calculator string
	Reason     string
}

func (e UnsupportedConfigurationError) Error() string {
	return fmt.Sprintf("%s: unsupported configuration: %s", e.Calculator, e.Reason)
}

// StateTypeMismatchError reports a persisted state of the wrong kind.
type StateTypeMismatchError struct {
	Want StateKind
	Got  StateKind
}

func (e StateTypeMismatchError) Error() string {
	return fmt.Sprintf("state kind %q cannot be loaded, want %q", e.Got, e.Want)
}

// CalculationFailedError wraps a failure reported by the numerical engine.
type CalculationFailedError struct {
	Calculator string
	Err        error
}

func (e CalculationFailedError) Error() string {
	return fmt.Sprintf("%s: calculation failed: %v", e.Calculator, e.Err)
}

func (e CalculationFailedError) Unwrap() error { return e.Err }
