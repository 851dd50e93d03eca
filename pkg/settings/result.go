package settings

import "strings"

// Severity captures how a violation affects translation.
type Severity string

const (
	// SeverityBlock rejects the configuration.
	SeverityBlock Severity = "block"
	// SeverityWarn is reported but accepted.
	SeverityWarn Severity = "warn"
)

// Violation describes one offending option.
type Violation struct {
	Option   string
	Severity Severity
	Message  string
}

func (v Violation) String() string { return v.Option + ": " + v.Message }

// Result aggregates violations from validation passes.
type Result struct {
	Violations []Violation
}

// Add appends a single violation.
func (r *Result) Add(v Violation) { r.Violations = append(r.Violations, v) }

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking indicates if any violations block translation.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Blocking returns only the blocking violations.
func (r Result) Blocking() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

// Warnings returns only the non-blocking violations.
func (r Result) Warnings() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity != SeverityBlock {
			out = append(out, v)
		}
	}
	return out
}

func (r Result) String() string {
	parts := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		parts[i] = v.String()
	}
	return strings.Join(parts, "; ")
}
