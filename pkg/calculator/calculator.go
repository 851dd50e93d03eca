// Package calculator declares the generic contract every electronic-structure
// calculator implements, together with the error taxonomy surfaced to callers.
package calculator

import (
	"context"

	"scfcore/pkg/chem"
	"scfcore/pkg/property"
	"scfcore/pkg/settings"
)

// StateKind discriminates persisted calculator states.
type StateKind string

// State is a detachable snapshot produced by GetState and consumed by LoadState.
type State interface {
	Kind() StateKind
}

// Calculator runs a computational model on a molecular structure.
type Calculator interface {
	SetStructure(atoms chem.AtomCollection) error
	ModifyPositions(positions chem.PositionCollection) error
	GetStructure() (chem.AtomCollection, error)
	GetPositions() (chem.PositionCollection, error)

	Settings() *settings.Settings
	Results() property.Results

	SetRequiredProperties(list property.List)
	GetRequiredProperties() property.List
	PossibleProperties() property.List

	Calculate(ctx context.Context, description string) (property.Results, error)

	GetState(ctx context.Context) (State, error)
	LoadState(ctx context.Context, state State) error

	Name() string
	SupportsMethodFamily(family string) bool

	Clone() (Calculator, error)
	Close() error
}
