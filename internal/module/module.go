// Package module exposes the calculators under the interface/model names a
// host program looks them up by.
package module

import (
	"errors"
	"fmt"
	"strings"

	"scfcore/internal/calculators"
	"scfcore/internal/translate"
	"scfcore/pkg/calculator"
)

// Name identifies the module to hosts.
const Name = "scfcore"

// InterfaceCalculator is the only interface the module provides.
const InterfaceCalculator = "calculator"

// ErrClassNotImplemented is returned by Get for unknown interface/model
// pairs.
var ErrClassNotImplemented = errors.New("module: class not implemented")

type model struct {
	name    string
	variant translate.Variant
}

// Module resolves calculators. The zero value is not usable; call New.
type Module struct {
	models map[string][]model
	opts   []calculators.Option
}

// New returns a module whose calculators are all built with opts.
func New(opts ...calculators.Option) *Module {
	return &Module{
		models: map[string][]model{
			InterfaceCalculator: {
				{name: "DFT", variant: translate.VariantDFT},
				{name: "HF", variant: translate.VariantHF},
				{name: "CC", variant: translate.VariantCC},
			},
		},
		opts: opts,
	}
}

func (m *Module) lookup(iface, name string) (model, bool) {
	for _, candidate := range m.models[iface] {
		if strings.EqualFold(candidate.name, name) {
			return candidate, true
		}
	}
	return model{}, false
}

// Get builds a new calculator for the interface/model pair. Model names
// match case-insensitively.
func (m *Module) Get(iface, name string) (calculator.Calculator, error) {
	found, ok := m.lookup(iface, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrClassNotImplemented, iface, name)
	}
	return calculators.New(found.variant, m.opts...)
}

// Has reports whether Get would succeed.
func (m *Module) Has(iface, name string) bool {
	_, ok := m.lookup(iface, name)
	return ok
}

// AnnounceInterfaces lists the provided interfaces.
func (m *Module) AnnounceInterfaces() []string {
	return []string{InterfaceCalculator}
}

// AnnounceModels lists the models of iface in registration order.
func (m *Module) AnnounceModels(iface string) []string {
	models := m.models[iface]
	out := make([]string, 0, len(models))
	for _, md := range models {
		out = append(out, md.name)
	}
	return out
}
