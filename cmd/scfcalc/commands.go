package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"scfcore/internal/journal"
	"scfcore/internal/module"
	"scfcore/internal/state"
	"scfcore/internal/translate"
	"scfcore/pkg/calculator"
	"scfcore/pkg/property"
)

type report struct {
	Calculator      string                       `json:"calculator"`
	Description     string                       `json:"description,omitempty"`
	Energy          *float64                     `json:"energy,omitempty"`
	Gradients       [][]float64                  `json:"gradients,omitempty"`
	AtomicCharges   []float64                    `json:"atomic_charges,omitempty"`
	BondOrders      [][]float64                  `json:"bond_orders,omitempty"`
	Thermochemistry *property.ThermochemicalData `json:"thermochemistry,omitempty"`
	Properties      string                       `json:"properties"`
	StateKey        string                       `json:"state_key,omitempty"`
}

func rows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = append([]float64(nil), m.RawRowView(i)...)
	}
	return out
}

func newReport(c calculator.Calculator, res property.Results) report {
	rep := report{Calculator: c.Name(), Properties: res.Available().String()}
	rep.Description, _ = res.Description()
	if e, ok := res.Energy(); ok {
		rep.Energy = &e
	}
	if g, ok := res.Gradients(); ok {
		rep.Gradients = rows(g)
	}
	if q, ok := res.AtomicCharges(); ok {
		rep.AtomicCharges = q
	}
	if bo, ok := res.BondOrders(); ok {
		rep.BondOrders = rows(bo)
	}
	if th, ok := res.Thermochemistry(); ok {
		rep.Thermochemistry = &th
	}
	return rep
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func calculate(ctx context.Context, c calculator.Calculator, props, description string) (property.Results, error) {
	required, err := property.ParseList(props)
	if err != nil {
		return property.Results{}, err
	}
	c.SetRequiredProperties(required)
	return c.Calculate(ctx, description)
}

func (a *app) energyCmd() *cobra.Command {
	var (
		props       string
		description string
		saveState   bool
	)
	cmd := &cobra.Command{
		Use:   "energy STRUCTURE.xyz",
		Short: "Calculate properties of a structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			atoms, err := readStructure(args[0])
			if err != nil {
				return err
			}
			c, err := a.newCalculator(ctx, saveState)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if err := c.SetStructure(atoms); err != nil {
				return err
			}
			res, err := calculate(ctx, c, props, description)
			if err != nil {
				return err
			}
			rep := newReport(c, res)
			if saveState {
				key, err := a.saveState(ctx, c)
				if err != nil {
					return err
				}
				rep.StateKey = key
			}
			return a.print(rep)
		},
	}
	cmd.Flags().StringVarP(&props, "properties", "p", "energy", "comma separated properties to calculate")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description stored with the results")
	cmd.Flags().BoolVar(&saveState, "save-state", false, "archive the converged orbitals")
	return cmd
}

func (a *app) saveState(ctx context.Context, c calculator.Calculator) (string, error) {
	st, err := c.GetState(ctx)
	if err != nil {
		return "", err
	}
	snap, ok := st.(*state.OrbitalState)
	if !ok {
		return "", fmt.Errorf("unexpected state kind %s", st.Kind())
	}
	return a.archive.Key(snap), nil
}

func (a *app) stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Manage archived orbital states",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list [CALCULATOR]",
			Short: "List archived states, optionally of one calculator",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				archive, err := a.openArchive(cmd.Context())
				if err != nil {
					return err
				}
				name := ""
				if len(args) == 1 {
					name = args[0]
				}
				keys, err := archive.List(cmd.Context(), name)
				if err != nil {
					return err
				}
				for _, k := range keys {
					if _, err := fmt.Fprintln(a.stdout, k); err != nil {
						return err
					}
				}
				return nil
			},
		},
		a.stateLoadCmd(),
		&cobra.Command{
			Use:   "delete KEY",
			Short: "Delete an archived state",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				archive, err := a.openArchive(cmd.Context())
				if err != nil {
					return err
				}
				found, err := archive.Delete(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("state %s not found", args[0])
				}
				return nil
			},
		},
	)
	return cmd
}

func (a *app) stateLoadCmd() *cobra.Command {
	var props string
	cmd := &cobra.Command{
		Use:   "load KEY",
		Short: "Load an archived state and calculate from its orbitals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			archive, err := a.openArchive(ctx)
			if err != nil {
				return err
			}
			snap, err := archive.Load(ctx, args[0])
			if err != nil {
				return err
			}
			c, err := a.newCalculator(ctx, false)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			if err := c.LoadState(ctx, snap); err != nil {
				return err
			}
			res, err := calculate(ctx, c, props, "")
			if err != nil {
				return err
			}
			return a.print(newReport(c, res))
		},
	}
	cmd.Flags().StringVarP(&props, "properties", "p", "energy", "comma separated properties to calculate")
	return cmd
}

func (a *app) settingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "settings",
		Short: "Print the effective settings of the model as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := variantOf(a.model)
			if err != nil {
				return err
			}
			s := translate.NewSettings(v)
			if err := a.applySettings(s); err != nil {
				return err
			}
			return s.WriteYAML(a.stdout)
		},
	}
}

func variantOf(model string) (translate.Variant, error) {
	for _, v := range translate.Variants {
		if strings.EqualFold(string(v), model) {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s", module.ErrClassNotImplemented, module.InterfaceCalculator, model)
}

func (a *app) journalCmd() *cobra.Command {
	var f journal.Filter
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recorded calculations (see SCFCORE_JOURNAL_DRIVER)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			j, err := a.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			if j == nil {
				return fmt.Errorf("journaling is disabled, set %s", journal.EnvDriver)
			}
			entries, err := j.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if entries == nil {
				entries = []journal.Entry{}
			}
			return a.print(entries)
		},
	}
	cmd.Flags().StringVar(&f.Calculator, "calculator", "", "only entries of this calculator")
	cmd.Flags().StringVar(&f.Structure, "structure", "", "only entries of this structure hash")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "maximum number of entries")
	return cmd
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the provided interfaces and models",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			m := module.New()
			for _, iface := range m.AnnounceInterfaces() {
				for _, model := range m.AnnounceModels(iface) {
					if _, err := fmt.Fprintf(a.stdout, "%s\t%s\n", iface, model); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
}
