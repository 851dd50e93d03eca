// Package translate owns the calculator-facing option tables and their
// translation into engine-native settings.
package translate

import (
	"fmt"
	"strings"

	"scfcore/internal/engine"
	"scfcore/pkg/calculator"
	"scfcore/pkg/settings"
)

// Option names shared by every calculator variant.
const (
	OptionShowEngineOutput      = "show_engine_output"
	OptionWorkingDirectory      = "working_directory"
	OptionSpinMultiplicity      = "spin_multiplicity"
	OptionMolecularCharge       = "molecular_charge"
	OptionMaxSCFIterations      = "max_scf_iterations"
	OptionSCFCriterion          = "self_consistence_criterion"
	OptionSpinMode              = "spin_mode"
	OptionMethod                = "method"
	OptionBasisSet              = "basis_set"
	OptionTemperature           = "temperature"
	OptionPressure              = "pressure"
	OptionElectronicTemperature = "electronic_temperature"
	OptionSolvation             = "solvation"
	OptionSolvent               = "solvent"

	OptionAuxJLabel         = "basis_aux_j_label"
	OptionAuxCLabel         = "basis_aux_c_label"
	OptionSphericalBasis    = "basis_make_spherical_basis"
	OptionIntegralThreshold = "basis_integral_threshold"
	OptionBasisLibPath      = "basis_basis_lib_path"
	OptionFirstECP          = "basis_first_ecp"

	OptionGridType          = "grid_grid_type"
	OptionSmallGridAccuracy = "grid_small_grid_accuracy"
	OptionGridAccuracy      = "grid_accuracy"

	OptionInitialGuess = "scf_initial_guess"
	OptionDampingSteps = "scf_series_damping_initial_steps"

	OptionPCMAlpha     = "pcm_alpha"
	OptionPCMScaling   = "pcm_scaling"
	OptionPCMRadiiType = "pcm_radii_type"
)

// Spin mode option values.
const (
	SpinAny          = "any"
	SpinRestricted   = "restricted"
	SpinUnrestricted = "unrestricted"
)

const (
	// WorkingSuffix is appended to the working directory of every system.
	WorkingSuffix = "scfcore_tmp/"
	solvationNone = "none"
)

// Variant selects a calculator flavor.
type Variant string

const (
	VariantDFT Variant = "DFT"
	VariantHF  Variant = "HF"
	VariantCC  Variant = "CC"
)

// Variants lists every supported variant.
var Variants = []Variant{VariantDFT, VariantHF, VariantCC}

// SolvationModels lists the implicit solvation models the variant accepts.
func (v Variant) SolvationModels() []string {
	switch v {
	case VariantDFT, VariantHF:
		return []string{"cpcm", "iefpcm"}
	}
	return nil
}

// DefaultMethod is the method option default for the variant.
func (v Variant) DefaultMethod() string {
	switch v {
	case VariantHF:
		return "HF"
	case VariantCC:
		return "DLPNO-CCSD(T0)"
	}
	return "PBE"
}

var (
	solvents = []string{
		"WATER", "PROPYLENECARBONATE", "DMSO", "NITROMETHANE", "ACETONITRILE",
		"METHANOL", "ETHANOL", "ACETONE", "DICHLORETHANE", "METHYLENECHLORIDE",
		"THF", "ANILINE", "CHLOROBENZENE", "CHLOROFORM", "TOLUENE", "DIOXANE",
		"BENZENE", "CARBONTETRACHLORIDE", "CYCLOHEXANE", "HEPTANE",
	}
	radiiTypes = []string{"BONDI", "UFF"}
	gridTypes  = []string{"BECKE", "SSF"}
	guesses    = []string{"HCORE", "SAD"}
	ccLevels   = []engine.CCLevel{engine.CCMP2, engine.CCSD, engine.CCSDT, engine.CCDLPNOSDT0}
	dispersion = []engine.Dispersion{engine.DispersionD3BJ, engine.DispersionD3, engine.DispersionD2}
)

func oneOf(values []string) func(v any) error {
	return func(v any) error {
		s := strings.ToUpper(strings.TrimSpace(v.(string)))
		for _, o := range values {
			if o == s {
				return nil
			}
		}
		return fmt.Errorf("value %q not one of %v", v, values)
	}
}

// Descriptors returns the option table of a variant in declaration order.
func Descriptors(v Variant) []settings.Descriptor {
	return []settings.Descriptor{
		settings.BoolOption(OptionShowEngineOutput, "Switch: turns engine text output on and off.", false),
		settings.StringOption(OptionWorkingDirectory, "Directory below which system working directories are created.", "./").
			WithCheck(func(v any) error {
				if strings.TrimSpace(v.(string)) == "" {
					return fmt.Errorf("must not be empty")
				}
				return nil
			}),
		settings.IntOption(OptionSpinMultiplicity, "The multiplicity.", 1).WithMin(1),
		settings.IntOption(OptionMolecularCharge, "The molecular charge.", 0),
		settings.IntOption(OptionMaxSCFIterations, "The maximum number of SCF iterations.", 100).WithMin(1),
		settings.FloatOption(OptionSCFCriterion, "The energy convergence threshold.", 1e-8).
			WithCheck(func(v any) error {
				if v.(float64) <= 0 {
					return fmt.Errorf("must be positive")
				}
				return nil
			}),
		settings.EnumOption(OptionSpinMode, "The spin mode such as restricted or unrestricted.", SpinAny,
			SpinAny, SpinRestricted, SpinUnrestricted),
		settings.StringOption(OptionMethod, "The actual method used.", v.DefaultMethod()).
			WithCheck(func(m any) error {
				_, err := ParseMethod(v, m.(string))
				return err
			}),
		settings.StringOption(OptionBasisSet, "The label of the basis set.", "6-31GS"),
		settings.FloatOption(OptionTemperature, "The temperature in K.", 300).WithMin(0),
		settings.FloatOption(OptionPressure, "The pressure in Pa.", 101325).WithMin(0),
		settings.FloatOption(OptionElectronicTemperature, "The electronic temperature.", 0).WithRange(0, 0),
		settings.StringOption(OptionSolvation, "The solvation method.", solvationNone).
			WithCheck(func(s any) error { return checkSolvation(v, s.(string)) }),
		settings.StringOption(OptionSolvent, "The solvent.", solvationNone),

		settings.StringOption(OptionAuxJLabel, "Basis set label for the auxiliary basis for Coulomb integrals.", "RI_J_WEIGEND"),
		settings.StringOption(OptionAuxCLabel, "Basis set label for the auxiliary basis for correlation treatments.", ""),
		settings.BoolOption(OptionSphericalBasis, "Switch: use a spherical basis (or a cartesian one).", true),
		settings.FloatOption(OptionIntegralThreshold, "The threshold for prescreening in integral evaluations.", 1e-10).WithMin(0),
		settings.StringOption(OptionBasisLibPath, "The path to the basis set files.", ""),
		settings.IntOption(OptionFirstECP, "The nuclear charge of the first element to receive ECPs.", 37).WithMin(0),

		settings.StringOption(OptionGridType, "The identifier for the type of grid.", "SSF").WithCheck(oneOf(gridTypes)),
		settings.IntOption(OptionSmallGridAccuracy, "The accuracy of the smaller integration grid used in temporary steps.", 3).WithRange(1, 7),
		settings.IntOption(OptionGridAccuracy, "The accuracy of the integration grid.", 5).WithRange(1, 7),

		settings.StringOption(OptionInitialGuess, "The initial guess to be used.", "SAD").WithCheck(oneOf(guesses)),
		settings.IntOption(OptionDampingSteps, "The number of initial damping steps.", 5).WithMin(0),

		settings.IntOption(OptionPCMAlpha, "The sharpness parameter of DELLEY-type molecular surfaces.", 50).WithMin(0),
		settings.BoolOption(OptionPCMScaling, "Scale cavity radii by a factor of 1.2.", false),
		settings.StringOption(OptionPCMRadiiType, "The atomic radii set used for the cavity.", "uff").WithCheck(oneOf(radiiTypes)),
	}
}

// NewSettings returns a collection with every option of the variant at its
// default value.
func NewSettings(v Variant) *settings.Settings {
	return settings.New(Descriptors(v)...)
}

func checkSolvation(v Variant, s string) error {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" || s == solvationNone {
		return nil
	}
	models := v.SolvationModels()
	for _, m := range models {
		if m == s {
			return nil
		}
	}
	if len(models) == 0 {
		return fmt.Errorf("%s calculators support no implicit solvation", v)
	}
	return fmt.Errorf("solvation model %q not one of %v", s, models)
}

// ParseMethod resolves the method option of a variant.
func ParseMethod(v Variant, method string) (engine.MethodSettings, error) {
	m := strings.ToUpper(strings.TrimSpace(method))
	switch v {
	case VariantCC:
		for _, l := range ccLevels {
			if string(l) == m {
				return engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone, CCLevel: l}, nil
			}
		}
		return engine.MethodSettings{}, fmt.Errorf("unknown coupled cluster level %q", method)
	case VariantHF:
		base, disp := splitDispersion(m)
		if base != "HF" {
			return engine.MethodSettings{}, fmt.Errorf("method %q is not Hartree-Fock", method)
		}
		return engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: disp}, nil
	case VariantDFT:
		base, disp := splitDispersion(m)
		for _, f := range engine.KnownFunctionals {
			if string(f) == base {
				return engine.MethodSettings{Theory: engine.TheoryDFT, Functional: f, Dispersion: disp}, nil
			}
		}
		return engine.MethodSettings{}, fmt.Errorf("unknown functional %q", base)
	}
	return engine.MethodSettings{}, fmt.Errorf("unknown variant %q", v)
}

func splitDispersion(m string) (string, engine.Dispersion) {
	for _, d := range dispersion {
		if base, ok := strings.CutSuffix(m, "-"+string(d)); ok && base != "" {
			return base, d
		}
	}
	return m, engine.DispersionNone
}

// ResolveSpinMode maps spin_mode=any to restricted for singlets and to
// unrestricted otherwise.
func ResolveSpinMode(mode string, multiplicity int) engine.SCFMode {
	switch mode {
	case SpinRestricted:
		return engine.Restricted
	case SpinUnrestricted:
		return engine.Unrestricted
	}
	if multiplicity == 1 {
		return engine.Restricted
	}
	return engine.Unrestricted
}

// Translate validates s and produces engine settings for variant v. The
// returned Name is empty; callers assign a unique one per system. s is not
// modified, so repeated translations of the same values are identical.
func Translate(s *settings.Settings, v Variant) (engine.Settings, error) {
	res := s.Validate()
	var problems []string
	for _, viol := range res.Blocking() {
		problems = append(problems, viol.String())
	}
	if len(problems) > 0 {
		return engine.Settings{}, calculator.ValidationError{Problems: problems}
	}

	method, _ := ParseMethod(v, s.String(OptionMethod))
	out := engine.Settings{
		Path:         strings.TrimSuffix(s.String(OptionWorkingDirectory), "/") + "/" + WorkingSuffix,
		Charge:       s.Int(OptionMolecularCharge),
		Multiplicity: s.Int(OptionSpinMultiplicity),
		SCFMode:      ResolveSpinMode(s.String(OptionSpinMode), s.Int(OptionSpinMultiplicity)),
		Method:       method,
		Basis: engine.BasisSettings{
			Label:             strings.ToUpper(s.String(OptionBasisSet)),
			AuxJLabel:         strings.ToUpper(s.String(OptionAuxJLabel)),
			AuxCLabel:         strings.ToUpper(s.String(OptionAuxCLabel)),
			MakeSpherical:     s.Bool(OptionSphericalBasis),
			IntegralThreshold: s.Float(OptionIntegralThreshold),
			BasisLibPath:      s.String(OptionBasisLibPath),
			FirstECP:          s.Int(OptionFirstECP),
		},
		Grid: engine.GridSettings{
			GridType:          strings.ToUpper(s.String(OptionGridType)),
			SmallGridAccuracy: s.Int(OptionSmallGridAccuracy),
			Accuracy:          s.Int(OptionGridAccuracy),
		},
		SCF: engine.SCFSettings{
			MaxIterations:       s.Int(OptionMaxSCFIterations),
			EnergyThreshold:     s.Float(OptionSCFCriterion),
			InitialGuess:        strings.ToUpper(s.String(OptionInitialGuess)),
			DampingInitialSteps: s.Int(OptionDampingSteps),
		},
		PCM: engine.PCMSettings{
			Alpha:   float64(s.Int(OptionPCMAlpha)),
			Scaling: s.Bool(OptionPCMScaling),
		},
		ElectronicTemperature: s.Float(OptionElectronicTemperature),
	}

	solvation := strings.ToLower(strings.TrimSpace(s.String(OptionSolvation)))
	if solvation != "" && solvation != solvationNone {
		solvent := strings.ToUpper(strings.TrimSpace(s.String(OptionSolvent)))
		if err := oneOf(solvents)(solvent); err != nil {
			return engine.Settings{}, calculator.ValidationError{Problems: []string{OptionSolvent + ": " + err.Error()}}
		}
		out.PCM.Use = true
		out.PCM.Solver = engine.PCMSolver(strings.ToUpper(solvation))
		out.PCM.Solvent = solvent
		out.PCM.RadiiType = strings.ToUpper(s.String(OptionPCMRadiiType))
	}
	return out, nil
}
