// Package engine declares the boundary to the numerical electronic-structure
// engine: its native settings, the system handle calculators drive, and the
// factory that builds systems.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SCFMode selects the spin treatment.
type SCFMode int

const (
	Restricted SCFMode = iota
	Unrestricted
)

func (m SCFMode) String() string {
	if m == Unrestricted {
		return "unrestricted"
	}
	return "restricted"
}

// Theory is the electronic structure theory of the reference solve.
type Theory string

const (
	TheoryHF  Theory = "HF"
	TheoryDFT Theory = "DFT"
)

// Functional names an exchange-correlation functional.
type Functional string

const (
	FunctionalNone Functional = ""
	FunctionalLDA  Functional = "LDA"
	FunctionalPBE  Functional = "PBE"
	FunctionalPBE0 Functional = "PBE0"
)

// KnownFunctionals lists the functionals with a native representation.
var KnownFunctionals = []Functional{FunctionalLDA, FunctionalPBE, FunctionalPBE0}

// Dispersion names an empirical dispersion correction.
type Dispersion string

const (
	DispersionNone Dispersion = "NONE"
	DispersionD2   Dispersion = "D2"
	DispersionD3   Dispersion = "D3"
	DispersionD3BJ Dispersion = "D3BJ"
)

// CCLevel is the correlated treatment applied on top of the reference.
type CCLevel string

const (
	CCNone      CCLevel = ""
	CCMP2       CCLevel = "MP2"
	CCSD        CCLevel = "CCSD"
	CCSDT       CCLevel = "CCSD(T)"
	CCDLPNOSDT0 CCLevel = "DLPNO-CCSD(T0)"
)

// HasTriples reports whether the level includes a perturbative triples term.
func (l CCLevel) HasTriples() bool { return l == CCSDT || l == CCDLPNOSDT0 }

// NeedsLocalization reports whether occupied orbitals are localized first.
func (l CCLevel) NeedsLocalization() bool { return l.HasTriples() }

// PCMSolver names an implicit solvation model.
type PCMSolver string

const (
	PCMNone   PCMSolver = ""
	PCMCPCM   PCMSolver = "CPCM"
	PCMIEFPCM PCMSolver = "IEFPCM"
)

// BasisSettings selects the basis and auxiliary fitting sets.
type BasisSettings struct {
	Label             string  `json:"label" validate:"required"`
	AuxJLabel         string  `json:"aux_j_label"`
	AuxCLabel         string  `json:"aux_c_label"`
	MakeSpherical     bool    `json:"make_spherical"`
	IntegralThreshold float64 `json:"integral_threshold" validate:"gte=0"`
	BasisLibPath      string  `json:"basis_lib_path"`
	FirstECP          int     `json:"first_ecp" validate:"gte=0"`
}

// GridSettings controls numerical integration grids.
type GridSettings struct {
	GridType          string `json:"grid_type" validate:"oneof=BECKE SSF"`
	SmallGridAccuracy int    `json:"small_grid_accuracy" validate:"gte=1,lte=7"`
	Accuracy          int    `json:"accuracy" validate:"gte=1,lte=7"`
}

// SCFSettings controls the self-consistent field iterations.
type SCFSettings struct {
	MaxIterations       int     `json:"max_iterations" validate:"gte=1"`
	EnergyThreshold     float64 `json:"energy_threshold" validate:"gt=0"`
	InitialGuess        string  `json:"initial_guess" validate:"oneof=HCORE SAD"`
	DampingInitialSteps int     `json:"damping_initial_steps" validate:"gte=0"`
}

// PCMSettings configures implicit solvation.
type PCMSettings struct {
	Use       bool      `json:"use"`
	Solver    PCMSolver `json:"solver"`
	Solvent   string    `json:"solvent"`
	Alpha     float64   `json:"alpha" validate:"gte=0"`
	Scaling   bool      `json:"scaling"`
	RadiiType string    `json:"radii_type"`
}

// MethodSettings is the translated method choice.
type MethodSettings struct {
	Theory     Theory     `json:"theory" validate:"oneof=HF DFT"`
	Functional Functional `json:"functional"`
	Dispersion Dispersion `json:"dispersion" validate:"oneof=NONE D2 D3 D3BJ"`
	CCLevel    CCLevel    `json:"cc_level"`
}

// Settings is the engine-native configuration of one system.
type Settings struct {
	// Name must be unique among live systems; it keys the working directory.
	Name                  string         `json:"name" validate:"required"`
	Path                  string         `json:"path" validate:"required"`
	Charge                int            `json:"charge"`
	Multiplicity          int            `json:"multiplicity" validate:"gte=1"`
	SCFMode               SCFMode        `json:"scf_mode"`
	Method                MethodSettings `json:"method"`
	Basis                 BasisSettings  `json:"basis"`
	Grid                  GridSettings   `json:"grid"`
	SCF                   SCFSettings    `json:"scf"`
	PCM                   PCMSettings    `json:"pcm"`
	ElectronicTemperature float64        `json:"electronic_temperature" validate:"gte=0"`
	DiskMode              bool           `json:"disk_mode"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks structural constraints on the native settings.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("engine settings: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("engine settings: %w", err)
	}
	if s.Method.Theory == TheoryDFT && s.Method.Functional == FunctionalNone {
		return fmt.Errorf("engine settings: DFT requires a functional")
	}
	if s.PCM.Use && s.PCM.Solver == PCMNone {
		return fmt.Errorf("engine settings: solvation enabled without a solver")
	}
	return nil
}

// Fingerprint hashes every field that influences numerical results. The
// system name, working directory and disk mode are excluded.
func (s Settings) Fingerprint() string {
	c := s
	c.Name = ""
	c.Path = ""
	c.DiskMode = false
	b, _ := json.Marshal(c)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// NElectrons splits the electron count into alpha and beta electrons.
func NElectrons(nuclearCharge, charge, multiplicity int) (alpha, beta int, err error) {
	n := nuclearCharge - charge
	if n < 0 {
		return 0, 0, fmt.Errorf("charge %d exceeds nuclear charge %d", charge, nuclearCharge)
	}
	unpaired := multiplicity - 1
	if unpaired < 0 || unpaired > n || (n-unpaired)%2 != 0 {
		return 0, 0, fmt.Errorf("multiplicity %d incompatible with %d electrons", multiplicity, n)
	}
	beta = (n - unpaired) / 2
	return beta + unpaired, beta, nil
}
