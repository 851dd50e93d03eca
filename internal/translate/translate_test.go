package translate

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"scfcore/internal/engine"
	"scfcore/pkg/calculator"
)

func TestDefaultsTranslate(t *testing.T) {
	for _, v := range Variants {
		s := NewSettings(v)
		es, err := Translate(s, v)
		if err != nil {
			t.Fatalf("%s defaults: %v", v, err)
		}
		if es.Path != "./"+WorkingSuffix {
			t.Fatalf("%s path %q", v, es.Path)
		}
		if es.SCFMode != engine.Restricted {
			t.Fatalf("%s singlet should resolve to restricted", v)
		}
		if es.Basis.Label != "6-31GS" || es.Basis.AuxJLabel != "RI_J_WEIGEND" {
			t.Fatalf("%s basis %+v", v, es.Basis)
		}
		if es.PCM.Use {
			t.Fatalf("%s solvation should default to off", v)
		}
		es.Name = "x"
		if err := es.Validate(); err != nil {
			t.Fatalf("%s engine settings invalid: %v", v, err)
		}
	}
}

func TestTranslateIsIdempotent(t *testing.T) {
	s := NewSettings(VariantDFT)
	_ = s.Set(OptionMethod, "pbe0-d2")
	_ = s.Set(OptionSpinMultiplicity, 3)
	before := s.Fingerprint()
	a, err := Translate(s, VariantDFT)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	b, err := Translate(s, VariantDFT)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("translations differ:\n%+v\n%+v", a, b)
	}
	if s.Fingerprint() != before {
		t.Fatalf("translation mutated the settings")
	}
	if s.String(OptionSpinMode) != SpinAny {
		t.Fatalf("spin mode option rewritten")
	}
}

func TestSpinModeResolution(t *testing.T) {
	cases := []struct {
		mode string
		mult int
		want engine.SCFMode
	}{
		{SpinAny, 1, engine.Restricted},
		{SpinAny, 2, engine.Unrestricted},
		{SpinAny, 3, engine.Unrestricted},
		{SpinRestricted, 3, engine.Restricted},
		{SpinUnrestricted, 1, engine.Unrestricted},
	}
	for _, tc := range cases {
		s := NewSettings(VariantHF)
		_ = s.Set(OptionSpinMode, tc.mode)
		_ = s.Set(OptionSpinMultiplicity, tc.mult)
		es, err := Translate(s, VariantHF)
		if err != nil {
			t.Fatalf("%s/%d: %v", tc.mode, tc.mult, err)
		}
		if es.SCFMode != tc.want {
			t.Fatalf("%s/%d: got %s want %s", tc.mode, tc.mult, es.SCFMode, tc.want)
		}
		if es.Multiplicity != tc.mult {
			t.Fatalf("multiplicity not carried over")
		}
	}
}

func TestLabelsUpperCasedAndPathSuffixed(t *testing.T) {
	s := NewSettings(VariantDFT)
	_ = s.Set(OptionBasisSet, "sto-3g")
	_ = s.Set(OptionAuxCLabel, "cc-pvdz-ri")
	_ = s.Set(OptionWorkingDirectory, "/scratch/run/")
	_ = s.Set(OptionGridType, "becke")
	_ = s.Set(OptionInitialGuess, "hcore")
	es, err := Translate(s, VariantDFT)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if es.Basis.Label != "STO-3G" || es.Basis.AuxCLabel != "CC-PVDZ-RI" {
		t.Fatalf("labels not upper-cased: %+v", es.Basis)
	}
	if es.Path != "/scratch/run/scfcore_tmp/" {
		t.Fatalf("path %q", es.Path)
	}
	if es.Grid.GridType != "BECKE" || es.SCF.InitialGuess != "HCORE" {
		t.Fatalf("grid/guess %q %q", es.Grid.GridType, es.SCF.InitialGuess)
	}
}

func TestValidationErrorListsEveryViolation(t *testing.T) {
	s := NewSettings(VariantDFT)
	_ = s.Set(OptionGridAccuracy, 9)
	_ = s.Set(OptionTemperature, -1.0)
	_ = s.Set(OptionElectronicTemperature, 100.0)
	_ = s.Set(OptionMethod, "B3LYP-D3")
	_, err := Translate(s, VariantDFT)
	var verr calculator.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, name := range []string{OptionGridAccuracy, OptionTemperature, OptionElectronicTemperature, OptionMethod} {
		found := false
		for _, p := range verr.Problems {
			if strings.HasPrefix(p, name+":") {
				found = true
			}
		}
		if !found {
			t.Fatalf("%s not reported in %v", name, verr.Problems)
		}
	}
}

func TestSolvation(t *testing.T) {
	s := NewSettings(VariantDFT)
	_ = s.Set(OptionSolvation, "iefpcm")
	_ = s.Set(OptionSolvent, "water")
	es, err := Translate(s, VariantDFT)
	if err != nil {
		t.Fatalf("translate: %v", err)
	}
	if !es.PCM.Use || es.PCM.Solver != engine.PCMIEFPCM || es.PCM.Solvent != "WATER" || es.PCM.RadiiType != "UFF" {
		t.Fatalf("pcm %+v", es.PCM)
	}

	_ = s.Set(OptionSolvent, "none")
	if _, err := Translate(s, VariantDFT); !errors.As(err, new(calculator.ValidationError)) {
		t.Fatalf("missing solvent should be rejected, got %v", err)
	}

	cc := NewSettings(VariantCC)
	_ = cc.Set(OptionSolvation, "cpcm")
	_ = cc.Set(OptionSolvent, "water")
	if _, err := Translate(cc, VariantCC); !errors.As(err, new(calculator.ValidationError)) {
		t.Fatalf("CC solvation should be rejected, got %v", err)
	}
}

func TestParseMethod(t *testing.T) {
	cases := []struct {
		v       Variant
		in      string
		want    engine.MethodSettings
		wantErr bool
	}{
		{v: VariantDFT, in: "PBE", want: engine.MethodSettings{Theory: engine.TheoryDFT, Functional: engine.FunctionalPBE, Dispersion: engine.DispersionNone}},
		{v: VariantDFT, in: "pbe0-d3bj", want: engine.MethodSettings{Theory: engine.TheoryDFT, Functional: engine.FunctionalPBE0, Dispersion: engine.DispersionD3BJ}},
		{v: VariantDFT, in: "lda-d3", want: engine.MethodSettings{Theory: engine.TheoryDFT, Functional: engine.FunctionalLDA, Dispersion: engine.DispersionD3}},
		{v: VariantDFT, in: "HF", wantErr: true},
		{v: VariantDFT, in: "-D2", wantErr: true},
		{v: VariantHF, in: "hf", want: engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone}},
		{v: VariantHF, in: "PBE", wantErr: true},
		{v: VariantCC, in: "ccsd(t)", want: engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone, CCLevel: engine.CCSDT}},
		{v: VariantCC, in: "DLPNO-CCSD(T0)", want: engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone, CCLevel: engine.CCDLPNOSDT0}},
		{v: VariantCC, in: "mp2", want: engine.MethodSettings{Theory: engine.TheoryHF, Dispersion: engine.DispersionNone, CCLevel: engine.CCMP2}},
		{v: VariantCC, in: "PBE", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseMethod(tc.v, tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s %q: expected error", tc.v, tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s %q: %v", tc.v, tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s %q: got %+v want %+v", tc.v, tc.in, got, tc.want)
		}
	}
}
