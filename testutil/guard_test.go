package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEngineImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"scfcore/internal/engine", true},
		{"scfcore/internal/engine/reference", true},
		{"scfcore/internal/engine@v1", true},
		{"scfcore/internal/engineering", false},
		{"scfcore/pkg/calculator", false},
	}
	for _, c := range cases {
		if got := EngineImportForbidden(c.in); got != c.want {
			t.Fatalf("EngineImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInternalImportForbidden(t *testing.T) {
	if !InternalImportForbidden("scfcore/internal/state") || InternalImportForbidden("scfcore/pkg/chem") {
		t.Fatalf("predicate mismatch")
	}
	both := AnyOf(EngineImportForbidden, func(p string) bool { return p == "os/exec" })
	if !both("os/exec") || !both("scfcore/internal/engine") || both("fmt") {
		t.Fatalf("AnyOf mismatch")
	}
}

type captured struct{ msg string }

func (c *captured) Fatalf(format string, args ...any) { c.msg = fmt.Sprintf(format, args...) }

func writePackage(t *testing.T, src string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "x.go"), []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "x_test.go"), []byte("package tmp\nimport _ \"scfcore/internal/engine\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return dir
}

func TestDirectImportScan(t *testing.T) {
	dir := writePackage(t, "package tmp\nimport (\n\"fmt\"\n_ \"scfcore/internal/engine/reference\"\n)\nfunc X(){fmt.Println(1)}")
	viols, err := directViolations(dir, EngineImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.HasPrefix(viols[0], "scfcore/internal/engine/reference") {
		t.Fatalf("violations %v (test files must be skipped)", viols)
	}
	var c captured
	report(&c, "direct import", "engine", viols)
	if !strings.Contains(c.msg, "engine") {
		t.Fatalf("report message %q", c.msg)
	}

	clean := writePackage(t, "package tmp\nimport \"fmt\"\nfunc X(){fmt.Println(1)}")
	AssertNoDirectImports(t, clean, EngineImportForbidden, "clean package")
}

func TestTransitiveScanUsesGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nscfcore/pkg/chem\n\nscfcore/internal/engine\n"), nil
	}
	viols, _, err := transitiveViolations("./...", EngineImportForbidden)
	if err != nil || len(viols) != 1 || viols[0] != "scfcore/internal/engine" {
		t.Fatalf("violations %v (%v)", viols, err)
	}
	AssertNoTransitiveDependency(t, "./...", func(p string) bool { return p == "os/exec" }, "none")
}
