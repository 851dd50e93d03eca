package module

import (
	"strings"
	"testing"

	"scfcore/testutil"
)

// The registry hands out calculators; engine implementations stay behind them.
func TestModuleDoesNotImportEngineImplementations(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", func(ip string) bool {
		return strings.HasSuffix(ip, "/internal/engine") || strings.Contains(ip, "/internal/engine/reference")
	}, "module must go through calculators")
}
