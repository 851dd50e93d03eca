package calculator_test

import (
	"testing"

	"scfcore/testutil"
)

func TestContractStaysPublic(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "the calculator contract must not reach into internal packages")
	for _, dir := range []string{"../chem", "../property", "../settings"} {
		testutil.AssertNoDirectImports(t, dir, testutil.InternalImportForbidden, dir+" is part of the public contract")
	}
}
