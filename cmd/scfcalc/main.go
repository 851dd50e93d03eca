// Command scfcalc runs the scfcore calculators on XYZ structures and manages
// archived orbital states and the calculation journal.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

func cli(args []string, stdout, stderr io.Writer) int {
	root, cleanup := newRootCmd(stdout, stderr)
	defer cleanup(context.Background())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(stderr, "error:", err)
		return 1
	}
	return 0
}
