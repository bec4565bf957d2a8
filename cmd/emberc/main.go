// Command emberc is the compiler back end's CLI: it drives the
// parse -> verify -> lower -> encode pipeline over the textual IR grammar
// (pkg/irtext) and exposes a standalone formatter.
//
// Design grounded on the teacher's cmd/typthon (logger.InitDev at startup,
// a LogCompilerStart/LogCompilerComplete bracket around the whole run),
// rebuilt on github.com/spf13/cobra per SPEC_FULL.md §4.0 rather than a
// hand-rolled os.Args switch, matching the CLI framework the wider
// retrieved corpus's compiler/assembler-shaped repos use.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/emberlang/emberc/pkg/logger"
)

const version = "0.1.0"

func main() {
	logger.InitDev()
	logger.LogCompilerStart(os.Args)
	start := time.Now()

	err := newRootCmd().Execute()

	logger.LogCompilerComplete(err == nil, time.Since(start).String())
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "emberc",
		Short:         "emberc compiles textual IR to machine code",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBuildCmd(), newFmtCmd())
	return root
}
