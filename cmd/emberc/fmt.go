package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emberlang/emberc/pkg/irtext"
)

func newFmtCmd() *cobra.Command {
	var write bool
	cmd := &cobra.Command{
		Use:   "fmt <file.ir>",
		Short: "pretty-print a textual IR module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFmt(args[0], write)
		},
	}
	cmd.Flags().BoolVarP(&write, "write", "w", false, "overwrite the input file instead of printing to stdout")
	return cmd
}

func runFmt(path string, write bool) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	mod, err := parseIR(string(src))
	if err != nil {
		return err
	}
	pretty := irtext.Print(mod)

	if write {
		return os.WriteFile(path, []byte(pretty), 0o644)
	}
	_, err = os.Stdout.WriteString(pretty)
	return err
}
