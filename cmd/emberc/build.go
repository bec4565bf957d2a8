package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/emberlang/emberc/pkg/driver"
	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/irtext"
	"github.com/emberlang/emberc/pkg/logger"
	"github.com/emberlang/emberc/pkg/objwriter"
	"github.com/emberlang/emberc/pkg/verify"
)

// buildFlags holds the build subcommand's options.
type buildFlags struct {
	triple  string
	arch    string
	emitAsm bool
	emitObj bool
	out     string
}

func newBuildCmd() *cobra.Command {
	f := &buildFlags{}
	cmd := &cobra.Command{
		Use:   "build <file.ir>",
		Short: "parse, verify, lower and encode a textual IR module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(args[0], f)
		},
	}
	cmd.Flags().StringVar(&f.triple, "triple", "x86_64-unknown-linux", "target triple (arch-vendor-os)")
	cmd.Flags().StringVar(&f.arch, "arch", "", "override the triple's arch component (e.g. x86_64)")
	cmd.Flags().BoolVar(&f.emitAsm, "emit-asm", false, "print AT&T assembly instead of machine code")
	cmd.Flags().BoolVar(&f.emitObj, "emit-obj", false, "write an .eobj container instead of raw bytes")
	cmd.Flags().StringVarP(&f.out, "output", "o", "", "output file (defaults to stdout)")
	return cmd
}

func runBuild(path string, f *buildFlags) error {
	logger.LogFileProcessing(path)
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	logger.LogPhase("parsing")
	mod, perr := parseIR(string(src))
	logger.LogPhaseComplete("parsing")
	if perr != nil {
		return perr
	}
	if verrs := verify.Module(mod); len(verrs) > 0 {
		return fmt.Errorf("verifying: %v", verrs)
	}

	triple, err := driver.ParseTriple(f.triple)
	if err != nil {
		return err
	}
	if f.arch != "" {
		triple.Arch = f.arch
	}
	backend, err := driver.NewRegistry().Resolve(triple)
	if err != nil {
		return err
	}

	var payload []byte
	logger.LogPhase("codegen")
	switch {
	case f.emitAsm:
		var sb strings.Builder
		for _, fn := range mod.Functions {
			asm, err := driver.BuildAsm(backend, mod, fn)
			if err != nil {
				return fmt.Errorf("building asm for %s: %w", fn.Name, err)
			}
			sb.WriteString(asm)
		}
		payload = []byte(sb.String())
	case f.emitObj:
		// One .eobj container per function, written back to back; Read
		// consumes exactly one container per call, so a multi-function
		// module is a sequence of them rather than one merged table.
		var objs []byte
		for _, fn := range mod.Functions {
			fnCode, fnLinks, err := driver.BuildMachineCode(backend, mod, fn)
			if err != nil {
				return fmt.Errorf("building machine code for %s: %w", fn.Name, err)
			}
			logger.LogEncode(fn.Name, len(fnCode), len(fnLinks))
			obj, err := objwriter.Marshal(fnCode, fnLinks)
			if err != nil {
				return fmt.Errorf("writing obj for %s: %w", fn.Name, err)
			}
			objs = append(objs, obj...)
		}
		payload = objs
	default:
		var code []byte
		for _, fn := range mod.Functions {
			fnCode, fnLinks, err := driver.BuildMachineCode(backend, mod, fn)
			if err != nil {
				return fmt.Errorf("building machine code for %s: %w", fn.Name, err)
			}
			logger.LogEncode(fn.Name, len(fnCode), len(fnLinks))
			code = append(code, fnCode...)
		}
		payload = code
	}
	logger.LogPhaseComplete("codegen")

	return writeOutput(f.out, payload)
}

func parseIR(src string) (*ir.Module, error) {
	toks, err := irtext.NewLexer(src).Tokenize()
	if err != nil {
		return nil, fmt.Errorf("lexing: %w", err)
	}
	mod, errs := irtext.Parse(toks)
	if len(errs) > 0 {
		return nil, fmt.Errorf("parsing: %v", errs)
	}
	return mod, nil
}

func writeOutput(path string, data []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
