package irtext

import (
	"fmt"
	"strings"

	"github.com/emberlang/emberc/pkg/ir"
)

// Print renders m as plain textual IR, in the exact grammar Parse
// consumes - the round-trip testable property requires
// parse(pretty(module)) ≡ module.
func Print(m *ir.Module) string {
	return render(m, false)
}

// PrintColored renders m with ANSI decoration: magenta identifiers, cyan
// types, blue keywords - following the original source's Colorize trait,
// reproduced here as direct escape-code wrapping (see pkg/ir's
// magenta/cyan/blue helpers) rather than a pulled-in color library, since
// colorized output is explicitly non-core (spec.md §6).
func PrintColored(m *ir.Module) string {
	return render(m, true)
}

func render(m *ir.Module, colored bool) string {
	var sb strings.Builder
	for _, c := range m.Constants {
		renderConst(&sb, c)
	}
	for _, fn := range m.Functions {
		if len(fn.Blocks) == 0 {
			renderDecl(&sb, fn)
			continue
		}
		renderDef(&sb, fn, colored)
	}
	return sb.String()
}

func renderConst(sb *strings.Builder, c *ir.Const) {
	fmt.Fprintf(sb, "const %s %s = %s\n", c.Linkage, c.Name, renderBytes(c.Bytes))
}

func renderBytes(b []byte) string {
	var parts []string
	for _, x := range b {
		parts = append(parts, fmt.Sprintf("%d", x))
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func renderDecl(sb *strings.Builder, fn *ir.Function) {
	fmt.Fprintf(sb, "declare %s @%s(%s)\n", fn.Ty.Ret, fn.Name, renderParams(fn))
}

// renderParams renders each parameter as "type %name", falling back to a
// positional name when the function carries no ParamNames (built through
// Builder rather than parsed from text).
func renderParams(fn *ir.Function) string {
	var parts []string
	for i, a := range fn.Ty.Args {
		name := fmt.Sprintf("%%arg%d", i)
		if i < len(fn.ParamNames) {
			name = fn.ParamNames[i]
		}
		parts = append(parts, fmt.Sprintf("%s %s", a, name))
	}
	if fn.Ty.Variadic {
		parts = append(parts, "...")
	}
	return strings.Join(parts, ", ")
}

func renderDef(sb *strings.Builder, fn *ir.Function, colored bool) {
	fmt.Fprintf(sb, "define %s %s @%s(%s) {\n", fn.Ty.Ret, fn.Linkage, fn.Name, renderParams(fn))
	for _, blk := range fn.Blocks {
		fmt.Fprintf(sb, "%s:\n", blk.Name)
		for _, n := range blk.Nodes {
			if colored {
				fmt.Fprintf(sb, "  %s\n", n.DumpColored())
			} else {
				fmt.Fprintf(sb, "  %s\n", n.Dump())
			}
		}
	}
	sb.WriteString("}\n")
}
