// Package driver selects a per-architecture Backend (encoder + calling
// convention + register catalog) and drives the build_* pipeline:
// build_machine_instrs, build_asm, build_machine_code.
//
// Design: a small map[Arch]*Backend registry for target selection -
// REDESIGN FLAG 2 explicitly calls this out as the legitimate use of a
// registry (as opposed to the per-node compile-callback registry the
// lowerer replaces with a type switch). Grounded on the original
// source's TargetBackendDescr, generalized from "one mutable struct the
// whole compile pipeline shares" into "one Backend value per
// architecture, reset and optionally cloned for concurrent reuse."
package driver

import (
	"errors"
	"fmt"

	amd64enc "github.com/emberlang/emberc/pkg/encode/amd64"
	"github.com/emberlang/emberc/pkg/callconv"
	"github.com/emberlang/emberc/pkg/compile"
	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/logger"
	"github.com/emberlang/emberc/pkg/machine"
	"github.com/emberlang/emberc/pkg/regfile"
	"github.com/emberlang/emberc/pkg/verify"
)

// RegistryError is returned when a requested arch/OS combination has no
// registered backend.
var RegistryError = errors.New("driver: no backend registered")

// Arch identifies a target instruction set. Only Amd64 has a concrete
// backend; the type exists so Registry's backends map can be extended without
// an interface-breaking change.
type Arch int

const (
	Amd64 Arch = iota
)

// Triple is a minimal (arch, vendor, os) target descriptor, matching the
// `--triple` flag's grammar in spec.md §6.
type Triple struct {
	Arch   string
	Vendor string
	OS     string
}

// ParseTriple parses an "arch-vendor-os" string.
func ParseTriple(s string) (Triple, error) {
	var t Triple
	n, err := fmt.Sscanf(s, "%s", &t.Arch)
	if err != nil || n != 1 {
		return t, fmt.Errorf("driver: malformed triple %q", s)
	}
	parts := splitTriple(s)
	if len(parts) != 3 {
		return Triple{}, fmt.Errorf("driver: triple %q must have 3 components", s)
	}
	return Triple{Arch: parts[0], Vendor: parts[1], OS: parts[2]}, nil
}

func splitTriple(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '-' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// convention picks SystemV or Win64 from the triple's OS component.
func (t Triple) convention() callconv.Convention {
	if t.OS == "windows" {
		return callconv.Win64{}
	}
	return callconv.SystemV{}
}

// Backend bundles everything one architecture needs to go from verified
// IR to bytes: a register catalog, a calling convention, and the Helper
// that lowers nodes using both.
type Backend struct {
	Arch  Arch
	Conv  callconv.Convention
	Cat   *regfile.Catalog
	Helper *compile.Helper
}

// newAmd64Backend constructs a fresh amd64 Backend for the given
// convention.
func newAmd64Backend(conv callconv.Convention) *Backend {
	cat := regfile.NewAMD64Catalog()
	return &Backend{
		Arch:   Amd64,
		Conv:   conv,
		Cat:    cat,
		Helper: compile.NewHelper(conv, cat),
	}
}

// Clone returns an independent Backend for the same arch/convention,
// with its own register catalog and lowering state - spec.md §5's
// "clone a backend descriptor per worker" pattern, so concurrent callers
// never share mutable allocator state.
func (b *Backend) Clone() *Backend {
	return newAmd64Backend(b.Conv)
}

// reset returns b to a clean state after one build_* call completes,
// whether it succeeded or failed - spec.md §5's guaranteed-reset
// invariant.
func (b *Backend) reset() {
	b.Helper.Reset()
	logger.LogReset(fmt.Sprintf("amd64/%s", b.Conv.Name()))
}

// Registry resolves a Triple to a Backend.
type Registry struct {
	backends map[Arch]func(callconv.Convention) *Backend
}

// NewRegistry returns a Registry with every built-in architecture
// registered.
func NewRegistry() *Registry {
	return &Registry{
		backends: map[Arch]func(callconv.Convention) *Backend{
			Amd64: newAmd64Backend,
		},
	}
}

// Resolve builds a fresh Backend for triple, choosing SystemV or Win64
// from its OS component.
func (r *Registry) Resolve(triple Triple) (*Backend, error) {
	if triple.Arch != "x86_64" && triple.Arch != "amd64" {
		return nil, fmt.Errorf("%w: arch %q", RegistryError, triple.Arch)
	}
	ctor, ok := r.backends[Amd64]
	if !ok {
		return nil, fmt.Errorf("%w: arch %q", RegistryError, triple.Arch)
	}
	return ctor(triple.convention()), nil
}

// BuildMachineInstrs verifies fn's module and lowers fn's nodes to the
// portable machine instruction layer. The Backend is guaranteed to be
// reset before returning, success or failure.
func BuildMachineInstrs(b *Backend, m *ir.Module, fn *ir.Function) ([]machine.Instr, error) {
	defer b.reset()

	if errs := verify.Module(m); len(errs) > 0 {
		return nil, fmt.Errorf("driver: verification failed: %v", errs)
	}
	b.Helper.BindParams(fn)

	var out []machine.Instr
	for _, blk := range fn.Blocks {
		for idx, node := range blk.Nodes {
			instrs, err := b.Helper.Lower(node, blk, idx, fn)
			if err != nil {
				return nil, fmt.Errorf("driver: lowering %s in block %q: %w", node.Name(), blk.Name, err)
			}
			out = append(out, instrs...)
		}
	}
	logger.LogLowering(fn.Name, fmt.Sprintf("amd64/%s", b.Conv.Name()), len(out))
	return out, nil
}

// BuildMachineCode lowers fn and encodes the result to bytes plus
// relocations. Only the amd64 architecture has a concrete encoder today.
func BuildMachineCode(b *Backend, m *ir.Module, fn *ir.Function) ([]byte, []amd64enc.Link, error) {
	instrs, err := buildMachineInstrsNoReset(b, m, fn)
	defer b.reset()
	if err != nil {
		return nil, nil, err
	}
	if b.Arch != Amd64 {
		return nil, nil, fmt.Errorf("%w: encoding for arch %v", RegistryError, b.Arch)
	}
	bytes, links, err := amd64enc.EncodeAll(instrs)
	if err != nil {
		return nil, nil, err
	}
	for i := range links {
		links[i].From = fn.Name
		if links[i].Special {
			links[i].Symbol = fn.Name + ":" + links[i].Symbol
		}
	}
	return bytes, links, nil
}

// buildMachineInstrsNoReset is BuildMachineInstrs without the deferred
// reset, so BuildMachineCode can share one reset across lowering+encoding
// instead of resetting twice.
func buildMachineInstrsNoReset(b *Backend, m *ir.Module, fn *ir.Function) ([]machine.Instr, error) {
	if errs := verify.Module(m); len(errs) > 0 {
		return nil, fmt.Errorf("driver: verification failed: %v", errs)
	}
	b.Helper.BindParams(fn)

	var out []machine.Instr
	for _, blk := range fn.Blocks {
		for idx, node := range blk.Nodes {
			instrs, err := b.Helper.Lower(node, blk, idx, fn)
			if err != nil {
				return nil, fmt.Errorf("driver: lowering %s in block %q: %w", node.Name(), blk.Name, err)
			}
			out = append(out, instrs...)
		}
	}
	return out, nil
}
