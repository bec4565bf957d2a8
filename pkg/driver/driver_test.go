package driver

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emberlang/emberc/pkg/callconv"
	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/machine"
	"github.com/emberlang/emberc/pkg/types"
)

func identityAddModule(t *testing.T) (*ir.Module, *ir.Function) {
	t.Helper()
	m := ir.NewModule()
	fn := ir.NewFunction("add", ir.FuncType{Args: []types.Tag{types.I32, types.I32}, Ret: types.I32}, ir.Public)
	require.NoError(t, m.AddFunction(fn))
	blk, err := fn.AddBlock("entry")
	require.NoError(t, err)
	lhs, rhs := fn.Arg(0), fn.Arg(1)
	out := ir.Var{Name: "%2", Ty: types.I32}
	blk.Append(&ir.Arith{Op: ir.OpAdd, LHS: ir.VarOperand{Var: lhs}, RHS: ir.VarOperand{Var: rhs}, Out: out})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})
	return m, fn
}

// TestResolvePicksConventionFromTriple grounds §6/§4.7: the OS component
// of a triple selects SystemV vs Win64.
func TestResolvePicksConventionFromTriple(t *testing.T) {
	reg := NewRegistry()

	sysv, err := reg.Resolve(Triple{Arch: "x86_64", Vendor: "unknown", OS: "linux"})
	require.NoError(t, err)
	require.Equal(t, "systemv", sysv.Conv.Name())

	win, err := reg.Resolve(Triple{Arch: "x86_64", Vendor: "pc", OS: "windows"})
	require.NoError(t, err)
	require.Equal(t, "win64", win.Conv.Name())
}

func TestResolveUnknownArchIsRegistryError(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve(Triple{Arch: "sparc", Vendor: "unknown", OS: "linux"})
	require.ErrorIs(t, err, RegistryError)
}

func TestParseTripleRejectsWrongComponentCount(t *testing.T) {
	_, err := ParseTriple("x86_64-unknown")
	require.Error(t, err)
}

// TestBuildMachineInstrsIdentityAdd grounds spec scenario 1 at the driver
// layer: mov eax, edi; add eax, esi; ret, and confirms the Backend is
// reset (spec.md §5) so a second call starts clean.
func TestBuildMachineInstrsIdentityAdd(t *testing.T) {
	m, fn := identityAddModule(t)
	b := newAmd64Backend(callconv.SystemV{})

	instrs, err := BuildMachineInstrs(b, m, fn)
	require.NoError(t, err)

	var ops []machine.Mnemonic
	for _, in := range instrs {
		ops = append(ops, in.Op)
	}
	require.Equal(t, []machine.Mnemonic{machine.Move, machine.Add, machine.Return}, ops)

	// reset() must have run - the catalog and location map are clean for
	// a second, independent call over the same Backend.
	instrs2, err := BuildMachineInstrs(b, m, fn)
	require.NoError(t, err)
	require.Equal(t, instrs, instrs2)
}

// TestBuildAsmIdentityAdd grounds the textual half of spec scenario 1.
func TestBuildAsmIdentityAdd(t *testing.T) {
	m, fn := identityAddModule(t)
	b := newAmd64Backend(callconv.SystemV{})

	asm, err := BuildAsm(b, m, fn)
	require.NoError(t, err)
	require.Contains(t, asm, "movl %edi, %eax")
	require.Contains(t, asm, "addl %esi, %eax")
	require.Contains(t, asm, "leave")
	require.Contains(t, asm, "retq")
}

// TestBuildMachineCodeBranchRelocation grounds spec scenario 6: a two-block
// function with an unconditional branch produces exactly one relocation,
// special (block-local), with symbol rewritten to "<fn>:<block>".
func TestBuildMachineCodeBranchRelocation(t *testing.T) {
	m := ir.NewModule()
	fn := ir.NewFunction("f", ir.FuncType{Ret: types.I32}, ir.Local)
	require.NoError(t, m.AddFunction(fn))
	entry, err := fn.AddBlock("entry")
	require.NoError(t, err)
	tail, err := fn.AddBlock("tail")
	require.NoError(t, err)
	entry.Append(&ir.Br{Target: ir.BlockRef{Name: tail.Name}})
	tail.Append(&ir.Return{Src: ir.ImmOperand{Imm: types.FromInt(types.I32, 0)}})

	b := newAmd64Backend(callconv.SystemV{})
	_, links, err := BuildMachineCode(b, m, fn)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.True(t, links[0].Special)
	require.Equal(t, "f", links[0].From)
	require.Equal(t, "f:tail", links[0].Symbol)
}

// TestWin64ReservesShadowSpaceBeforeCall grounds SPEC_FULL.md §8's Win64 vs
// SystemV divergence addition: a call under Win64 reserves 32 bytes of
// shadow space; SystemV reserves none.
func TestWin64ReservesShadowSpaceBeforeCall(t *testing.T) {
	m := ir.NewModule()
	callee := ir.NewFunction("callee", ir.FuncType{Args: []types.Tag{types.I32}, Ret: types.I32}, ir.External)
	require.NoError(t, m.AddFunction(callee))

	fn := ir.NewFunction("caller", ir.FuncType{Ret: types.I32}, ir.Local)
	require.NoError(t, m.AddFunction(fn))
	blk, err := fn.AddBlock("entry")
	require.NoError(t, err)
	arg := ir.Var{Name: "%0", Ty: types.I32}
	out := ir.Var{Name: "%1", Ty: types.I32}
	blk.Append(&ir.Assign{Out: arg, Src: ir.ImmOperand{Imm: types.FromInt(types.I32, 1)}})
	blk.Append(&ir.Call{Target: callee, Args: []ir.Var{arg}, Out: out})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})

	win := newAmd64Backend(callconv.Win64{})
	winInstrs, err := BuildMachineInstrs(win, m, fn)
	require.NoError(t, err)
	// winInstrs[0] is the Move materializing %0; the shadow-space Sub opens
	// the call sequence right after it.
	require.Equal(t, machine.Sub, winInstrs[1].Op, "Win64 must reserve shadow space before the call sequence")
	require.EqualValues(t, 32, winInstrs[1].Src2.Imm.Val())

	sysv := newAmd64Backend(callconv.SystemV{})
	sysvInstrs, err := BuildMachineInstrs(sysv, m, fn)
	require.NoError(t, err)
	for _, in := range sysvInstrs {
		require.NotEqual(t, machine.Sub, in.Op, "SystemV reserves no shadow space")
	}
}

// TestCloneGivesIndependentBackendState grounds §5's "clone a backend
// descriptor per worker" pattern: a clone starts from its own clean
// register state, so lowering the same function on the original and on
// the clone yields identical instruction streams.
func TestCloneGivesIndependentBackendState(t *testing.T) {
	m, fn := identityAddModule(t)
	b1 := newAmd64Backend(callconv.SystemV{})
	b2 := b1.Clone()

	i1, err := BuildMachineInstrs(b1, m, fn)
	require.NoError(t, err)
	i2, err := BuildMachineInstrs(b2, m, fn)
	require.NoError(t, err)
	require.Equal(t, i1, i2)
}

// TestBuildMachineCodeRejectsUnverifiedModule grounds the verify-before-
// lower ordering §4.7 requires: a type-mismatched module must never reach
// the encoder.
func TestBuildMachineCodeRejectsUnverifiedModule(t *testing.T) {
	m := ir.NewModule()
	fn := ir.NewFunction("bad", ir.FuncType{Args: []types.Tag{types.I32, types.I64}, Ret: types.I32}, ir.Local)
	require.NoError(t, m.AddFunction(fn))
	blk, err := fn.AddBlock("entry")
	require.NoError(t, err)
	a, bArg := fn.Arg(0), fn.Arg(1)
	out := ir.Var{Name: "%2", Ty: types.I32}
	blk.Append(&ir.Arith{Op: ir.OpAdd, LHS: ir.VarOperand{Var: a}, RHS: ir.VarOperand{Var: bArg}, Out: out})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})

	b := newAmd64Backend(callconv.SystemV{})
	_, _, err = BuildMachineCode(b, m, fn)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "verification failed"))
}
