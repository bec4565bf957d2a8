package compile

import (
	"testing"

	"github.com/emberlang/emberc/pkg/callconv"
	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/machine"
	"github.com/emberlang/emberc/pkg/regfile"
	"github.com/emberlang/emberc/pkg/types"
)

func newHelper() *Helper {
	return NewHelper(callconv.SystemV{}, regfile.NewAMD64Catalog())
}

func lowerAll(t *testing.T, h *Helper, fn *ir.Function, blk *ir.Block) []machine.Instr {
	t.Helper()
	var out []machine.Instr
	for idx, n := range blk.Nodes {
		instrs, err := h.Lower(n, blk, idx, fn)
		if err != nil {
			t.Fatalf("Lower(%s): %v", n.Name(), err)
		}
		out = append(out, instrs...)
	}
	return out
}

// mnemonics reduces an instruction stream to its bare mnemonic sequence, the
// same granularity spec.md §8's concrete scenarios name ("mov eax, edi; add
// eax, esi; ret").
func mnemonics(instrs []machine.Instr) []machine.Mnemonic {
	out := make([]machine.Mnemonic, len(instrs))
	for i, in := range instrs {
		out[i] = in.Op
	}
	return out
}

func regName(o machine.Operand) string {
	if o.Kind != machine.OperandReg {
		return ""
	}
	return o.Reg.Name
}

// TestIdentityAddLowersToThreeInstructions grounds spec scenario 1: add(i32
// %0, i32 %1) -> i32 with %2 = add i32 %0, %1; ret i32 %2 must lower to
// exactly mov/add/ret, with %0 read straight from edi and the result placed
// directly in eax via the BindParams/locateDst return-register elision.
func TestIdentityAddLowersToThreeInstructions(t *testing.T) {
	fn := ir.NewFunction("add", ir.FuncType{Args: []types.Tag{types.I32, types.I32}, Ret: types.I32}, ir.Public)
	blk, err := fn.AddBlock("entry")
	if err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	lhs, rhs := fn.Arg(0), fn.Arg(1)
	out := ir.Var{Name: "%2", Ty: types.I32}
	blk.Append(&ir.Arith{Op: ir.OpAdd, LHS: ir.VarOperand{Var: lhs}, RHS: ir.VarOperand{Var: rhs}, Out: out})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	got := mnemonics(instrs)
	want := []machine.Mnemonic{machine.Move, machine.Add, machine.Return}
	if len(got) != len(want) {
		t.Fatalf("mnemonic sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mnemonic sequence = %v, want %v", got, want)
		}
	}

	if regName(instrs[0].Src1) != "edi" {
		t.Errorf("expected the first operand to read %%0 straight from edi, got %q", regName(instrs[0].Src1))
	}
	if regName(instrs[0].Dst) != "eax" {
		t.Errorf("expected the add's destination bound to eax (return-register elision), got %q", regName(instrs[0].Dst))
	}
	if regName(instrs[1].Src2) != "esi" {
		t.Errorf("expected the second operand to read %%1 from esi, got %q", regName(instrs[1].Src2))
	}
}

// TestConstantFoldFreeAddition grounds spec scenario 2: %0 = add i32 2, 3;
// ret i32 %0 lowers to mov eax, 2; add eax, 3; ret - no constant folding.
func TestConstantFoldFreeAddition(t *testing.T) {
	fn := ir.NewFunction("k", ir.FuncType{Ret: types.I32}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	out := ir.Var{Name: "%0", Ty: types.I32}
	blk.Append(&ir.Arith{
		Op:  ir.OpAdd,
		LHS: ir.ImmOperand{Imm: types.FromInt(types.I32, 2)},
		RHS: ir.ImmOperand{Imm: types.FromInt(types.I32, 3)},
		Out: out,
	})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	got := mnemonics(instrs)
	want := []machine.Mnemonic{machine.Move, machine.Add, machine.Return}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] || got[2] != want[2] {
		t.Fatalf("mnemonic sequence = %v, want %v", got, want)
	}
	if instrs[0].Src1.Kind != machine.OperandImm || instrs[0].Src1.Imm.Signed() != 2 {
		t.Errorf("expected the first mov to carry immediate 2, got %+v", instrs[0].Src1)
	}
	if instrs[1].Src2.Kind != machine.OperandImm || instrs[1].Src2.Imm.Signed() != 3 {
		t.Errorf("expected the add to carry immediate 3, got %+v", instrs[1].Src2)
	}
}

// TestReturnOfConstant grounds spec scenario 3: ret i32 7 lowers to a bare
// mov eax, 7; ret, with no redundant copy.
func TestReturnOfConstant(t *testing.T) {
	fn := ir.NewFunction("seven", ir.FuncType{Ret: types.I32}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	blk.Append(&ir.Return{Src: ir.ImmOperand{Imm: types.FromInt(types.I32, 7)}})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	if got := mnemonics(instrs); len(got) != 2 || got[0] != machine.Move || got[1] != machine.Return {
		t.Fatalf("expected mov eax, 7; ret, got %v", got)
	}
}

// TestReturnElisionAvoidsRedundantMove asserts the general property behind
// scenarios 1-3: when an Arith's result is immediately returned, lowerReturn
// must not emit a second Move copying the same register into itself.
func TestReturnElisionAvoidsRedundantMove(t *testing.T) {
	fn := ir.NewFunction("f", ir.FuncType{Args: []types.Tag{types.U64}, Ret: types.U64}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	arg := fn.Arg(0)
	out := ir.Var{Name: "%1", Ty: types.U64}
	blk.Append(&ir.Assign{Out: out, Src: ir.VarOperand{Var: arg}})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	for _, in := range instrs {
		if in.Op == machine.Move && in.Dst == in.Src1 {
			t.Fatalf("found a no-op self-move that should have been elided: %+v", in)
		}
	}
}

func TestBindParamsReservesArgumentRegisters(t *testing.T) {
	fn := ir.NewFunction("f", ir.FuncType{Args: []types.Tag{types.U32, types.U32, types.U32}, Ret: types.Void}, ir.Local)
	h := newHelper()
	h.BindParams(fn)

	conv := callconv.SystemV{}
	for i := 0; i < 3; i++ {
		loc, ok := h.locs[fn.Arg(i).Name]
		if !ok || !loc.isReg {
			t.Fatalf("arg %d was not bound to a register", i)
		}
		if loc.reg != conv.ArgRegs()[i] {
			t.Errorf("arg %d bound to %v, want %v", i, loc.reg, conv.ArgRegs()[i])
		}
	}
}

func TestDivRoutesThroughFixedDividendRegister(t *testing.T) {
	fn := ir.NewFunction("div", ir.FuncType{Args: []types.Tag{types.I64, types.I64}, Ret: types.I64}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	lhs, rhs := fn.Arg(0), fn.Arg(1)
	out := ir.Var{Name: "%2", Ty: types.I64}
	blk.Append(&ir.Arith{Op: ir.OpDiv, LHS: ir.VarOperand{Var: lhs}, RHS: ir.VarOperand{Var: rhs}, Out: out})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	got := mnemonics(instrs)
	want := []machine.Mnemonic{machine.Move, machine.Cqto, machine.Div, machine.Move, machine.Return}
	if len(got) != len(want) {
		t.Fatalf("mnemonic sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mnemonic sequence = %v, want %v", got, want)
		}
	}
	if regName(instrs[0].Dst) != "rax" {
		t.Errorf("expected the dividend in rax, got %q", regName(instrs[0].Dst))
	}
}

func TestCompareBranchFusion(t *testing.T) {
	fn := ir.NewFunction("f", ir.FuncType{Args: []types.Tag{types.U32, types.U32}, Ret: types.Void}, ir.Local)
	entry, _ := fn.AddBlock("entry")
	ifTrue, _ := fn.AddBlock("ift")
	ifFalse, _ := fn.AddBlock("iff")

	lhs, rhs := fn.Arg(0), fn.Arg(1)
	cond := ir.Var{Name: "%2", Ty: types.U16}
	entry.Append(&ir.Compare{Mode: ir.CmpLt, LHS: lhs, RHS: rhs, Out: cond})
	entry.Append(&ir.BrCond{Cond: cond, IfTrue: ir.BlockRef{Name: ifTrue.Name}, IfFalse: ir.BlockRef{Name: ifFalse.Name}})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, entry)

	got := mnemonics(instrs)
	want := []machine.Mnemonic{machine.Cmp, machine.JmpCond, machine.Jmp}
	if len(got) != len(want) {
		t.Fatalf("mnemonic sequence = %v, want %v (compare should fuse directly into the branch, skipping SetCC)", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mnemonic sequence = %v, want %v", got, want)
		}
	}
	if instrs[1].Cond != machine.CondLt {
		t.Errorf("expected the fused JmpCond to carry the compare's own mode (lt), got %v", instrs[1].Cond)
	}
}

func TestOperandsConsumedByArithAreFreedEvenThoughResultSurvives(t *testing.T) {
	// %0 and %1 are never read again after producing %2, which itself is
	// consumed by the Return below - the catalog must reclaim the
	// operands' registers so a later Var doesn't spill unnecessarily,
	// without touching %2's own (live) result register.
	fn := ir.NewFunction("f", ir.FuncType{Args: []types.Tag{types.U32, types.U32}, Ret: types.U32}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	lhs, rhs := fn.Arg(0), fn.Arg(1)
	out := ir.Var{Name: "%2", Ty: types.U32}
	blk.Append(&ir.Arith{Op: ir.OpAdd, LHS: ir.VarOperand{Var: lhs}, RHS: ir.VarOperand{Var: rhs}, Out: out})
	blk.Append(&ir.Return{Src: ir.VarOperand{Var: out}})

	h := newHelper()
	h.BindParams(fn)
	lowerAll(t, h, fn, blk)

	if _, stillHeld := h.locs[lhs.Name]; stillHeld {
		t.Error("%0 should have been freed once add consumed it")
	}
	if _, stillHeld := h.locs[rhs.Name]; stillHeld {
		t.Error("%1 should have been freed once add consumed it")
	}
}

// TestDeadArithResultEmitsNothing grounds spec.md §4.5 rule 2 and the §8
// dead-store-elimination property: a produced Var with no later use and
// no side effect must not reach the instruction stream at all, not even
// as a register move.
func TestDeadArithResultEmitsNothing(t *testing.T) {
	fn := ir.NewFunction("f", ir.FuncType{Args: []types.Tag{types.U32, types.U32}, Ret: types.Void}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	lhs, rhs := fn.Arg(0), fn.Arg(1)
	dead := ir.Var{Name: "%2", Ty: types.U32}
	blk.Append(&ir.Arith{Op: ir.OpAdd, LHS: ir.VarOperand{Var: lhs}, RHS: ir.VarOperand{Var: rhs}, Out: dead})
	blk.Append(&ir.Return{Src: nil})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	got := mnemonics(instrs)
	want := []machine.Mnemonic{machine.Return}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("mnemonic sequence = %v, want %v (dead add must emit nothing)", got, want)
	}
	if _, stillHeld := h.locs[dead.Name]; stillHeld {
		t.Error("dead result should never have acquired a location")
	}
	if _, stillHeld := h.locs[lhs.Name]; stillHeld {
		t.Error("%0 should have been freed even though the add it fed was skipped")
	}
	if _, stillHeld := h.locs[rhs.Name]; stillHeld {
		t.Error("%1 should have been freed even though the add it fed was skipped")
	}
}

// TestDeadAssignAndCastEmitNothing covers the remaining pure-value node
// kinds the dead-result rule applies to.
func TestDeadAssignAndCastEmitNothing(t *testing.T) {
	fn := ir.NewFunction("f", ir.FuncType{Args: []types.Tag{types.U32}, Ret: types.Void}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	arg := fn.Arg(0)
	deadAssign := ir.Var{Name: "%1", Ty: types.U32}
	deadCast := ir.Var{Name: "%2", Ty: types.U64}
	blk.Append(&ir.Assign{Out: deadAssign, Src: ir.ImmOperand{Imm: types.FromInt(types.U32, 9)}})
	blk.Append(&ir.Cast{In: arg, OutTy: types.U64, Out: deadCast})
	blk.Append(&ir.Return{Src: nil})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	got := mnemonics(instrs)
	want := []machine.Mnemonic{machine.Return}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("mnemonic sequence = %v, want %v (dead assign/cast must emit nothing)", got, want)
	}
}

// TestDeadCompareWithoutBrCondEmitsNothing covers the Compare case: when
// its result feeds nothing at all (not even a BrCond, which would instead
// take the fusion path), the comparison itself must not be emitted.
func TestDeadCompareWithoutBrCondEmitsNothing(t *testing.T) {
	fn := ir.NewFunction("f", ir.FuncType{Args: []types.Tag{types.U32, types.U32}, Ret: types.Void}, ir.Local)
	blk, _ := fn.AddBlock("entry")
	lhs, rhs := fn.Arg(0), fn.Arg(1)
	dead := ir.Var{Name: "%2", Ty: types.U16}
	blk.Append(&ir.Compare{Mode: ir.CmpLt, LHS: lhs, RHS: rhs, Out: dead})
	blk.Append(&ir.Return{Src: nil})

	h := newHelper()
	h.BindParams(fn)
	instrs := lowerAll(t, h, fn, blk)

	got := mnemonics(instrs)
	want := []machine.Mnemonic{machine.Return}
	if len(got) != len(want) || got[0] != want[0] {
		t.Fatalf("mnemonic sequence = %v, want %v (dead compare must emit nothing)", got, want)
	}
}
