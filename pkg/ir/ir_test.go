package ir

import (
	"testing"

	"github.com/emberlang/emberc/pkg/types"
)

// TestBuilderIdentityAdd grounds spec scenario 1 ("Identity add") at the IR
// layer: add(i32,i32) -> i32 with body %2 = add i32 %0, %1; ret i32 %2.
func TestBuilderIdentityAdd(t *testing.T) {
	m := NewModule()
	b := NewBuilder(m)

	fn, err := b.Function("add", FuncType{Args: []types.Tag{types.I32, types.I32}, Ret: types.I32}, Public)
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	entry, err := b.Block("entry")
	if err != nil {
		t.Fatalf("Block: %v", err)
	}

	lhs, rhs := fn.Arg(0), fn.Arg(1)
	sum, err := b.BuildAdd(VarOperand{Var: lhs}, VarOperand{Var: rhs})
	if err != nil {
		t.Fatalf("BuildAdd: %v", err)
	}
	b.BuildRet(VarOperand{Var: sum})

	if len(entry.Nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(entry.Nodes))
	}
	if errs := entry.Nodes[0].Verify(fn.Ty); len(errs) != 0 {
		t.Errorf("unexpected verify errors on Arith: %v", errs)
	}
	if errs := entry.Nodes[1].Verify(fn.Ty); len(errs) != 0 {
		t.Errorf("unexpected verify errors on Return: %v", errs)
	}
}

func TestBuilderTempNamesAreMonotonic(t *testing.T) {
	m := NewModule()
	b := NewBuilder(m)
	_, err := b.Function("f", FuncType{Args: []types.Tag{types.U32}, Ret: types.U32}, Local)
	if err != nil {
		t.Fatalf("Function: %v", err)
	}
	if _, err := b.Block("entry"); err != nil {
		t.Fatalf("Block: %v", err)
	}

	v1, _ := b.BuildAdd(ImmOperand{Imm: types.FromInt(types.U32, 1)}, ImmOperand{Imm: types.FromInt(types.U32, 2)})
	v2, _ := b.BuildAdd(VarOperand{Var: v1}, ImmOperand{Imm: types.FromInt(types.U32, 3)})

	if v1.Name == v2.Name {
		t.Fatalf("expected distinct temp names, both were %q", v1.Name)
	}
}

// TestFunctionDuplicateBlockNameIsAppendedNotRejected documents that
// construction lets a reused block name through - invariant 4 is a
// verifier concern (see verify.TestDuplicateBlockNameIsReportedByVerify),
// not a construction-time failure.
func TestFunctionDuplicateBlockNameIsAppendedNotRejected(t *testing.T) {
	fn := NewFunction("f", FuncType{Ret: types.Void}, Local)
	if _, err := fn.AddBlock("entry"); err != nil {
		t.Fatalf("first AddBlock: %v", err)
	}
	if _, err := fn.AddBlock("entry"); err != nil {
		t.Fatalf("second AddBlock with a reused name: %v", err)
	}
	if len(fn.Blocks) != 2 {
		t.Fatalf("expected both blocks appended, got %d", len(fn.Blocks))
	}
}

func TestModuleDuplicateFunctionRejected(t *testing.T) {
	m := NewModule()
	if err := m.AddFunction(NewFunction("f", FuncType{Ret: types.Void}, Local)); err != nil {
		t.Fatalf("first AddFunction: %v", err)
	}
	if err := m.AddFunction(NewFunction("f", FuncType{Ret: types.Void}, Local)); err == nil {
		t.Fatal("expected duplicate function name to be rejected")
	}
}

func TestIsVarUsedAfter(t *testing.T) {
	a := Var{Name: "%a", Ty: types.U32}
	out1 := Var{Name: "%b", Ty: types.U32}
	out2 := Var{Name: "%c", Ty: types.U32}

	blk := &Block{Name: "entry"}
	blk.Append(&Arith{Op: OpAdd, LHS: VarOperand{Var: a}, RHS: ImmOperand{Imm: types.FromInt(types.U32, 1)}, Out: out1})
	blk.Append(&Arith{Op: OpAdd, LHS: VarOperand{Var: out1}, RHS: ImmOperand{Imm: types.FromInt(types.U32, 1)}, Out: out2})
	blk.Append(&Return{Src: VarOperand{Var: out2}})

	if blk.IsVarUsedAfter(0, a) {
		t.Error("%a is not read after node 0")
	}
	if !blk.IsVarUsedAfter(0, out1) {
		t.Error("%b is read by node 1")
	}
	if !blk.IsVarUsedAfter(1, out2) {
		t.Error("%c is read by the terminating Return")
	}
	if blk.IsVarUsedAfter(2, out2) {
		t.Error("nothing follows the Return")
	}
}

func TestArithVerifyCatchesTypeMismatch(t *testing.T) {
	lhs := Var{Name: "%a", Ty: types.I32}
	rhs := Var{Name: "%b", Ty: types.I64}
	out := Var{Name: "%c", Ty: types.I32}
	n := &Arith{Op: OpAdd, LHS: VarOperand{Var: lhs}, RHS: VarOperand{Var: rhs}, Out: out}

	errs := n.Verify(FuncType{Ret: types.I32})
	if len(errs) == 0 {
		t.Fatal("expected a type mismatch error")
	}
	if errs[0].Kind != TyMismatch {
		t.Errorf("expected TyMismatch, got %v", errs[0].Kind)
	}
}

func TestReturnVerifyCatchesTagMismatch(t *testing.T) {
	n := &Return{Src: ImmOperand{Imm: types.FromInt(types.I64, 7)}}
	errs := n.Verify(FuncType{Ret: types.I32})
	if len(errs) != 1 || errs[0].Kind != ReturnTagMismatch {
		t.Fatalf("expected a single ReturnTagMismatch, got %v", errs)
	}
}
