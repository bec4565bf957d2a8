package simplelang

import (
	"fmt"

	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/types"
)

// Lower compiles a parsed Program into an ir.Module, registering every
// function's signature first so forward and mutually recursive calls
// resolve regardless of declaration order, then lowering each body - the
// same two-pass shape the teacher's codegen uses when it walks a module's
// function table before emitting any one function's instructions.
//
// Nodes are appended directly through ir.Block.Append rather than through
// ir.Builder, the way pkg/irtext's parser does: a toy front end lowering
// straight-line statements has no need for Builder's scoped cursor guard,
// and minting its own temp names keeps this package independent of
// ir.Builder's unexported counter.
func Lower(prog *Program) (*ir.Module, error) {
	m := ir.NewModule()
	funcs := make(map[string]*ir.Function, len(prog.Funcs))

	for _, fd := range prog.Funcs {
		argTys := make([]types.Tag, len(fd.Params))
		for i, p := range fd.Params {
			argTys[i] = p.Ty
		}
		fn := ir.NewFunction(fd.Name, ir.FuncType{Args: argTys, Ret: fd.Ret}, ir.Public)
		if err := m.AddFunction(fn); err != nil {
			return nil, fmt.Errorf("simplelang: %w", err)
		}
		funcs[fd.Name] = fn
	}

	for _, fd := range prog.Funcs {
		if err := lowerFunc(fd, funcs[fd.Name], funcs); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// lowerer holds the per-function state lowering a body needs: the
// function being built, the program-wide call table, a running temp/block
// counter, and the variable scope (parameters plus every `let` seen so
// far).
type lowerer struct {
	fn      *ir.Function
	funcs   map[string]*ir.Function
	counter int
	scope   map[string]ir.Var
}

func lowerFunc(fd *FuncDef, fn *ir.Function, funcs map[string]*ir.Function) error {
	entry, err := fn.AddBlock("entry")
	if err != nil {
		return fmt.Errorf("simplelang: %w", err)
	}
	scope := make(map[string]ir.Var, len(fd.Params))
	for i, p := range fd.Params {
		scope[p.Name] = fn.Arg(i)
	}
	lw := &lowerer{fn: fn, funcs: funcs, scope: scope}

	terminated, err := lw.lowerStmts(entry, fd.Body)
	if err != nil {
		return err
	}
	if !terminated {
		entry.Append(&ir.Return{Src: nil})
	}
	return nil
}

func (lw *lowerer) freshName(prefix string) string {
	lw.counter++
	return fmt.Sprintf("%%sl_%s%d", prefix, lw.counter)
}

func (lw *lowerer) freshBlockName(prefix string) string {
	lw.counter++
	return fmt.Sprintf("%s%d", prefix, lw.counter)
}

func copyScope(s map[string]ir.Var) map[string]ir.Var {
	out := make(map[string]ir.Var, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// lowerStmts appends stmts' nodes to blk, returning whether the last node
// appended was a terminator (Return/Br/BrCond). Scope mutations from `let`
// are visible to the remainder of stmts but not to the caller, matching
// this language's block-scoped bindings.
func (lw *lowerer) lowerStmts(blk *ir.Block, stmts []Stmt) (bool, error) {
	scope := lw.scope
	for i, s := range stmts {
		switch st := s.(type) {
		case *Let:
			ty := lw.inferType(st.Value)
			v, err := lw.lowerToVar(blk, st.Value, ty)
			if err != nil {
				return false, err
			}
			scope = copyScope(scope)
			scope[st.Name] = v
			lw.scope = scope

		case *Return:
			if st.Value == nil {
				blk.Append(&ir.Return{Src: nil})
				return true, nil
			}
			ty := lw.fn.Ty.Ret
			op, err := lw.lowerOperand(blk, st.Value, ty)
			if err != nil {
				return false, err
			}
			blk.Append(&ir.Return{Src: op})
			return true, nil

		case *If:
			return lw.lowerIf(blk, st, stmts[i+1:])

		default:
			return false, fmt.Errorf("simplelang: unhandled statement %T", s)
		}
	}
	return false, nil
}

func (lw *lowerer) lowerIf(blk *ir.Block, st *If, rest []Stmt) (bool, error) {
	cond, err := lw.lowerCond(blk, st.Cond)
	if err != nil {
		return false, err
	}

	thenBlk, err := lw.fn.AddBlock(lw.freshBlockName("then"))
	if err != nil {
		return false, fmt.Errorf("simplelang: %w", err)
	}
	elseBlk, err := lw.fn.AddBlock(lw.freshBlockName("else"))
	if err != nil {
		return false, fmt.Errorf("simplelang: %w", err)
	}
	blk.Append(&ir.BrCond{
		Cond:    cond,
		IfTrue:  ir.BlockRef{Name: thenBlk.Name},
		IfFalse: ir.BlockRef{Name: elseBlk.Name},
	})

	savedScope := lw.scope

	lw.scope = copyScope(savedScope)
	thenTerminated, err := lw.lowerStmts(thenBlk, st.Then)
	if err != nil {
		return false, err
	}

	lw.scope = copyScope(savedScope)
	elseTerminated, err := lw.lowerStmts(elseBlk, st.Else)
	if err != nil {
		return false, err
	}

	lw.scope = savedScope

	if thenTerminated && elseTerminated {
		return true, nil
	}

	mergeBlk, err := lw.fn.AddBlock(lw.freshBlockName("merge"))
	if err != nil {
		return false, fmt.Errorf("simplelang: %w", err)
	}
	if !thenTerminated {
		thenBlk.Append(&ir.Br{Target: ir.BlockRef{Name: mergeBlk.Name}})
	}
	if !elseTerminated {
		elseBlk.Append(&ir.Br{Target: ir.BlockRef{Name: mergeBlk.Name}})
	}
	return lw.lowerStmts(mergeBlk, rest)
}

// inferType derives an expression's type from its operands, since this
// language carries no literal type suffixes: a bare identifier or call
// takes the type already on record, a literal defaults to i32, and a
// binary expression takes its left operand's type (both sides are
// expected to agree - the verifier catches anything that doesn't).
func (lw *lowerer) inferType(e Expr) types.Tag {
	switch ex := e.(type) {
	case *Ident:
		if v, ok := lw.scope[ex.Name]; ok {
			return v.Ty
		}
		return types.I32
	case *IntLit:
		return types.I32
	case *Call:
		if fn, ok := lw.funcs[ex.Callee]; ok {
			return fn.Ty.Ret
		}
		return types.I32
	case *Binary:
		if isComparison(ex.Op) {
			return types.U16
		}
		return lw.inferType(ex.LHS)
	default:
		return types.I32
	}
}

func isComparison(op BinOp) bool {
	switch op {
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

var arithOp = map[BinOp]ir.ArithOp{
	OpAdd: ir.OpAdd, OpSub: ir.OpSub, OpMul: ir.OpMul, OpDiv: ir.OpDiv,
}

var compareMode = map[BinOp]ir.CompareMode{
	OpEq: ir.CmpEq, OpNe: ir.CmpNe, OpLt: ir.CmpLt, OpLe: ir.CmpLe, OpGt: ir.CmpGt, OpGe: ir.CmpGe,
}

// lowerOperand lowers e to an ir.Operand of type ty, used where the IR
// accepts an immediate or a Var directly (Return, Arith operands).
func (lw *lowerer) lowerOperand(blk *ir.Block, e Expr, ty types.Tag) (ir.Operand, error) {
	switch ex := e.(type) {
	case *IntLit:
		return ir.ImmOperand{Imm: types.FromInt(ty, ex.Value)}, nil
	case *Ident:
		v, ok := lw.scope[ex.Name]
		if !ok {
			return nil, fmt.Errorf("simplelang: undefined variable %q", ex.Name)
		}
		return ir.VarOperand{Var: v}, nil
	default:
		v, err := lw.lowerToVar(blk, e, ty)
		if err != nil {
			return nil, err
		}
		return ir.VarOperand{Var: v}, nil
	}
}

// lowerToVar lowers e and guarantees the result is bound to a Var (rather
// than a bare immediate), as required for Compare operands and Call
// arguments.
func (lw *lowerer) lowerToVar(blk *ir.Block, e Expr, ty types.Tag) (ir.Var, error) {
	switch ex := e.(type) {
	case *Ident:
		v, ok := lw.scope[ex.Name]
		if !ok {
			return ir.Var{}, fmt.Errorf("simplelang: undefined variable %q", ex.Name)
		}
		return v, nil

	case *IntLit:
		out := ir.Var{Name: lw.freshName("v"), Ty: ty}
		blk.Append(&ir.Assign{Out: out, Src: ir.ImmOperand{Imm: types.FromInt(ty, ex.Value)}})
		return out, nil

	case *Binary:
		if isComparison(ex.Op) {
			return lw.lowerCond(blk, ex)
		}
		lty := lw.inferType(ex.LHS)
		lhs, err := lw.lowerOperand(blk, ex.LHS, lty)
		if err != nil {
			return ir.Var{}, err
		}
		rhs, err := lw.lowerOperand(blk, ex.RHS, lty)
		if err != nil {
			return ir.Var{}, err
		}
		out := ir.Var{Name: lw.freshName("v"), Ty: lty}
		blk.Append(&ir.Arith{Op: arithOp[ex.Op], LHS: lhs, RHS: rhs, Out: out})
		return out, nil

	case *Call:
		target, ok := lw.funcs[ex.Callee]
		if !ok {
			return ir.Var{}, fmt.Errorf("simplelang: call to undefined function %q", ex.Callee)
		}
		if len(ex.Args) != len(target.Ty.Args) {
			return ir.Var{}, fmt.Errorf("simplelang: %s expects %d arguments, got %d", ex.Callee, len(target.Ty.Args), len(ex.Args))
		}
		args := make([]ir.Var, len(ex.Args))
		for i, a := range ex.Args {
			v, err := lw.lowerToVar(blk, a, target.Ty.Args[i])
			if err != nil {
				return ir.Var{}, err
			}
			args[i] = v
		}
		out := ir.Var{Name: lw.freshName("v"), Ty: target.Ty.Ret}
		blk.Append(&ir.Call{Target: target, Args: args, Out: out})
		return out, nil

	default:
		return ir.Var{}, fmt.Errorf("simplelang: unhandled expression %T", e)
	}
}

// lowerCond evaluates e to a boolean-shaped Var suitable for BrCond. A
// top-level comparison lowers to one Compare node; anything else is
// compared for inequality against zero, the same "truthy" rule the
// teacher's generateCondition applies to non-boolean conditions.
func (lw *lowerer) lowerCond(blk *ir.Block, e Expr) (ir.Var, error) {
	if bin, ok := e.(*Binary); ok && isComparison(bin.Op) {
		lty := lw.inferType(bin.LHS)
		lhs, err := lw.lowerToVar(blk, bin.LHS, lty)
		if err != nil {
			return ir.Var{}, err
		}
		rhs, err := lw.lowerToVar(blk, bin.RHS, lty)
		if err != nil {
			return ir.Var{}, err
		}
		out := ir.Var{Name: lw.freshName("c"), Ty: types.U16}
		blk.Append(&ir.Compare{Mode: compareMode[bin.Op], LHS: lhs, RHS: rhs, Out: out})
		return out, nil
	}

	ty := lw.inferType(e)
	v, err := lw.lowerToVar(blk, e, ty)
	if err != nil {
		return ir.Var{}, err
	}
	zero := ir.Var{Name: lw.freshName("z"), Ty: ty}
	blk.Append(&ir.Assign{Out: zero, Src: ir.ImmOperand{Imm: types.FromInt(ty, 0)}})
	out := ir.Var{Name: lw.freshName("c"), Ty: types.U16}
	blk.Append(&ir.Compare{Mode: ir.CmpNe, LHS: v, RHS: zero, Out: out})
	return out, nil
}
