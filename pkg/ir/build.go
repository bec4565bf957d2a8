// Builder turns calls into IR nodes appended to a cursor block.
//
// Design: a single mutable cursor (current function + current block),
// not a reentrant stack - matches the teacher's ir.Builder, which also
// tracks one currentFn/currentBl pair rather than a stack of contexts.
// Scoped block switches go through At, which saves and restores the
// cursor so a caller's own cursor position is never corrupted by a
// nested build step.
package ir

import (
	"fmt"

	"github.com/emberlang/emberc/pkg/logger"
	"github.com/emberlang/emberc/pkg/types"
)

// Builder appends nodes to the block the cursor currently points at.
type Builder struct {
	Module *Module

	fn  *Function
	blk *Block
}

func NewBuilder(m *Module) *Builder {
	return &Builder{Module: m}
}

// Function starts a new function in the module and clears the block
// cursor; callers create the entry block with Block.
func (b *Builder) Function(name string, ty FuncType, linkage Linkage) (*Function, error) {
	fn := NewFunction(name, ty, linkage)
	if err := b.Module.AddFunction(fn); err != nil {
		return nil, err
	}
	b.fn = fn
	b.blk = nil
	logger.Debug("ir: began function", "name", name)
	return fn, nil
}

// Block creates a new block in the current function and moves the
// cursor to it.
func (b *Builder) Block(name string) (*Block, error) {
	if b.fn == nil {
		return nil, fmt.Errorf("ir: Block called with no current function")
	}
	blk, err := b.fn.AddBlock(name)
	if err != nil {
		return nil, err
	}
	b.blk = blk
	return blk, nil
}

// At runs fn with the cursor temporarily switched to block, restoring the
// prior cursor position afterward. This is the scoped re-entry guard: a
// caller may build into an earlier block (e.g. patching a loop header)
// without losing its place in the block it was building when it called in.
func (b *Builder) At(block *Block, fn func()) {
	prev := b.blk
	b.blk = block
	fn()
	b.blk = prev
}

func (b *Builder) newTemp(ty types.Tag) Var {
	return Var{Name: fmt.Sprintf("%%t%d", b.fn.nextTemp()), Ty: ty}
}

func (b *Builder) push(n Node) {
	b.blk.push(n)
}

func varOf(o Operand) (Var, bool) {
	v, ok := o.(VarOperand)
	if !ok {
		return Var{}, false
	}
	return v.Var, true
}

func (b *Builder) arith(op ArithOp, lhs, rhs Operand) (Var, error) {
	ty, ok := OperandTag(lhs)
	if !ok {
		return Var{}, fmt.Errorf("ir: %s operand has no type", op)
	}
	out := b.newTemp(ty)
	b.push(&Arith{Op: op, LHS: lhs, RHS: rhs, Out: out})
	return out, nil
}

func (b *Builder) BuildAdd(lhs, rhs Operand) (Var, error) { return b.arith(OpAdd, lhs, rhs) }
func (b *Builder) BuildSub(lhs, rhs Operand) (Var, error) { return b.arith(OpSub, lhs, rhs) }
func (b *Builder) BuildMul(lhs, rhs Operand) (Var, error) { return b.arith(OpMul, lhs, rhs) }
func (b *Builder) BuildDiv(lhs, rhs Operand) (Var, error) { return b.arith(OpDiv, lhs, rhs) }
func (b *Builder) BuildAnd(lhs, rhs Operand) (Var, error) { return b.arith(OpAnd, lhs, rhs) }
func (b *Builder) BuildOr(lhs, rhs Operand) (Var, error)  { return b.arith(OpOr, lhs, rhs) }
func (b *Builder) BuildXor(lhs, rhs Operand) (Var, error) { return b.arith(OpXor, lhs, rhs) }

// BuildAssign copies src into a freshly allocated Var of type ty.
func (b *Builder) BuildAssign(src Operand, ty types.Tag) Var {
	out := b.newTemp(ty)
	b.push(&Assign{Out: out, Src: src})
	return out
}

// BuildCast reinterprets in's bits as outTy.
func (b *Builder) BuildCast(in Var, outTy types.Tag) Var {
	out := b.newTemp(outTy)
	b.push(&Cast{In: in, OutTy: outTy, Out: out})
	return out
}

// BuildCmp evaluates lhs `mode` rhs into a fresh u16-tagged boolean Var.
func (b *Builder) BuildCmp(mode CompareMode, lhs, rhs Var) Var {
	out := b.newTemp(types.U16)
	b.push(&Compare{Mode: mode, LHS: lhs, RHS: rhs, Out: out})
	return out
}

// BuildCall invokes target with args and returns the Var holding its result.
func (b *Builder) BuildCall(target *Function, args []Var) Var {
	out := b.newTemp(target.Ty.Ret)
	b.push(&Call{Target: target, Args: args, Out: out})
	return out
}

// BuildBr appends an unconditional jump to target.
func (b *Builder) BuildBr(target *Block) {
	b.push(&Br{Target: BlockRef{Name: target.Name}})
}

// BuildBrCond appends a conditional jump.
func (b *Builder) BuildBrCond(cond Var, ifTrue, ifFalse *Block) {
	b.push(&BrCond{Cond: cond, IfTrue: BlockRef{Name: ifTrue.Name}, IfFalse: BlockRef{Name: ifFalse.Name}})
}

// BuildRet appends a return terminator. src may be nil for a void return.
func (b *Builder) BuildRet(src Operand) {
	b.push(&Return{Src: src})
}
