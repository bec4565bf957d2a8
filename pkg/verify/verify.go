// Package verify walks a module's functions and accumulates every
// violated invariant before lowering ever runs.
//
// Design: accumulate-and-surface, not fail-fast - mirrors the teacher's
// ir.Builder returning a single error per build step, generalized here to
// collect every problem in one pass the way a linter reports every
// diagnostic rather than stopping at the first. Per-node invariant checks
// live on ir.Node.Verify; this package only orchestrates the walk and
// checks the invariants that span more than one node (terminator
// placement, undefined block references).
package verify

import (
	"fmt"

	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/logger"
)

// Module verifies every function in m, returning every accumulated error.
// A nil/empty result means m is safe to lower.
func Module(m *ir.Module) []ir.VerifyError {
	var errs []ir.VerifyError
	for _, fn := range m.Functions {
		errs = append(errs, Function(fn)...)
	}
	logger.LogVerify(fmt.Sprintf("%d functions", len(m.Functions)), len(errs))
	return errs
}

// Function verifies fn's blocks: each node's local invariants, that every
// block ends in exactly one terminator with no nodes after it, and that
// every BlockRef a terminator names resolves within fn. The defined-var
// set (invariant 3) accumulates across fn.Blocks in order rather than
// resetting per block, since a node may read a Var defined by any earlier
// node in the function - including one in an earlier block reached by an
// unconditional or conditional predecessor, not only its own block.
func Function(fn *ir.Function) []ir.VerifyError {
	var errs []ir.VerifyError
	errs = append(errs, duplicateBlocks(fn)...)
	defined := paramSet(fn.Ty, fn)
	for _, blk := range fn.Blocks {
		errs = append(errs, block(fn, blk, defined)...)
	}
	return errs
}

// duplicateBlocks reports invariant 4 (block names unique within a
// function): a name seen on more than one of fn.Blocks surfaces as one
// DuplicateBlock per repeat occurrence.
func duplicateBlocks(fn *ir.Function) []ir.VerifyError {
	var errs []ir.VerifyError
	seen := make(map[string]struct{}, len(fn.Blocks))
	for _, blk := range fn.Blocks {
		if _, ok := seen[blk.Name]; ok {
			errs = append(errs, ir.VerifyError{Kind: ir.DuplicateBlock, Name: blk.Name})
			continue
		}
		seen[blk.Name] = struct{}{}
	}
	return errs
}

func block(fn *ir.Function, blk *ir.Block, defined map[string]struct{}) []ir.VerifyError {
	var errs []ir.VerifyError
	sawTerminator := false
	for _, n := range blk.Nodes {
		if sawTerminator {
			errs = append(errs, ir.VerifyError{Kind: ir.UnreachableAfterTerminator, Name: blk.Name})
			break
		}
		for _, v := range readVars(n) {
			if _, ok := defined[v.Name]; !ok {
				errs = append(errs, ir.VerifyError{Kind: ir.UndefinedVar, Name: v.Name, Context: blk.Name})
			}
		}
		errs = append(errs, n.Verify(fn.Ty)...)
		if refs, ok := targets(n); ok {
			for _, ref := range refs {
				if _, found := fn.Block(ref.Name); !found {
					errs = append(errs, ir.VerifyError{Kind: ir.UndefinedVar, Name: ref.Name, Context: blk.Name})
				}
			}
		}
		if v, ok := definedVar(n); ok {
			defined[v.Name] = struct{}{}
		}
		if isTerminator(n) {
			sawTerminator = true
		}
	}
	if !sawTerminator && len(blk.Nodes) > 0 {
		errs = append(errs, ir.VerifyError{Kind: ir.UnreachableAfterTerminator, Name: blk.Name, Context: "missing terminator"})
	}
	return errs
}

// paramSet seeds the defined-variable set with fn's parameters (invariant
// 3: a Var is valid if defined by an earlier node or is a function
// parameter).
func paramSet(ty ir.FuncType, fn *ir.Function) map[string]struct{} {
	defined := make(map[string]struct{}, len(ty.Args))
	for i := range ty.Args {
		defined[fn.Arg(i).Name] = struct{}{}
	}
	return defined
}

// readVars returns the Vars n reads, excluding whatever it defines -
// used to check invariant 3 (producer-before-consumer) ahead of running
// n's own Verify.
func readVars(n ir.Node) []ir.Var {
	switch t := n.(type) {
	case *ir.Arith:
		return operandVars(t.LHS, t.RHS)
	case *ir.Assign:
		return operandVars(t.Src)
	case *ir.Cast:
		return []ir.Var{t.In}
	case *ir.Compare:
		return []ir.Var{t.LHS, t.RHS}
	case *ir.Call:
		return t.Args
	case *ir.BrCond:
		return []ir.Var{t.Cond}
	case *ir.Return:
		if t.Src == nil {
			return nil
		}
		return operandVars(t.Src)
	default:
		return nil
	}
}

func operandVars(ops ...ir.Operand) []ir.Var {
	var out []ir.Var
	for _, o := range ops {
		if v, ok := o.(ir.VarOperand); ok {
			out = append(out, v.Var)
		}
	}
	return out
}

// definedVar returns the Var n produces, if any.
func definedVar(n ir.Node) (ir.Var, bool) {
	switch t := n.(type) {
	case *ir.Arith:
		return t.Out, true
	case *ir.Assign:
		return t.Out, true
	case *ir.Cast:
		return t.Out, true
	case *ir.Compare:
		return t.Out, true
	case *ir.Call:
		return t.Out, true
	default:
		return ir.Var{}, false
	}
}

func isTerminator(n ir.Node) bool {
	switch n.(type) {
	case *ir.Br, *ir.BrCond, *ir.Return:
		return true
	default:
		return false
	}
}

func targets(n ir.Node) ([]ir.BlockRef, bool) {
	switch t := n.(type) {
	case *ir.Br:
		return []ir.BlockRef{t.Target}, true
	case *ir.BrCond:
		return []ir.BlockRef{t.IfTrue, t.IfFalse}, true
	default:
		return nil, false
	}
}
