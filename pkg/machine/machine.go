// Package machine defines the portable, architecture-agnostic instruction
// layer that lowering produces and every encoder consumes.
//
// Design: one flat Instr struct carrying a Mnemonic plus up to three
// Operands, mirroring how the teacher's codegen packages emit assembly
// line by line (mnemonic, dest, src) rather than a tree of typed
// instruction structs. Operands are a small tagged sum type instead of
// per-mnemonic typed fields, the same simplification REDESIGN FLAG 1
// applies to pkg/ir.
package machine

import (
	"fmt"

	"github.com/emberlang/emberc/pkg/types"
)

// Mnemonic is a portable opcode name. Every lowering path (Arith, Assign,
// Cast, Compare, Call, Br, BrCond, Return) maps to one or more of these.
type Mnemonic int

const (
	Move Mnemonic = iota
	Add
	Sub
	Mul
	Div
	And
	Or
	Xor
	Cmp
	SetCC
	Jmp
	JmpCond
	Call
	Return
	Push
	Pop
	Cqto // sign-extend rax into rdx:rax, ahead of a Div
)

func (m Mnemonic) String() string {
	switch m {
	case Move:
		return "mov"
	case Add:
		return "add"
	case Sub:
		return "sub"
	case Mul:
		return "imul"
	case Div:
		return "idiv"
	case And:
		return "and"
	case Or:
		return "or"
	case Xor:
		return "xor"
	case Cmp:
		return "cmp"
	case SetCC:
		return "setcc"
	case Jmp:
		return "jmp"
	case JmpCond:
		return "jcc"
	case Call:
		return "call"
	case Return:
		return "ret"
	case Push:
		return "push"
	case Pop:
		return "pop"
	case Cqto:
		return "cqto"
	default:
		return fmt.Sprintf("Mnemonic(%d)", int(m))
	}
}

// Cond is the condition code a JmpCond or SetCC instruction tests,
// carried separately from Mnemonic since the same jump/set opcode family
// forks on it.
type Cond int

const (
	CondNone Cond = iota
	CondEq
	CondNe
	CondLt
	CondLe
	CondGt
	CondGe
)

// RegClass distinguishes a physical register from a virtual one still
// awaiting allocation. pkg/compile allocates as it lowers and emits only
// Physical registers; no lowering path produces Virtual.
type RegClass int

const (
	Virtual RegClass = iota
	Physical
)

// Reg identifies a register, either virtual (by source Var name) or
// physical (by its width-specific name from pkg/regfile's catalog).
type Reg struct {
	Class RegClass
	Name  string // virtual: the Var name. physical: the alias for Width, e.g. "eax" at 32 bits.
	Width int    // bit width this reference addresses: 64, 32, 16, or 8.
}

// OperandKind tags the variant held by an Operand.
type OperandKind int

const (
	OperandReg OperandKind = iota
	OperandImm
	OperandMem
	OperandSym
)

// Operand is the tagged sum type instructions hold in operand position.
type Operand struct {
	Kind OperandKind
	Reg  Reg
	Imm  types.TypedInt
	// Mem is a base-register + displacement memory reference, e.g. spill
	// slots and stack arguments: disp(base).
	MemBase Reg
	MemDisp int32
	// Sym is a symbol reference (call target or data label).
	Sym string
}

func RegOperand(r Reg) Operand           { return Operand{Kind: OperandReg, Reg: r} }
func ImmOperand(v types.TypedInt) Operand { return Operand{Kind: OperandImm, Imm: v} }
func MemOperand(base Reg, disp int32) Operand {
	return Operand{Kind: OperandMem, MemBase: base, MemDisp: disp}
}
func SymOperand(sym string) Operand { return Operand{Kind: OperandSym, Sym: sym} }

func (o Operand) String() string {
	switch o.Kind {
	case OperandReg:
		return o.Reg.Name
	case OperandImm:
		return o.Imm.String()
	case OperandMem:
		return fmt.Sprintf("%d(%s)", o.MemDisp, o.MemBase.Name)
	case OperandSym:
		return "@" + o.Sym
	default:
		return "?"
	}
}

// Instr is one portable machine instruction: a mnemonic plus up to three
// operands (dest, src1, src2), and for JmpCond/SetCC, a condition code.
type Instr struct {
	Op    Mnemonic
	Cond  Cond
	Dst   Operand
	Src1  Operand
	Src2  Operand
	NSrc  int // number of Src operands populated (0, 1, or 2)
	Label string
}

func (i Instr) String() string {
	switch i.NSrc {
	case 2:
		return fmt.Sprintf("%s %s, %s, %s", i.Op, i.Dst, i.Src1, i.Src2)
	case 1:
		return fmt.Sprintf("%s %s, %s", i.Op, i.Dst, i.Src1)
	default:
		if i.Label != "" {
			return fmt.Sprintf("%s %s", i.Op, i.Label)
		}
		return i.Op.String()
	}
}
