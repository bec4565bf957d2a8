package driver

import (
	"fmt"
	"strings"

	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/machine"
)

// BuildAsm lowers fn and renders it as AT&T-syntax text, in the style of
// the teacher's codegen/amd64.Generator (one Fprintf line per
// instruction, "%reg" operand syntax, jump targets written as
// ".L<label>"). Only the function's own label is emitted; the
// instructions of all blocks follow it with no ".L<label>:" lines. This
// and BuildMachineCode must agree on what each machine.Instr means -
// testable property 5 - since both walk the identical lowered
// instruction stream; only the rendering differs.
func BuildAsm(b *Backend, m *ir.Module, fn *ir.Function) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\t.globl _%s\n", fn.Name)
	fmt.Fprintf(&sb, "_%s:\n", fn.Name)

	defer b.reset()
	instrs, err := buildMachineInstrsNoReset(b, m, fn)
	if err != nil {
		return "", err
	}
	for _, in := range instrs {
		sb.WriteString(renderInstr(in))
	}
	return sb.String(), nil
}

func renderInstr(in machine.Instr) string {
	if in.Label != "" && (in.Op == machine.Jmp || in.Op == machine.JmpCond || in.Op == machine.Call) {
		switch in.Op {
		case machine.Jmp:
			return fmt.Sprintf("\tjmp .L%s\n", in.Label)
		case machine.Call:
			return fmt.Sprintf("\tcallq _%s\n", in.Label)
		case machine.JmpCond:
			return fmt.Sprintf("\tj%s .L%s\n", condSuffix(in.Cond), in.Label)
		}
	}

	mnem := mnemonicText(in)
	switch in.NSrc {
	case 2:
		// Src1 is always the same location as Dst by construction (see
		// pkg/compile's three-address-to-two-address lowering), so the
		// rendered instruction is the normal two-operand AT&T form.
		return fmt.Sprintf("\t%s %s, %s\n", mnem, operandText(in.Src2), operandText(in.Dst))
	case 1:
		if in.Op == machine.Push || in.Op == machine.Div {
			return fmt.Sprintf("\t%s %s\n", mnem, operandText(in.Src1))
		}
		return fmt.Sprintf("\t%s %s, %s\n", mnem, operandText(in.Src1), operandText(in.Dst))
	default:
		switch in.Op {
		case machine.Pop:
			return fmt.Sprintf("\t%s %s\n", mnem, operandText(in.Dst))
		case machine.SetCC:
			return fmt.Sprintf("\tset%s %s\n", condSuffix(in.Cond), operandText(in.Dst))
		default:
			return fmt.Sprintf("\t%s\n", mnem)
		}
	}
}

func mnemonicText(in machine.Instr) string {
	suf := widthSuffix(dstWidth(in))
	switch in.Op {
	case machine.Move:
		return "mov" + suf
	case machine.Add:
		return "add" + suf
	case machine.Sub:
		return "sub" + suf
	case machine.Mul:
		return "imul" + suf
	case machine.Div:
		return "idiv" + suf
	case machine.And:
		return "and" + suf
	case machine.Or:
		return "or" + suf
	case machine.Xor:
		return "xor" + suf
	case machine.Cmp:
		return "cmp" + suf
	case machine.Return:
		return "leave\n\tretq"
	case machine.Cqto:
		return "cqto"
	default:
		return in.Op.String()
	}
}

// dstWidth picks the operand width (in bits) that determines a mnemonic's
// AT&T size suffix. Push/Pop always move a full 64-bit slot regardless of
// the value's declared width.
func dstWidth(in machine.Instr) int {
	switch in.Op {
	case machine.Push, machine.Pop:
		return 64
	}
	if in.Dst.Kind == machine.OperandReg && in.Dst.Reg.Name != "" {
		return in.Dst.Reg.Width
	}
	if in.Src1.Kind == machine.OperandReg && in.Src1.Reg.Name != "" {
		return in.Src1.Reg.Width
	}
	return 64
}

func widthSuffix(bits int) string {
	switch bits {
	case 32:
		return "l"
	case 16:
		return "w"
	case 8:
		return "b"
	default:
		return "q"
	}
}

func condSuffix(c machine.Cond) string {
	switch c {
	case machine.CondEq:
		return "e"
	case machine.CondNe:
		return "ne"
	case machine.CondLt:
		return "l"
	case machine.CondLe:
		return "le"
	case machine.CondGt:
		return "g"
	case machine.CondGe:
		return "ge"
	default:
		return ""
	}
}

func operandText(o machine.Operand) string {
	switch o.Kind {
	case machine.OperandReg:
		return "%" + o.Reg.Name
	case machine.OperandImm:
		return fmt.Sprintf("$%d", o.Imm.Signed())
	case machine.OperandMem:
		return fmt.Sprintf("%d(%%%s)", o.MemDisp, o.MemBase.Name)
	case machine.OperandSym:
		return "_" + o.Sym
	default:
		return "?"
	}
}
