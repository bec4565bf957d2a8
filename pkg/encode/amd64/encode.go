// Package amd64 encodes portable machine.Instr values into raw x86-64
// opcode bytes plus relocation records.
//
// Design: grounded on the teacher's codegen/amd64.Generator, which walks
// one ir.Inst per line and emits text; this encoder walks one
// machine.Instr per step and emits bytes (REX prefix, ModRM, 32-bit
// immediates; no SIB byte) instead of assembly mnemonics, producing the same
// instruction shapes (movq/addq/subq/imulq/idivq/cmpq/setCC/jmp/call/
// push/pop/leave-ret) the teacher's generateBinOp/generateCall/
// generateTerm hand-assemble as text.
package amd64

import (
	"encoding/binary"
	"fmt"

	"github.com/emberlang/emberc/pkg/logger"
	"github.com/emberlang/emberc/pkg/machine"
)

// LinkKind identifies what a relocation record patches.
type LinkKind int

const (
	LinkCallRel32 LinkKind = iota // 32-bit PC-relative call/jmp displacement
	LinkAbs64                     // 64-bit absolute address (data reference)
)

// Link is one relocation: at byte offset At within the encoded buffer,
// patch in symbol's resolved address (plus addend), per spec.md §4.6/§6.
// Special marks a block-local branch target (Jmp/JmpCond) rather than a
// cross-function call symbol; pkg/driver rewrites Special links' Symbol
// to "<function>:<block>" and fills From with the owning function's name
// before handing them to a caller, since the encoder itself only ever
// sees the bare block name and has no notion of which function it's
// encoding for.
type Link struct {
	Kind    LinkKind
	From    string
	Symbol  string
	At      int
	Addend  int64
	Special bool
}

// regID is the 4-bit x86-64 register encoding (low 3 bits in ModRM/SIB,
// high bit in REX.B/R/X), keyed by canonical 64-bit register name.
var regID = map[string]byte{
	"rax": 0, "rcx": 1, "rdx": 2, "rbx": 3,
	"rsp": 4, "rbp": 5, "rsi": 6, "rdi": 7,
	"r8": 8, "r9": 9, "r10": 10, "r11": 11,
	"r12": 12, "r13": 13, "r14": 14, "r15": 15,
}

func canon64(name string) string {
	switch name {
	case "eax", "ax", "al":
		return "rax"
	case "ebx", "bx", "bl":
		return "rbx"
	case "ecx", "cx", "cl":
		return "rcx"
	case "edx", "dx", "dl":
		return "rdx"
	case "esi", "si", "sil":
		return "rsi"
	case "edi", "di", "dil":
		return "rdi"
	case "esp", "sp", "spl":
		return "rsp"
	case "ebp", "bp", "bpl":
		return "rbp"
	case "r8d", "r8w", "r8b":
		return "r8"
	case "r9d", "r9w", "r9b":
		return "r9"
	case "r10d", "r10w", "r10b":
		return "r10"
	case "r11d", "r11w", "r11b":
		return "r11"
	case "r12d", "r12w", "r12b":
		return "r12"
	case "r13d", "r13w", "r13b":
		return "r13"
	case "r14d", "r14w", "r14b":
		return "r14"
	case "r15d", "r15w", "r15b":
		return "r15"
	default:
		return name
	}
}

func id(name string) (byte, bool) {
	r, ok := regID[canon64(name)]
	return r, ok
}

// rex builds a REX prefix. w selects 64-bit operand size; r/x/b extend
// ModRM.reg, SIB.index, and ModRM.rm/SIB.base respectively.
func rex(w, r, x, b bool) byte {
	var v byte = 0x40
	if w {
		v |= 0x08
	}
	if r {
		v |= 0x04
	}
	if x {
		v |= 0x02
	}
	if b {
		v |= 0x01
	}
	return v
}

func modrm(mod, reg, rm byte) byte {
	return (mod << 6) | ((reg & 7) << 3) | (rm & 7)
}

// wide64 reports whether o carries a 64-bit operand, the condition under
// which REX.W must be set. Memory operands are always treated as 64-bit,
// matching the spill slots pkg/compile addresses through rbp.
func wide64(o machine.Operand) bool {
	return o.Kind != machine.OperandReg || o.Reg.Width == 0 || o.Reg.Width == 64
}

// Encoder emits bytes and relocations for a sequence of instructions.
type Encoder struct {
	buf   []byte
	links []Link
}

func NewEncoder() *Encoder { return &Encoder{} }

func (e *Encoder) emit(b ...byte) { e.buf = append(e.buf, b...) }

func (e *Encoder) emitImm32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	e.emit(b[:]...)
}

// Encode appends the bytes (and any relocations) for instr and returns
// the byte offset it started at.
func (e *Encoder) Encode(instr machine.Instr) (int, error) {
	start := len(e.buf)
	var err error
	switch instr.Op {
	case machine.Move:
		err = e.encodeMove(instr)
	case machine.Add, machine.Sub, machine.And, machine.Or, machine.Xor, machine.Cmp:
		err = e.encodeArith(instr)
	case machine.Mul:
		err = e.encodeIMul(instr)
	case machine.Div:
		err = e.encodeIDiv(instr)
	case machine.Cqto:
		e.emit(0x48, 0x99) // REX.W CQTO
	case machine.SetCC:
		err = e.encodeSetCC(instr)
	case machine.Jmp:
		err = e.encodeJmp(instr)
	case machine.JmpCond:
		err = e.encodeJcc(instr)
	case machine.Call:
		err = e.encodeCall(instr)
	case machine.Return:
		e.emit(0xc9)       // leave
		e.emit(0xc3)       // ret
	case machine.Push:
		err = e.encodePush(instr)
	case machine.Pop:
		err = e.encodePop(instr)
	default:
		return 0, fmt.Errorf("amd64: unsupported mnemonic %s", instr.Op)
	}
	if err != nil {
		return 0, err
	}
	return start, nil
}

// EncodeAll encodes a full instruction stream, returning the raw bytes,
// every relocation gathered, and any error from the first unencodable
// instruction.
func EncodeAll(instrs []machine.Instr) ([]byte, []Link, error) {
	e := NewEncoder()
	for _, in := range instrs {
		if _, err := e.Encode(in); err != nil {
			return nil, nil, err
		}
	}
	logger.LogEncode("function", len(e.buf), len(e.links))
	return e.buf, e.links, nil
}

func (e *Encoder) encodeMove(in machine.Instr) error {
	w := wide64(in.Dst) && wide64(in.Src1)
	if in.Dst.Kind == machine.OperandReg && in.Src1.Kind == machine.OperandImm {
		dreg, ok := id(in.Dst.Reg.Name)
		if !ok {
			return fmt.Errorf("amd64: unknown register %s", in.Dst.Reg.Name)
		}
		e.emit(rex(w, false, false, dreg > 7))
		e.emit(0xc7)
		e.emit(modrm(3, 0, dreg))
		e.emitImm32(int32(in.Src1.Imm.Signed()))
		return nil
	}
	if in.Dst.Kind == machine.OperandReg && in.Src1.Kind == machine.OperandReg {
		dreg, ok1 := id(in.Dst.Reg.Name)
		sreg, ok2 := id(in.Src1.Reg.Name)
		if !ok1 || !ok2 {
			return fmt.Errorf("amd64: unknown register in mov")
		}
		e.emit(rex(w, sreg > 7, false, dreg > 7))
		e.emit(0x89) // mov r/m, r
		e.emit(modrm(3, sreg, dreg))
		return nil
	}
	if in.Dst.Kind == machine.OperandReg && in.Src1.Kind == machine.OperandMem {
		dreg, ok := id(in.Dst.Reg.Name)
		breg, ok2 := id(in.Src1.MemBase.Name)
		if !ok || !ok2 {
			return fmt.Errorf("amd64: unknown register in load")
		}
		e.emit(rex(w, dreg > 7, false, breg > 7))
		e.emit(0x8b) // mov r, r/m
		e.emit(modrm(2, dreg, breg))
		e.emitImm32(in.Src1.MemDisp)
		return nil
	}
	if in.Dst.Kind == machine.OperandMem && in.Src1.Kind == machine.OperandReg {
		sreg, ok := id(in.Src1.Reg.Name)
		breg, ok2 := id(in.Dst.MemBase.Name)
		if !ok || !ok2 {
			return fmt.Errorf("amd64: unknown register in store")
		}
		e.emit(rex(w, sreg > 7, false, breg > 7))
		e.emit(0x89) // mov r/m, r
		e.emit(modrm(2, sreg, breg))
		e.emitImm32(in.Dst.MemDisp)
		return nil
	}
	return fmt.Errorf("amd64: unsupported mov operand shape")
}

// arithOpcodeExt is the ModRM.reg extension selecting the arithmetic
// operation for the 0x81 (imm32) and the /r register-register opcode for
// each Mnemonic.
var arithOpcodeExt = map[machine.Mnemonic]byte{
	machine.Add: 0, machine.Or: 1, machine.And: 4,
	machine.Sub: 5, machine.Xor: 6, machine.Cmp: 7,
}

var arithRROpcode = map[machine.Mnemonic]byte{
	machine.Add: 0x01, machine.Or: 0x09, machine.And: 0x21,
	machine.Sub: 0x29, machine.Xor: 0x31, machine.Cmp: 0x39,
}

// encodeArith handles dst (op)= src2 where dst/src1 is the same register
// (three-address Add/Sub/.../Cmp is lowered to a prior Move, see
// pkg/compile), against either a register or an immediate source.
func (e *Encoder) encodeArith(in machine.Instr) error {
	dreg, ok := id(in.Dst.Reg.Name)
	if !ok {
		return fmt.Errorf("amd64: unsupported arith dest operand")
	}
	src := in.Src2
	if in.NSrc == 1 {
		src = in.Src1
	}
	w := wide64(in.Dst)
	if src.Kind == machine.OperandImm {
		ext, ok := arithOpcodeExt[in.Op]
		if !ok {
			return fmt.Errorf("amd64: unsupported arith op %s", in.Op)
		}
		e.emit(rex(w, false, false, dreg > 7))
		e.emit(0x81)
		e.emit(modrm(3, ext, dreg))
		e.emitImm32(int32(src.Imm.Signed()))
		return nil
	}
	if src.Kind == machine.OperandReg {
		opcode, ok := arithRROpcode[in.Op]
		if !ok {
			return fmt.Errorf("amd64: unsupported arith op %s", in.Op)
		}
		sreg, ok2 := id(src.Reg.Name)
		if !ok2 {
			return fmt.Errorf("amd64: unknown register in arith")
		}
		e.emit(rex(w, sreg > 7, false, dreg > 7))
		e.emit(opcode)
		e.emit(modrm(3, sreg, dreg))
		return nil
	}
	return fmt.Errorf("amd64: unsupported arith source operand")
}

func (e *Encoder) encodeIMul(in machine.Instr) error {
	dreg, ok := id(in.Dst.Reg.Name)
	if !ok {
		return fmt.Errorf("amd64: unsupported imul dest")
	}
	src := in.Src2
	if in.NSrc == 1 {
		src = in.Src1
	}
	sreg, ok2 := id(src.Reg.Name)
	if !ok2 {
		return fmt.Errorf("amd64: imul requires a register source")
	}
	e.emit(rex(wide64(in.Dst), dreg > 7, false, sreg > 7))
	e.emit(0x0f, 0xaf) // imul r, r/m
	e.emit(modrm(3, dreg, sreg))
	return nil
}

func (e *Encoder) encodeIDiv(in machine.Instr) error {
	sreg, ok := id(in.Src1.Reg.Name)
	if !ok {
		return fmt.Errorf("amd64: idiv requires a register divisor")
	}
	e.emit(rex(wide64(in.Src1), false, false, sreg > 7))
	e.emit(0xf7)
	e.emit(modrm(3, 7, sreg)) // /7 = idiv
	return nil
}

var setCCOpcode = map[machine.Cond]byte{
	machine.CondEq: 0x94, machine.CondNe: 0x95,
	machine.CondLt: 0x9c, machine.CondLe: 0x9e,
	machine.CondGt: 0x9f, machine.CondGe: 0x9d,
}

func (e *Encoder) encodeSetCC(in machine.Instr) error {
	op, ok := setCCOpcode[in.Cond]
	if !ok {
		return fmt.Errorf("amd64: unsupported condition code")
	}
	dreg, ok2 := id(in.Dst.Reg.Name)
	if !ok2 {
		return fmt.Errorf("amd64: unsupported setcc dest")
	}
	if dreg > 7 {
		e.emit(0x41) // REX.B, no W: setCC targets an 8-bit register
	}
	e.emit(0x0f, op)
	e.emit(modrm(3, 0, dreg))
	e.emit(0x48, 0x0f, 0xb6, modrm(3, dreg, dreg)) // movzx rax-style widen back to 64-bit
	return nil
}

func (e *Encoder) encodeJmp(in machine.Instr) error {
	e.emit(0xe9)
	at := len(e.buf)
	e.emitImm32(0)
	e.links = append(e.links, Link{Kind: LinkCallRel32, Symbol: in.Label, At: at, Special: true})
	return nil
}

var jccOpcode = map[machine.Cond]byte{
	machine.CondEq: 0x84, machine.CondNe: 0x85,
	machine.CondLt: 0x8c, machine.CondLe: 0x8e,
	machine.CondGt: 0x8f, machine.CondGe: 0x8d,
}

func (e *Encoder) encodeJcc(in machine.Instr) error {
	op, ok := jccOpcode[in.Cond]
	if !ok {
		return fmt.Errorf("amd64: unsupported jcc condition")
	}
	e.emit(0x0f, op)
	at := len(e.buf)
	e.emitImm32(0)
	e.links = append(e.links, Link{Kind: LinkCallRel32, Symbol: in.Label, At: at, Special: true})
	return nil
}

func (e *Encoder) encodeCall(in machine.Instr) error {
	e.emit(0xe8)
	at := len(e.buf)
	e.emitImm32(0)
	e.links = append(e.links, Link{Kind: LinkCallRel32, Symbol: in.Label, At: at})
	return nil
}

func (e *Encoder) encodePush(in machine.Instr) error {
	if in.Src1.Kind != machine.OperandReg {
		return fmt.Errorf("amd64: push requires a register operand")
	}
	r, ok := id(in.Src1.Reg.Name)
	if !ok {
		return fmt.Errorf("amd64: unknown register in push")
	}
	if r > 7 {
		e.emit(0x41)
	}
	e.emit(0x50 + (r & 7))
	return nil
}

func (e *Encoder) encodePop(in machine.Instr) error {
	if in.Dst.Kind != machine.OperandReg {
		return fmt.Errorf("amd64: pop requires a register operand")
	}
	r, ok := id(in.Dst.Reg.Name)
	if !ok {
		return fmt.Errorf("amd64: unknown register in pop")
	}
	if r > 7 {
		e.emit(0x41)
	}
	e.emit(0x58 + (r & 7))
	return nil
}
