// Package ir implements the typed, three-address intermediate representation.
//
// Design: explicit control flow, no phi nodes, one node shape per operator
// with a tagged Var|Imm operand instead of per-shape generated variants
// (see DESIGN.md, "operand-shape polymorphism"). Blocks reference each
// other by name, never by direct pointer, so the entity graph never forms
// a cycle - resolution happens at lowering time.
package ir

import (
	"fmt"

	"github.com/emberlang/emberc/pkg/types"
)

// Linkage controls cross-module visibility of a function or constant.
type Linkage int

const (
	Local Linkage = iota
	Internal
	Private
	Public
	External
)

func (l Linkage) String() string {
	switch l {
	case Local:
		return "local"
	case Internal:
		return "internal"
	case Private:
		return "private"
	case Public:
		return "public"
	case External:
		return "external"
	default:
		return "local"
	}
}

// ParseLinkage parses a linkage keyword from the textual IR grammar.
func ParseLinkage(s string) (Linkage, bool) {
	switch s {
	case "local":
		return Local, true
	case "internal":
		return Internal, true
	case "private":
		return Private, true
	case "public":
		return Public, true
	case "external":
		return External, true
	default:
		return 0, false
	}
}

// Var identifies a value by name within a function. Two Vars with the same
// name refer to the same value.
type Var struct {
	Name string
	Ty   types.Tag
}

func (v Var) String() string { return v.Name }

// Const is a named, linkage-tagged blob of initialized data.
type Const struct {
	Name    string
	Bytes   []byte
	Linkage Linkage
}

// Operand is the tagged Var|Imm|Const sum type nodes hold in operand
// position. Arithmetic nodes only ever populate it with VarOperand or
// ImmOperand; Assign and Return additionally allow ConstOperand.
type Operand interface {
	isOperand()
	String() string
}

type VarOperand struct{ Var Var }

func (VarOperand) isOperand()       {}
func (o VarOperand) String() string { return o.Var.Name }

type ImmOperand struct{ Imm types.TypedInt }

func (ImmOperand) isOperand()       {}
func (o ImmOperand) String() string { return o.Imm.String() }

type ConstOperand struct{ Const *Const }

func (ConstOperand) isOperand()       {}
func (o ConstOperand) String() string { return "@" + o.Const.Name }

// OperandTag returns the scalar type an operand carries. Const operands
// have no intrinsic type - their use site supplies it - so ok is false.
func OperandTag(o Operand) (tag types.Tag, ok bool) {
	switch v := o.(type) {
	case VarOperand:
		return v.Var.Ty, true
	case ImmOperand:
		return v.Imm.Tag, true
	default:
		return 0, false
	}
}

// BlockRef is a by-name handle to a block within the owning function.
// Resolution happens through Function.Block; no direct pointer is kept so
// blocks never form reference cycles.
type BlockRef struct{ Name string }

// Block owns an ordered sequence of nodes. Names must be unique within
// the owning function; AddBlock accepts a repeat and pkg/verify reports it.
type Block struct {
	Name  string
	Nodes []Node
}

func (b *Block) push(n Node) { b.Nodes = append(b.Nodes, n) }

// Append adds n to the end of the block. Exported for collaborators that
// build nodes directly, such as pkg/irtext's parser; pkg/ir's own
// Builder goes through the unexported push from inside the package.
func (b *Block) Append(n Node) { b.push(n) }

// IsVarUsedAfter reports whether any node strictly after idx in the block
// references v. Lowering uses this to free registers and to elide dead
// results (see pkg/compile).
func (b *Block) IsVarUsedAfter(idx int, v Var) bool {
	for i := idx + 1; i < len(b.Nodes); i++ {
		if b.Nodes[i].Uses(v) {
			return true
		}
	}
	return false
}

// FuncType is a function's signature: parameter tags in order, return tag,
// and whether it accepts a trailing variadic argument list.
type FuncType struct {
	Args     []types.Tag
	Ret      types.Tag
	Variadic bool
}

// Function owns an ordered list of blocks and a name-indexed lookup.
type Function struct {
	Name    string
	Ty      FuncType
	Linkage Linkage
	Blocks  []*Block

	// ParamNames holds the textual-IR source names for each parameter,
	// parallel to Ty.Args. Empty when the function was built
	// programmatically through Builder; Arg then falls back to %argN.
	ParamNames []string

	blockIdx map[string]int
	tempID   int
}

func NewFunction(name string, ty FuncType, linkage Linkage) *Function {
	return &Function{
		Name:     name,
		Ty:       ty,
		Linkage:  linkage,
		blockIdx: make(map[string]int),
	}
}

// Arg materializes the parameter Var for argument i: its ParamNames entry
// when the function has one, otherwise the synthetic %argN.
func (f *Function) Arg(i int) Var {
	if i < len(f.ParamNames) {
		return Var{Name: f.ParamNames[i], Ty: f.Ty.Args[i]}
	}
	return Var{Name: fmt.Sprintf("%%arg%d", i), Ty: f.Ty.Args[i]}
}

// Block looks up a block by name within this function.
func (f *Function) Block(name string) (*Block, bool) {
	i, ok := f.blockIdx[name]
	if !ok {
		return nil, false
	}
	return f.Blocks[i], true
}

// AddBlock appends a new, empty block. A reused name is not rejected here
// - invariant 4 (block names unique within a function) is a verifier
// concern (spec.md §4.2's DuplicateBlock), so construction lets the
// collision through and verify.Function is what surfaces it, the same
// accumulate-and-surface posture the rest of the verifier uses. The
// first block registered under a name is the one name-based lookups
// (Block, BlockRef resolution) resolve to; later same-named blocks are
// still appended to Blocks so the verifier can see and report them.
func (f *Function) AddBlock(name string) (*Block, error) {
	b := &Block{Name: name}
	if _, exists := f.blockIdx[name]; !exists {
		f.blockIdx[name] = len(f.Blocks)
	}
	f.Blocks = append(f.Blocks, b)
	return b, nil
}

func (f *Function) nextTemp() int {
	id := f.tempID
	f.tempID++
	return id
}

// Module is the top-level IR container: functions and constants, both
// keyed by name, preserving insertion order.
type Module struct {
	Functions []*Function
	Constants []*Const

	funcIdx  map[string]int
	constIdx map[string]int
}

func NewModule() *Module {
	return &Module{
		funcIdx:  make(map[string]int),
		constIdx: make(map[string]int),
	}
}

// Function looks up a function by name.
func (m *Module) Function(name string) (*Function, bool) {
	i, ok := m.funcIdx[name]
	if !ok {
		return nil, false
	}
	return m.Functions[i], true
}

// Const looks up a constant by name.
func (m *Module) Const(name string) (*Const, bool) {
	i, ok := m.constIdx[name]
	if !ok {
		return nil, false
	}
	return m.Constants[i], true
}

// AddFunction registers fn, failing if its name is already taken
// (invariant 4: function names unique within a module).
func (m *Module) AddFunction(fn *Function) error {
	if _, exists := m.funcIdx[fn.Name]; exists {
		return fmt.Errorf("ir: duplicate function %q in module", fn.Name)
	}
	m.funcIdx[fn.Name] = len(m.Functions)
	m.Functions = append(m.Functions, fn)
	return nil
}

// AddConst registers c, failing if its name is already taken.
func (m *Module) AddConst(c *Const) error {
	if _, exists := m.constIdx[c.Name]; exists {
		return fmt.Errorf("ir: duplicate constant %q in module", c.Name)
	}
	m.constIdx[c.Name] = len(m.Constants)
	m.Constants = append(m.Constants, c)
	return nil
}
