// Package simplelang is a thin example front-end: a brace-delimited,
// statically typed expression language that lowers directly to pkg/ir,
// appending nodes straight onto each ir.Block the way pkg/irtext's parser
// does. It exists to drive the back-end pipeline end to end from
// something other than hand-built IR or the textual IR grammar - the
// same role the original source's ytest fixtures play for the Rust
// compiler - and is deliberately small: no modules, no structs, no
// generics, just functions, arithmetic, comparisons, calls, and if/return.
//
// Design grounded on the teacher's pkg/frontend AST (a Node marker
// interface with stmt()/expr() sub-markers distinguishing statement and
// expression positions), generalized from Python's statement grammar down
// to this language's handful of forms.
package simplelang

import "github.com/emberlang/emberc/pkg/types"

// Node is any AST node.
type Node interface{ node() }

// Stmt is a statement-position node.
type Stmt interface {
	Node
	stmt()
}

// Expr is an expression-position node.
type Expr interface {
	Node
	expr()
}

// Program is a parsed source file: an ordered list of function
// definitions.
type Program struct {
	Funcs []*FuncDef
}

func (*Program) node() {}

// Param is one function parameter: its declared type and name.
type Param struct {
	Ty   types.Tag
	Name string
}

// FuncDef is a function definition: a name, parameters, a return type,
// and a body of statements.
type FuncDef struct {
	Name   string
	Params []Param
	Ret    types.Tag
	Body   []Stmt
}

func (*FuncDef) node() {}

// Let declares a new local and binds it to value's result.
type Let struct {
	Name  string
	Value Expr
}

func (*Let) node() {}
func (*Let) stmt() {}

// Return yields Value, or nothing if Value is nil (a void return).
type Return struct {
	Value Expr
}

func (*Return) node() {}
func (*Return) stmt() {}

// If branches on Cond, running Then or Else.
type If struct {
	Cond Expr
	Then []Stmt
	Else []Stmt
}

func (*If) node() {}
func (*If) stmt() {}

// Ident references a parameter or a Let-bound local by name.
type Ident struct {
	Name string
}

func (*Ident) node() {}
func (*Ident) expr() {}

// IntLit is an integer literal, typed by context (the operation or
// declaration it appears in).
type IntLit struct {
	Value int64
}

func (*IntLit) node() {}
func (*IntLit) expr() {}

// BinOp is a kind of binary operator: arithmetic or comparison.
type BinOp int

const (
	OpAdd BinOp = iota
	OpSub
	OpMul
	OpDiv
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

// Binary applies Op to LHS and RHS.
type Binary struct {
	Op       BinOp
	LHS, RHS Expr
}

func (*Binary) node() {}
func (*Binary) expr() {}

// Call invokes a function named Callee with Args, evaluated left to right.
type Call struct {
	Callee string
	Args   []Expr
}

func (*Call) node() {}
func (*Call) expr() {}
