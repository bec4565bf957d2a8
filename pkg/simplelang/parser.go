package simplelang

import (
	"fmt"

	"github.com/emberlang/emberc/pkg/types"
)

// ParseError reports a syntax error at a source line.
type ParseError struct {
	Line int
	Msg  string
}

func (e ParseError) Error() string { return fmt.Sprintf("simplelang: line %d: %s", e.Line, e.Msg) }

// Parser consumes a Tok slice front-to-back, in the same "peek current, pop
// on match" shape as pkg/irtext's Parser.
type Parser struct {
	toks []Tok
	pos  int
}

func NewParser(toks []Tok) *Parser {
	return &Parser{toks: toks}
}

// Parse parses a complete program: zero or more function definitions.
func Parse(src string) (*Program, error) {
	toks, err := NewLexer(src).Tokenize()
	if err != nil {
		return nil, err
	}
	p := NewParser(toks)
	prog := &Program{}
	for p.cur().Kind != TkEOF {
		fn, err := p.parseFunc()
		if err != nil {
			return nil, err
		}
		prog.Funcs = append(prog.Funcs, fn)
	}
	return prog, nil
}

func (p *Parser) cur() Tok {
	if p.pos >= len(p.toks) {
		return Tok{Kind: TkEOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) pop() Tok {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) expect(kind TokKind, what string) (Tok, error) {
	t := p.cur()
	if t.Kind != kind {
		return t, ParseError{Line: t.Line, Msg: fmt.Sprintf("expected %s, found %q", what, t.Text)}
	}
	return p.pop(), nil
}

func (p *Parser) parseType() (types.Tag, error) {
	t, err := p.expect(TkIdent, "a type name")
	if err != nil {
		return 0, err
	}
	tag, ok := types.ParseTag(t.Text)
	if !ok {
		return 0, ParseError{Line: t.Line, Msg: fmt.Sprintf("unknown type %q", t.Text)}
	}
	return tag, nil
}

func (p *Parser) parseFunc() (*FuncDef, error) {
	if _, err := p.expect(TkFunc, "'func'"); err != nil {
		return nil, err
	}
	name, err := p.expect(TkIdent, "a function name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TkLParen, "'('"); err != nil {
		return nil, err
	}
	var params []Param
	for p.cur().Kind != TkRParen {
		pname, err := p.expect(TkIdent, "a parameter name")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TkColon, "':'"); err != nil {
			return nil, err
		}
		ty, err := p.parseType()
		if err != nil {
			return nil, err
		}
		params = append(params, Param{Ty: ty, Name: pname.Text})
		if p.cur().Kind == TkComma {
			p.pop()
		}
	}
	p.pop() // )

	ret := types.Void
	if p.cur().Kind == TkArrow {
		p.pop()
		ret, err = p.parseType()
		if err != nil {
			return nil, err
		}
	}

	body, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	return &FuncDef{Name: name.Text, Params: params, Ret: ret, Body: body}, nil
}

func (p *Parser) parseBlock() ([]Stmt, error) {
	if _, err := p.expect(TkLBrace, "'{'"); err != nil {
		return nil, err
	}
	var stmts []Stmt
	for p.cur().Kind != TkRBrace && p.cur().Kind != TkEOF {
		s, err := p.parseStmt()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	if _, err := p.expect(TkRBrace, "'}'"); err != nil {
		return nil, err
	}
	return stmts, nil
}

func (p *Parser) parseStmt() (Stmt, error) {
	switch p.cur().Kind {
	case TkLet:
		return p.parseLet()
	case TkReturn:
		return p.parseReturn()
	case TkIf:
		return p.parseIf()
	default:
		t := p.cur()
		return nil, ParseError{Line: t.Line, Msg: fmt.Sprintf("expected a statement, found %q", t.Text)}
	}
}

func (p *Parser) parseLet() (Stmt, error) {
	p.pop() // let
	name, err := p.expect(TkIdent, "a variable name")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(TkAssign, "'='"); err != nil {
		return nil, err
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Let{Name: name.Text, Value: val}, nil
}

func (p *Parser) parseReturn() (Stmt, error) {
	p.pop() // return
	if p.cur().Kind == TkRBrace {
		return &Return{}, nil
	}
	val, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &Return{Value: val}, nil
}

func (p *Parser) parseIf() (Stmt, error) {
	p.pop() // if
	cond, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	then, err := p.parseBlock()
	if err != nil {
		return nil, err
	}
	var els []Stmt
	if p.cur().Kind == TkElse {
		p.pop()
		els, err = p.parseBlock()
		if err != nil {
			return nil, err
		}
	}
	return &If{Cond: cond, Then: then, Else: els}, nil
}

// precedence ties each comparison/arithmetic operator to a binding power;
// parseExpr uses climbing precedence (a thin Pratt parser) rather than one
// grammar rule per level, since this language only has three tiers.
var precedence = map[TokKind]int{
	TkEq: 1, TkNe: 1, TkLt: 1, TkLe: 1, TkGt: 1, TkGe: 1,
	TkPlus: 2, TkMinus: 2,
	TkStar: 3, TkSlash: 3,
}

var tokToOp = map[TokKind]BinOp{
	TkPlus: OpAdd, TkMinus: OpSub, TkStar: OpMul, TkSlash: OpDiv,
	TkEq: OpEq, TkNe: OpNe, TkLt: OpLt, TkLe: OpLe, TkGt: OpGt, TkGe: OpGe,
}

func (p *Parser) parseExpr() (Expr, error) {
	return p.parseBinary(0)
}

func (p *Parser) parseBinary(minPrec int) (Expr, error) {
	lhs, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := precedence[p.cur().Kind]
		if !ok || prec < minPrec {
			return lhs, nil
		}
		opTok := p.pop()
		rhs, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		lhs = &Binary{Op: tokToOp[opTok.Kind], LHS: lhs, RHS: rhs}
	}
}

func (p *Parser) parsePrimary() (Expr, error) {
	t := p.cur()
	switch t.Kind {
	case TkInt:
		p.pop()
		return &IntLit{Value: t.IntVal}, nil
	case TkLParen:
		p.pop()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(TkRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case TkIdent:
		p.pop()
		if p.cur().Kind != TkLParen {
			return &Ident{Name: t.Text}, nil
		}
		p.pop() // (
		var args []Expr
		for p.cur().Kind != TkRParen {
			a, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, a)
			if p.cur().Kind == TkComma {
				p.pop()
			}
		}
		p.pop() // )
		return &Call{Callee: t.Text, Args: args}, nil
	default:
		return nil, ParseError{Line: t.Line, Msg: fmt.Sprintf("expected an expression, found %q", t.Text)}
	}
}
