// Parser turns a Token stream into an ir.Module, following the textual
// grammar in SPEC_FULL.md §6. Grounded on the original source's IrParser
// (a VecDeque<Token> consumed front-to-back, one parse_* method per
// grammar production) - translated into a Go slice-backed cursor with the
// same "peek current, pop_front on match" shape.
package irtext

import (
	"fmt"

	"github.com/emberlang/emberc/pkg/ir"
	"github.com/emberlang/emberc/pkg/types"
)

// ParseErrorKind enumerates the parser's error taxonomy (spec.md §7).
type ParseErrorKind int

const (
	OutOfTokens ParseErrorKind = iota
	UnexpectedToken
	UnknownType
	UnknownLinkage
	UnknownOpcode
	UnknownCompareMode
)

// ParseError is one parse failure with its source location.
type ParseError struct {
	Kind ParseErrorKind
	Loc  Loc
	Text string
}

func (e ParseError) Error() string {
	switch e.Kind {
	case OutOfTokens:
		return fmt.Sprintf("%s: ran out of tokens", e.Loc)
	case UnexpectedToken:
		return fmt.Sprintf("%s: unexpected token %q", e.Loc, e.Text)
	case UnknownType:
		return fmt.Sprintf("%s: unknown type %q", e.Loc, e.Text)
	case UnknownLinkage:
		return fmt.Sprintf("%s: unknown linkage %q", e.Loc, e.Text)
	case UnknownOpcode:
		return fmt.Sprintf("%s: unknown opcode %q", e.Loc, e.Text)
	case UnknownCompareMode:
		return fmt.Sprintf("%s: unknown compare mode %q", e.Loc, e.Text)
	default:
		return fmt.Sprintf("%s: parse error", e.Loc)
	}
}

// Parser consumes a Token slice front-to-back.
type Parser struct {
	toks []Token
	pos  int

	varTypes map[string]types.Tag
}

func NewParser(toks []Token) *Parser {
	return &Parser{toks: toks}
}

func (p *Parser) cur() Token {
	if p.pos >= len(p.toks) {
		return Token{Kind: TokEOF}
	}
	return p.toks[p.pos]
}

func (p *Parser) pop() Token {
	t := p.cur()
	if p.pos < len(p.toks) {
		p.pos++
	}
	return t
}

func (p *Parser) expect(kind TokenKind) (Token, error) {
	t := p.cur()
	if t.Kind != kind {
		return t, ParseError{Kind: UnexpectedToken, Loc: t.Loc, Text: t.Text}
	}
	return p.pop(), nil
}

func (p *Parser) expectIdent(text string) error {
	t := p.cur()
	if t.Kind != TokIdent || t.Text != text {
		return ParseError{Kind: UnexpectedToken, Loc: t.Loc, Text: t.Text}
	}
	p.pop()
	return nil
}

// Parse parses the full token stream into a Module. Following the
// parser/verifier "accumulate and surface" policy, a statement that
// fails to parse is skipped (advancing past the next top-level boundary)
// and its error appended, so one bad declaration doesn't hide errors in
// the rest of the file.
func Parse(toks []Token) (*ir.Module, []error) {
	p := NewParser(toks)
	m := ir.NewModule()
	var errs []error

	for p.cur().Kind != TokEOF {
		if err := p.parseTopLevel(m); err != nil {
			errs = append(errs, err)
			p.skipToNextTopLevel()
		}
	}
	return m, errs
}

func (p *Parser) skipToNextTopLevel() {
	for p.cur().Kind != TokEOF {
		if p.cur().Kind == TokIdent {
			switch p.cur().Text {
			case "const", "declare", "define":
				return
			}
		}
		p.pop()
	}
}

func (p *Parser) parseTopLevel(m *ir.Module) error {
	t := p.cur()
	if t.Kind != TokIdent {
		return ParseError{Kind: UnexpectedToken, Loc: t.Loc, Text: t.Text}
	}
	switch t.Text {
	case "const":
		return p.parseConst(m)
	case "declare":
		return p.parseDecl(m)
	case "define":
		return p.parseDef(m)
	default:
		return ParseError{Kind: UnexpectedToken, Loc: t.Loc, Text: t.Text}
	}
}

func parseLinkage(t Token) (ir.Linkage, bool) {
	return ir.ParseLinkage(t.Text)
}

func (p *Parser) tryParseLinkage() ir.Linkage {
	if t := p.cur(); t.Kind == TokIdent {
		if lk, ok := parseLinkage(t); ok {
			p.pop()
			return lk
		}
	}
	return ir.Local
}

func (p *Parser) parseConst(m *ir.Module) error {
	p.pop() // const
	linkage := p.tryParseLinkage()

	nameTok, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	if _, err := p.expect(TokEquals); err != nil {
		return err
	}

	var data []byte
	switch p.cur().Kind {
	case TokString:
		data = []byte(p.pop().Text)
	case TokLBracket:
		p.pop()
		for p.cur().Kind != TokRBracket {
			it, err := p.expect(TokInt)
			if err != nil {
				return err
			}
			data = append(data, byte(it.IntVal))
			if p.cur().Kind == TokComma {
				p.pop()
			}
		}
		p.pop() // ]
	default:
		return ParseError{Kind: UnexpectedToken, Loc: p.cur().Loc, Text: p.cur().Text}
	}

	return m.AddConst(&ir.Const{Name: nameTok.Text, Bytes: data, Linkage: linkage})
}

func (p *Parser) parseType() (types.Tag, error) {
	t, err := p.expect(TokIdent)
	if err != nil {
		return 0, err
	}
	tag, ok := types.ParseTag(t.Text)
	if !ok {
		return 0, ParseError{Kind: UnknownType, Loc: t.Loc, Text: t.Text}
	}
	return tag, nil
}

// paramList parses "(" (type VAR ("," type VAR)*)? ("...")? ")",
// returning the argument types, the matching parameter names (for
// define and declare alike), and whether the list ends in a variadic
// marker.
func (p *Parser) paramList() ([]types.Tag, []string, bool, error) {
	if _, err := p.expect(TokLParen); err != nil {
		return nil, nil, false, err
	}
	var tags []types.Tag
	var names []string
	variadic := false
	for p.cur().Kind != TokRParen {
		if p.cur().Kind == TokEllipsis {
			p.pop()
			variadic = true
			break
		}
		tag, err := p.parseType()
		if err != nil {
			return nil, nil, false, err
		}
		v, err := p.expect(TokVar)
		if err != nil {
			return nil, nil, false, err
		}
		tags = append(tags, tag)
		names = append(names, v.Text)
		p.varTypes[v.Text] = tag
		if p.cur().Kind == TokComma {
			p.pop()
		}
	}
	if _, err := p.expect(TokRParen); err != nil {
		return nil, nil, false, err
	}
	return tags, names, variadic, nil
}

func (p *Parser) parseDecl(m *ir.Module) error {
	p.pop() // declare
	p.varTypes = make(map[string]types.Tag)
	ret, err := p.parseType()
	if err != nil {
		return err
	}
	if _, err := p.expect(TokAt); err != nil {
		return err
	}
	name, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	args, names, variadic, err := p.paramList()
	if err != nil {
		return err
	}
	fn := ir.NewFunction(name.Text, ir.FuncType{Args: args, Ret: ret, Variadic: variadic}, ir.External)
	fn.ParamNames = names
	return m.AddFunction(fn)
}

func (p *Parser) parseDef(m *ir.Module) error {
	p.pop() // define
	p.varTypes = make(map[string]types.Tag)
	ret, err := p.parseType()
	if err != nil {
		return err
	}
	linkage := p.tryParseLinkage()
	if _, err := p.expect(TokAt); err != nil {
		return err
	}
	name, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	args, names, variadic, err := p.paramList()
	if err != nil {
		return err
	}
	fn := ir.NewFunction(name.Text, ir.FuncType{Args: args, Ret: ret, Variadic: variadic}, linkage)
	fn.ParamNames = names
	if err := m.AddFunction(fn); err != nil {
		return err
	}

	if _, err := p.expect(TokLBrace); err != nil {
		return err
	}
	for p.cur().Kind != TokRBrace {
		if err := p.parseBlock(fn); err != nil {
			return err
		}
	}
	_, err = p.expect(TokRBrace)
	return err
}

func (p *Parser) parseBlock(fn *ir.Function) error {
	name, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	if _, err := p.expect(TokColon); err != nil {
		return err
	}
	blk, err := fn.AddBlock(name.Text)
	if err != nil {
		return err
	}
	for p.cur().Kind == TokVar || p.isTerminatorStart() {
		if err := p.parseInstr(blk); err != nil {
			return err
		}
		if p.isBlockEnd() {
			break
		}
	}
	return nil
}

func (p *Parser) isTerminatorStart() bool {
	t := p.cur()
	return t.Kind == TokIdent && (t.Text == "ret" || t.Text == "br")
}

func (p *Parser) isBlockEnd() bool {
	t := p.cur()
	if t.Kind == TokRBrace {
		return true
	}
	// a new block header is IDENT ':' - lookahead one token
	if t.Kind == TokIdent && p.pos+1 < len(p.toks) && p.toks[p.pos+1].Kind == TokColon {
		return true
	}
	return false
}

func (p *Parser) parseInstr(blk *ir.Block) error {
	if p.cur().Kind == TokVar {
		return p.parseAssignInstr(blk)
	}
	return p.parseTerminator(blk)
}

func (p *Parser) parseAssignInstr(blk *ir.Block) error {
	dst := p.pop() // %name

	if _, err := p.expect(TokEquals); err != nil {
		return err
	}
	t := p.cur()
	if t.Kind != TokIdent {
		return ParseError{Kind: UnexpectedToken, Loc: t.Loc, Text: t.Text}
	}

	switch t.Text {
	case "add", "sub", "mul", "div", "and", "or", "xor":
		return p.parseArith(blk, dst.Text, t)
	case "cmp":
		return p.parseCmp(blk, dst.Text)
	case "cast":
		return p.parseCast(blk, dst.Text)
	case "call":
		return p.parseCall(blk, dst.Text)
	default:
		return p.parseConstAssign(blk, dst.Text)
	}
}

func (p *Parser) parseArith(blk *ir.Block, dst string, opTok Token) error {
	p.pop() // opcode
	op, ok := ir.ParseArithOp(opTok.Text)
	if !ok {
		return ParseError{Kind: UnknownOpcode, Loc: opTok.Loc, Text: opTok.Text}
	}
	ty, err := p.parseType()
	if err != nil {
		return err
	}
	lhs, err := p.parseOperand(ty)
	if err != nil {
		return err
	}
	if _, err := p.expect(TokComma); err != nil {
		return err
	}
	rhs, err := p.parseOperand(ty)
	if err != nil {
		return err
	}
	p.varTypes[dst] = ty
	blk.Append(&ir.Arith{Op: op, LHS: lhs, RHS: rhs, Out: ir.Var{Name: dst, Ty: ty}})
	return nil
}

func (p *Parser) parseCmp(blk *ir.Block, dst string) error {
	p.pop() // cmp
	modeTok, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	mode, ok := ir.ParseCompareMode(modeTok.Text)
	if !ok {
		return ParseError{Kind: UnknownCompareMode, Loc: modeTok.Loc, Text: modeTok.Text}
	}
	ty, err := p.parseType()
	if err != nil {
		return err
	}
	lhsTok, err := p.expect(TokVar)
	if err != nil {
		return err
	}
	if _, err := p.expect(TokComma); err != nil {
		return err
	}
	rhsTok, err := p.expect(TokVar)
	if err != nil {
		return err
	}
	p.varTypes[dst] = types.U16
	blk.Append(&ir.Compare{
		Mode: mode,
		LHS:  ir.Var{Name: lhsTok.Text, Ty: ty},
		RHS:  ir.Var{Name: rhsTok.Text, Ty: ty},
		Out:  ir.Var{Name: dst, Ty: types.U16},
	})
	return nil
}

func (p *Parser) parseCast(blk *ir.Block, dst string) error {
	p.pop() // cast
	inTok, err := p.expect(TokVar)
	if err != nil {
		return err
	}
	if err := p.expectIdent("to"); err != nil {
		return err
	}
	outTy, err := p.parseType()
	if err != nil {
		return err
	}
	inTy := p.varTypes[inTok.Text]
	p.varTypes[dst] = outTy
	blk.Append(&ir.Cast{In: ir.Var{Name: inTok.Text, Ty: inTy}, OutTy: outTy, Out: ir.Var{Name: dst, Ty: outTy}})
	return nil
}

func (p *Parser) parseCall(blk *ir.Block, dst string) error {
	p.pop() // call
	ty, err := p.parseType()
	if err != nil {
		return err
	}
	if _, err := p.expect(TokAt); err != nil {
		return err
	}
	target, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	if _, err := p.expect(TokLParen); err != nil {
		return err
	}
	var args []ir.Var
	for p.cur().Kind != TokRParen {
		argTy, err := p.parseType()
		if err != nil {
			return err
		}
		argVar, err := p.expect(TokVar)
		if err != nil {
			return err
		}
		args = append(args, ir.Var{Name: argVar.Text, Ty: argTy})
		if p.cur().Kind == TokComma {
			p.pop()
		}
	}
	p.pop() // )
	p.varTypes[dst] = ty

	targetFn := &ir.Function{Name: target.Text, Ty: ir.FuncType{Ret: ty}}
	blk.Append(&ir.Call{Target: targetFn, Args: args, Out: ir.Var{Name: dst, Ty: ty}})
	return nil
}

func (p *Parser) parseConstAssign(blk *ir.Block, dst string) error {
	ty, err := p.parseType()
	if err != nil {
		return err
	}
	var src ir.Operand
	switch p.cur().Kind {
	case TokInt:
		it := p.pop()
		src = ir.ImmOperand{Imm: types.FromInt(ty, it.IntVal)}
	case TokVar:
		v := p.pop()
		src = ir.VarOperand{Var: ir.Var{Name: v.Text, Ty: p.varTypes[v.Text]}}
	case TokIdent:
		ident := p.pop()
		src = ir.ConstOperand{Const: &ir.Const{Name: ident.Text}}
	default:
		return ParseError{Kind: UnexpectedToken, Loc: p.cur().Loc, Text: p.cur().Text}
	}
	p.varTypes[dst] = ty
	blk.Append(&ir.Assign{Out: ir.Var{Name: dst, Ty: ty}, Src: src})
	return nil
}

func (p *Parser) parseOperand(ty types.Tag) (ir.Operand, error) {
	switch p.cur().Kind {
	case TokInt:
		it := p.pop()
		return ir.ImmOperand{Imm: types.FromInt(ty, it.IntVal)}, nil
	case TokVar:
		v := p.pop()
		vty := ty
		if known, ok := p.varTypes[v.Text]; ok {
			vty = known
		}
		return ir.VarOperand{Var: ir.Var{Name: v.Text, Ty: vty}}, nil
	default:
		return nil, ParseError{Kind: UnexpectedToken, Loc: p.cur().Loc, Text: p.cur().Text}
	}
}

func (p *Parser) parseTerminator(blk *ir.Block) error {
	t, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	switch t.Text {
	case "ret":
		return p.parseRet(blk)
	case "br":
		return p.parseBr(blk)
	default:
		return ParseError{Kind: UnexpectedToken, Loc: t.Loc, Text: t.Text}
	}
}

func (p *Parser) parseRet(blk *ir.Block) error {
	if p.cur().Kind == TokIdent && p.cur().Text == "void" {
		p.pop()
		blk.Append(&ir.Return{Src: nil})
		return nil
	}
	ty, err := p.parseType()
	if err != nil {
		return err
	}
	op, err := p.parseOperand(ty)
	if err != nil {
		return err
	}
	blk.Append(&ir.Return{Src: op})
	return nil
}

func (p *Parser) parseBr(blk *ir.Block) error {
	if p.cur().Kind == TokIdent && p.cur().Text == "cond" {
		p.pop()
		cond, err := p.expect(TokVar)
		if err != nil {
			return err
		}
		ifTrue, err := p.expect(TokIdent)
		if err != nil {
			return err
		}
		if _, err := p.expect(TokComma); err != nil {
			return err
		}
		ifFalse, err := p.expect(TokIdent)
		if err != nil {
			return err
		}
		blk.Append(&ir.BrCond{
			Cond:    ir.Var{Name: cond.Text, Ty: p.varTypes[cond.Text]},
			IfTrue:  ir.BlockRef{Name: ifTrue.Text},
			IfFalse: ir.BlockRef{Name: ifFalse.Text},
		})
		return nil
	}
	target, err := p.expect(TokIdent)
	if err != nil {
		return err
	}
	blk.Append(&ir.Br{Target: ir.BlockRef{Name: target.Text}})
	return nil
}
