// Package parser lowers Minima source text into a command-form AST
// (spec.md §4.2): a precedence-climbing expression parser plus statement
// lowering of control-flow surface syntax into calls to conventional head
// strings ("set", "if", "while", "foreach", "return", "cmd", "call") that
// the compiler recognizes as special forms.
//
// Grounded on original_source/src/mi_parse.c for exact lowering shapes, in
// the token-stream-with-lookahead structuring style of
// db47h/ngaro's asm/parser.go.
package parser

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/db47h/minima/internal/ast"
	"github.com/db47h/minima/internal/lexer"
	"github.com/db47h/minima/internal/token"
	"github.com/db47h/minima/internal/value"
)

// ParseError reports a syntax error with source position (spec.md §7).
type ParseError struct {
	File      string
	Line, Col int
	Msg       string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d:%d: ParseError: %s", e.File, e.Line, e.Col, e.Msg)
}

// Parser holds a two-token lookahead buffer over a Lexer.
type Parser struct {
	file string
	lx   *lexer.Lexer
	tok  token.Token
	peek token.Token
}

// New creates a Parser over src, tagging any errors with file for
// diagnostics (spec.md §7 "file:line:column").
func New(src, file string) *Parser {
	p := &Parser{file: file, lx: lexer.New(src)}
	p.tok = p.lx.Next()
	p.peek = p.lx.Next()
	return p
}

func (p *Parser) advance() {
	p.tok = p.peek
	p.peek = p.lx.Next()
}

func (p *Parser) errf(format string, args ...interface{}) error {
	return errors.WithStack(&ParseError{File: p.file, Line: p.tok.Line, Col: p.tok.Col, Msg: fmt.Sprintf(format, args...)})
}

func (p *Parser) expect(k token.Kind) (token.Token, error) {
	if p.tok.Kind != k {
		return token.Token{}, p.errf("expected %s, got %s %q", k, p.tok.Kind, p.tok.Lexeme)
	}
	t := p.tok
	p.advance()
	return t, nil
}

// ParseScript parses an entire source file (or a `{ ... }` body) into a
// Script of top-level Commands.
func (p *Parser) ParseScript() (*ast.Script, error) {
	scr := &ast.Script{}
	for p.tok.Kind != token.EOF && p.tok.Kind != token.RBrace {
		if p.tok.Kind == token.Error {
			return nil, p.errf("%s", p.tok.Lexeme)
		}
		cmd, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		if cmd != nil {
			scr.Commands = append(scr.Commands, cmd)
		}
	}
	return scr, nil
}

func headStr(name string, line, col int) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprHead, Name: name, Line: line, Col: col}
}

func litString(s string, line, col int) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprLitString, StringVal: s, Line: line, Col: col, CanFold: true}
}

func litInt(v int64, line, col int) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprLitInt, IntVal: v, Line: line, Col: col, CanFold: true}
}

// wrapBody wraps a single-statement body into a one-command block, per
// spec.md §4.2 "Branch bodies are wrapped into blocks if they are not
// already blocks"; callers only use it when the body is not a block literal.
func wrapBody(line, col int, stmt *ast.Command) *ast.Expr {
	return &ast.Expr{Kind: ast.ExprBlock, Line: line, Col: col, Body: &ast.Script{Commands: []*ast.Command{stmt}}}
}

func (p *Parser) parseStatement() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	switch p.tok.Kind {
	case token.Func:
		return p.parseFunc()
	case token.Return:
		return p.parseReturn()
	case token.If:
		return p.parseIf()
	case token.While:
		return p.parseWhile()
	case token.Foreach:
		return p.parseForeach()
	case token.Let:
		return p.parseLet()
	case token.LBrace:
		blk, err := p.parseBlockExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semi); err != nil {
			return nil, err
		}
		return &ast.Command{Line: line, Col: col, Head: headStr("call", line, col), Args: []*ast.Expr{blk}}, nil
	}
	return p.parseExprOrAssignStatement()
}

// parseExprOrAssignStatement handles `x = e;`, `obj[i] = e;`, and plain
// expression-statements compiled as an ordinary Command call.
func (p *Parser) parseExprOrAssignStatement() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind == token.Assign {
		p.advance()
		rhs, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Semi); err != nil {
			return nil, err
		}
		return lowerAssign(e, rhs, line, col)
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}
	return exprStatement(e, line, col)
}

// exprStatement turns a bare expression-statement into a Command. A call
// expression `f(x)` becomes the Command (f, x); any other expression is
// wrapped as a `call` of its single evaluated result (rare in practice, but
// keeps every statement reducible to a Command per spec.md §4.2).
func exprStatement(e *ast.Expr, line, col int) (*ast.Command, error) {
	if e.Kind == ast.ExprCall {
		return &ast.Command{Line: line, Col: col, Head: e.Head, Args: e.Args}, nil
	}
	return &ast.Command{Line: line, Col: col, Head: headStr("call", line, col), Args: []*ast.Expr{e}}, nil
}

// lowerAssign implements spec.md §4.2's `set` lowering: bare name or index
// expression lvalue.
func lowerAssign(lhs, rhs *ast.Expr, line, col int) (*ast.Command, error) {
	switch lhs.Kind {
	case ast.ExprIdent, ast.ExprHead:
		return &ast.Command{Line: line, Col: col, Head: headStr("set", line, col), Args: []*ast.Expr{litString(lhs.Name, lhs.Line, lhs.Col), rhs}}, nil
	case ast.ExprIndex:
		return &ast.Command{Line: line, Col: col, Head: headStr("set", line, col), Args: []*ast.Expr{lhs, rhs}}, nil
	}
	return nil, &ParseError{Line: line, Col: col, Msg: "invalid assignment target"}
}

func (p *Parser) parseLet() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	p.advance() // let
	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Assign); err != nil {
		return nil, err
	}
	rhs, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}
	// let is currently treated as assignment (spec.md §4.2).
	return &ast.Command{Line: line, Col: col, Head: headStr("set", line, col), Args: []*ast.Expr{litString(name.Lexeme, name.Line, name.Col), rhs}}, nil
}

func (p *Parser) parseReturn() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	p.advance()
	if p.tok.Kind == token.Semi {
		p.advance()
		return &ast.Command{Line: line, Col: col, Head: headStr("return", line, col)}, nil
	}
	e, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Semi); err != nil {
		return nil, err
	}
	return &ast.Command{Line: line, Col: col, Head: headStr("return", line, col), Args: []*ast.Expr{e}}, nil
}

func typeKindFromName(name string) (value.TypeKind, bool) {
	switch name {
	case "void":
		return value.TVoid, true
	case "bool":
		return value.TBool, true
	case "int":
		return value.TInt, true
	case "float":
		return value.TFloat, true
	case "string":
		return value.TString, true
	case "list":
		return value.TList, true
	case "dict":
		return value.TDict, true
	case "block", "func":
		return value.TBlock, true
	case "any":
		return value.TAny, true
	}
	return value.TAny, false
}

func (p *Parser) parseTypeName() (value.TypeKind, error) {
	if p.tok.Kind == token.Void {
		p.advance()
		return value.TVoid, nil
	}
	if p.tok.Kind != token.Ident {
		return value.TAny, p.errf("expected type name, got %s", p.tok.Kind)
	}
	name := p.tok.Lexeme
	p.advance()
	if name == "func" && p.tok.Kind == token.LParen {
		// func(params)->R further carries a function-type signature; at the
		// type-annotation level we only need the outer TFunc tag.
		p.advance()
		for p.tok.Kind != token.RParen {
			if _, err := p.parseTypeName(); err != nil {
				return value.TAny, err
			}
			if p.tok.Kind == token.Comma {
				p.advance()
				continue
			}
			break
		}
		if _, err := p.expect(token.RParen); err != nil {
			return value.TAny, err
		}
		if p.tok.Kind == token.Arrow {
			p.advance()
			if _, err := p.parseTypeName(); err != nil {
				return value.TAny, err
			}
		}
		return value.TFunc, nil
	}
	tk, ok := typeKindFromName(name)
	if !ok {
		return value.TAny, p.errf("unknown type name %q", name)
	}
	return tk, nil
}

// parseFunc lowers `func name(p: T, ...) -> R { body }` into
// cmd("name", "p0", ..., sig_list, { body }) (spec.md §4.2).
func (p *Parser) parseFunc() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	p.advance() // func
	name, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	var params []string
	var types []value.TypeKind
	for p.tok.Kind != token.RParen {
		pn, err := p.expect(token.Ident)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.Colon); err != nil {
			return nil, err
		}
		tk, err := p.parseTypeName()
		if err != nil {
			return nil, err
		}
		params = append(params, pn.Lexeme)
		types = append(types, tk)
		if p.tok.Kind == token.Comma {
			p.advance()
			continue
		}
		break
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	ret := value.TVoid
	if p.tok.Kind == token.Arrow {
		p.advance()
		ret, err = p.parseTypeName()
		if err != nil {
			return nil, err
		}
	}
	body, err := p.parseBlockExpr()
	if err != nil {
		return nil, err
	}
	body.TypeSig = &ast.TypeSig{Ret: ret, Params: types}

	sigElems := make([]*ast.Expr, 0, 2+len(types)+1)
	sigElems = append(sigElems, litInt(int64(ret), line, col))
	sigElems = append(sigElems, litInt(int64(len(types)), line, col))
	for _, t := range types {
		sigElems = append(sigElems, litInt(int64(t), line, col))
	}
	sigElems = append(sigElems, litInt(-1, line, col)) // no variadic tail
	sigList := &ast.Expr{Kind: ast.ExprList, Line: line, Col: col, Elems: sigElems}

	args := make([]*ast.Expr, 0, 1+len(params)+2)
	args = append(args, litString(name.Lexeme, name.Line, name.Col))
	for _, pn := range params {
		args = append(args, litString(pn, line, col))
	}
	args = append(args, sigList, body)
	return &ast.Command{Line: line, Col: col, Head: headStr("cmd", line, col), Args: args}, nil
}

// parseIf lowers `if (c) S (else if (c) S)* (else S)?` into
// if(c, S, "elseif", c, S, ..., "else", S) (spec.md §4.2).
func (p *Parser) parseIf() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	p.advance() // if
	var args []*ast.Expr
	cond, body, err := p.parseCondBody()
	if err != nil {
		return nil, err
	}
	args = append(args, cond, body)
	for p.tok.Kind == token.Else {
		eline, ecol := p.tok.Line, p.tok.Col
		p.advance() // else
		if p.tok.Kind == token.If {
			p.advance() // if
			cond, body, err := p.parseCondBody()
			if err != nil {
				return nil, err
			}
			args = append(args, litString("elseif", eline, ecol), cond, body)
			continue
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		body := bodyExprFromStatement(stmt, eline, ecol)
		args = append(args, litString("else", eline, ecol), body)
		break
	}
	return &ast.Command{Line: line, Col: col, Head: headStr("if", line, col), Args: args}, nil
}

func (p *Parser) parseCondBody() (cond, body *ast.Expr, err error) {
	if _, err = p.expect(token.LParen); err != nil {
		return
	}
	cond, err = p.parseExpr()
	if err != nil {
		return
	}
	if _, err = p.expect(token.RParen); err != nil {
		return
	}
	line, col := p.tok.Line, p.tok.Col
	stmt, err := p.parseStatement()
	if err != nil {
		return
	}
	body = bodyExprFromStatement(stmt, line, col)
	return
}

func bodyExprFromStatement(stmt *ast.Command, line, col int) *ast.Expr {
	if stmt.Head.Kind == ast.ExprHead && stmt.Head.Name == "call" && len(stmt.Args) == 1 && stmt.Args[0].Kind == ast.ExprBlock {
		return stmt.Args[0]
	}
	return wrapBody(line, col, stmt)
}

// parseWhile lowers `while (c) S` into while(c, {body}) (spec.md §4.2).
func (p *Parser) parseWhile() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	p.advance() // while
	cond, body, err := p.parseCondBody()
	if err != nil {
		return nil, err
	}
	return &ast.Command{Line: line, Col: col, Head: headStr("while", line, col), Args: []*ast.Expr{cond, body}}, nil
}

// parseForeach lowers `foreach (v, expr) { body }` into
// foreach("v", expr, {body}) (spec.md §4.2).
func (p *Parser) parseForeach() (*ast.Command, error) {
	line, col := p.tok.Line, p.tok.Col
	p.advance() // foreach
	if _, err := p.expect(token.LParen); err != nil {
		return nil, err
	}
	v, err := p.expect(token.Ident)
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.Comma); err != nil {
		return nil, err
	}
	container, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RParen); err != nil {
		return nil, err
	}
	body, err := p.parseBlockExpr()
	if err != nil {
		return nil, err
	}
	return &ast.Command{Line: line, Col: col, Head: headStr("foreach", line, col), Args: []*ast.Expr{litString(v.Lexeme, v.Line, v.Col), container, body}}, nil
}

func (p *Parser) parseBlockExpr() (*ast.Expr, error) {
	line, col := p.tok.Line, p.tok.Col
	if _, err := p.expect(token.LBrace); err != nil {
		return nil, err
	}
	scr, err := p.ParseScript()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(token.RBrace); err != nil {
		return nil, err
	}
	return &ast.Expr{Kind: ast.ExprBlock, Line: line, Col: col, Body: scr}, nil
}

// ---- expression parsing: precedence climbing (spec.md §4.2) ----

var binPrec = map[token.Kind]int{
	token.Star:    6,
	token.Slash:   6,
	token.Percent: 6,
	token.Plus:    5,
	token.Minus:   5,
	token.Lt:      4,
	token.LtEq:    4,
	token.Gt:      4,
	token.GtEq:    4,
	token.Eq:      3,
	token.Neq:     3,
	token.AndAnd:  2,
	token.OrOr:    1,
}

func (p *Parser) parseExpr() (*ast.Expr, error) { return p.parseBinary(0) }

func (p *Parser) parseBinary(minPrec int) (*ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		prec, ok := binPrec[p.tok.Kind]
		if !ok || prec < minPrec {
			return left, nil
		}
		opTok := p.tok
		p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &ast.Expr{
			Kind:    ast.ExprBinary,
			Op:      opTok.Kind.String(),
			Left:    left,
			Right:   right,
			Line:    opTok.Line,
			Col:     opTok.Col,
			CanFold: left.CanFold && right.CanFold,
		}
	}
}

func (p *Parser) parseUnary() (*ast.Expr, error) {
	switch p.tok.Kind {
	case token.Bang, token.Minus, token.Plus:
		opTok := p.tok
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		if opTok.Kind == token.Plus {
			return operand, nil
		}
		return &ast.Expr{Kind: ast.ExprUnary, Op: opTok.Kind.String(), Right: operand, Line: opTok.Line, Col: opTok.Col, CanFold: operand.CanFold}, nil
	}
	return p.parsePostfix()
}

func (p *Parser) parsePostfix() (*ast.Expr, error) {
	e, err := p.parsePrimary()
	if err != nil {
		return nil, err
	}
	for {
		switch p.tok.Kind {
		case token.LParen:
			line, col := p.tok.Line, p.tok.Col
			p.advance()
			var args []*ast.Expr
			for p.tok.Kind != token.RParen {
				a, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				args = append(args, a)
				if p.tok.Kind == token.Comma {
					p.advance()
					continue
				}
				break
			}
			if _, err := p.expect(token.RParen); err != nil {
				return nil, err
			}
			head := e
			if head.Kind == ast.ExprIdent {
				head = headStr(head.Name, head.Line, head.Col)
			}
			e = &ast.Expr{Kind: ast.ExprCall, Head: head, Args: args, Line: line, Col: col, CanFold: false}
		case token.LBracket:
			line, col := p.tok.Line, p.tok.Col
			p.advance()
			idx, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(token.RBracket); err != nil {
				return nil, err
			}
			e = &ast.Expr{Kind: ast.ExprIndex, Base: e, Index: idx, Line: line, Col: col, CanFold: false}
		default:
			return e, nil
		}
	}
}

func (p *Parser) parsePrimary() (*ast.Expr, error) {
	t := p.tok
	switch t.Kind {
	case token.Int:
		p.advance()
		var v int64
		fmt.Sscanf(t.Lexeme, "%d", &v)
		return litInt(v, t.Line, t.Col), nil
	case token.Float:
		p.advance()
		var v float64
		fmt.Sscanf(t.Lexeme, "%g", &v)
		return &ast.Expr{Kind: ast.ExprLitFloat, FloatVal: v, Line: t.Line, Col: t.Col, CanFold: true}, nil
	case token.String:
		p.advance()
		return litString(t.Lexeme, t.Line, t.Col), nil
	case token.True, token.False:
		p.advance()
		return &ast.Expr{Kind: ast.ExprLitBool, BoolVal: t.Kind == token.True, Line: t.Line, Col: t.Col, CanFold: true}, nil
	case token.Void:
		p.advance()
		return &ast.Expr{Kind: ast.ExprLitVoid, Line: t.Line, Col: t.Col, CanFold: true}, nil
	case token.Ident:
		p.advance()
		// A run of `ident :: ident ...` folds into one dotted name (spec.md
		// §4.6 "a::b::c" qualified access); resolving the segments against a
		// namespace chain is the VM's job, not the parser's.
		name := t.Lexeme
		for p.tok.Kind == token.ColonColon {
			p.advance()
			seg, err := p.expect(token.Ident)
			if err != nil {
				return nil, err
			}
			name += "::" + seg.Lexeme
		}
		// "the parser sometimes parses an identifier as a command-head
		// string vs. a variable based on the next token ('(')" (spec.md §9).
		if p.tok.Kind == token.LParen {
			return headStr(name, t.Line, t.Col), nil
		}
		return &ast.Expr{Kind: ast.ExprIdent, Name: name, Line: t.Line, Col: t.Col, CanFold: false}, nil
	case token.LParen:
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(token.RParen); err != nil {
			return nil, err
		}
		return e, nil
	case token.LBrace:
		return p.parseBlockExpr()
	case token.LBracket:
		return p.parseListOrDict()
	case token.Error:
		return nil, p.errf("%s", t.Lexeme)
	}
	return nil, p.errf("unexpected token %s %q", t.Kind, t.Lexeme)
}

// parseListOrDict parses `[a, b, c]`, `[k:v, ...]` and the empty dict `[:]`
// (spec.md §4.2).
func (p *Parser) parseListOrDict() (*ast.Expr, error) {
	line, col := p.tok.Line, p.tok.Col
	p.advance() // [
	if p.tok.Kind == token.Colon && p.peek.Kind == token.RBracket {
		p.advance()
		p.advance()
		return &ast.Expr{Kind: ast.ExprDict, Line: line, Col: col, CanFold: false}, nil
	}
	if p.tok.Kind == token.RBracket {
		p.advance()
		return &ast.Expr{Kind: ast.ExprList, Line: line, Col: col, CanFold: false}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind == token.Colon || p.tok.Kind == token.Assign {
		return p.parseDictTail(first, line, col)
	}
	elems := []*ast.Expr{first}
	for p.tok.Kind == token.Comma {
		p.advance()
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, e)
	}
	if _, err := p.expect(token.RBracket); err != nil {
		return nil, err
	}
	return &ast.Expr{Kind: ast.ExprList, Line: line, Col: col, Elems: elems, CanFold: false}, nil
}

func (p *Parser) parseDictTail(firstKey *ast.Expr, line, col int) (*ast.Expr, error) {
	p.advance() // : or =
	firstVal, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	elems := []*ast.Expr{firstKey, firstVal}
	for p.tok.Kind == token.Comma {
		p.advance()
		k, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.tok.Kind != token.Colon && p.tok.Kind != token.Assign {
			return nil, p.errf("expected ':' or '=' in dict literal")
		}
		p.advance()
		v, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elems = append(elems, k, v)
	}
	if _, err := p.expect(token.RBracket); err != nil {
		return nil, err
	}
	return &ast.Expr{Kind: ast.ExprDict, Line: line, Col: col, Elems: elems, CanFold: false}, nil
}
