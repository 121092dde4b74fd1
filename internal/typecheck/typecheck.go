// Package typecheck is Minima's advisory static checker: it walks parsed
// `func` declarations and their call sites, comparing declared
// parameter/return TypeKinds against the literal types it can see without
// running the program. cmd/minima runs it on every script it runs, after
// constant folding; its findings are printed as warnings, and -strict makes
// them fatal.
// Grounded on original_source/src/mi_typecheck.c/.h for scope and intent
// (not ported line by line -- spec.md scopes this pass as a small, optional
// share of the system), operating over internal/ast rather than any
// lower-level representation since everything it checks is visible in the
// parsed tree.
package typecheck

import (
	"fmt"
	"strings"

	"github.com/db47h/minima/internal/ast"
	"github.com/db47h/minima/internal/value"
)

// Diagnostic is one advisory finding, positioned like every other Minima
// diagnostic (spec.md §7 "file:line:col: message").
type Diagnostic struct {
	Line, Col int
	Msg       string
}

func (d Diagnostic) String() string { return fmt.Sprintf("%d:%d: %s", d.Line, d.Col, d.Msg) }

// funcSig is what Check needs from a `cmd(...)`-lowered function
// declaration: its signature plus the formal parameter names, so return
// statements inside its body can be checked against Ret.
type funcSig struct {
	sig    *ast.TypeSig
	params []string
}

type checker struct {
	fns   map[string]funcSig
	diags []Diagnostic
}

// Check walks script for `func` declarations and their call sites, returning
// every advisory finding. It never mutates script and never fails: spec.md
// §4.8 treats this pass as advisory unless the caller's -strict flag decides
// to treat a non-empty result as a compile error (see Errors below).
func Check(script *ast.Script) []Diagnostic {
	c := &checker{fns: make(map[string]funcSig)}
	c.collectFuncs(script)
	c.walkScript(script, nil)
	return c.diags
}

// Errors renders diags as a single combined error, for driver code that
// wants to fail the build in -strict mode (spec.md §6 `-strict`).
func Errors(diags []Diagnostic) error {
	if len(diags) == 0 {
		return nil
	}
	lines := make([]string, len(diags))
	for i, d := range diags {
		lines[i] = d.String()
	}
	return fmt.Errorf("typecheck: %d issue(s):\n%s", len(diags), strings.Join(lines, "\n"))
}

func (c *checker) report(line, col int, format string, args ...interface{}) {
	c.diags = append(c.diags, Diagnostic{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)})
}

// collectFuncs pre-scans every `cmd` declaration in the whole script
// (including nested ones) so a call site can be checked against a function
// declared later in the same file -- spec.md §4.4's CALL_CMD_DYN forward
// references resolve at runtime the same way.
func (c *checker) collectFuncs(s *ast.Script) {
	if s == nil {
		return
	}
	for _, cmd := range s.Commands {
		if fs, ok := funcDecl(cmd); ok {
			c.fns[fs.name] = funcSig{sig: fs.typeSig, params: fs.params}
		}
		for _, a := range cmd.Args {
			c.collectFuncsExpr(a)
		}
	}
}

func (c *checker) collectFuncsExpr(e *ast.Expr) {
	if e == nil {
		return
	}
	if e.Kind == ast.ExprBlock {
		c.collectFuncs(e.Body)
	}
	c.collectFuncsExpr(e.Left)
	c.collectFuncsExpr(e.Right)
	c.collectFuncsExpr(e.Head)
	c.collectFuncsExpr(e.Base)
	c.collectFuncsExpr(e.Index)
	for _, a := range e.Args {
		c.collectFuncsExpr(a)
	}
	for _, el := range e.Elems {
		c.collectFuncsExpr(el)
	}
}

type declared struct {
	name    string
	params  []string
	typeSig *ast.TypeSig
}

// funcDecl recognizes a `cmd(name, p0, ..., sigList, body)` command --
// exactly what internal/parser's parseFunc lowers `func` declarations to --
// and extracts its declared shape.
func funcDecl(cmd *ast.Command) (declared, bool) {
	if cmd.Head == nil || cmd.Head.Name != "cmd" || len(cmd.Args) < 3 {
		return declared{}, false
	}
	nameArg := cmd.Args[0]
	if nameArg.Kind != ast.ExprLitString {
		return declared{}, false
	}
	body := cmd.Args[len(cmd.Args)-1]
	if body.Kind != ast.ExprBlock || body.TypeSig == nil {
		return declared{}, false
	}
	var params []string
	for _, a := range cmd.Args[1 : len(cmd.Args)-2] {
		if a.Kind == ast.ExprLitString {
			params = append(params, a.StringVal)
		}
	}
	return declared{name: nameArg.StringVal, params: params, typeSig: body.TypeSig}, true
}

// walkScript checks every command in s. retTy is the return type of the
// innermost enclosing function body, or nil at the top level / inside a
// plain (non-function) block, where a bare `return` carries no declared
// type to check against.
func (c *checker) walkScript(s *ast.Script, retTy *value.TypeKind) {
	if s == nil {
		return
	}
	for _, cmd := range s.Commands {
		c.walkCommand(cmd, retTy)
	}
}

func (c *checker) walkCommand(cmd *ast.Command, retTy *value.TypeKind) {
	if fs, ok := funcDecl(cmd); ok {
		body := cmd.Args[len(cmd.Args)-1]
		inner := fs.typeSig.Ret
		c.checkParamArity(cmd, fs)
		c.walkScript(body.Body, &inner)
		return
	}
	if cmd.Head != nil && cmd.Head.Name == "return" && retTy != nil {
		c.checkReturn(cmd, *retTy)
	}
	if cmd.Head != nil && cmd.Head.Kind == ast.ExprHead {
		c.checkCall(&ast.Expr{Kind: ast.ExprCall, Head: cmd.Head, Args: cmd.Args, Line: cmd.Line, Col: cmd.Col})
	}
	for _, a := range cmd.Args {
		c.walkExpr(a, retTy)
	}
}

func (c *checker) checkParamArity(cmd *ast.Command, fs declared) {
	if len(fs.params) != len(fs.typeSig.Params) {
		c.report(cmd.Line, cmd.Col, "func %s: %d parameter(s) but %d declared type(s)",
			fs.name, len(fs.params), len(fs.typeSig.Params))
	}
}

func (c *checker) checkReturn(cmd *ast.Command, want value.TypeKind) {
	if len(cmd.Args) == 0 {
		if want != value.TVoid {
			c.report(cmd.Line, cmd.Col, "return: missing value, function declares -> %s", want)
		}
		return
	}
	got, ok := literalKind(cmd.Args[0])
	if !ok {
		return // not a literal we can check without running the program
	}
	if !kindCompatible(want, got) {
		c.report(cmd.Args[0].Line, cmd.Args[0].Col, "return: got %s, function declares -> %s", got, want)
	}
}

// walkExpr recurses through e, checking call-site arity/types against any
// known function signature and descending into nested blocks.
func (c *checker) walkExpr(e *ast.Expr, retTy *value.TypeKind) {
	if e == nil {
		return
	}
	switch e.Kind {
	case ast.ExprCall:
		c.checkCall(e)
	case ast.ExprBlock:
		c.walkScript(e.Body, retTy)
	}
	c.walkExpr(e.Left, retTy)
	c.walkExpr(e.Right, retTy)
	c.walkExpr(e.Base, retTy)
	c.walkExpr(e.Index, retTy)
	for _, a := range e.Args {
		c.walkExpr(a, retTy)
	}
	for _, el := range e.Elems {
		c.walkExpr(el, retTy)
	}
}

func (c *checker) checkCall(e *ast.Expr) {
	if e.Head == nil || e.Head.Kind != ast.ExprHead {
		return
	}
	fs, ok := c.fns[e.Head.Name]
	if !ok || fs.sig.Variadic {
		return
	}
	if len(e.Args) != len(fs.sig.Params) {
		c.report(e.Line, e.Col, "%s: expected %d argument(s), got %d", e.Head.Name, len(fs.sig.Params), len(e.Args))
		return
	}
	for i, arg := range e.Args {
		got, ok := literalKind(arg)
		if !ok {
			continue
		}
		if !kindCompatible(fs.sig.Params[i], got) {
			c.report(arg.Line, arg.Col, "%s: argument %d: expected %s, got %s", e.Head.Name, i, fs.sig.Params[i], got)
		}
	}
}

// literalKind reports the TypeKind of e when e is a literal leaf whose type
// is known without evaluating the program; folding (internal/fold) already
// collapses constant subexpressions to literals before this pass would
// normally run, so this also covers any constant-foldable expression.
func literalKind(e *ast.Expr) (value.TypeKind, bool) {
	switch e.Kind {
	case ast.ExprLitInt:
		return value.TInt, true
	case ast.ExprLitFloat:
		return value.TFloat, true
	case ast.ExprLitBool:
		return value.TBool, true
	case ast.ExprLitString:
		return value.TString, true
	case ast.ExprLitVoid:
		return value.TVoid, true
	}
	return value.TAny, false
}

// kindCompatible mirrors vm/call.go's kindMatches rule: TAny always
// matches, TFloat accepts TInt's numeric promotion, everything else is
// exact (spec.md §4.2 "types are a small closed set", no implicit
// coercions besides int->float).
func kindCompatible(want, got value.TypeKind) bool {
	if want == value.TAny {
		return true
	}
	if want == value.TFloat && got == value.TInt {
		return true
	}
	return want == got
}
