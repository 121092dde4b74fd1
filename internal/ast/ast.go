// Package ast defines Minima's command-form AST (spec.md §4.2): every
// statement lowers to a Command, and language features that look like
// syntax become calls to conventional head strings recognized later by the
// compiler. Grounded on original_source/src/mi_parse.h's command/arg-list
// shape.
package ast

import "github.com/db47h/minima/internal/value"

// ExprKind tags an expression node.
type ExprKind int

const (
	ExprLitInt ExprKind = iota
	ExprLitFloat
	ExprLitBool
	ExprLitString
	ExprLitVoid
	ExprIdent  // bare variable reference
	ExprHead   // identifier used as a command head (immediately followed by '(')
	ExprUnary
	ExprBinary
	ExprCall  // head(args...)
	ExprIndex // base[index]
	ExprBlock // { ... } literal -> nested Script
	ExprList  // [a, b, c]
	ExprDict  // [k:v, ...]
)

// Expr is a single expression node. Only the fields relevant to Kind are
// populated. CanFold mirrors spec.md §4.2's per-node fold hint: true only
// for pure literal leaves.
type Expr struct {
	Kind ExprKind

	Line, Col int
	CanFold   bool

	// Literals
	IntVal    int64
	FloatVal  float64
	BoolVal   bool
	StringVal string

	// Ident / Head
	Name string

	// Unary/Binary
	Op    string
	Left  *Expr
	Right *Expr

	// Call
	Head *Expr
	Args []*Expr

	// Index
	Base  *Expr
	Index *Expr

	// Block literal
	Body *Script

	// List/Dict literal
	Elems []*Expr // List elements, or alternating Dict key/value pairs

	// TypeSig is attached to a block literal that is a function body (by
	// the parser's `func` lowering) so the optional typechecker can inspect
	// declared parameter/return types (spec.md §4.2 MiFuncSig sidecar).
	TypeSig *TypeSig
}

// Fold marker helper: literal leaves are always foldable.
func Literal(k ExprKind, line, col int) *Expr {
	return &Expr{Kind: k, Line: line, Col: col, CanFold: true}
}

// Command is "(head_expr, arg_exprs[])" -- spec.md §4.2's uniform lowering
// target for every statement.
type Command struct {
	Line, Col int
	Head      *Expr
	Args      []*Expr
}

// Script is an ordered list of Commands (spec.md §4.2), used both for the
// top-level program and for any nested `{ ... }` block.
type Script struct {
	Commands []*Command
}

// TypeSig is the parsed function signature sidecar (spec.md §4.2's
// MiFuncSig): parameter/return TypeKinds plus optional variadic tail.
type TypeSig struct {
	Ret        value.TypeKind
	Params     []value.TypeKind
	Variadic   bool
	VariadicTy value.TypeKind
}
