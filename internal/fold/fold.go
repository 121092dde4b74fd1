// Package fold implements Minima's constant folder (spec.md §4.3): a pure
// AST -> AST simplification pass over subtrees whose operands are literals
// and whose operator is arithmetic/comparison/logical. It never evaluates
// variables, commands, or container literals, and allocates no runtime
// containers — per spec.md §9's design note, folding is kept a pure
// front-end pass with no runtime dependency (unlike the original's
// legacy AST-eval-path folder in original_source/src/bkp/mi_fold.h, which
// this rewrite does not follow; see DESIGN.md).
package fold

import (
	"github.com/db47h/minima/internal/ast"
	"github.com/db47h/minima/internal/value"
)

// Script folds every command's argument/head expressions in place and
// returns the same Script for convenience.
func Script(s *ast.Script) *ast.Script {
	for _, cmd := range s.Commands {
		cmd.Head = Expr(cmd.Head)
		for i, a := range cmd.Args {
			cmd.Args[i] = Expr(a)
		}
	}
	return s
}

// Expr folds e's subtree bottom-up, returning a (possibly new) literal node
// in place of any foldable arithmetic/comparison/logical subexpression.
func Expr(e *ast.Expr) *ast.Expr {
	if e == nil {
		return nil
	}
	switch e.Kind {
	case ast.ExprUnary:
		e.Right = Expr(e.Right)
		if e.Right.CanFold && isLiteral(e.Right) {
			if folded, ok := foldUnary(e.Op, e.Right); ok {
				return folded
			}
		}
		return e
	case ast.ExprBinary:
		e.Left = Expr(e.Left)
		e.Right = Expr(e.Right)
		if e.Left.CanFold && e.Right.CanFold && isLiteral(e.Left) && isLiteral(e.Right) {
			if folded, ok := foldBinary(e.Op, e.Left, e.Right); ok {
				return folded
			}
		}
		return e
	case ast.ExprCall:
		e.Head = Expr(e.Head)
		for i, a := range e.Args {
			e.Args[i] = Expr(a)
		}
		return e
	case ast.ExprIndex:
		e.Base = Expr(e.Base)
		e.Index = Expr(e.Index)
		return e
	case ast.ExprBlock:
		if e.Body != nil {
			Script(e.Body)
		}
		return e
	case ast.ExprList, ast.ExprDict:
		for i, el := range e.Elems {
			e.Elems[i] = Expr(el)
		}
		return e
	}
	return e
}

func isLiteral(e *ast.Expr) bool {
	switch e.Kind {
	case ast.ExprLitInt, ast.ExprLitFloat, ast.ExprLitBool, ast.ExprLitString, ast.ExprLitVoid:
		return true
	}
	return false
}

func toValue(e *ast.Expr) value.Value {
	switch e.Kind {
	case ast.ExprLitInt:
		return value.MakeInt(e.IntVal)
	case ast.ExprLitFloat:
		return value.MakeFloat(e.FloatVal)
	case ast.ExprLitBool:
		return value.MakeBool(e.BoolVal)
	case ast.ExprLitString:
		return value.MakeString(e.StringVal)
	case ast.ExprLitVoid:
		return value.Void_()
	}
	return value.Value{}
}

func fromValue(v value.Value, line, col int) *ast.Expr {
	switch v.Kind {
	case value.Int:
		return &ast.Expr{Kind: ast.ExprLitInt, IntVal: v.I, Line: line, Col: col, CanFold: true}
	case value.Float:
		return &ast.Expr{Kind: ast.ExprLitFloat, FloatVal: v.F, Line: line, Col: col, CanFold: true}
	case value.Bool:
		return &ast.Expr{Kind: ast.ExprLitBool, BoolVal: v.B, Line: line, Col: col, CanFold: true}
	case value.String:
		return &ast.Expr{Kind: ast.ExprLitString, StringVal: v.S, Line: line, Col: col, CanFold: true}
	case value.Void:
		return &ast.Expr{Kind: ast.ExprLitVoid, Line: line, Col: col, CanFold: true}
	}
	return nil
}

func foldUnary(op string, operand *ast.Expr) (*ast.Expr, bool) {
	v := toValue(operand)
	switch op {
	case "-":
		r, err := value.Neg(v)
		if err != nil {
			return nil, false
		}
		return fromValue(r, operand.Line, operand.Col), true
	case "!":
		return fromValue(value.Not(v), operand.Line, operand.Col), true
	}
	return nil, false
}

func foldBinary(op string, l, r *ast.Expr) (*ast.Expr, bool) {
	lv, rv := toValue(l), toValue(r)
	var out value.Value
	var err error
	switch op {
	case "+":
		out, err = value.Add(lv, rv)
	case "-":
		out, err = value.Sub(lv, rv)
	case "*":
		out, err = value.Mul(lv, rv)
	case "/":
		out, err = value.Div(lv, rv)
	case "%":
		out, err = value.Mod(lv, rv)
	case "==":
		out, err = value.Eq(lv, rv)
	case "!=":
		out, err = value.Neq(lv, rv)
	case "<", "<=", ">", ">=":
		out, err = value.Compare(op, lv, rv)
	case "&&":
		out = value.And(lv, rv)
	case "||":
		out = value.Or(lv, rv)
	default:
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	return fromValue(out, l.Line, l.Col), true
}
