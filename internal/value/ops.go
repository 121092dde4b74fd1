package value

import (
	"fmt"

	"github.com/pkg/errors"
)

// OpError reports a TypeError-class failure from an operator applied to
// incompatible kinds (spec.md §7 NameError/TypeError taxonomy; construction
// and wrapping throughout uses github.com/pkg/errors per the teacher's
// convention).
type OpError struct {
	Op  string
	Msg string
}

func (e *OpError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Msg) }

func opErr(op, format string, args ...interface{}) error {
	return errors.WithStack(&OpError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

func isNumeric(v Value) bool { return v.Kind == Int || v.Kind == Float }

func asFloat(v Value) float64 {
	if v.Kind == Int {
		return float64(v.I)
	}
	return v.F
}

// Add, Sub, Mul implement spec.md §4.7's numeric promotion: if either
// operand is float, both promote to float and the result is float;
// otherwise int arithmetic.
func Add(a, b Value) (Value, error) { return arith("+", a, b, func(x, y int64) int64 { return x + y }, func(x, y float64) float64 { return x + y }) }
func Sub(a, b Value) (Value, error) { return arith("-", a, b, func(x, y int64) int64 { return x - y }, func(x, y float64) float64 { return x - y }) }
func Mul(a, b Value) (Value, error) { return arith("*", a, b, func(x, y int64) int64 { return x * y }, func(x, y float64) float64 { return x * y }) }

func arith(op string, a, b Value, fi func(int64, int64) int64, ff func(float64, float64) float64) (Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return Value{}, opErr(op, "operand kinds %s/%s are not numeric", a.Kind, b.Kind)
	}
	if a.Kind == Float || b.Kind == Float {
		return MakeFloat(ff(asFloat(a), asFloat(b))), nil
	}
	return MakeInt(fi(a.I, b.I)), nil
}

// Div always yields a float result (spec.md §4.7); division by zero
// reports a DivideByZero-class error and the caller substitutes void.
func Div(a, b Value) (Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return Value{}, opErr("/", "operand kinds %s/%s are not numeric", a.Kind, b.Kind)
	}
	db := asFloat(b)
	if db == 0 {
		return Value{}, errors.WithStack(&DivideByZeroError{})
	}
	return MakeFloat(asFloat(a) / db), nil
}

// Mod is int-only and truncates operands to int (spec.md §4.7).
func Mod(a, b Value) (Value, error) {
	if !isNumeric(a) || !isNumeric(b) {
		return Value{}, opErr("%", "operand kinds %s/%s are not numeric", a.Kind, b.Kind)
	}
	ai, bi := truncInt(a), truncInt(b)
	if bi == 0 {
		return Value{}, errors.WithStack(&DivideByZeroError{})
	}
	return MakeInt(ai % bi), nil
}

func truncInt(v Value) int64 {
	if v.Kind == Int {
		return v.I
	}
	return int64(v.F)
}

// DivideByZeroError is the DivideByZero error kind (spec.md §7).
type DivideByZeroError struct{}

func (e *DivideByZeroError) Error() string { return "division by zero" }

// Eq and Neq implement spec.md §4.7's equality rules: numeric promotion for
// int/float mixes, byte-wise string equality, bit equality for bool, and
// void == void is true (void vs any other kind is false).
func Eq(a, b Value) (Value, error) {
	eq, err := equal(a, b)
	if err != nil {
		return Value{}, err
	}
	return MakeBool(eq), nil
}

func Neq(a, b Value) (Value, error) {
	eq, err := equal(a, b)
	if err != nil {
		return Value{}, err
	}
	return MakeBool(!eq), nil
}

func equal(a, b Value) (bool, error) {
	if isNumeric(a) && isNumeric(b) {
		return asFloat(a) == asFloat(b), nil
	}
	if a.Kind == Void || b.Kind == Void {
		return a.Kind == Void && b.Kind == Void, nil
	}
	if a.Kind != b.Kind {
		return false, nil
	}
	switch a.Kind {
	case Bool:
		return a.B == b.B, nil
	case String:
		return a.S == b.S, nil
	case List:
		return a.List == b.List, nil
	case Dict:
		return a.Dict == b.Dict, nil
	case Pair:
		return a.Pair == b.Pair, nil
	case Block:
		return a.Block == b.Block, nil
	case Cmd:
		return a.Cmd == b.Cmd, nil
	case TypeVal:
		return a.T == b.T, nil
	}
	return false, opErr("==", "values of kind %s are not comparable", a.Kind)
}

// Compare implements the relational operators (< <= > >=): numeric mix on
// promoted double, byte-wise for strings; any other kind is an error
// (spec.md §4.7: "other string comparisons are errors" generalizes to: only
// numeric and string support ordering).
func Compare(op string, a, b Value) (Value, error) {
	if isNumeric(a) && isNumeric(b) {
		x, y := asFloat(a), asFloat(b)
		return MakeBool(applyCmp(op, cmpFloat(x, y))), nil
	}
	if a.Kind == String && b.Kind == String {
		return MakeBool(applyCmp(op, cmpString(a.S, b.S))), nil
	}
	return Value{}, opErr(op, "operand kinds %s/%s are not ordered", a.Kind, b.Kind)
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func applyCmp(op string, c int) bool {
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	case ">=":
		return c >= 0
	}
	return false
}

// And, Or implement `&&`/`||` over truthiness. Both operands are always
// evaluated eagerly -- the compiler emits both sides unconditionally,
// matching original_source/src/mi_compile.c's s_binop_to_op, which maps
// AND/OR straight through with no branch -- so these are plain boolean
// combinators, not short-circuit control flow.
func And(a, b Value) Value { return MakeBool(a.Truthy() && b.Truthy()) }
func Or(a, b Value) Value  { return MakeBool(a.Truthy() || b.Truthy()) }

// Neg, Not implement the unary operators.
func Neg(a Value) (Value, error) {
	switch a.Kind {
	case Int:
		return MakeInt(-a.I), nil
	case Float:
		return MakeFloat(-a.F), nil
	}
	return Value{}, opErr("neg", "operand kind %s is not numeric", a.Kind)
}

func Not(a Value) Value { return MakeBool(!a.Truthy()) }

// Len implements the LEN opcode over list/dict/string/pair.
func Len(a Value) (Value, error) {
	switch a.Kind {
	case List:
		return MakeInt(int64(a.List.Len())), nil
	case Dict:
		return MakeInt(int64(a.Dict.Len())), nil
	case String:
		return MakeInt(int64(len(a.S))), nil
	case Pair:
		return MakeInt(2), nil
	}
	return Value{}, opErr("len", "operand kind %s has no length", a.Kind)
}

// IndexError is the IndexError kind (spec.md §7).
type IndexError struct {
	Msg string
}

func (e *IndexError) Error() string { return e.Msg }

// Index implements the INDEX opcode over list/pair/dict/string/KVRef.
func Index(container, idx Value) (Value, error) {
	switch container.Kind {
	case List:
		if idx.Kind != Int {
			return Value{}, opErr("index", "list index must be int, got %s", idx.Kind)
		}
		v, ok := container.List.At(int(idx.I))
		if !ok {
			return Value{}, errors.WithStack(&IndexError{Msg: fmt.Sprintf("list index %d out of range (len %d)", idx.I, container.List.Len())})
		}
		return v, nil
	case Pair:
		if idx.Kind != Int || (idx.I != 0 && idx.I != 1) {
			return Value{}, errors.WithStack(&IndexError{Msg: "pair index must be 0 or 1"})
		}
		return container.Pair.Items[idx.I], nil
	case String:
		if idx.Kind != Int {
			return Value{}, opErr("index", "string index must be int, got %s", idx.Kind)
		}
		if idx.I < 0 || int(idx.I) >= len(container.S) {
			return Value{}, errors.WithStack(&IndexError{Msg: fmt.Sprintf("string index %d out of range (len %d)", idx.I, len(container.S))})
		}
		return MakeString(string(container.S[idx.I])), nil
	case Dict:
		v, _, ok := container.Dict.Get(idx)
		if !ok {
			return Value{}, errors.WithStack(&IndexError{Msg: fmt.Sprintf("dict has no key %s", idx)})
		}
		return v, nil
	case KVRef:
		if idx.Kind != Int || (idx.I != 0 && idx.I != 1) {
			return Value{}, errors.WithStack(&IndexError{Msg: "kvref index must be 0 or 1"})
		}
		k, v, ok := container.KV.Dict.EntryAt(container.KV.Entry)
		if !ok {
			return Value{}, errors.WithStack(&IndexError{Msg: "kvref points to a stale dict entry"})
		}
		if idx.I == 0 {
			return k, nil
		}
		return v, nil
	}
	return Value{}, opErr("index", "kind %s is not indexable", container.Kind)
}

// StoreIndex implements the STORE_INDEX opcode.
func StoreIndex(container, idx, val Value) error {
	switch container.Kind {
	case List:
		if idx.Kind != Int {
			return opErr("store_index", "list index must be int, got %s", idx.Kind)
		}
		if !container.List.Set(int(idx.I), val) {
			return errors.WithStack(&IndexError{Msg: fmt.Sprintf("list index %d out of range (len %d)", idx.I, container.List.Len())})
		}
		return nil
	case Dict:
		_, err := container.Dict.Set(idx, val)
		if err != nil {
			return errors.Wrap(err, "store_index")
		}
		return nil
	}
	return opErr("store_index", "kind %s is not index-assignable", container.Kind)
}
