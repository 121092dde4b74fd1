// Package value implements Minima's tagged runtime values and its
// reference-counted heap (spec.md §3). It is grounded on
// original_source/src/mi_runtime.h's MiRtValue/MiRtBlock/MiRtList tagged
// union, extended with the Dict/Cmd/KVRef/Type kinds spec.md's data model
// adds on top of that snapshot.
//
// Ownership is re-expressed (per spec.md §9) as explicit retain/release
// pairs rather than the original's manual malloc/free: every heap object
// embeds a refcount, Retain/Release walk the object graph, and Release
// frees (and decrements the package-level live-object counter) once the
// count reaches zero. Cycles are not collected, matching spec.md's
// explicit non-goal.
package value

import "fmt"

// Kind is the tag of a Value's active payload.
type Kind int

const (
	Void Kind = iota
	Int
	Float
	Bool
	String
	List
	Dict
	Pair
	Block
	Cmd
	KVRef
	TypeVal
)

func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Int:
		return "int"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case String:
		return "string"
	case List:
		return "list"
	case Dict:
		return "dict"
	case Pair:
		return "pair"
	case Block:
		return "block"
	case Cmd:
		return "cmd"
	case KVRef:
		return "kvref"
	case TypeVal:
		return "type"
	}
	return "unknown"
}

// TypeKind is the closed set of type tags used by function signatures and
// the `type` builtin (spec.md §4.2: "types are a small closed set").
type TypeKind int

const (
	TAny TypeKind = iota
	TVoid
	TBool
	TInt
	TFloat
	TString
	TList
	TDict
	TBlock
	TFunc
)

func (t TypeKind) String() string {
	switch t {
	case TVoid:
		return "void"
	case TBool:
		return "bool"
	case TInt:
		return "int"
	case TFloat:
		return "float"
	case TString:
		return "string"
	case TList:
		return "list"
	case TDict:
		return "dict"
	case TBlock:
		return "block"
	case TFunc:
		return "func"
	case TAny:
		return "any"
	}
	return "unknown"
}

// FuncTypeSig describes a command's required parameter/return types,
// mirroring the original's MiFuncSig sidecar signature (spec.md §4.2/§4.6).
type FuncTypeSig struct {
	Ret         TypeKind
	Params      []TypeKind
	Variadic    bool
	VariadicTy  TypeKind // type of the variadic tail; TAny disables tail checking
}

// Value is Minima's tagged runtime value (spec.md §3). Only the field
// matching Kind is meaningful.
type Value struct {
	Kind Kind

	I int64
	F float64
	B bool
	S string

	List  *ListObj
	Dict  *DictObj
	Pair  *PairObj
	Block *BlockObj
	Cmd   *CmdObj
	KV    KVRef

	T TypeKind // valid when Kind == TypeVal
}

// KVRef is a non-owning view into a live Dict entry (spec.md GLOSSARY).
// It remains valid until the referenced entry is replaced or the table is
// rehashed; holding one across a mutation is undefined per spec.md §3.
type KVRef struct {
	Dict  *DictObj
	Entry int
}

func Void_() Value              { return Value{Kind: Void} }
func MakeInt(v int64) Value     { return Value{Kind: Int, I: v} }
func MakeFloat(v float64) Value { return Value{Kind: Float, F: v} }
func MakeBool(v bool) Value     { return Value{Kind: Bool, B: v} }
func MakeString(v string) Value { return Value{Kind: String, S: v} }
func MakeType(t TypeKind) Value { return Value{Kind: TypeVal, T: t} }

func MakeList(l *ListObj) Value   { l.retainSelf(); return Value{Kind: List, List: l} }
func MakeDict(d *DictObj) Value   { d.retainSelf(); return Value{Kind: Dict, Dict: d} }
func MakePair(p *PairObj) Value   { p.retainSelf(); return Value{Kind: Pair, Pair: p} }
func MakeBlock(b *BlockObj) Value { b.retainSelf(); return Value{Kind: Block, Block: b} }
func MakeCmd(c *CmdObj) Value     { c.retainSelf(); return Value{Kind: Cmd, Cmd: c} }
func MakeKVRef(kv KVRef) Value    { return Value{Kind: KVRef, KV: kv} }

// Truthy implements spec.md §4.6's branch-opcode truthiness rule: false, 0,
// 0.0, empty string, and void are falsy; everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Kind {
	case Void:
		return false
	case Bool:
		return v.B
	case Int:
		return v.I != 0
	case Float:
		return v.F != 0
	case String:
		return v.S != ""
	default:
		return true
	}
}

func (v Value) String() string {
	switch v.Kind {
	case Void:
		return "void"
	case Int:
		return fmt.Sprintf("%d", v.I)
	case Float:
		return fmt.Sprintf("%g", v.F)
	case Bool:
		if v.B {
			return "true"
		}
		return "false"
	case String:
		return v.S
	case List:
		return v.List.String()
	case Dict:
		return v.Dict.String()
	case Pair:
		return fmt.Sprintf("(%s, %s)", v.Pair.Items[0], v.Pair.Items[1])
	case Block:
		return "<block>"
	case Cmd:
		return fmt.Sprintf("<cmd %s>", v.Cmd.Name)
	case KVRef:
		return fmt.Sprintf("<kvref %d>", v.KV.Entry)
	case TypeVal:
		return v.T.String()
	}
	return "<?>"
}
