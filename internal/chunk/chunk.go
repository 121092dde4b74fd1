// Package chunk defines the compiled bytecode unit (spec.md §3 "Chunk") and
// its persistent MX binary serialization (spec.md §4.5). Grounded on
// original_source/src/mi_vm.h's MiVmChunk/MiVmIns/MiVmOp for the in-memory
// shape, and on db47h/ngaro's vm/image.go for the save/load coding style
// (encoding/binary, little-endian, os.Open/os.OpenFile).
package chunk

import "github.com/db47h/minima/internal/value"

// Op is a VM opcode (spec.md §4.4's instruction set / original's MiVmOp).
type Op uint8

const (
	OpNoop Op = iota
	OpLoadConst
	OpLoadBlock
	OpMov
	OpListNew
	OpListPush
	OpDictNew
	OpIterNext
	OpIndex
	OpStoreIndex
	OpLen
	OpNeg
	OpNot
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpEq
	OpNeq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
	OpAnd
	OpOr
	OpLoadVar
	OpLoadMember
	OpStoreMember
	OpStoreVar
	OpDefineVar
	OpLoadIndirectVar
	OpArgClear
	OpArgPush
	OpArgPushConst
	OpArgPushVarSym
	OpArgPushSym
	OpArgSave
	OpArgRestore
	OpCallCmd
	OpCallCmdDyn
	OpCallBlock
	OpScopePush
	OpScopePop
	OpJump
	OpJumpIfTrue
	OpJumpIfFalse
	OpReturn
	OpHalt
)

var opNames = [...]string{
	"NOOP", "LDC", "LDB", "MOV", "LIST_NEW", "LIST_PUSH", "DICT_NEW",
	"ITER_NEXT", "INDEX", "STORE_INDEX", "LEN", "NEG", "NOT", "ADD", "SUB",
	"MUL", "DIV", "MOD", "EQ", "NEQ", "LT", "LTEQ", "GT", "GTEQ", "AND", "OR",
	"LOAD_VAR", "LOAD_MEMBER", "STORE_MEMBER", "STORE_VAR", "DEFINE_VAR",
	"LOAD_INDIRECT_VAR", "ARG_CLEAR", "ARG_PUSH", "ARG_PUSH_CONST",
	"ARG_PUSH_VAR_SYM", "ARG_PUSH_SYM", "ARG_SAVE", "ARG_RESTORE",
	"CALL_CMD", "CALL_CMD_DYN", "CALL_BLOCK", "SCOPE_PUSH", "SCOPE_POP",
	"JMP", "JT", "JF", "RETURN", "HALT",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return "???"
}

// Ins is one bytecode instruction: {op, a, b, c, imm} (spec.md §4.4).
type Ins struct {
	Op   Op
	A, B, C uint8
	Imm  int32
}

// Debug is a chunk's optional per-instruction source mapping (spec.md §3).
type Debug struct {
	Name  string
	File  string
	Lines []uint32
	Cols  []uint32
}

// Chunk is a compiled, self-contained bytecode unit (spec.md §3): code plus
// its constant/symbol/command/subchunk pools and optional debug map.
// Subchunks form a DAG (spec.md §9): shared by index, not by naive pointer
// ownership, which is why the MX codec always serializes by index.
type Chunk struct {
	Code []Ins

	Consts []value.Value

	Symbols []string // variable names referenced by LOAD_VAR/STORE_VAR/DEFINE_VAR

	CmdNames   []string       // command names referenced by CALL_CMD
	CmdTargets []*value.CmdObj // resolved targets, cached after linking (spec.md §4.4/§4.6)

	Subchunks []*Chunk // block-literal payloads (LDB)

	Debug *Debug
}

// New creates an empty chunk.
func New() *Chunk {
	return &Chunk{}
}

// Emit appends ins and returns its index.
func (c *Chunk) Emit(ins Ins) int {
	c.Code = append(c.Code, ins)
	if c.Debug != nil {
		c.Debug.Lines = append(c.Debug.Lines, 0)
		c.Debug.Cols = append(c.Debug.Cols, 0)
	}
	return len(c.Code) - 1
}

// SetPos records line/col debug info for the instruction at idx, lazily
// allocating the Debug map on first use.
func (c *Chunk) SetPos(idx int, line, col uint32) {
	if c.Debug == nil {
		c.Debug = &Debug{Lines: make([]uint32, len(c.Code)), Cols: make([]uint32, len(c.Code))}
	}
	for len(c.Debug.Lines) <= idx {
		c.Debug.Lines = append(c.Debug.Lines, 0)
		c.Debug.Cols = append(c.Debug.Cols, 0)
	}
	c.Debug.Lines[idx] = line
	c.Debug.Cols[idx] = col
}

// AddConst interns v into the constant pool, deduping by kind+byte content
// for strings and by kind+value for scalars (spec.md §4.4).
func (c *Chunk) AddConst(v value.Value) int {
	for i, ex := range c.Consts {
		if constEqual(ex, v) {
			return i
		}
	}
	c.Consts = append(c.Consts, v)
	return len(c.Consts) - 1
}

func constEqual(a, b value.Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case value.Void:
		return true
	case value.Int:
		return a.I == b.I
	case value.Float:
		return a.F == b.F
	case value.Bool:
		return a.B == b.B
	case value.String:
		return a.S == b.S
	}
	return false
}

// AddSymbol interns name into the symbol pool, deduping by content.
func (c *Chunk) AddSymbol(name string) int {
	for i, s := range c.Symbols {
		if s == name {
			return i
		}
	}
	c.Symbols = append(c.Symbols, name)
	return len(c.Symbols) - 1
}

// AddCmdName interns a command name into the chunk-local command table.
func (c *Chunk) AddCmdName(name string) int {
	for i, s := range c.CmdNames {
		if s == name {
			return i
		}
	}
	c.CmdNames = append(c.CmdNames, name)
	c.CmdTargets = append(c.CmdTargets, nil)
	return len(c.CmdNames) - 1
}

// AddSubchunk appends a subchunk and returns its index.
func (c *Chunk) AddSubchunk(sub *Chunk) int {
	c.Subchunks = append(c.Subchunks, sub)
	return len(c.Subchunks) - 1
}
