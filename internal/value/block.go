package value

import "sync/atomic"

// BlockKind distinguishes AST-script blocks (front-end-only, never seen by
// the VM path) from VM-chunk blocks (spec.md §3).
type BlockKind int

const (
	BlockInvalid BlockKind = iota
	BlockASTScript
	BlockASTExpr
	BlockVMChunk
	// BlockNamespace is a callable-less block whose ParentScope holds a
	// namespace's members (e.g. `int::`, `list::`). It has no Chunk: the
	// VM rejects CALL_BLOCK/CALL_CMD_DYN on it and only qualified-name
	// member lookup (LOAD_MEMBER, `a::b`) may traverse it.
	BlockNamespace
)

// BlockObj is (kind, chunk, parent scope, id) per spec.md §3. Chunk and
// ParentScope are stored as interface{} rather than concrete types from the
// chunk/symbol packages: value is a leaf package that chunk and symbol both
// import (for Value), so it cannot import them back without a cycle. The vm
// package, which imports all three, performs the type assertions when it
// creates or invokes a block.
type BlockObj struct {
	Kind        BlockKind
	Chunk       interface{} // *chunk.Chunk for BlockVMChunk
	ParentScope interface{} // *symbol.Scope, or nil for a detached/root scope
	ID          uint32

	refs int32
}

// NewBlock creates a heap block value.
func NewBlock(kind BlockKind, chunk interface{}, parentScope interface{}, id uint32) *BlockObj {
	return &BlockObj{Kind: kind, Chunk: chunk, ParentScope: parentScope, ID: id}
}

func (b *BlockObj) retainSelf() {
	if atomic.AddInt32(&b.refs, 1) == 1 {
		atomic.AddInt64(&liveObjects, 1)
	}
}

func (b *BlockObj) release() {
	if atomic.AddInt32(&b.refs, -1) == 0 {
		atomic.AddInt64(&liveObjects, -1)
	}
}
