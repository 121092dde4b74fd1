package chunk_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/db47h/minima/internal/chunk"
)

func TestDisassembleAnnotatesOperands(t *testing.T) {
	entry := buildSample()
	var buf bytes.Buffer
	chunk.Disassemble(&buf, entry)
	out := buf.String()

	assert.Contains(t, out, "chunk 0 (entry)")
	assert.Contains(t, out, "LDC")
	assert.Contains(t, out, "const=42")
	assert.Contains(t, out, "LDB")
	assert.Contains(t, out, "chunk=1")
	assert.Contains(t, out, "STORE_VAR")
	assert.Contains(t, out, `sym="x"`)
	assert.Contains(t, out, "CALL_CMD")
	assert.Contains(t, out, `cmd="print"`)
	assert.Contains(t, out, "chunk 1 (")
}

func TestDisassembleDedupesSharedSubchunks(t *testing.T) {
	sub := chunk.New()
	sub.Emit(chunk.Ins{Op: chunk.OpHalt})

	entry := chunk.New()
	i1 := entry.AddSubchunk(sub)
	i2 := entry.AddSubchunk(sub) // same pointer, distinct Subchunks slot
	entry.Emit(chunk.Ins{Op: chunk.OpLoadBlock, A: 1, Imm: int32(i1)})
	entry.Emit(chunk.Ins{Op: chunk.OpLoadBlock, A: 2, Imm: int32(i2)})
	entry.Emit(chunk.Ins{Op: chunk.OpHalt})

	var buf bytes.Buffer
	chunk.Disassemble(&buf, entry)
	// Exactly one subchunk header despite two LDB references to the same chunk.
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("chunk 1 (")))
}
