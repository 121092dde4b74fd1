package chunk_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/value"
)

func buildSample() *chunk.Chunk {
	sub := chunk.New()
	sub.SetPos(sub.Emit(chunk.Ins{Op: chunk.OpHalt}), 3, 1)

	c := chunk.New()
	constIdx := c.AddConst(value.MakeInt(42))
	subIdx := c.AddSubchunk(sub)
	symIdx := c.AddSymbol("x")
	cmdIdx := c.AddCmdName("print")
	c.SetPos(c.Emit(chunk.Ins{Op: chunk.OpLoadConst, A: 1, Imm: int32(constIdx)}), 1, 1)
	c.SetPos(c.Emit(chunk.Ins{Op: chunk.OpLoadBlock, A: 2, Imm: int32(subIdx)}), 1, 5)
	c.SetPos(c.Emit(chunk.Ins{Op: chunk.OpStoreVar, A: 1, Imm: int32(symIdx)}), 2, 1)
	c.SetPos(c.Emit(chunk.Ins{Op: chunk.OpCallCmd, A: 0, B: 1, Imm: int32(cmdIdx)}), 2, 5)
	c.SetPos(c.Emit(chunk.Ins{Op: chunk.OpHalt}), 2, 10)
	c.Debug.File = "sample.mi"
	return c
}

func TestSaveLoadRoundTrip(t *testing.T) {
	entry := buildSample()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.mx")

	require.NoError(t, chunk.Save(entry, path))

	version, err := chunk.PeekVersion(path)
	require.NoError(t, err)
	assert.Equal(t, chunk.CurrentVersion, version)

	prog, err := chunk.Load(path)
	require.NoError(t, err)
	require.NotNil(t, prog.Entry)

	assert.Len(t, prog.Entry.Code, 5)
	assert.Equal(t, chunk.OpLoadConst, prog.Entry.Code[0].Op)
	require.Len(t, prog.Entry.Consts, 1)
	assert.EqualValues(t, 42, prog.Entry.Consts[0].I)
	require.Len(t, prog.Entry.Subchunks, 1)
	assert.Len(t, prog.Entry.Subchunks[0].Code, 1)
	assert.Equal(t, []string{"x"}, prog.Entry.Symbols)
	assert.Equal(t, []string{"print"}, prog.Entry.CmdNames)
	require.NotNil(t, prog.Entry.Debug)
	assert.Equal(t, "sample.mi", prog.Entry.Debug.File)
}

func TestLoadRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.mx")
	require.NoError(t, os.WriteFile(path, []byte("not an mx file"), 0666))
	_, err := chunk.Load(path)
	assert.Error(t, err)
}
