package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db47h/minima/internal/chunk"
)

// resetFlags restores every package-level flag variable to its zero value
// after a test, since main's flags are plain globals shared across tests.
func resetFlags(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		compileOnly, disasm, strict, interactive, debug = false, false, false, false, false
		cacheDir, modulesDir = "", ""
	})
}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0666))
	return path
}

func captureStdout(t *testing.T, fn func() error) (string, error) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	fnErr := fn()
	w.Close()
	os.Stdout = old
	out, _ := io.ReadAll(r)
	return string(out), fnErr
}

func TestRunCompileRejectsNonMIInput(t *testing.T) {
	resetFlags(t)
	cacheDir = t.TempDir()
	dir := t.TempDir()
	path := writeScript(t, dir, "prog.mx", "not mi source")
	err := runCompile(path, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a .mi file")
}

func TestRunCompileProducesLoadableMX(t *testing.T) {
	resetFlags(t)
	cacheDir = t.TempDir()
	dir := t.TempDir()
	path := writeScript(t, dir, "prog.mi", `return 1 + 1;`)

	err := runCompile(path, nil)
	require.NoError(t, err)

	prog, err := chunk.Load(path + ".mx")
	require.NoError(t, err)
	assert.NotNil(t, prog.Entry)
}

func TestRunCompileHonorsExplicitOutputPath(t *testing.T) {
	resetFlags(t)
	cacheDir = t.TempDir()
	dir := t.TempDir()
	path := writeScript(t, dir, "prog.mi", `return 1;`)
	out := filepath.Join(dir, "custom.mx")

	err := runCompile(path, []string{out})
	require.NoError(t, err)
	_, statErr := os.Stat(out)
	assert.NoError(t, statErr)
}

func TestRunDisasmWritesMnemonicsToStdout(t *testing.T) {
	resetFlags(t)
	cacheDir = t.TempDir()
	dir := t.TempDir()
	path := writeScript(t, dir, "prog.mi", `return 1 + 2;`)

	out, err := captureStdout(t, func() error { return runDisasm(path) })
	require.NoError(t, err)
	assert.Contains(t, out, "chunk 0")
	assert.Contains(t, out, "RETURN")
}

func TestRunScriptExecutesAndPrints(t *testing.T) {
	resetFlags(t)
	cacheDir = t.TempDir()
	dir := t.TempDir()
	path := writeScript(t, dir, "prog.mi", `print("ok");`)

	out, err := captureStdout(t, func() error { return runScript(path) })
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)
}

func TestLintSourceWarnsWithoutFailingByDefault(t *testing.T) {
	resetFlags(t)
	dir := t.TempDir()
	path := writeScript(t, dir, "bad.mi", `
func add(a: int, b: int) -> int {
	return a + b;
}
add(1);
`)
	err := lintSource(path)
	assert.NoError(t, err)
}

func TestLintSourceFailsUnderStrict(t *testing.T) {
	resetFlags(t)
	strict = true
	dir := t.TempDir()
	path := writeScript(t, dir, "bad.mi", `
func add(a: int, b: int) -> int {
	return a + b;
}
add(1);
`)
	var stderr bytes.Buffer
	oldStderr := os.Stderr
	r, w, perr := os.Pipe()
	require.NoError(t, perr)
	os.Stderr = w
	err := lintSource(path)
	w.Close()
	os.Stderr = oldStderr
	_, _ = stderr.ReadFrom(r)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "issue(s)")
}

func TestLintSourceCleanScriptNoError(t *testing.T) {
	resetFlags(t)
	strict = true
	dir := t.TempDir()
	path := writeScript(t, dir, "clean.mi", `
func add(a: int, b: int) -> int {
	return a + b;
}
return add(1, 2);
`)
	assert.NoError(t, lintSource(path))
}
