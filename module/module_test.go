package module_test

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/value"
	"github.com/db47h/minima/module"
	"github.com/db47h/minima/module/corelib"
	"github.com/db47h/minima/vm"
)

func newLoader(t *testing.T, modulesDir string) (*module.Loader, *vm.Instance) {
	t.Helper()
	i := vm.New()
	corelib.Register(i)
	return module.New(i, modulesDir, t.TempDir()), i
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0666))
}

func TestLoadResolvesFromIncludingFileDirectory(t *testing.T) {
	dir := t.TempDir()
	modPath := filepath.Join(dir, "greet.mi")
	writeFile(t, modPath, `let greeting = "hi";`)
	mainPath := filepath.Join(dir, "main.mi")

	l, _ := newLoader(t, "")
	res, err := l.Load("greet", mainPath)
	require.NoError(t, err)
	assert.Equal(t, value.Block, res.Kind)
}

func TestLoadFallsBackToModulesDir(t *testing.T) {
	fromDir := t.TempDir()
	modsDir := t.TempDir()
	writeFile(t, filepath.Join(modsDir, "shared.mi"), `let x = 1;`)
	mainPath := filepath.Join(fromDir, "main.mi")

	l, _ := newLoader(t, modsDir)
	res, err := l.Load("shared", mainPath)
	require.NoError(t, err)
	assert.Equal(t, value.Block, res.Kind)
}

func TestLoadPrefersMXOverMI(t *testing.T) {
	dir := t.TempDir()
	// an .mi with a parse error -- if resolve ever picked this one, Load
	// would fail.
	writeFile(t, filepath.Join(dir, "mod.mi"), `this is not valid minima (((`)

	entry := chunk.New()
	entry.Emit(chunk.Ins{Op: chunk.OpHalt})
	require.NoError(t, chunk.Save(entry, filepath.Join(dir, "mod.mx")))

	mainPath := filepath.Join(dir, "main.mi")
	l, _ := newLoader(t, "")
	_, err := l.Load("mod", mainPath)
	assert.NoError(t, err)
}

func TestLoadReportsNotFound(t *testing.T) {
	dir := t.TempDir()
	mainPath := filepath.Join(dir, "main.mi")
	l, _ := newLoader(t, "")
	_, err := l.Load("does_not_exist", mainPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadCachesByResolvedPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "once.mi"), `let x = 1;`)
	mainPath := filepath.Join(dir, "main.mi")

	l, _ := newLoader(t, "")
	first, err := l.Load("once", mainPath)
	require.NoError(t, err)
	second, err := l.Load("once", mainPath)
	require.NoError(t, err)
	assert.Same(t, first.Block, second.Block)
}

func TestCompileOrLoadDirectMX(t *testing.T) {
	dir := t.TempDir()
	entry := chunk.New()
	entry.AddConst(value.MakeInt(7))
	entry.Emit(chunk.Ins{Op: chunk.OpHalt})
	path := filepath.Join(dir, "direct.mx")
	require.NoError(t, chunk.Save(entry, path))

	l, _ := newLoader(t, "")
	loaded, err := l.CompileOrLoad(path)
	require.NoError(t, err)
	require.Len(t, loaded.Consts, 1)
	assert.EqualValues(t, 7, loaded.Consts[0].I)
}

func TestCompileOrLoadRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.txt")
	writeFile(t, path, "hello")
	l, _ := newLoader(t, "")
	_, err := l.CompileOrLoad(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a .mi or .mx file")
}

// cachePathFor replicates the loader's private cachePath derivation so the
// test can locate the cache file it is expected to produce.
func cachePathFor(t *testing.T, cacheRoot, miPath string) string {
	t.Helper()
	abs, err := filepath.Abs(miPath)
	require.NoError(t, err)
	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))
	sum := h.Sum64()
	const digits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = digits[sum&0xf]
		sum >>= 4
	}
	return filepath.Join(cacheRoot, string(b), filepath.Base(miPath)+".mx")
}

func TestCompileOrLoadWritesMXCache(t *testing.T) {
	dir := t.TempDir()
	cacheRoot := t.TempDir()
	miPath := filepath.Join(dir, "cached.mi")
	writeFile(t, miPath, `let x = 1;`)

	i := vm.New()
	corelib.Register(i)
	l := module.New(i, "", cacheRoot)

	_, err := l.CompileOrLoad(miPath)
	require.NoError(t, err)

	cachePath := cachePathFor(t, cacheRoot, miPath)
	_, statErr := os.Stat(cachePath)
	assert.NoError(t, statErr, "expected a compiled cache file at %s", cachePath)
}

func TestCompileOrLoadRecompilesWhenMISourceIsNewerThanCache(t *testing.T) {
	dir := t.TempDir()
	cacheRoot := t.TempDir()
	miPath := filepath.Join(dir, "stale.mi")
	writeFile(t, miPath, `let x = 1;`)

	i := vm.New()
	corelib.Register(i)
	l := module.New(i, "", cacheRoot)

	_, err := l.CompileOrLoad(miPath)
	require.NoError(t, err)
	cachePath := cachePathFor(t, cacheRoot, miPath)

	// Back-date the cache file, then touch the source forward so the
	// staleness check (mtime(mx) < mtime(mi)) forces a recompile.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(cachePath, old, old))
	writeFile(t, miPath, `let x = 2;`)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(miPath, future, future))

	entry, err := l.CompileOrLoad(miPath)
	require.NoError(t, err)
	require.Len(t, entry.Consts, 1)
	assert.EqualValues(t, 2, entry.Consts[0].I)
}

func TestCompileOrLoadReusesFreshCache(t *testing.T) {
	dir := t.TempDir()
	cacheRoot := t.TempDir()
	miPath := filepath.Join(dir, "fresh.mi")
	writeFile(t, miPath, `let x = 1;`)

	i := vm.New()
	corelib.Register(i)
	l := module.New(i, "", cacheRoot)

	_, err := l.CompileOrLoad(miPath)
	require.NoError(t, err)
	cachePath := cachePathFor(t, cacheRoot, miPath)

	// Overwrite the source with something unparseable; since the cache is
	// at least as new, CompileOrLoad must not re-read the source at all.
	writeFile(t, miPath, `this is not valid minima (((`)
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(miPath, past, past))

	_, err = l.CompileOrLoad(miPath)
	assert.NoError(t, err)
	_, statErr := os.Stat(cachePath)
	assert.NoError(t, statErr)
}
