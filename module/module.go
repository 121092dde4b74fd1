// Package module implements Minima's `include()` resolution (spec.md §4.8):
// candidate-path search, the MI-compile/MX-cache freshness check, and the
// detached-scope module-load procedure. Grounded on db47h/ngaro's image
// loader (cmd/retro's -image search path: current-file directory, then a
// configured directory, then a platform default) for the anchor search
// order, and on original_source/ "include" sections for exact staleness
// semantics (MX mtime >= MI mtime and compatible version).
package module

import (
	"hash/fnv"
	"os"
	"path/filepath"
	"plugin"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/compiler"
	"github.com/db47h/minima/internal/fold"
	"github.com/db47h/minima/internal/hostenv"
	"github.com/db47h/minima/internal/parser"
	"github.com/db47h/minima/internal/value"
)

// vmHost is the slice of *vm.Instance the loader actually needs, kept
// narrow so tests can fake it without spinning up a whole Instance.
type vmHost interface {
	KnownNames() map[string]bool
	LoadModule(entry *chunk.Chunk) (value.Value, error)
	NamespaceGetOrCreate(name string) value.Value
	NamespaceAddValue(ns value.Value, member string, v value.Value) bool
}

// Loader resolves and caches include() targets for one VM instance.
// include-once collapsing is delegated to a singleflight.Group keyed by
// resolved path, so two includes of the same module (including diamond
// includes nested inside other modules) only ever compile and run the
// module's top level once; every caller gets the same cached block value.
type Loader struct {
	VM         vmHost
	ModulesDir string // spec.md §4.8 anchor 2: "a configured modules directory"
	CacheRoot  string // spec.md §6 compiled-module cache root

	group singleflight.Group
	cache map[string]value.Value
}

// New creates a Loader. modulesDir and cacheRoot may be empty, in which
// case cacheRoot falls back to hostenv.DefaultCacheRoot().
func New(vm vmHost, modulesDir, cacheRoot string) *Loader {
	if cacheRoot == "" {
		cacheRoot = hostenv.DefaultCacheRoot()
	}
	return &Loader{
		VM:         vm,
		ModulesDir: modulesDir,
		CacheRoot:  cacheRoot,
		cache:      make(map[string]value.Value),
	}
}

// candidates returns the .mi/.mx paths to try for a bare or extensioned
// include name under one anchor directory, in the order spec.md §4.8
// prescribes: the name as given (if it already carries a recognized
// extension), else both the .mx and .mi forms, MX preferred since it skips
// recompilation.
func candidates(anchor, name string) []string {
	ext := filepath.Ext(name)
	if ext == ".mi" || ext == ".mx" {
		return []string{filepath.Join(anchor, name)}
	}
	return []string{
		filepath.Join(anchor, name+".mx"),
		filepath.Join(anchor, name+".mi"),
	}
}

// resolve walks spec.md §4.8's anchor search order -- the including script's
// own directory, the configured modules directory, then the platform
// default modules location -- returning the first candidate path that
// exists on disk.
func (l *Loader) resolve(name, fromFile string) (string, error) {
	var anchors []string
	if fromFile != "" {
		anchors = append(anchors, filepath.Dir(fromFile))
	}
	if l.ModulesDir != "" {
		anchors = append(anchors, l.ModulesDir)
	}
	anchors = append(anchors, filepath.Join(l.CacheRoot, "modules"))

	for _, anchor := range anchors {
		for _, cand := range candidates(anchor, name) {
			if _, err := os.Stat(cand); err == nil {
				return cand, nil
			}
		}
	}
	// Neither a .mi nor a .mx exists under any anchor; try it as a native
	// module (spec.md §4.8 "a native module is a shared library exporting
	// a fixed registration entry point").
	for _, anchor := range anchors {
		if p := nativeCandidate(anchor, name); p != "" {
			return p, nil
		}
	}
	return "", errors.Errorf("include %q: not found", name)
}

// cachePath computes the persistent MX cache location for an MI source
// file, keyed by a hash of its absolute path so two same-named modules in
// different directories never collide (spec.md §6 cache layout
// "<cache-root>/<hex16(fnv1a64(abs path))>/<basename>.mx").
func (l *Loader) cachePath(miPath string) (string, error) {
	abs, err := filepath.Abs(miPath)
	if err != nil {
		return "", err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(abs))
	dir := filepath.Join(l.CacheRoot, hex16(h.Sum64()))
	return filepath.Join(dir, filepath.Base(miPath)+".mx"), nil
}

func hex16(v uint64) string {
	const digits = "0123456789abcdef"
	b := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		b[i] = digits[v&0xf]
		v >>= 4
	}
	return string(b)
}

// Load resolves name (searched relative to fromFile, the including script's
// path; cmd/minima passes its input file's path, and an empty fromFile skips
// that anchor) and returns the cached or freshly produced module block value.
func (l *Loader) Load(name, fromFile string) (value.Value, error) {
	resolved, err := l.resolve(name, fromFile)
	if err != nil {
		return value.Void_(), err
	}
	if v, ok := l.cache[resolved]; ok {
		return v, nil
	}
	res, err, _ := l.group.Do(resolved, func() (interface{}, error) {
		v, err := l.load(resolved)
		if err != nil {
			return value.Void_(), err
		}
		l.cache[resolved] = v
		return v, nil
	})
	if err != nil {
		return value.Void_(), err
	}
	return res.(value.Value), nil
}

func (l *Loader) load(resolved string) (value.Value, error) {
	switch filepath.Ext(resolved) {
	case ".mx":
		return l.loadMX(resolved)
	case ".mi":
		return l.loadMI(resolved)
	default:
		return l.loadNative(resolved)
	}
}

func (l *Loader) loadMX(path string) (value.Value, error) {
	prog, err := chunk.Load(path)
	if err != nil {
		return value.Void_(), errors.Wrapf(err, "load module %q", path)
	}
	return l.VM.LoadModule(prog.Entry)
}

// loadMI compiles an .mi source file, reusing its cached .mx (kept under the
// cache root, see cachePath) when it
// is at least as new as the source and was written by a compatible format
// version (spec.md §4.8 "MI->MX compile-if-stale").
func (l *Loader) loadMI(path string) (value.Value, error) {
	entry, err := l.CompileOrLoad(path)
	if err != nil {
		return value.Void_(), err
	}
	return l.VM.LoadModule(entry)
}

// CompileOrLoad resolves path directly -- not searched across include()
// anchors, for the top-level driver's own input file (spec.md §6 "tool
// file.mi" / "tool file.mx"). An .mx loads as-is; an .mi reuses a fresh
// cached .mx under the cache root or compiles and (re)writes one, exactly
// like an
// included module does.
func (l *Loader) CompileOrLoad(path string) (*chunk.Chunk, error) {
	switch filepath.Ext(path) {
	case ".mx":
		prog, err := chunk.Load(path)
		if err != nil {
			return nil, errors.Wrapf(err, "load %q", path)
		}
		return prog.Entry, nil
	case ".mi":
		if cached, cerr := l.cachePath(path); cerr == nil {
			if fresh, _ := l.mxIsFresh(cached, path); fresh {
				if prog, err := chunk.Load(cached); err == nil {
					return prog.Entry, nil
				}
			}
		}
		entry, err := l.compileFile(path)
		if err != nil {
			return nil, err
		}
		if cached, cerr := l.cachePath(path); cerr == nil {
			if err := os.MkdirAll(filepath.Dir(cached), 0777); err == nil {
				_ = chunk.Save(entry, cached)
			}
		}
		return entry, nil
	default:
		return nil, errors.Errorf("%s: not a .mi or .mx file", path)
	}
}

func (l *Loader) mxIsFresh(mxPath, miPath string) (bool, error) {
	mxTime, err := hostenv.ModTime(mxPath)
	if err != nil {
		return false, err
	}
	miTime, err := hostenv.ModTime(miPath)
	if err != nil {
		return false, err
	}
	if mxTime < miTime {
		return false, nil
	}
	version, err := chunk.PeekVersion(mxPath)
	if err != nil || version > chunk.CurrentVersion {
		return false, nil
	}
	return true, nil
}

func (l *Loader) compileFile(path string) (*chunk.Chunk, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "include %q", path)
	}
	p := parser.New(string(src), path)
	script, err := p.ParseScript()
	if err != nil {
		return nil, err
	}
	script = fold.Script(script)
	c := compiler.New(l.VM.KnownNames())
	return c.CompileScript(script)
}

// nativeModuleInit is the symbol a native module's shared library must
// export: a function taking no arguments and returning its exported
// members as a name->value map (spec.md §4.8 "a fixed registration entry
// point"). Go's plugin package resolves this by name at Open time.
const nativeModuleInit = "MinimaModuleInit"

func nativeCandidate(anchor, name string) string {
	for _, ext := range []string{".so", ".dylib", ".dll"} {
		p := filepath.Join(anchor, name+ext)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// loadNative opens a native shared-library module via Go's plugin package
// and wraps its exported members as a namespace-shaped block value. Native
// modules are a Unix-only capability of Go's plugin package; on platforms
// without plugin support this always fails with a clear error rather than
// silently degrading.
func (l *Loader) loadNative(path string) (value.Value, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return value.Void_(), errors.Wrapf(err, "load native module %q", path)
	}
	sym, err := p.Lookup(nativeModuleInit)
	if err != nil {
		return value.Void_(), errors.Wrapf(err, "native module %q: missing %s", path, nativeModuleInit)
	}
	init, ok := sym.(func() map[string]value.Value)
	if !ok {
		return value.Void_(), errors.Errorf("native module %q: %s has the wrong signature", path, nativeModuleInit)
	}
	members := init()
	nsVal := l.VM.NamespaceGetOrCreate(filepath.Base(path))
	for member, v := range members {
		l.VM.NamespaceAddValue(nsVal, member, v)
	}
	return nsVal, nil
}
