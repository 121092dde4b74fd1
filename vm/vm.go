// Package vm implements Minima's register-based bytecode interpreter
// (spec.md §4.6). Grounded on db47h/ngaro's vm package for overall shape
// (an Instance struct holding fixed-size stacks, configured via functional
// Options, with a tight-switch dispatch loop in a separate file) and on
// original_source/src/mi_vm.h/mi_vm.c for the exact field set and call ABI
// this rewrite must preserve.
package vm

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/symbol"
	"github.com/db47h/minima/internal/value"
)

const (
	defaultArgStackSize  = 256
	defaultSavedFrames   = 16
	defaultCallStackSize = 64
)

// callFrame is one entry of the diagnostic call stack (spec.md §4.6: "a call
// stack for diagnostics (64 frames)"). It is informational only -- the
// actual Go call stack carries the real control flow (spec.md §5: "the VM
// itself uses the host stack for block calls").
type callFrame struct {
	Kind string // "cmd" or "block"
	Name string
	File string
	Line uint32
	Col  uint32
}

// Option configures an Instance at construction time, following
// db47h/ngaro's vm.Option pattern (DataSize/Input/Output).
type Option func(*Instance)

// ArgStackSize overrides the argument stack's capacity.
func ArgStackSize(n int) Option {
	return func(i *Instance) { i.argStack = make([]value.Value, n) }
}

// Output sets the writer `print` and friends write to.
func Output(w io.Writer) Option {
	return func(i *Instance) { i.out = w }
}

// Input sets the VM's host input reader (spec.md §1 "host embeds Minima" --
// kept pluggable for test harnesses exactly as db47h/ngaro's vm.Input hook
// is). The reader is only stored: NativeContext has no method that exposes
// it, and no built-in command reads input.
func Input(r io.Reader) Option {
	return func(i *Instance) { i.in = r }
}

// ModulesDir overrides the configured modules-directory anchor used by the
// module loader's resolution order (spec.md §4.8).
func ModulesDir(path string) Option {
	return func(i *Instance) { i.modulesDir = path }
}

// CacheDir overrides the compiled-module cache root (spec.md §6).
func CacheDir(path string) Option {
	return func(i *Instance) { i.cacheDir = path }
}

// Strict records the driver's `-strict` setting (spec.md §4.8/§6). The VM
// only stores the flag: no VM code and no built-in command reads it.
func Strict(strict bool) Option {
	return func(i *Instance) { i.strict = strict }
}

// Instance is one Minima VM: its command registry, module tables, argument
// and diagnostic stacks, and host I/O hooks (spec.md §4.6/§5 "a VM instance
// owns its runtime, its register file, its argument and call stacks, its
// module caches, and its native-DLL handles").
type Instance struct {
	commands map[string]*value.CmdObj

	moduleCache map[string]value.Value
	nativeDLLs  map[string]io.Closer

	argStack  []value.Value
	argTop    int
	argSaved  [][]value.Value
	callStack []callFrame

	root *symbol.Scope

	curArgv []value.Value
	curName string

	dbgChunk *chunk.Chunk
	dbgIP    int

	blockIDs uint32

	in         io.Reader
	out        io.Writer
	modulesDir string
	cacheDir   string
	strict     bool
}

// New creates a VM instance with an empty global command registry and a
// fresh root scope.
func New(opts ...Option) *Instance {
	i := &Instance{
		commands:    make(map[string]*value.CmdObj),
		moduleCache: make(map[string]value.Value),
		nativeDLLs:  make(map[string]io.Closer),
		argStack:    make([]value.Value, defaultArgStackSize),
		root:        symbol.NewScope(nil),
		out:         os.Stdout,
		in:          os.Stdin,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// RootScope returns the VM's top-level scope, the parent of every detached
// module scope and every top-level script run.
func (vm *Instance) RootScope() *symbol.Scope { return vm.root }

// KnownNames snapshots the set of globally registered command names, used
// to seed a compiler's static-resolution set (internal/compiler.New) so
// calls to already-registered native builtins compile to CALL_CMD rather
// than CALL_CMD_DYN.
func (vm *Instance) KnownNames() map[string]bool {
	known := make(map[string]bool, len(vm.commands))
	for name := range vm.commands {
		known[name] = true
	}
	return known
}

// LoadModule runs entry's top level in a fresh, parent-less scope and wraps
// the result as a VM_CHUNK block value whose captured environment is that
// detached scope (spec.md §4.8 "module load procedure": "create a detached
// scope frame... construct a block value whose kind = VM_CHUNK... env = the
// detached frame"). The caller (the module package) owns resolving the
// module path and caching the returned value.
func (vm *Instance) LoadModule(entry *chunk.Chunk) (value.Value, error) {
	scope := symbol.NewScope(nil)
	if _, err := vm.runChunk(entry, scope); err != nil {
		return value.Void_(), err
	}
	blk := value.NewBlock(value.BlockVMChunk, entry, scope, vm.nextBlockID())
	return value.MakeBlock(blk), nil
}

func (vm *Instance) nextBlockID() uint32 {
	return atomic.AddUint32(&vm.blockIDs, 1)
}

// Run executes entry's top level in a fresh scope whose parent is the root
// scope, returning the chunk's final/returned value (spec.md §4.6).
func (vm *Instance) Run(entry *chunk.Chunk) (value.Value, error) {
	scope := symbol.NewScope(vm.root)
	return vm.runChunk(entry, scope)
}

// --- value.NativeContext implementation ---

func (vm *Instance) MakeInt(v int64) value.Value     { return value.MakeInt(v) }
func (vm *Instance) MakeFloat(v float64) value.Value { return value.MakeFloat(v) }
func (vm *Instance) MakeBool(v bool) value.Value     { return value.MakeBool(v) }
func (vm *Instance) MakeVoid() value.Value           { return value.Void_() }

func (vm *Instance) Argc() int { return len(vm.curArgv) }

func (vm *Instance) Arg(i int) value.Value {
	if i < 0 || i >= len(vm.curArgv) {
		return value.Void_()
	}
	return vm.curArgv[i]
}

// ArgName returns the declared name of parameter i of the user command
// currently running (the one invokeCmd recorded in curName), or "" at top
// level, inside a block call, or past the declared parameters.
func (vm *Instance) ArgName(i int) string {
	cmd, ok := vm.commands[vm.curName]
	if !ok || !cmd.IsUser || i < 0 || i >= len(cmd.ParamNames) {
		return ""
	}
	return cmd.ParamNames[i]
}

func (vm *Instance) CurrentCommandName() string { return vm.curName }

// Write implements io.Writer over the VM's configured output, so native
// commands such as print write wherever the embedding host
// pointed Output() rather than unconditionally to os.Stdout.
func (vm *Instance) Write(p []byte) (int, error) { return vm.out.Write(p) }

// RegisterNative installs a native command into the global registry.
func (vm *Instance) RegisterNative(name string, sig *value.FuncTypeSig, fn value.NativeFn, user interface{}, doc string) bool {
	if _, exists := vm.commands[name]; exists {
		return false
	}
	vm.commands[name] = value.NewNativeCmd(name, sig, fn, user, doc)
	return true
}

// DefineUserCommand installs a Minima-source command (as produced by the
// `cmd` builtin every `func` declaration lowers to) into the global
// registry.
func (vm *Instance) DefineUserCommand(name string, params []string, sig *value.FuncTypeSig, body value.Value) bool {
	if _, exists := vm.commands[name]; exists {
		return false
	}
	vm.commands[name] = value.NewUserCmd(name, params, nil, sig, body)
	return true
}

// NamespaceGetOrCreate returns the namespace block bound to name at the root
// scope, creating one if absent (spec.md §4.8 native-module registration
// protocol).
func (vm *Instance) NamespaceGetOrCreate(name string) value.Value {
	if v, ok := vm.root.Get(name); ok && v.Kind == value.Block {
		return v
	}
	ns := value.NewBlock(value.BlockNamespace, nil, symbol.NewScope(nil), vm.nextBlockID())
	v := value.MakeBlock(ns)
	vm.root.Define(name, v)
	return v
}

// NamespaceAddNative binds a native command as a member of a namespace block
// previously obtained from NamespaceGetOrCreate.
func (vm *Instance) NamespaceAddNative(ns value.Value, member string, sig *value.FuncTypeSig, fn value.NativeFn, user interface{}, doc string) bool {
	if ns.Kind != value.Block || ns.Block.Kind != value.BlockNamespace {
		return false
	}
	env, ok := ns.Block.ParentScope.(*symbol.Scope)
	if !ok {
		return false
	}
	cmd := value.NewNativeCmd(member, sig, fn, user, doc)
	env.Define(member, value.MakeCmd(cmd))
	return true
}

// NamespaceAddValue binds an arbitrary value as a namespace member.
func (vm *Instance) NamespaceAddValue(ns value.Value, member string, v value.Value) bool {
	if ns.Kind != value.Block || ns.Block.Kind != value.BlockNamespace {
		return false
	}
	env, ok := ns.Block.ParentScope.(*symbol.Scope)
	if !ok {
		return false
	}
	env.Define(member, v)
	return true
}

// CallCommand looks up name (qualified or not) in the global registry and
// invokes it synchronously, for use by native commands that need to call
// back into Minima code (spec.md §4.8 host-API surface).
func (vm *Instance) CallCommand(name string, args []value.Value) (value.Value, error) {
	cmd, err := vm.resolveName(vm.root, name)
	if err != nil {
		return value.Void_(), err
	}
	return vm.invokeCmd(cmd, args, vm.root)
}

// TracePrint writes the current diagnostic call stack to the VM's output,
// used by runtimeDiag after every recoverable-error diagnostic (spec.md §7
// "a full call-stack snapshot").
func (vm *Instance) TracePrint() {
	for i := len(vm.callStack) - 1; i >= 0; i-- {
		f := vm.callStack[i]
		fmt.Fprintf(vm.out, "  at %s %q (%s:%d:%d)\n", f.Kind, f.Name, f.File, f.Line, f.Col)
	}
}
