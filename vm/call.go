package vm

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/symbol"
	"github.com/db47h/minima/internal/value"
)

// argClear resets the active argument accumulation (spec.md §4.4 ARG_CLEAR).
func (vm *Instance) argClear() { vm.argTop = 0 }

func (vm *Instance) argPush(v value.Value) error {
	if vm.argTop >= len(vm.argStack) {
		return errors.WithStack(&FatalError{Msg: "argument stack overflow"})
	}
	vm.argStack[vm.argTop] = v
	vm.argTop++
	return nil
}

// argSave snapshots the current accumulation so a nested call expression can
// reuse the argument stack from zero without disturbing the outer call's
// in-progress argument list (spec.md §4.4 ARG_SAVE/ARG_RESTORE).
func (vm *Instance) argSave() error {
	if len(vm.argSaved) >= defaultSavedFrames {
		return errors.WithStack(&FatalError{Msg: "argument frame stack overflow"})
	}
	snap := make([]value.Value, vm.argTop)
	copy(snap, vm.argStack[:vm.argTop])
	vm.argSaved = append(vm.argSaved, snap)
	return nil
}

func (vm *Instance) argRestore() error {
	if len(vm.argSaved) == 0 {
		return errors.WithStack(&FatalError{Msg: "argument frame stack underflow"})
	}
	snap := vm.argSaved[len(vm.argSaved)-1]
	vm.argSaved = vm.argSaved[:len(vm.argSaved)-1]
	copy(vm.argStack[:len(snap)], snap)
	vm.argTop = len(snap)
	return nil
}

func (vm *Instance) argv(argc uint8) []value.Value {
	n := int(argc)
	if n > vm.argTop {
		n = vm.argTop
	}
	return vm.argStack[:n]
}

// resolveName resolves a (possibly `a::b::c` qualified) command name against
// the global registry and root-scope namespace blocks (spec.md §4.6 "a::b::c
// qualified calls traverse block captured environments").
func (vm *Instance) resolveName(scope *symbol.Scope, name string) (*value.CmdObj, error) {
	segs := strings.Split(name, "::")
	if len(segs) == 1 {
		if cmd, ok := vm.commands[segs[0]]; ok {
			return cmd, nil
		}
		if scope != nil {
			if v, ok := scope.Get(segs[0]); ok && v.Kind == value.Cmd {
				return v.Cmd, nil
			}
		}
		return nil, errors.WithStack(&NameError{Name: name})
	}

	var env *symbol.Scope
	nsVal, ok := vm.root.Get(segs[0])
	if !ok || nsVal.Kind != value.Block || nsVal.Block.Kind != value.BlockNamespace {
		return nil, errors.WithStack(&NameError{Name: name})
	}
	env, ok = nsVal.Block.ParentScope.(*symbol.Scope)
	if !ok {
		return nil, errors.WithStack(&NameError{Name: name})
	}
	for _, seg := range segs[1 : len(segs)-1] {
		v, ok := env.Get(seg)
		if !ok || v.Kind != value.Block || v.Block.Kind != value.BlockNamespace {
			return nil, errors.WithStack(&NameError{Name: name})
		}
		env, ok = v.Block.ParentScope.(*symbol.Scope)
		if !ok {
			return nil, errors.WithStack(&NameError{Name: name})
		}
	}
	last := segs[len(segs)-1]
	v, ok := env.Get(last)
	if !ok || v.Kind != value.Cmd {
		return nil, errors.WithStack(&NameError{Name: name})
	}
	return v.Cmd, nil
}

// resolveCmdTarget resolves and caches a chunk-local CALL_CMD table entry
// (spec.md §4.5: command-table names are linked lazily against the VM's
// global registry, not at load time).
func (vm *Instance) resolveCmdTarget(ch *chunk.Chunk, idx int, scope *symbol.Scope) (*value.CmdObj, error) {
	if ch.CmdTargets[idx] != nil {
		return ch.CmdTargets[idx], nil
	}
	cmd, err := vm.resolveName(scope, ch.CmdNames[idx])
	if err != nil {
		return nil, errors.WithStack(&LinkError{Name: ch.CmdNames[idx]})
	}
	ch.CmdTargets[idx] = cmd
	return cmd, nil
}

// checkSig validates argv against sig's fixed/variadic parameter kinds
// (spec.md §4.2 "advisory unless -strict", but arity/kind mismatches at call
// time are still a runtime ArityError/TypeError per §7 regardless of the
// typechecker flag -- the typechecker only adds a compile-time advisory
// pass on top of this).
func checkSig(name string, sig *value.FuncTypeSig, argv []value.Value) error {
	if sig == nil {
		return nil
	}
	min := len(sig.Params)
	if !sig.Variadic && len(argv) != min {
		return errors.WithStack(&ArityError{Name: name, Want: min, Got: len(argv)})
	}
	if sig.Variadic && len(argv) < min {
		return errors.WithStack(&ArityError{Name: name, Want: min, Got: len(argv)})
	}
	for i, want := range sig.Params {
		if !kindMatches(want, argv[i].Kind) {
			return errors.WithStack(&TypeError{Name: name, Index: i, Want: want.String(), Got: argv[i].Kind.String()})
		}
	}
	if sig.Variadic && sig.VariadicTy != value.TAny {
		for i := min; i < len(argv); i++ {
			if !kindMatches(sig.VariadicTy, argv[i].Kind) {
				return errors.WithStack(&TypeError{Name: name, Index: i, Want: sig.VariadicTy.String(), Got: argv[i].Kind.String()})
			}
		}
	}
	return nil
}

func kindMatches(t value.TypeKind, k value.Kind) bool {
	if t == value.TAny {
		return true
	}
	switch t {
	case value.TVoid:
		return k == value.Void
	case value.TBool:
		return k == value.Bool
	case value.TInt:
		return k == value.Int
	case value.TFloat:
		return k == value.Float || k == value.Int
	case value.TString:
		return k == value.String
	case value.TList:
		return k == value.List
	case value.TDict:
		return k == value.Dict
	case value.TBlock:
		return k == value.Block
	case value.TFunc:
		return k == value.Cmd || k == value.Block
	}
	return false
}

// frameAt builds a callFrame capturing the caller's current position --
// vm.dbgChunk/vm.dbgIP, updated by runChunk's dispatch loop on every
// instruction -- so TracePrint can report where each call was made from,
// not just its kind and name.
func (vm *Instance) frameAt(kind, name string) callFrame {
	f := callFrame{Kind: kind, Name: name}
	if ch := vm.dbgChunk; ch != nil && ch.Debug != nil {
		f.File = ch.Debug.File
		if vm.dbgIP < len(ch.Debug.Lines) {
			f.Line = ch.Debug.Lines[vm.dbgIP]
		}
		if vm.dbgIP < len(ch.Debug.Cols) {
			f.Col = ch.Debug.Cols[vm.dbgIP]
		}
	}
	return f
}

// invokeCmd dispatches a resolved command value (spec.md §4.6 call ABI).
// callerScope is the scope active at the call site, used only as the
// fallback parent for a user command whose body block carries no captured
// environment of its own.
func (vm *Instance) invokeCmd(cmd *value.CmdObj, argv []value.Value, callerScope *symbol.Scope) (value.Value, error) {
	if err := checkSig(cmd.Name, cmd.Sig, argv); err != nil {
		return value.Void_(), err
	}
	if len(vm.callStack) >= defaultCallStackSize {
		return value.Void_(), errors.WithStack(&FatalError{Msg: "call stack exhausted"})
	}
	vm.callStack = append(vm.callStack, vm.frameAt("cmd", cmd.Name))
	defer func() { vm.callStack = vm.callStack[:len(vm.callStack)-1] }()

	// A native call leaves curArgv/curName alone, so introspection natives
	// (arg, argc, arg_name, arg_type) see the enclosing user command's call.
	if !cmd.IsUser {
		return cmd.Native(vm, cmd.NativeUser, len(argv), argv), nil
	}

	parent, ok := cmd.Body.Block.ParentScope.(*symbol.Scope)
	if !ok || parent == nil {
		parent = callerScope
	}
	scope := symbol.NewScope(parent)
	// defaultsFrom is the first ParamNames index covered by cmd.Defaults
	// (defaults, when present, always cover a params tail).
	defaultsFrom := len(cmd.ParamNames) - len(cmd.Defaults)
	for i, pname := range cmd.ParamNames {
		if i < len(argv) {
			scope.Define(pname, argv[i])
		} else if i >= defaultsFrom {
			scope.Define(pname, cmd.Defaults[i-defaultsFrom])
		} else {
			scope.Define(pname, value.Void_())
		}
	}
	bodyChunk, ok := cmd.Body.Block.Chunk.(*chunk.Chunk)
	if !ok {
		return value.Void_(), errors.WithStack(&FatalError{Msg: "user command body has no compiled chunk"})
	}
	// argv aliases the argument stack, which calls inside the body reuse.
	prevArgv, prevName := vm.curArgv, vm.curName
	vm.curArgv, vm.curName = append([]value.Value(nil), argv...), cmd.Name
	result, err := vm.runChunk(bodyChunk, scope)
	scope.Release()
	vm.curArgv, vm.curName = prevArgv, prevName
	return result, err
}

// invokeBlock dispatches CALL_BLOCK: pushes a new scope parented at the
// block's captured environment (or, for a namespace or parent-less block,
// the caller's own scope) with no arguments bound (spec.md §4.6: "a block
// call pushes a new scope with cur_argc/cur_argv reset to 0/none").
func (vm *Instance) invokeBlock(b *value.BlockObj, callerScope *symbol.Scope) (value.Value, error) {
	if b.Kind != value.BlockVMChunk {
		return value.Void_(), errors.WithStack(&FatalError{Msg: "value is not a callable block"})
	}
	parent, ok := b.ParentScope.(*symbol.Scope)
	if !ok || parent == nil {
		parent = callerScope
	}
	ch, ok := b.Chunk.(*chunk.Chunk)
	if !ok {
		return value.Void_(), errors.WithStack(&FatalError{Msg: "block has no compiled chunk"})
	}
	if len(vm.callStack) >= defaultCallStackSize {
		return value.Void_(), errors.WithStack(&FatalError{Msg: "call stack exhausted"})
	}
	vm.callStack = append(vm.callStack, vm.frameAt("block", ""))
	defer func() { vm.callStack = vm.callStack[:len(vm.callStack)-1] }()

	prevArgv, prevName := vm.curArgv, vm.curName
	vm.curArgv, vm.curName = nil, ""
	scope := symbol.NewScope(parent)
	result, err := vm.runChunk(ch, scope)
	scope.Release()
	vm.curArgv, vm.curName = prevArgv, prevName
	return result, err
}

// dispatchDynamic resolves CALL_CMD_DYN's head value, which per spec.md
// §4.6 may be a string (looked up, qualified names allowed), a cmd value,
// or a block value (called directly, ignoring argv since blocks take no
// positional arguments).
func (vm *Instance) dispatchDynamic(head value.Value, argc uint8, scope *symbol.Scope) (value.Value, error) {
	switch head.Kind {
	case value.String:
		cmd, err := vm.resolveName(scope, head.S)
		if err != nil {
			return value.Void_(), err
		}
		return vm.invokeCmd(cmd, vm.argv(argc), scope)
	case value.Cmd:
		return vm.invokeCmd(head.Cmd, vm.argv(argc), scope)
	case value.Block:
		return vm.invokeBlock(head.Block, scope)
	}
	return value.Void_(), errors.WithStack(&NameError{Name: head.String()})
}
