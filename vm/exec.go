package vm

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/symbol"
	"github.com/db47h/minima/internal/value"
)

// runChunk executes ch's instructions in a fresh, local register file
// parented at scope, returning the value left by RETURN or, absent one,
// whatever HALT or end-of-code left in register 0 (spec.md §4.6: register 0
// is "the current value" convention).
//
// Recursion (nested CALL_CMD/CALL_BLOCK) is ordinary Go recursion into this
// same function: each call gets its own `regs` array, which is how spec.md
// §4.6's "registers 1-7 are caller-preserved" and §5's "the VM itself uses
// the host stack for block calls" are realized here -- there is nothing to
// explicitly save and restore, because the caller's registers live in a
// different Go stack frame entirely.
func (vm *Instance) runChunk(ch *chunk.Chunk, scope *symbol.Scope) (result value.Value, err error) {
	var regs [256]value.Value
	var scopeStack []*symbol.Scope
	ip := 0

	// On exit the caller takes its own reference to the result, and every
	// register's reference is dropped.
	defer func() {
		value.Retain(result)
		for k := range regs {
			value.Release(regs[k])
		}
	}()

	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*FatalError); ok {
				err = fe
				return
			}
			err = errors.Errorf("panic in chunk execution: %v", r)
		}
	}()

	for ip < len(ch.Code) {
		ins := ch.Code[ip]
		vm.dbgChunk, vm.dbgIP = ch, ip
		next := ip + 1

		switch ins.Op {
		case chunk.OpNoop:

		case chunk.OpLoadConst:
			value.Own(&regs[ins.A], ch.Consts[ins.Imm])

		case chunk.OpLoadBlock:
			sub := ch.Subchunks[ins.Imm]
			blk := value.NewBlock(value.BlockVMChunk, sub, scope, vm.nextBlockID())
			value.Own(&regs[ins.A], value.MakeBlock(blk))

		case chunk.OpMov:
			value.Assign(&regs[ins.A], regs[ins.B])

		case chunk.OpListNew:
			value.Own(&regs[ins.A], value.MakeList(value.NewList()))

		case chunk.OpListPush:
			regs[ins.A].List.Push(regs[ins.B])

		case chunk.OpDictNew:
			value.Own(&regs[ins.A], value.MakeDict(value.NewDict()))

		case chunk.OpIterNext:
			var iterErr error
			vm.iterNext(ch, &regs, ins, &iterErr)
			if iterErr != nil {
				vm.runtimeDiag(ch, ip, iterErr)
				value.Own(&regs[ins.A], value.MakeBool(false))
			}

		case chunk.OpIndex:
			v, e := value.Index(regs[ins.B], regs[ins.C])
			if e != nil {
				regs[ins.A] = vm.runtimeDiag(ch, ip, e)
			} else {
				value.Assign(&regs[ins.A], v)
			}

		case chunk.OpStoreIndex:
			if e := value.StoreIndex(regs[ins.A], regs[ins.B], regs[ins.C]); e != nil {
				vm.runtimeDiag(ch, ip, e)
			}

		case chunk.OpLen:
			v, e := value.Len(regs[ins.B])
			if e != nil {
				regs[ins.A] = vm.runtimeDiag(ch, ip, e)
			} else {
				value.Own(&regs[ins.A], v)
			}

		case chunk.OpNeg:
			v, e := value.Neg(regs[ins.B])
			if e != nil {
				regs[ins.A] = vm.runtimeDiag(ch, ip, e)
			} else {
				value.Own(&regs[ins.A], v)
			}

		case chunk.OpNot:
			value.Own(&regs[ins.A], value.Not(regs[ins.B]))

		case chunk.OpAdd, chunk.OpSub, chunk.OpMul, chunk.OpDiv, chunk.OpMod,
			chunk.OpEq, chunk.OpNeq, chunk.OpLt, chunk.OpLtEq, chunk.OpGt, chunk.OpGtEq:
			v, e := binOp(ins.Op, regs[ins.B], regs[ins.C])
			if e != nil {
				regs[ins.A] = vm.runtimeDiag(ch, ip, e)
			} else {
				value.Own(&regs[ins.A], v)
			}

		case chunk.OpAnd:
			value.Own(&regs[ins.A], value.And(regs[ins.B], regs[ins.C]))

		case chunk.OpOr:
			value.Own(&regs[ins.A], value.Or(regs[ins.B], regs[ins.C]))

		case chunk.OpLoadVar:
			name := ch.Symbols[ins.Imm]
			v, ok := scope.Get(name)
			if !ok {
				regs[ins.A] = vm.runtimeDiag(ch, ip, &NameError{Name: name})
			} else {
				value.Assign(&regs[ins.A], v)
			}

		case chunk.OpLoadIndirectVar:
			name := regs[ins.B].S
			v, ok := scope.Get(name)
			if !ok {
				regs[ins.A] = vm.runtimeDiag(ch, ip, &NameError{Name: name})
			} else {
				value.Assign(&regs[ins.A], v)
			}

		case chunk.OpLoadMember:
			v, e := vm.loadMember(regs[ins.B], ch.Symbols[ins.Imm])
			if e != nil {
				regs[ins.A] = vm.runtimeDiag(ch, ip, e)
			} else {
				value.Assign(&regs[ins.A], v)
			}

		case chunk.OpStoreMember:
			if e := vm.storeMember(regs[ins.A], ch.Symbols[ins.Imm], regs[ins.B]); e != nil {
				vm.runtimeDiag(ch, ip, e)
			}

		case chunk.OpStoreVar:
			scope.Set(ch.Symbols[ins.Imm], regs[ins.A])

		case chunk.OpDefineVar:
			scope.Define(ch.Symbols[ins.Imm], regs[ins.A])

		case chunk.OpArgClear:
			vm.argClear()

		case chunk.OpArgPush:
			if e := vm.argPush(regs[ins.A]); e != nil {
				return value.Void_(), e
			}

		case chunk.OpArgPushConst:
			if e := vm.argPush(ch.Consts[ins.Imm]); e != nil {
				return value.Void_(), e
			}

		case chunk.OpArgPushVarSym:
			name := ch.Symbols[ins.Imm]
			v, ok := scope.Get(name)
			if !ok {
				v = vm.runtimeDiag(ch, ip, &NameError{Name: name})
			}
			if e := vm.argPush(v); e != nil {
				return value.Void_(), e
			}

		case chunk.OpArgPushSym:
			if e := vm.argPush(value.MakeString(ch.Symbols[ins.Imm])); e != nil {
				return value.Void_(), e
			}

		case chunk.OpArgSave:
			if e := vm.argSave(); e != nil {
				return value.Void_(), e
			}

		case chunk.OpArgRestore:
			if e := vm.argRestore(); e != nil {
				return value.Void_(), e
			}

		case chunk.OpCallCmd:
			cmd, e := vm.resolveCmdTarget(ch, int(ins.Imm), scope)
			if e != nil {
				regs[ins.A] = vm.runtimeDiag(ch, ip, e)
				vm.argClear()
				break
			}
			res, e := vm.invokeCmd(cmd, vm.argv(ins.B), scope)
			vm.argClear()
			v, propagate := vm.settleCallResult(ch, ip, res, e)
			if propagate != nil {
				return value.Void_(), propagate
			}
			value.Own(&regs[ins.A], v)

		case chunk.OpCallCmdDyn:
			res, e := vm.dispatchDynamic(regs[ins.B], ins.C, scope)
			vm.argClear()
			v, propagate := vm.settleCallResult(ch, ip, res, e)
			if propagate != nil {
				return value.Void_(), propagate
			}
			value.Own(&regs[ins.A], v)

		case chunk.OpCallBlock:
			if regs[ins.B].Kind != value.Block {
				regs[ins.A] = vm.runtimeDiag(ch, ip, errors.New("call: value is not a block"))
				break
			}
			res, e := vm.invokeBlock(regs[ins.B].Block, scope)
			v, propagate := vm.settleCallResult(ch, ip, res, e)
			if propagate != nil {
				return value.Void_(), propagate
			}
			value.Own(&regs[ins.A], v)

		case chunk.OpScopePush:
			scopeStack = append(scopeStack, scope)
			scope = symbol.NewScope(scope)

		case chunk.OpScopePop:
			scope.Release()
			if len(scopeStack) == 0 {
				return value.Void_(), errors.WithStack(&FatalError{Msg: "scope stack underflow"})
			}
			scope = scopeStack[len(scopeStack)-1]
			scopeStack = scopeStack[:len(scopeStack)-1]

		case chunk.OpJump:
			next = ip + int(ins.Imm)

		case chunk.OpJumpIfTrue:
			if regs[ins.A].Truthy() {
				next = ip + int(ins.Imm)
			}

		case chunk.OpJumpIfFalse:
			if !regs[ins.A].Truthy() {
				next = ip + int(ins.Imm)
			}

		case chunk.OpReturn:
			for len(scopeStack) > 0 {
				scope.Release()
				scope = scopeStack[len(scopeStack)-1]
				scopeStack = scopeStack[:len(scopeStack)-1]
			}
			return regs[ins.A], nil

		case chunk.OpHalt:
			return regs[0], nil

		default:
			return value.Void_(), errors.Errorf("unknown opcode %v at ip %d", ins.Op, ip)
		}

		ip = next
	}
	return regs[0], nil
}

// settleCallResult classifies a call's outcome per spec.md §7: a FatalError
// unwinds (propagate != nil, caller must return); anything else recoverable
// is printed as a diagnostic and downgraded to void so execution continues.
func (vm *Instance) settleCallResult(ch *chunk.Chunk, ip int, res value.Value, err error) (value.Value, error) {
	if err == nil {
		return res, nil
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return value.Void_(), vm.wrapRuntimeErr(ch, ip, err)
	}
	return vm.runtimeDiag(ch, ip, err), nil
}

func binOp(op chunk.Op, a, b value.Value) (value.Value, error) {
	switch op {
	case chunk.OpAdd:
		return value.Add(a, b)
	case chunk.OpSub:
		return value.Sub(a, b)
	case chunk.OpMul:
		return value.Mul(a, b)
	case chunk.OpDiv:
		return value.Div(a, b)
	case chunk.OpMod:
		return value.Mod(a, b)
	case chunk.OpEq:
		return value.Eq(a, b)
	case chunk.OpNeq:
		return value.Neq(a, b)
	case chunk.OpLt:
		return value.Compare("<", a, b)
	case chunk.OpLtEq:
		return value.Compare("<=", a, b)
	case chunk.OpGt:
		return value.Compare(">", a, b)
	case chunk.OpGtEq:
		return value.Compare(">=", a, b)
	}
	return value.Value{}, errors.Errorf("not a binary operator opcode %v", op)
}

// iterNext implements the ITER_NEXT opcode over List (index cursor) and
// Dict (live-slot cursor, item surfaced as a KVRef) per spec.md §4.6.
func (vm *Instance) iterNext(ch *chunk.Chunk, regs *[256]value.Value, ins chunk.Ins, errOut *error) {
	container := regs[ins.B]
	cursor := regs[ins.C]
	itemReg := uint8(ins.Imm)
	switch container.Kind {
	case value.List:
		i := int(cursor.I) + 1
		if item, ok := container.List.At(i); ok {
			value.Own(&regs[ins.C], value.MakeInt(int64(i)))
			value.Assign(&regs[itemReg], item)
			value.Own(&regs[ins.A], value.MakeBool(true))
		} else {
			value.Own(&regs[ins.A], value.MakeBool(false))
		}
	case value.Dict:
		i := container.Dict.NextLiveIndex(int(cursor.I))
		if i >= 0 {
			value.Own(&regs[ins.C], value.MakeInt(int64(i)))
			value.Own(&regs[itemReg], value.MakeKVRef(value.KVRef{Dict: container.Dict, Entry: i}))
			value.Own(&regs[ins.A], value.MakeBool(true))
		} else {
			value.Own(&regs[ins.A], value.MakeBool(false))
		}
	default:
		*errOut = errors.Errorf("foreach: kind %s is not iterable", container.Kind)
	}
}

// loadMember/storeMember implement `a::b` qualified member access through a
// namespace or VM-chunk block's captured scope (spec.md §4.6 LOAD_MEMBER /
// STORE_MEMBER).
func (vm *Instance) loadMember(base value.Value, member string) (value.Value, error) {
	if base.Kind != value.Block {
		return value.Value{}, errors.Errorf("member access on non-block kind %s", base.Kind)
	}
	env, ok := base.Block.ParentScope.(*symbol.Scope)
	if !ok || env == nil {
		return value.Value{}, errors.Errorf("block has no member environment")
	}
	v, ok := env.Get(member)
	if !ok {
		return value.Value{}, &NameError{Name: member}
	}
	return v, nil
}

func (vm *Instance) storeMember(base value.Value, member string, v value.Value) error {
	if base.Kind != value.Block {
		return errors.Errorf("member assignment on non-block kind %s", base.Kind)
	}
	env, ok := base.Block.ParentScope.(*symbol.Scope)
	if !ok || env == nil {
		return errors.Errorf("block has no member environment")
	}
	env.Set(member, v)
	return nil
}

// runtimeDiag prints a recoverable runtime error with a file:line:col
// location and call-stack snapshot, then returns void for the caller to
// substitute at the faulting register (spec.md §7: "a recoverable error
// prints a diagnostic and substitutes void, continuing execution").
func (vm *Instance) runtimeDiag(ch *chunk.Chunk, ip int, err error) value.Value {
	fmt.Fprintln(vm.out, vm.formatDiag(ch, ip, err))
	vm.TracePrint()
	return value.Void_()
}

// wrapRuntimeErr annotates an error bubbling up from a nested call with the
// call site's location, without downgrading it to a diagnostic: this path
// is only reached for FatalError and I/O-level VM errors that must unwind.
func (vm *Instance) wrapRuntimeErr(ch *chunk.Chunk, ip int, err error) error {
	return errors.Wrap(err, vm.formatDiag(ch, ip, nil))
}

func (vm *Instance) formatDiag(ch *chunk.Chunk, ip int, err error) string {
	file, line, col := "?", uint32(0), uint32(0)
	if ch.Debug != nil {
		file = ch.Debug.File
		if ip < len(ch.Debug.Lines) {
			line = ch.Debug.Lines[ip]
		}
		if ip < len(ch.Debug.Cols) {
			col = ch.Debug.Cols[ip]
		}
	}
	if err == nil {
		return fmt.Sprintf("%s:%d:%d", file, line, col)
	}
	return fmt.Sprintf("%s:%d:%d: %v", file, line, col, err)
}
