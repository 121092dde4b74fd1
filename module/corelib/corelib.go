// Package corelib is Minima's always-present standard library: the native
// commands and namespaces every script gets without an explicit include
// (spec.md §4.8's registration protocol, narrowed to the working set
// SPEC_FULL.md supplements from original_source/'s module/core/ tree --
// full breadth of the numeric namespaces is explicitly out of scope there).
// Grounded on original_source/src/module/core/mi_core_int.c and
// mi_core_float.c for which members belong under int:: and float:: and on
// spec.md §4.2/§4.4 for `cmd`'s exact argv shape.
package corelib

import (
	"fmt"
	"math"

	"github.com/db47h/minima/internal/value"
	"github.com/db47h/minima/vm"
)

// Register installs every core command and namespace into ctx's global
// registry. Call once per vm.Instance before running any script.
func Register(ctx value.NativeContext) {
	ctx.RegisterNative("print", &value.FuncTypeSig{Variadic: true, VariadicTy: value.TAny}, print_, nil, "print(...) -- write each argument, space-separated, followed by a newline")
	ctx.RegisterNative("cmd", nil, cmd_, nil, "cmd(name, params..., sig, body) -- define a user command; the runtime counterpart of `func`")
	ctx.RegisterNative("argc", &value.FuncTypeSig{Params: nil}, argc_, nil, "argc() -- number of arguments passed to the current command")
	ctx.RegisterNative("arg", &value.FuncTypeSig{Params: []value.TypeKind{value.TInt}}, arg_, nil, "arg(i) -- the i'th argument passed to the current command")
	ctx.RegisterNative("arg_name", &value.FuncTypeSig{Params: []value.TypeKind{value.TInt}}, argName_, nil, "arg_name(i) -- the declared parameter name for argument i, or \"\"")
	ctx.RegisterNative("arg_type", &value.FuncTypeSig{Params: []value.TypeKind{value.TInt}}, argType_, nil, "arg_type(i) -- the runtime type of argument i")
	ctx.RegisterNative("assert", &value.FuncTypeSig{Variadic: true, VariadicTy: value.TAny}, assert_, nil, "assert(cond, msg?) -- raise a fatal error if cond is falsy")
	ctx.RegisterNative("fatal", &value.FuncTypeSig{Variadic: true, VariadicTy: value.TAny}, fatal_, nil, "fatal(msg...) -- unconditionally raise a fatal error")
	ctx.RegisterNative("type", &value.FuncTypeSig{Params: []value.TypeKind{value.TAny}}, type_, nil, "type(v) -- v's runtime type as a type value")

	registerInt(ctx)
	registerFloat(ctx)
	registerList(ctx)
	registerDict(ctx)
}

func print_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	for i, v := range argv {
		if i > 0 {
			fmt.Fprint(ctx, " ")
		}
		fmt.Fprint(ctx, v.String())
	}
	fmt.Fprintln(ctx)
	return value.Void_()
}

// cmd_ installs a user-defined command, the runtime half of `func` (spec.md
// §4.2/§4.4). The parser always lowers a `func` declaration to a call shaped
// exactly as: cmd(nameStr, param0Str, ..., paramN-1Str, sigList, bodyBlock),
// where sigList is [retType, fixedParamCount, t0..tN-1, -1] (the trailing
// -1 marks "no variadic tail" in this lowering; the parser never emits
// anything else there).
func cmd_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	if argc < 3 {
		panic(&vm.FatalError{Msg: fmt.Sprintf("cmd: expected at least 3 arguments, got %d", argc)})
	}
	name := argv[0].S
	body := argv[argc-1]
	sigList := argv[argc-2]
	params := make([]string, 0, argc-3)
	for i := 1; i < argc-2; i++ {
		params = append(params, argv[i].S)
	}
	sig := sigFromList(sigList)
	if !ctx.DefineUserCommand(name, params, sig, body) {
		panic(&vm.FatalError{Msg: fmt.Sprintf("cmd: %q already defined", name)})
	}
	return value.Void_()
}

// sigFromList decodes the [retType, fixedCount, t0..tN-1, -1] int-list shape
// parseFunc emits for a func's type signature (spec.md §4.2).
func sigFromList(v value.Value) *value.FuncTypeSig {
	if v.Kind != value.List {
		return nil
	}
	items := v.List.Items()
	if len(items) < 2 {
		return nil
	}
	ret := value.TypeKind(items[0].I)
	fixed := int(items[1].I)
	params := make([]value.TypeKind, 0, fixed)
	for i := 0; i < fixed && 2+i < len(items); i++ {
		params = append(params, value.TypeKind(items[2+i].I))
	}
	return &value.FuncTypeSig{Ret: ret, Params: params}
}

func argc_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	return ctx.MakeInt(int64(ctx.Argc()))
}

func arg_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	v := ctx.Arg(int(argv[0].I))
	value.Retain(v)
	return v
}

func argName_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	return value.MakeString(ctx.ArgName(int(argv[0].I)))
}

func argType_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	return value.MakeType(kindToType(ctx.Arg(int(argv[0].I)).Kind))
}

func kindToType(k value.Kind) value.TypeKind {
	switch k {
	case value.Void:
		return value.TVoid
	case value.Bool:
		return value.TBool
	case value.Int:
		return value.TInt
	case value.Float:
		return value.TFloat
	case value.String:
		return value.TString
	case value.List:
		return value.TList
	case value.Dict:
		return value.TDict
	case value.Block:
		return value.TBlock
	case value.Cmd:
		return value.TFunc
	}
	return value.TAny
}

func type_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	return value.MakeType(kindToType(argv[0].Kind))
}

// assert_ and fatal_ panic a *vm.FatalError, which vm.runChunk's top-level
// recover converts back into an error return instead of a recoverable
// diagnostic (spec.md §7: fatal errors unwind the whole run, unlike every
// other runtime error kind).
func assert_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	if argc == 0 || argv[0].Truthy() {
		return value.Void_()
	}
	msg := "assertion failed"
	if argc > 1 {
		msg = argv[1].String()
	}
	panic(&vm.FatalError{Msg: msg})
}

func fatal_(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
	msg := ""
	for i, v := range argv {
		if i > 0 {
			msg += " "
		}
		msg += v.String()
	}
	panic(&vm.FatalError{Msg: msg})
}

func registerInt(ctx value.NativeContext) {
	ns := ctx.NamespaceGetOrCreate("int")
	i1 := &value.FuncTypeSig{Params: []value.TypeKind{value.TInt}}
	i2 := &value.FuncTypeSig{Params: []value.TypeKind{value.TInt, value.TInt}}
	ctx.NamespaceAddNative(ns, "abs", i1, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		n := argv[0].I
		if n < 0 {
			n = -n
		}
		return ctx.MakeInt(n)
	}, nil, "int::abs(n)")
	ctx.NamespaceAddNative(ns, "min", i2, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		if argv[0].I < argv[1].I {
			return argv[0]
		}
		return argv[1]
	}, nil, "int::min(a, b)")
	ctx.NamespaceAddNative(ns, "max", i2, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		if argv[0].I > argv[1].I {
			return argv[0]
		}
		return argv[1]
	}, nil, "int::max(a, b)")
	ctx.NamespaceAddValue(ns, "MAX", value.MakeInt(math.MaxInt64))
	ctx.NamespaceAddValue(ns, "MIN", value.MakeInt(math.MinInt64))
}

func registerFloat(ctx value.NativeContext) {
	ns := ctx.NamespaceGetOrCreate("float")
	f1 := &value.FuncTypeSig{Params: []value.TypeKind{value.TFloat}}
	unary := func(fn func(float64) float64) value.NativeFn {
		return func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
			return ctx.MakeFloat(fn(asF(argv[0])))
		}
	}
	ctx.NamespaceAddNative(ns, "sqrt", f1, unary(math.Sqrt), nil, "float::sqrt(x)")
	ctx.NamespaceAddNative(ns, "floor", f1, unary(math.Floor), nil, "float::floor(x)")
	ctx.NamespaceAddNative(ns, "ceil", f1, unary(math.Ceil), nil, "float::ceil(x)")
	ctx.NamespaceAddNative(ns, "abs", f1, unary(math.Abs), nil, "float::abs(x)")
	ctx.NamespaceAddNative(ns, "pow", &value.FuncTypeSig{Params: []value.TypeKind{value.TFloat, value.TFloat}}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		return ctx.MakeFloat(math.Pow(asF(argv[0]), asF(argv[1])))
	}, nil, "float::pow(x, y)")
	ctx.NamespaceAddValue(ns, "PI", value.MakeFloat(math.Pi))
}

func asF(v value.Value) float64 {
	if v.Kind == value.Int {
		return float64(v.I)
	}
	return v.F
}

func registerList(ctx value.NativeContext) {
	ns := ctx.NamespaceGetOrCreate("list")
	ctx.NamespaceAddNative(ns, "new", &value.FuncTypeSig{}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		return value.MakeList(value.NewList())
	}, nil, "list::new()")
	ctx.NamespaceAddNative(ns, "push", &value.FuncTypeSig{Params: []value.TypeKind{value.TList, value.TAny}}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		argv[0].List.Push(argv[1])
		// The caller owns the returned reference, like any other call result.
		value.Retain(argv[0])
		return argv[0]
	}, nil, "list::push(l, v)")
	ctx.NamespaceAddNative(ns, "len", &value.FuncTypeSig{Params: []value.TypeKind{value.TList}}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		return ctx.MakeInt(int64(argv[0].List.Len()))
	}, nil, "list::len(l)")
}

func registerDict(ctx value.NativeContext) {
	ns := ctx.NamespaceGetOrCreate("dict")
	ctx.NamespaceAddNative(ns, "new", &value.FuncTypeSig{}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		return value.MakeDict(value.NewDict())
	}, nil, "dict::new()")
	ctx.NamespaceAddNative(ns, "len", &value.FuncTypeSig{Params: []value.TypeKind{value.TDict}}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		return ctx.MakeInt(int64(argv[0].Dict.Len()))
	}, nil, "dict::len(d)")
	ctx.NamespaceAddNative(ns, "has", &value.FuncTypeSig{Params: []value.TypeKind{value.TDict, value.TAny}}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		_, _, ok := argv[0].Dict.Get(argv[1])
		return ctx.MakeBool(ok)
	}, nil, "dict::has(d, k)")
	ctx.NamespaceAddNative(ns, "delete", &value.FuncTypeSig{Params: []value.TypeKind{value.TDict, value.TAny}}, func(ctx value.NativeContext, user interface{}, argc int, argv []value.Value) value.Value {
		return ctx.MakeBool(argv[0].Dict.Delete(argv[1]))
	}, nil, "dict::delete(d, k)")
}
