package corelib_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db47h/minima/internal/compiler"
	"github.com/db47h/minima/internal/fold"
	"github.com/db47h/minima/internal/parser"
	"github.com/db47h/minima/internal/value"
	"github.com/db47h/minima/module/corelib"
	"github.com/db47h/minima/vm"
)

// run compiles and executes src against a fresh VM with corelib registered,
// returning the result value and the captured output stream.
func run(t *testing.T, src string) (value.Value, string, error) {
	t.Helper()
	var buf bytes.Buffer
	i := vm.New(vm.Output(&buf))
	corelib.Register(i)

	p := parser.New(src, "corelib_test.mi")
	script, err := p.ParseScript()
	require.NoError(t, err)
	script = fold.Script(script)

	c := compiler.New(i.KnownNames())
	ch, err := c.CompileScript(script)
	require.NoError(t, err)

	res, err := i.Run(ch)
	return res, buf.String(), err
}

func TestPrintWritesThroughConfiguredOutput(t *testing.T) {
	_, out, err := run(t, `print("hello", 1, true);`)
	require.NoError(t, err)
	assert.Equal(t, "hello 1 true\n", out)
}

func TestPrintWithNoArgsStillWritesNewline(t *testing.T) {
	_, out, err := run(t, `print();`)
	require.NoError(t, err)
	assert.Equal(t, "\n", out)
}

func TestUserFuncDefinitionAndCall(t *testing.T) {
	res, _, err := run(t, `
func square(n: int) -> int {
	return n * n;
}
return square(7);
`)
	require.NoError(t, err)
	assert.EqualValues(t, 49, res.I)
}

func TestRedefiningCommandIsFatal(t *testing.T) {
	_, _, err := run(t, `
func square(n: int) -> int {
	return n * n;
}
func square(n: int) -> int {
	return n;
}
`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already defined")
}

func TestAssertPassesSilentlyWhenTruthy(t *testing.T) {
	res, _, err := run(t, `
assert(1 == 1, "unreachable");
return 42;
`)
	require.NoError(t, err)
	assert.EqualValues(t, 42, res.I)
}

func TestAssertDefaultMessage(t *testing.T) {
	_, _, err := run(t, `assert(false);`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assertion failed")
}

func TestFatalJoinsArgsWithSpaces(t *testing.T) {
	_, _, err := run(t, `fatal("bad", "state", 1);`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad state 1")
}

func TestArgIntrospectionInsideCommand(t *testing.T) {
	res, _, err := run(t, `
func describe(a: int, b: int) -> int {
	return arg(0) + arg(1);
}
return describe(3, 4);
`)
	require.NoError(t, err)
	assert.EqualValues(t, 7, res.I)
}

func TestArgNameIntrospection(t *testing.T) {
	res, _, err := run(t, `
func describe(a: int, b: int) -> bool {
	return arg_name(0) == "a" && arg_name(1) == "b";
}
return describe(3, 4);
`)
	require.NoError(t, err)
	assert.Equal(t, value.Bool, res.Kind)
	assert.True(t, res.B)
}

func TestIntNamespace(t *testing.T) {
	res, _, err := run(t, `
let a = int::abs(0 - 5);
let b = int::min(3, 9);
let c = int::max(3, 9);
return a + b + c;
`)
	require.NoError(t, err)
	assert.EqualValues(t, 5+3+9, res.I)
}

func TestIntNamespaceConstants(t *testing.T) {
	res, _, err := run(t, `return int::MIN < int::MAX;`)
	require.NoError(t, err)
	assert.Equal(t, value.Bool, res.Kind)
	assert.True(t, res.B)
}

func TestFloatNamespace(t *testing.T) {
	res, _, err := run(t, `return float::sqrt(16.0);`)
	require.NoError(t, err)
	assert.Equal(t, value.Float, res.Kind)
	assert.InDelta(t, 4.0, res.F, 1e-9)
}

func TestFloatNamespaceAcceptsIntLiteralArg(t *testing.T) {
	// float::sqrt's declared param is TFloat; an int literal argument is
	// compatible via the same widening the typechecker allows.
	res, _, err := run(t, `return float::sqrt(16);`)
	require.NoError(t, err)
	assert.InDelta(t, 4.0, res.F, 1e-9)
}

func TestListNamespace(t *testing.T) {
	res, _, err := run(t, `
let l = list::new();
list::push(l, 10);
list::push(l, 20);
return list::len(l);
`)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.I)
}

func TestDictNamespace(t *testing.T) {
	res, _, err := run(t, `
let d = dict::new();
d["a"] = 1;
let had = dict::has(d, "a");
let removed = dict::delete(d, "a");
let hasAfter = dict::has(d, "a");
return had && removed && !hasAfter;
`)
	require.NoError(t, err)
	assert.Equal(t, value.Bool, res.Kind)
	assert.True(t, res.B)
}

func TestTypeBuiltin(t *testing.T) {
	res, _, err := run(t, `return type(1) == type(2);`)
	require.NoError(t, err)
	assert.True(t, res.B)
}
