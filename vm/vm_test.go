package vm_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db47h/minima/internal/value"
)

// Scenario A (spec.md §8): a recursive function computes correctly and
// leaves the expected value in the return register.
func TestFibonacciRecursive(t *testing.T) {
	src := `
func fib(n: int) -> int {
	if (n < 2) {
		return n;
	}
	return fib(n - 1) + fib(n - 2);
}
let result = fib(10);
return result;
`
	res, _, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, value.Int, res.Kind)
	assert.EqualValues(t, 55, res.I)
}

// Scenario B: foreach over a list accumulates a sum.
func TestForeachSum(t *testing.T) {
	src := `
let xs = list::new();
list::push(xs, 1);
list::push(xs, 2);
list::push(xs, 3);
list::push(xs, 4);
let total = 0;
foreach (v, xs) {
	total = total + v;
}
return total;
`
	res, _, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, value.Int, res.Kind)
	assert.EqualValues(t, 10, res.I)
}

// Scenario C: iterating a dict visits every key exactly once.
func TestDictIteration(t *testing.T) {
	src := `
let d = dict::new();
d["a"] = 1;
d["b"] = 2;
d["c"] = 3;
let seen = 0;
foreach (kv, d) {
	seen = seen + 1;
}
return seen;
`
	res, _, err := run(t, src)
	require.NoError(t, err)
	assert.EqualValues(t, 3, res.I)
}

// Scenario E: a recoverable runtime error (divide by zero) prints a
// file:line:col diagnostic and downgrades the faulting register to void
// without aborting the whole run.
func TestRecoverableErrorReporting(t *testing.T) {
	src := `
let x = 1 / 0;
return x;
`
	res, out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, value.Void, res.Kind)
	assert.Contains(t, out, "test.mi:")
}

// A recoverable error raised from inside a called function prints a
// call-stack frame naming the caller, with its real file:line:col -- not
// the always-blank "(:0:0)" a frame gets if its position is never captured.
func TestRecoverableErrorReportsCallerFrame(t *testing.T) {
	src := `
func inner(n: int) -> int {
	return 1 / 0;
}
let x = inner(5);
return x;
`
	res, out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, value.Void, res.Kind)
	assert.Contains(t, out, `at cmd "inner"`)
	assert.NotContains(t, out, "(:0:0)")
	assert.Regexp(t, `at cmd "inner" \(test\.mi:\d+:\d+\)`, out)
}

// assert(false) raises a FatalError that unwinds the whole run instead of
// being downgraded to a diagnostic.
func TestAssertIsFatal(t *testing.T) {
	src := `
assert(false, "boom");
return 1;
`
	_, _, err := run(t, src)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "boom"))
}

// Scenario F: constructing and immediately overwriting heap objects in a
// loop nets to zero live objects once every register holding one has been
// released (spec.md §8, ref-count zeroing).
func TestRefCountZeroingOnOverwrite(t *testing.T) {
	before := value.LiveCount()
	src := `
let i = 0;
while (i < 100) {
	let tmp = list::new();
	list::push(tmp, i);
	i = i + 1;
}
return i;
`
	res, _, err := run(t, src)
	require.NoError(t, err)
	assert.EqualValues(t, 100, res.I)
	assert.Equal(t, before, value.LiveCount())
}

// While loops terminate and break/continue special-cased head names work.
func TestWhileBreakContinue(t *testing.T) {
	src := `
let i = 0;
let sum = 0;
while (i < 10) {
	i = i + 1;
	if (i == 5) {
		continue();
	}
	if (i > 8) {
		break();
	}
	sum = sum + i;
}
return sum;
`
	res, _, err := run(t, src)
	require.NoError(t, err)
	// 1+2+3+4+6+7+8 = 31
	assert.EqualValues(t, 31, res.I)
}

func TestStringAndArithmeticTypeError(t *testing.T) {
	src := `
let x = "abc" + 1;
return x;
`
	res, out, err := run(t, src)
	require.NoError(t, err)
	assert.Equal(t, value.Void, res.Kind)
	assert.NotEmpty(t, out)
}

// A bare block statement executes immediately in its own scope, and its
// returned value becomes the enclosing chunk's current value (register 0).
func TestBareBlockStatementExecutes(t *testing.T) {
	src := `
{
	let y = 42;
	return y;
};
`
	res, _, err := run(t, src)
	require.NoError(t, err)
	assert.EqualValues(t, 42, res.I)
}
