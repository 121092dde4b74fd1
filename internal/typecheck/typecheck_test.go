package typecheck_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/db47h/minima/internal/fold"
	"github.com/db47h/minima/internal/parser"
	"github.com/db47h/minima/internal/typecheck"
)

func checkSrc(t *testing.T, src string) []typecheck.Diagnostic {
	t.Helper()
	p := parser.New(src, "check.mi")
	script, err := p.ParseScript()
	require.NoError(t, err)
	script = fold.Script(script)
	return typecheck.Check(script)
}

func TestCleanScriptHasNoDiagnostics(t *testing.T) {
	diags := checkSrc(t, `
func add(a: int, b: int) -> int {
	return a + b;
}
let r = add(1, 2);
return r;
`)
	assert.Empty(t, diags)
}

func TestCallArityMismatchReported(t *testing.T) {
	diags := checkSrc(t, `
func add(a: int, b: int) -> int {
	return a + b;
}
let r = add(1, 2, 3);
return r;
`)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Msg, "expected 2 argument(s), got 3")
}

func TestCallArgumentKindMismatchReported(t *testing.T) {
	diags := checkSrc(t, `
func greet(name: string) -> void {
	return;
}
greet(42);
`)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Msg, "argument 0")
}

func TestReturnKindMismatchReported(t *testing.T) {
	diags := checkSrc(t, `
func f() -> int {
	return "not an int";
}
`)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Msg, "return: got string, function declares -> int")
}

func TestIntReturnSatisfiesDeclaredFloat(t *testing.T) {
	diags := checkSrc(t, `
func f() -> float {
	return 1;
}
`)
	assert.Empty(t, diags)
}

func TestMissingReturnValueAgainstNonVoidReported(t *testing.T) {
	diags := checkSrc(t, `
func f() -> int {
	return;
}
`)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Msg, "missing value")
}

func TestForwardReferencedCallIsChecked(t *testing.T) {
	// calling a function declared later in the file is legal (CALL_CMD_DYN
	// resolves it at runtime), and the checker pre-scans func decls so the
	// call site is still checked against the later declaration.
	diags := checkSrc(t, `
let r = add(1, 2, 3);
func add(a: int, b: int) -> int {
	return a + b;
}
`)
	require.Len(t, diags, 1)
	assert.Contains(t, diags[0].Msg, "expected 2 argument(s), got 3")
}

func TestErrorsCombinesDiagnosticsWhenNonEmpty(t *testing.T) {
	diags := checkSrc(t, `
func add(a: int, b: int) -> int {
	return a + b;
}
add(1);
`)
	err := typecheck.Errors(diags)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 issue(s)")
}

func TestErrorsReturnsNilWhenEmpty(t *testing.T) {
	assert.NoError(t, typecheck.Errors(nil))
}
