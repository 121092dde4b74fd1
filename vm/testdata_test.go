// Package vm_test drives the VM end-to-end through the real lexer/parser/
// fold/compiler pipeline rather than poking at unexported internals, which
// also keeps this test binary free of the import cycle an internal test
// package would hit (module/corelib imports vm for vm.FatalError).
package vm_test

import (
	"bytes"
	"testing"

	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/compiler"
	"github.com/db47h/minima/internal/fold"
	"github.com/db47h/minima/internal/parser"
	"github.com/db47h/minima/internal/value"
	"github.com/db47h/minima/module/corelib"
	"github.com/db47h/minima/vm"
)

// newTestVM creates a VM with corelib registered and output captured to buf,
// mirroring how cmd/minima wires a fresh instance.
func newTestVM(t *testing.T, buf *bytes.Buffer) *vm.Instance {
	t.Helper()
	i := vm.New(vm.Output(buf))
	corelib.Register(i)
	return i
}

// compileSrc runs src through the lexer/parser/fold/compiler pipeline, using
// i's currently registered command names to resolve static calls.
func compileSrc(t *testing.T, i *vm.Instance, src string) *chunk.Chunk {
	t.Helper()
	p := parser.New(src, "test.mi")
	script, err := p.ParseScript()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	script = fold.Script(script)
	c := compiler.New(i.KnownNames())
	ch, err := c.CompileScript(script)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return ch
}

// run compiles and executes src against a fresh VM, returning the result
// value, the VM's captured stdout, and any run error.
func run(t *testing.T, src string) (value.Value, string, error) {
	t.Helper()
	var buf bytes.Buffer
	i := newTestVM(t, &buf)
	ch := compileSrc(t, i, src)
	res, err := i.Run(ch)
	return res, buf.String(), err
}
