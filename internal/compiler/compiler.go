// Package compiler lowers a folded command-form AST (spec.md §4.2/§4.3) into
// a chunk.Chunk of register-based bytecode (spec.md §4.4). Grounded on
// original_source/src/mi_compile.c for the special-form lowering shapes
// (set/if/while/foreach/return/cmd/call) and on db47h/ngaro's asm/compile.go
// for the instruction-emission/patch-forward-jump style.
package compiler

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/db47h/minima/internal/ast"
	"github.com/db47h/minima/internal/chunk"
	"github.com/db47h/minima/internal/value"
)

// CompileError reports a compile-time failure with source position
// (spec.md §7's ParseError/NameError/LinkError family, at the compiler
// layer).
type CompileError struct {
	Line, Col int
	Msg       string
}

func (e *CompileError) Error() string { return e.Msg }

func errAt(line, col int, format string, args ...interface{}) error {
	return errors.WithStack(&CompileError{Line: line, Col: col, Msg: fmt.Sprintf(format, args...)})
}

// baseReg is the first register available to compiler-generated temporaries.
// Register 0 holds the chunk's "current value" by convention: command-call
// statements (including a bare block statement) write their result into
// r[0], while set/if/while/foreach/return leave it as it was, and HALT
// yields whatever r[0] last held (spec.md §4.4/§4.6's "last value"
// semantics).
const baseReg uint8 = 1

// loopCtx tracks enough state to lower break/continue inside while/foreach
// bodies (spec.md §4.4: "the compiler tracks loop context so break and
// continue emit JMP with proper scope-cleanup").
type loopCtx struct {
	startIns   int   // index of the loop's condition-recheck instruction
	baseDepth  int   // SCOPE_PUSH depth when the loop body was entered
	breakJumps []int // indices of JMP placeholders to patch to loop_end
}

const maxLoopNesting = 16
const maxBreakSites = 64

// Compiler lowers one Script into one Chunk. A fresh Compiler is created per
// chunk (top-level script, function body, or block literal); subchunks are
// compiled with their own Compiler and attached via chunk.AddSubchunk.
type Compiler struct {
	ch    *chunk.Chunk
	next  uint8 // next free scratch register
	depth int   // current inline SCOPE_PUSH depth

	loops []*loopCtx

	// known records command names statically known to resolve locally
	// (native builtins supplied by the host, plus any name already seen in
	// a `cmd(...)` definition earlier in this same compilation unit). Names
	// not in this set compile to CALL_CMD_DYN (spec.md §4.4 "unknown
	// (late-bound or user-defined-later) heads compile to CALL_CMD_DYN").
	known map[string]bool
}

// New creates a Compiler targeting a fresh chunk. knownCommands seeds the
// set of command names resolvable to CALL_CMD at compile time (typically
// the host's registered native builtins).
func New(knownCommands map[string]bool) *Compiler {
	known := make(map[string]bool, len(knownCommands))
	for k := range knownCommands {
		known[k] = true
	}
	return &Compiler{ch: chunk.New(), next: baseReg, known: known}
}

// Chunk returns the chunk built so far.
func (c *Compiler) Chunk() *chunk.Chunk { return c.ch }

// CompileScript compiles every top-level command of s into c's chunk,
// terminating with HALT, and returns the chunk.
func (c *Compiler) CompileScript(s *ast.Script) (*chunk.Chunk, error) {
	for _, cmd := range s.Commands {
		c.next = baseReg
		if _, err := c.compileCommand(cmd, 0); err != nil {
			return nil, err
		}
	}
	c.emit(chunk.Ins{Op: chunk.OpHalt}, 0, 0)
	return c.ch, nil
}

// compileInline compiles a nested Script inline into c's chunk (the body of
// an if/while/foreach; block literals get their own Compiler and subchunk
// instead, see compileExpr) starting its own register numbering above base, so it cannot stomp the enclosing frame's live
// temporaries (spec.md §4.4: "inside inlined scopes the base register is
// bumped").
func (c *Compiler) compileInline(body *ast.Script, base uint8) error {
	saved := c.next
	for _, cmd := range body.Commands {
		c.next = base
		if _, err := c.compileCommand(cmd, 0); err != nil {
			return err
		}
	}
	c.next = saved
	return nil
}

func (c *Compiler) alloc() uint8 {
	r := c.next
	c.next++
	return r
}

func (c *Compiler) emit(ins chunk.Ins, line, col int) int {
	idx := c.ch.Emit(ins)
	c.ch.SetPos(idx, uint32(line), uint32(col))
	return idx
}

func (c *Compiler) patchJump(idx int, target int) {
	c.ch.Code[idx].Imm = int32(target - idx)
}

func (c *Compiler) pushScope(line, col int) {
	c.emit(chunk.Ins{Op: chunk.OpScopePush}, line, col)
	c.depth++
}

func (c *Compiler) popScope(line, col int) {
	c.emit(chunk.Ins{Op: chunk.OpScopePop}, line, col)
	c.depth--
}

// compileCommand compiles one Command, placing its result (for expressions
// that produce one) into dest. dest is 0 for top-level statements and for
// inline-body statements; callers compiling a command as a subexpression
// (e.g. a call nested in another call's argument list) pass a scratch
// register instead.
func (c *Compiler) compileCommand(cmd *ast.Command, dest uint8) (uint8, error) {
	if cmd.Head.Kind != ast.ExprHead {
		return c.compileDynamicCall(cmd, dest)
	}
	switch cmd.Head.Name {
	case "set":
		return dest, c.compileSet(cmd)
	case "return":
		return dest, c.compileReturn(cmd)
	case "if":
		return dest, c.compileIf(cmd)
	case "while":
		return dest, c.compileWhile(cmd)
	case "foreach":
		return dest, c.compileForeach(cmd)
	case "call":
		return dest, c.compileCall(cmd, dest)
	case "break":
		return dest, c.compileBreak(cmd)
	case "continue":
		return dest, c.compileContinue(cmd)
	case "cmd":
		c.known[cmdDefName(cmd)] = true
		return c.compileNamedCall(cmd.Head.Name, cmd.Args, dest, cmd.Line, cmd.Col)
	default:
		return c.compileNamedCall(cmd.Head.Name, cmd.Args, dest, cmd.Line, cmd.Col)
	}
}

// cmdDefName extracts the literal name argument of a `cmd("name", ...)`
// command so the compiler can mark it as a statically known local name
// (best-effort: only applies when the name is a literal, which is always
// true for parser-emitted `func` lowering).
func cmdDefName(cmd *ast.Command) string {
	if len(cmd.Args) > 0 && cmd.Args[0].Kind == ast.ExprLitString {
		return cmd.Args[0].StringVal
	}
	return ""
}

// compileSet lowers the `set` special form (spec.md §4.4): bare-name target
// stores via STORE_VAR, index-expression target stores via STORE_INDEX.
func (c *Compiler) compileSet(cmd *ast.Command) error {
	if len(cmd.Args) != 2 {
		return errAt(cmd.Line, cmd.Col, "set: expected 2 arguments, got %d", len(cmd.Args))
	}
	target, rhs := cmd.Args[0], cmd.Args[1]
	switch target.Kind {
	case ast.ExprLitString:
		valReg, err := c.compileExpr(rhs, c.alloc())
		if err != nil {
			return err
		}
		sym := c.ch.AddSymbol(target.StringVal)
		c.emit(chunk.Ins{Op: chunk.OpStoreVar, A: valReg, Imm: int32(sym)}, cmd.Line, cmd.Col)
		return nil
	case ast.ExprIndex:
		baseReg, err := c.compileExpr(target.Base, c.alloc())
		if err != nil {
			return err
		}
		idxReg, err := c.compileExpr(target.Index, c.alloc())
		if err != nil {
			return err
		}
		valReg, err := c.compileExpr(rhs, c.alloc())
		if err != nil {
			return err
		}
		c.emit(chunk.Ins{Op: chunk.OpStoreIndex, A: baseReg, B: idxReg, C: valReg}, cmd.Line, cmd.Col)
		return nil
	}
	return errAt(cmd.Line, cmd.Col, "set: unsupported assignment target")
}

// compileReturn emits SCOPE_POPs for every inline scope still open, then
// RETURN (spec.md §4.4).
func (c *Compiler) compileReturn(cmd *ast.Command) error {
	retReg := c.alloc()
	if len(cmd.Args) == 1 {
		if _, err := c.compileExpr(cmd.Args[0], retReg); err != nil {
			return err
		}
	} else {
		c.emit(chunk.Ins{Op: chunk.OpLoadConst, A: retReg, Imm: int32(c.ch.AddConst(value.Void_()))}, cmd.Line, cmd.Col)
	}
	for i := 0; i < c.depth; i++ {
		c.emit(chunk.Ins{Op: chunk.OpScopePop}, cmd.Line, cmd.Col)
	}
	c.emit(chunk.Ins{Op: chunk.OpReturn, A: retReg}, cmd.Line, cmd.Col)
	return nil
}

// compileIf lowers if(cond, body, "elseif", cond, body, ..., "else", body)
// with forward JF past each branch and a forward JMP chain to a single end
// label (spec.md §4.4).
func (c *Compiler) compileIf(cmd *ast.Command) error {
	args := cmd.Args
	if len(args) < 2 {
		return errAt(cmd.Line, cmd.Col, "if: malformed argument list")
	}
	var endJumps []int
	idx := 0
	for idx < len(args) {
		var cond *ast.Expr
		var body *ast.Expr
		isElse := false
		if idx == 0 {
			cond, body = args[0], args[1]
			idx = 2
		} else {
			tag := args[idx]
			if tag.Kind != ast.ExprLitString {
				return errAt(cmd.Line, cmd.Col, "if: expected elseif/else marker")
			}
			switch tag.StringVal {
			case "elseif":
				cond, body = args[idx+1], args[idx+2]
				idx += 3
			case "else":
				body = args[idx+1]
				isElse = true
				idx += 2
			default:
				return errAt(cmd.Line, cmd.Col, "if: unknown marker %q", tag.StringVal)
			}
		}
		if !isElse {
			condReg := c.alloc()
			if _, err := c.compileExpr(cond, condReg); err != nil {
				return err
			}
			jf := c.emit(chunk.Ins{Op: chunk.OpJumpIfFalse, A: condReg}, cond.Line, cond.Col)
			if err := c.compileBranchBody(body); err != nil {
				return err
			}
			jmp := c.emit(chunk.Ins{Op: chunk.OpJump}, cmd.Line, cmd.Col)
			endJumps = append(endJumps, jmp)
			c.patchJump(jf, len(c.ch.Code))
		} else {
			if err := c.compileBranchBody(body); err != nil {
				return err
			}
		}
	}
	end := len(c.ch.Code)
	for _, j := range endJumps {
		c.patchJump(j, end)
	}
	return nil
}

func (c *Compiler) compileBranchBody(body *ast.Expr) error {
	if body.Kind != ast.ExprBlock {
		return errAt(body.Line, body.Col, "if/while/foreach body must be a block")
	}
	c.pushScope(body.Line, body.Col)
	base := c.next
	if err := c.compileInline(body.Body, base); err != nil {
		return err
	}
	c.popScope(body.Line, body.Col)
	return nil
}

// compileWhile lowers `while(cond, body)` (spec.md §4.4).
func (c *Compiler) compileWhile(cmd *ast.Command) error {
	if len(cmd.Args) != 2 {
		return errAt(cmd.Line, cmd.Col, "while: expected 2 arguments")
	}
	cond, body := cmd.Args[0], cmd.Args[1]
	if body.Kind != ast.ExprBlock {
		return errAt(cmd.Line, cmd.Col, "while: body must be a block")
	}
	if len(c.loops) >= maxLoopNesting {
		return errAt(cmd.Line, cmd.Col, "while: loop nesting exceeds %d", maxLoopNesting)
	}
	loopStart := len(c.ch.Code)
	condReg := c.alloc()
	if _, err := c.compileExpr(cond, condReg); err != nil {
		return err
	}
	jf := c.emit(chunk.Ins{Op: chunk.OpJumpIfFalse, A: condReg}, cond.Line, cond.Col)

	lc := &loopCtx{startIns: loopStart, baseDepth: c.depth}
	c.loops = append(c.loops, lc)

	c.pushScope(body.Line, body.Col)
	base := c.next
	if err := c.compileInline(body.Body, base); err != nil {
		return err
	}
	c.popScope(body.Line, body.Col)

	back := c.emit(chunk.Ins{Op: chunk.OpJump}, cmd.Line, cmd.Col)
	c.patchJump(back, loopStart)
	loopEnd := len(c.ch.Code)
	c.patchJump(jf, loopEnd)
	for _, bj := range lc.breakJumps {
		c.patchJump(bj, loopEnd)
	}
	c.loops = c.loops[:len(c.loops)-1]
	return nil
}

// compileForeach lowers `foreach("v", container, body)` around ITER_NEXT
// (spec.md §4.4/§4.6): cursor register starts at -1, ITER_NEXT advances it
// and reports success in its `a` register; the iterator variable uses
// DEFINE_VAR semantics so each iteration rebinds fresh (spec.md §9 Open
// Question, resolved in DESIGN.md).
func (c *Compiler) compileForeach(cmd *ast.Command) error {
	if len(cmd.Args) != 3 {
		return errAt(cmd.Line, cmd.Col, "foreach: expected 3 arguments")
	}
	nameExpr, containerExpr, body := cmd.Args[0], cmd.Args[1], cmd.Args[2]
	if nameExpr.Kind != ast.ExprLitString {
		return errAt(cmd.Line, cmd.Col, "foreach: variable name must be a literal")
	}
	if body.Kind != ast.ExprBlock {
		return errAt(cmd.Line, cmd.Col, "foreach: body must be a block")
	}
	if len(c.loops) >= maxLoopNesting {
		return errAt(cmd.Line, cmd.Col, "foreach: loop nesting exceeds %d", maxLoopNesting)
	}

	containerReg := c.alloc()
	if _, err := c.compileExpr(containerExpr, containerReg); err != nil {
		return err
	}
	cursorReg := c.alloc()
	negOne := c.ch.AddConst(value.MakeInt(-1))
	c.emit(chunk.Ins{Op: chunk.OpLoadConst, A: cursorReg, Imm: int32(negOne)}, cmd.Line, cmd.Col)
	itemReg := c.alloc()
	successReg := c.alloc()

	loopStart := len(c.ch.Code)
	c.emit(chunk.Ins{Op: chunk.OpIterNext, A: successReg, B: containerReg, C: cursorReg, Imm: int32(itemReg)}, cmd.Line, cmd.Col)
	jf := c.emit(chunk.Ins{Op: chunk.OpJumpIfFalse, A: successReg}, cmd.Line, cmd.Col)

	lc := &loopCtx{startIns: loopStart, baseDepth: c.depth}
	c.loops = append(c.loops, lc)

	c.pushScope(body.Line, body.Col)
	sym := c.ch.AddSymbol(nameExpr.StringVal)
	c.emit(chunk.Ins{Op: chunk.OpDefineVar, A: itemReg, Imm: int32(sym)}, cmd.Line, cmd.Col)
	base := c.next
	if err := c.compileInline(body.Body, base); err != nil {
		return err
	}
	c.popScope(body.Line, body.Col)

	back := c.emit(chunk.Ins{Op: chunk.OpJump}, cmd.Line, cmd.Col)
	c.patchJump(back, loopStart)
	loopEnd := len(c.ch.Code)
	c.patchJump(jf, loopEnd)
	for _, bj := range lc.breakJumps {
		c.patchJump(bj, loopEnd)
	}
	c.loops = c.loops[:len(c.loops)-1]
	return nil
}

func (c *Compiler) compileBreak(cmd *ast.Command) error {
	if len(c.loops) == 0 {
		return errAt(cmd.Line, cmd.Col, "break outside of a loop")
	}
	lc := c.loops[len(c.loops)-1]
	if len(lc.breakJumps) >= maxBreakSites {
		return errAt(cmd.Line, cmd.Col, "break: too many break sites in one loop (max %d)", maxBreakSites)
	}
	for i := 0; i < c.depth-lc.baseDepth; i++ {
		c.emit(chunk.Ins{Op: chunk.OpScopePop}, cmd.Line, cmd.Col)
	}
	j := c.emit(chunk.Ins{Op: chunk.OpJump}, cmd.Line, cmd.Col)
	lc.breakJumps = append(lc.breakJumps, j)
	return nil
}

func (c *Compiler) compileContinue(cmd *ast.Command) error {
	if len(c.loops) == 0 {
		return errAt(cmd.Line, cmd.Col, "continue outside of a loop")
	}
	lc := c.loops[len(c.loops)-1]
	for i := 0; i < c.depth-lc.baseDepth; i++ {
		c.emit(chunk.Ins{Op: chunk.OpScopePop}, cmd.Line, cmd.Col)
	}
	j := c.emit(chunk.Ins{Op: chunk.OpJump}, cmd.Line, cmd.Col)
	c.patchJump(j, lc.startIns)
	return nil
}

// compileCall lowers the `call` special form: a bare block statement
// `{ ... };` executes directly as CALL_BLOCK. Any other expression is
// evaluated and also handed to CALL_BLOCK: a block value held in a variable
// is called, and any other value makes the VM print a "call: value is not a
// block" diagnostic and leave void in dest (spec.md §4.4 "call: direct
// CALL_BLOCK to the single argument").
func (c *Compiler) compileCall(cmd *ast.Command, dest uint8) error {
	if len(cmd.Args) != 1 {
		return errAt(cmd.Line, cmd.Col, "call: expected 1 argument")
	}
	arg := cmd.Args[0]
	blockReg, err := c.compileExpr(arg, c.alloc())
	if err != nil {
		return err
	}
	c.emit(chunk.Ins{Op: chunk.OpCallBlock, A: dest, B: blockReg}, cmd.Line, cmd.Col)
	return nil
}

// compileDynamicCall handles a Command whose head is itself a computed
// expression (the parser leaves a non-identifier head in place whenever the
// call target isn't a bare name), dispatching through CALL_CMD_DYN.
func (c *Compiler) compileDynamicCall(cmd *ast.Command, dest uint8) (uint8, error) {
	headReg, err := c.compileExpr(cmd.Head, c.alloc())
	if err != nil {
		return dest, err
	}
	argc, err := c.compileArgs(cmd.Args)
	if err != nil {
		return dest, err
	}
	c.emit(chunk.Ins{Op: chunk.OpCallCmdDyn, A: dest, B: headReg, C: argc}, cmd.Line, cmd.Col)
	return dest, nil
}

// compileNamedCall lowers a regular command invocation: ARG_CLEAR, per-arg
// pushes, then CALL_CMD (statically known name) or CALL_CMD_DYN (unknown,
// late-bound, or user-defined-later name) per spec.md §4.4.
func (c *Compiler) compileNamedCall(name string, args []*ast.Expr, dest uint8, line, col int) (uint8, error) {
	argc, err := c.compileArgs(args)
	if err != nil {
		return dest, err
	}
	if c.known[name] {
		idx := c.ch.AddCmdName(name)
		c.emit(chunk.Ins{Op: chunk.OpCallCmd, A: dest, B: argc, Imm: int32(idx)}, line, col)
		return dest, nil
	}
	nameReg := c.alloc()
	nameConst := c.ch.AddConst(value.MakeString(name))
	c.emit(chunk.Ins{Op: chunk.OpLoadConst, A: nameReg, Imm: int32(nameConst)}, line, col)
	c.emit(chunk.Ins{Op: chunk.OpCallCmdDyn, A: dest, B: nameReg, C: argc}, line, col)
	return dest, nil
}

// compileArgs emits ARG_CLEAR followed by one push per argument, bracketing
// every argument that is evaluated into a register (and so may contain a
// nested command call) with ARG_SAVE/ARG_RESTORE so the outer accumulation
// survives the nested call (spec.md §4.4). Returns the argument count.
func (c *Compiler) compileArgs(args []*ast.Expr) (uint8, error) {
	c.emit(chunk.Ins{Op: chunk.OpArgClear}, 0, 0)
	for _, a := range args {
		switch a.Kind {
		case ast.ExprLitInt, ast.ExprLitFloat, ast.ExprLitBool, ast.ExprLitString, ast.ExprLitVoid:
			idx := c.ch.AddConst(exprLitValue(a))
			c.emit(chunk.Ins{Op: chunk.OpArgPushConst, Imm: int32(idx)}, a.Line, a.Col)
		case ast.ExprIdent:
			if strings.Contains(a.Name, "::") {
				reg := c.alloc()
				if _, err := c.compileExpr(a, reg); err != nil {
					return 0, err
				}
				c.emit(chunk.Ins{Op: chunk.OpArgPush, A: reg}, a.Line, a.Col)
				break
			}
			sym := c.ch.AddSymbol(a.Name)
			c.emit(chunk.Ins{Op: chunk.OpArgPushVarSym, Imm: int32(sym)}, a.Line, a.Col)
		case ast.ExprCall:
			saved := c.next
			c.emit(chunk.Ins{Op: chunk.OpArgSave}, a.Line, a.Col)
			reg := c.alloc()
			if _, err := c.compileExpr(a, reg); err != nil {
				return 0, err
			}
			c.emit(chunk.Ins{Op: chunk.OpArgRestore}, a.Line, a.Col)
			c.emit(chunk.Ins{Op: chunk.OpArgPush, A: reg}, a.Line, a.Col)
			c.next = saved
		default:
			c.emit(chunk.Ins{Op: chunk.OpArgSave}, a.Line, a.Col)
			reg := c.alloc()
			if _, err := c.compileExpr(a, reg); err != nil {
				return 0, err
			}
			c.emit(chunk.Ins{Op: chunk.OpArgRestore}, a.Line, a.Col)
			c.emit(chunk.Ins{Op: chunk.OpArgPush, A: reg}, a.Line, a.Col)
		}
	}
	return uint8(len(args)), nil
}

func exprLitValue(e *ast.Expr) value.Value {
	switch e.Kind {
	case ast.ExprLitInt:
		return value.MakeInt(e.IntVal)
	case ast.ExprLitFloat:
		return value.MakeFloat(e.FloatVal)
	case ast.ExprLitBool:
		return value.MakeBool(e.BoolVal)
	case ast.ExprLitString:
		return value.MakeString(e.StringVal)
	default:
		return value.Void_()
	}
}

// compileExpr compiles e's value into dest, returning dest for convenience.
func (c *Compiler) compileExpr(e *ast.Expr, dest uint8) (uint8, error) {
	switch e.Kind {
	case ast.ExprLitInt, ast.ExprLitFloat, ast.ExprLitBool, ast.ExprLitString, ast.ExprLitVoid:
		idx := c.ch.AddConst(exprLitValue(e))
		c.emit(chunk.Ins{Op: chunk.OpLoadConst, A: dest, Imm: int32(idx)}, e.Line, e.Col)
		return dest, nil

	case ast.ExprIdent:
		// A qualified name a::b::c loads its first segment as a variable and
		// each later segment as a member of the block loaded before it.
		segs := strings.Split(e.Name, "::")
		sym := c.ch.AddSymbol(segs[0])
		c.emit(chunk.Ins{Op: chunk.OpLoadVar, A: dest, Imm: int32(sym)}, e.Line, e.Col)
		for _, seg := range segs[1:] {
			m := c.ch.AddSymbol(seg)
			c.emit(chunk.Ins{Op: chunk.OpLoadMember, A: dest, B: dest, Imm: int32(m)}, e.Line, e.Col)
		}
		return dest, nil

	case ast.ExprHead:
		// A bare command-head string used as a value (not called): treat
		// as a variable reference to keep evaluation total.
		sym := c.ch.AddSymbol(e.Name)
		c.emit(chunk.Ins{Op: chunk.OpLoadVar, A: dest, Imm: int32(sym)}, e.Line, e.Col)
		return dest, nil

	case ast.ExprUnary:
		r, err := c.compileExpr(e.Right, c.alloc())
		if err != nil {
			return dest, err
		}
		op, err := unaryOp(e.Op)
		if err != nil {
			return dest, errAt(e.Line, e.Col, "%s", err)
		}
		c.emit(chunk.Ins{Op: op, A: dest, B: r}, e.Line, e.Col)
		return dest, nil

	case ast.ExprBinary:
		l, err := c.compileExpr(e.Left, c.alloc())
		if err != nil {
			return dest, err
		}
		r, err := c.compileExpr(e.Right, c.alloc())
		if err != nil {
			return dest, err
		}
		op, err := binaryOp(e.Op)
		if err != nil {
			return dest, errAt(e.Line, e.Col, "%s", err)
		}
		c.emit(chunk.Ins{Op: op, A: dest, B: l, C: r}, e.Line, e.Col)
		return dest, nil

	case ast.ExprIndex:
		b, err := c.compileExpr(e.Base, c.alloc())
		if err != nil {
			return dest, err
		}
		i, err := c.compileExpr(e.Index, c.alloc())
		if err != nil {
			return dest, err
		}
		c.emit(chunk.Ins{Op: chunk.OpIndex, A: dest, B: b, C: i}, e.Line, e.Col)
		return dest, nil

	case ast.ExprCall:
		if e.Head.Kind == ast.ExprHead {
			_, err := c.compileNamedCall(e.Head.Name, e.Args, dest, e.Line, e.Col)
			return dest, err
		}
		headReg, err := c.compileExpr(e.Head, c.alloc())
		if err != nil {
			return dest, err
		}
		argc, err := c.compileArgs(e.Args)
		if err != nil {
			return dest, err
		}
		c.emit(chunk.Ins{Op: chunk.OpCallCmdDyn, A: dest, B: headReg, C: argc}, e.Line, e.Col)
		return dest, nil

	case ast.ExprBlock:
		sub := New(c.known)
		subChunk, err := sub.CompileScript(e.Body)
		if err != nil {
			return dest, err
		}
		idx := c.ch.AddSubchunk(subChunk)
		c.emit(chunk.Ins{Op: chunk.OpLoadBlock, A: dest, Imm: int32(idx)}, e.Line, e.Col)
		return dest, nil

	case ast.ExprList:
		c.emit(chunk.Ins{Op: chunk.OpListNew, A: dest}, e.Line, e.Col)
		for _, el := range e.Elems {
			v, err := c.compileExpr(el, c.alloc())
			if err != nil {
				return dest, err
			}
			c.emit(chunk.Ins{Op: chunk.OpListPush, A: dest, B: v}, el.Line, el.Col)
		}
		return dest, nil

	case ast.ExprDict:
		c.emit(chunk.Ins{Op: chunk.OpDictNew, A: dest}, e.Line, e.Col)
		for i := 0; i+1 < len(e.Elems); i += 2 {
			k, err := c.compileExpr(e.Elems[i], c.alloc())
			if err != nil {
				return dest, err
			}
			v, err := c.compileExpr(e.Elems[i+1], c.alloc())
			if err != nil {
				return dest, err
			}
			c.emit(chunk.Ins{Op: chunk.OpStoreIndex, A: dest, B: k, C: v}, e.Line, e.Col)
		}
		return dest, nil
	}
	return dest, errAt(e.Line, e.Col, "compiler: unhandled expression kind %d", e.Kind)
}

func unaryOp(op string) (chunk.Op, error) {
	switch op {
	case "-":
		return chunk.OpNeg, nil
	case "!":
		return chunk.OpNot, nil
	}
	return 0, errors.Errorf("unsupported unary operator %q", op)
}

func binaryOp(op string) (chunk.Op, error) {
	switch op {
	case "+":
		return chunk.OpAdd, nil
	case "-":
		return chunk.OpSub, nil
	case "*":
		return chunk.OpMul, nil
	case "/":
		return chunk.OpDiv, nil
	case "%":
		return chunk.OpMod, nil
	case "==":
		return chunk.OpEq, nil
	case "!=":
		return chunk.OpNeq, nil
	case "<":
		return chunk.OpLt, nil
	case "<=":
		return chunk.OpLtEq, nil
	case ">":
		return chunk.OpGt, nil
	case ">=":
		return chunk.OpGtEq, nil
	case "&&":
		return chunk.OpAnd, nil
	case "||":
		return chunk.OpOr, nil
	}
	return 0, errors.Errorf("unsupported binary operator %q", op)
}
