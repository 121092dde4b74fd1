package chunk

import (
	"fmt"
	"io"
)

// Disassemble writes a human-readable listing of entry and every subchunk
// it reaches, in the same depth-first order the MX codec flattens them in
// (spec.md §6 `-d`). Each subchunk gets its own header so LDB's payload is
// traceable back to the instruction that loads it.
func Disassemble(w io.Writer, entry *Chunk) {
	seen := map[*Chunk]int{}
	var order []*Chunk
	var visit func(c *Chunk)
	visit = func(c *Chunk) {
		if _, ok := seen[c]; ok {
			return
		}
		seen[c] = len(order)
		order = append(order, c)
		for _, sub := range c.Subchunks {
			visit(sub)
		}
	}
	visit(entry)

	for i, c := range order {
		name := "entry"
		if c.Debug != nil && c.Debug.Name != "" {
			name = c.Debug.Name
		}
		fmt.Fprintf(w, "; chunk %d (%s)\n", i, name)
		disassembleOne(w, c, seen)
		fmt.Fprintln(w)
	}
}

func disassembleOne(w io.Writer, c *Chunk, seen map[*Chunk]int) {
	for ip, ins := range c.Code {
		var line, col uint32
		if c.Debug != nil && ip < len(c.Debug.Lines) {
			line, col = c.Debug.Lines[ip], c.Debug.Cols[ip]
		}
		fmt.Fprintf(w, "%4d  %-14s a=%-3d b=%-3d c=%-3d imm=%-6d", ip, ins.Op, ins.A, ins.B, ins.C, ins.Imm)
		if line != 0 {
			fmt.Fprintf(w, "  ; %d:%d", line, col)
		}
		switch ins.Op {
		case OpLoadConst:
			if int(ins.Imm) < len(c.Consts) {
				fmt.Fprintf(w, "  const=%s", c.Consts[ins.Imm].String())
			}
		case OpLoadBlock:
			if int(ins.Imm) < len(c.Subchunks) {
				fmt.Fprintf(w, "  chunk=%d", seen[c.Subchunks[ins.Imm]])
			}
		case OpLoadVar, OpStoreVar, OpDefineVar, OpLoadIndirectVar, OpArgPushVarSym, OpArgPushSym:
			if int(ins.Imm) < len(c.Symbols) {
				fmt.Fprintf(w, "  sym=%q", c.Symbols[ins.Imm])
			}
		case OpCallCmd:
			if int(ins.Imm) < len(c.CmdNames) {
				fmt.Fprintf(w, "  cmd=%q", c.CmdNames[ins.Imm])
			}
		}
		fmt.Fprintln(w)
	}
}
