package chunk

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/db47h/minima/internal/value"
)

// CurrentVersion is the current MX format version (spec.md §4.5/§6).
const CurrentVersion uint32 = 1

var magic = [4]byte{'<', 'M', 'X', '>'}

const (
	cVoid   byte = 0
	cInt    byte = 1
	cFloat  byte = 2
	cBool   byte = 3
	cString byte = 4
)

// LoadError reports an I/O or format failure loading/saving an MX file
// (spec.md §7).
type LoadError struct {
	Msg string
}

func (e *LoadError) Error() string { return e.Msg }

// flatten walks the chunk DAG rooted at entry in a stable order (entry
// first, then a depth-first walk of subchunks), assigning each distinct
// chunk pointer a table index. Shared subchunks are visited once.
func flatten(entry *Chunk) []*Chunk {
	var order []*Chunk
	index := map[*Chunk]int{}
	var visit func(c *Chunk)
	visit = func(c *Chunk) {
		if _, ok := index[c]; ok {
			return
		}
		index[c] = len(order)
		order = append(order, c)
		for _, sub := range c.Subchunks {
			visit(sub)
		}
	}
	visit(entry)
	return order
}

// Save serializes the chunk DAG rooted at entry to filename in the MX wire
// format (spec.md §4.5).
func Save(entry *Chunk, filename string) error {
	var buf bytes.Buffer
	table := flatten(entry)
	index := map[*Chunk]uint32{}
	for i, c := range table {
		index[c] = uint32(i)
	}

	binary.Write(&buf, binary.LittleEndian, magic)
	binary.Write(&buf, binary.LittleEndian, CurrentVersion)
	binary.Write(&buf, binary.LittleEndian, uint32(len(table)))
	binary.Write(&buf, binary.LittleEndian, index[entry])

	for _, c := range table {
		if err := writeChunk(&buf, c, index); err != nil {
			return err
		}
	}
	if err := os.WriteFile(filename, buf.Bytes(), 0666); err != nil {
		return errors.Wrap(err, "mx: write file")
	}
	return nil
}

func writeChunk(w *bytes.Buffer, c *Chunk, index map[*Chunk]uint32) error {
	binary.Write(w, binary.LittleEndian, uint32(len(c.Code)))
	for _, ins := range c.Code {
		w.WriteByte(byte(ins.Op))
		w.WriteByte(ins.A)
		w.WriteByte(ins.B)
		w.WriteByte(ins.C)
		binary.Write(w, binary.LittleEndian, ins.Imm)
	}

	binary.Write(w, binary.LittleEndian, uint32(len(c.Consts)))
	for _, v := range c.Consts {
		switch v.Kind {
		case value.Void:
			w.WriteByte(cVoid)
		case value.Int:
			w.WriteByte(cInt)
			binary.Write(w, binary.LittleEndian, v.I)
		case value.Float:
			w.WriteByte(cFloat)
			binary.Write(w, binary.LittleEndian, v.F)
		case value.Bool:
			w.WriteByte(cBool)
			if v.B {
				w.WriteByte(1)
			} else {
				w.WriteByte(0)
			}
		case value.String:
			w.WriteByte(cString)
			writeString(w, v.S)
		default:
			return errors.Errorf("mx: unsupported constant kind %s", v.Kind)
		}
	}

	binary.Write(w, binary.LittleEndian, uint32(len(c.Symbols)))
	for _, s := range c.Symbols {
		writeString(w, s)
	}

	binary.Write(w, binary.LittleEndian, uint32(len(c.CmdNames)))
	for _, s := range c.CmdNames {
		writeString(w, s)
	}

	binary.Write(w, binary.LittleEndian, uint32(len(c.Subchunks)))
	for _, sub := range c.Subchunks {
		binary.Write(w, binary.LittleEndian, index[sub])
	}

	if c.Debug == nil {
		w.WriteByte(0)
	} else {
		w.WriteByte(1)
		writeString(w, c.Debug.Name)
		writeString(w, c.Debug.File)
		for _, l := range c.Debug.Lines {
			binary.Write(w, binary.LittleEndian, l)
		}
		for _, col := range c.Debug.Cols {
			binary.Write(w, binary.LittleEndian, col)
		}
	}
	return nil
}

func writeString(w *bytes.Buffer, s string) {
	binary.Write(w, binary.LittleEndian, uint32(len(s)))
	w.WriteString(s)
}

// PeekVersion reads only the MX header and returns its version, without
// loading the chunk graph (spec.md §6/§4.8's staleness-check fast path).
func PeekVersion(filename string) (uint32, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, errors.Wrap(err, "mx: open")
	}
	defer f.Close()
	var m [4]byte
	if err := binary.Read(f, binary.LittleEndian, &m); err != nil {
		return 0, errors.Wrap(err, "mx: read magic")
	}
	if m != magic {
		return 0, errors.WithStack(&LoadError{Msg: "mx: bad magic"})
	}
	var version uint32
	if err := binary.Read(f, binary.LittleEndian, &version); err != nil {
		return 0, errors.Wrap(err, "mx: read version")
	}
	return version, nil
}

// Program is a loaded MX file: its chunk table plus the designated entry
// point (spec.md §4.5 / original's MiMixProgram).
type Program struct {
	Entry  *Chunk
	Chunks []*Chunk
}

// Load reads filename and reconstructs its chunk DAG. Command-table names
// are left unresolved (CmdTargets entries nil); the caller links them via
// the VM's global command registry (spec.md §4.5 load algorithm).
func Load(filename string) (*Program, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "mx: read file")
	}
	r := bytes.NewReader(data)

	var m [4]byte
	if err := binary.Read(r, binary.LittleEndian, &m); err != nil {
		return nil, errors.Wrap(err, "mx: read magic")
	}
	if m != magic {
		return nil, errors.WithStack(&LoadError{Msg: "mx: bad magic"})
	}
	var version, chunkCount, entryIdx uint32
	binary.Read(r, binary.LittleEndian, &version)
	if version > CurrentVersion {
		return nil, errors.WithStack(&LoadError{Msg: "mx: file version newer than supported"})
	}
	binary.Read(r, binary.LittleEndian, &chunkCount)
	binary.Read(r, binary.LittleEndian, &entryIdx)

	chunks := make([]*Chunk, chunkCount)
	subchunkIdx := make([][]uint32, chunkCount)
	for i := uint32(0); i < chunkCount; i++ {
		c, subs, err := readChunk(r)
		if err != nil {
			return nil, err
		}
		chunks[i] = c
		subchunkIdx[i] = subs
	}
	for i, c := range chunks {
		for _, si := range subchunkIdx[i] {
			if int(si) >= len(chunks) {
				return nil, errors.WithStack(&LoadError{Msg: "mx: subchunk index out of range"})
			}
			c.Subchunks = append(c.Subchunks, chunks[si])
		}
	}
	if int(entryIdx) >= len(chunks) {
		return nil, errors.WithStack(&LoadError{Msg: "mx: entry index out of range"})
	}
	return &Program{Entry: chunks[entryIdx], Chunks: chunks}, nil
}

func readChunk(r *bytes.Reader) (*Chunk, []uint32, error) {
	c := New()
	var codeCount uint32
	if err := binary.Read(r, binary.LittleEndian, &codeCount); err != nil {
		return nil, nil, errors.Wrap(err, "mx: read code_count")
	}
	c.Code = make([]Ins, codeCount)
	for i := range c.Code {
		var opByte, a, b, cc byte
		var err error
		if opByte, err = r.ReadByte(); err != nil {
			return nil, nil, errors.Wrap(err, "mx: read op")
		}
		if a, err = r.ReadByte(); err != nil {
			return nil, nil, err
		}
		if b, err = r.ReadByte(); err != nil {
			return nil, nil, err
		}
		if cc, err = r.ReadByte(); err != nil {
			return nil, nil, err
		}
		var imm int32
		if err := binary.Read(r, binary.LittleEndian, &imm); err != nil {
			return nil, nil, err
		}
		c.Code[i] = Ins{Op: Op(opByte), A: a, B: b, C: cc, Imm: imm}
	}

	var constCount uint32
	binary.Read(r, binary.LittleEndian, &constCount)
	c.Consts = make([]value.Value, constCount)
	for i := range c.Consts {
		disc, err := r.ReadByte()
		if err != nil {
			return nil, nil, err
		}
		switch disc {
		case cVoid:
			c.Consts[i] = value.Void_()
		case cInt:
			var iv int64
			binary.Read(r, binary.LittleEndian, &iv)
			c.Consts[i] = value.MakeInt(iv)
		case cFloat:
			var fv float64
			binary.Read(r, binary.LittleEndian, &fv)
			c.Consts[i] = value.MakeFloat(fv)
		case cBool:
			bv, _ := r.ReadByte()
			c.Consts[i] = value.MakeBool(bv != 0)
		case cString:
			s, err := readString(r)
			if err != nil {
				return nil, nil, err
			}
			c.Consts[i] = value.MakeString(s)
		default:
			return nil, nil, errors.Errorf("mx: unknown constant discriminant %d", disc)
		}
	}

	var symCount uint32
	binary.Read(r, binary.LittleEndian, &symCount)
	c.Symbols = make([]string, symCount)
	for i := range c.Symbols {
		s, err := readString(r)
		if err != nil {
			return nil, nil, err
		}
		c.Symbols[i] = s
	}

	var cmdCount uint32
	binary.Read(r, binary.LittleEndian, &cmdCount)
	c.CmdNames = make([]string, cmdCount)
	c.CmdTargets = make([]*value.CmdObj, cmdCount)
	for i := range c.CmdNames {
		s, err := readString(r)
		if err != nil {
			return nil, nil, err
		}
		c.CmdNames[i] = s
	}

	var subCount uint32
	binary.Read(r, binary.LittleEndian, &subCount)
	subs := make([]uint32, subCount)
	for i := range subs {
		binary.Read(r, binary.LittleEndian, &subs[i])
	}

	present, err := r.ReadByte()
	if err != nil {
		return nil, nil, err
	}
	if present != 0 {
		name, err := readString(r)
		if err != nil {
			return nil, nil, err
		}
		file, err := readString(r)
		if err != nil {
			return nil, nil, err
		}
		lines := make([]uint32, codeCount)
		for i := range lines {
			if err := binary.Read(r, binary.LittleEndian, &lines[i]); err != nil {
				return nil, nil, err
			}
		}
		cols := make([]uint32, codeCount)
		for i := range cols {
			if err := binary.Read(r, binary.LittleEndian, &cols[i]); err != nil {
				return nil, nil, err
			}
		}
		c.Debug = &Debug{Name: name, File: file, Lines: lines, Cols: cols}
	}

	return c, subs, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
