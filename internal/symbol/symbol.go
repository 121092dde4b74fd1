// Package symbol implements interned variable names and lexical scope
// frames with a parent chain (spec.md §3 "Scope frame (environment)").
// Grounded on original_source/src/mi_runtime.h's MiScopeFrame/MiRtVar linked
// list; reimplemented per spec.md §9's guidance to use per-call allocation
// rather than the original's freed-frame freelist (an optimization, not a
// semantic requirement).
package symbol

import "github.com/db47h/minima/internal/value"

// Table interns symbol names to small integer ids, shared across a
// compilation unit's chunk tree (spec.md §4.4 "Symbols are likewise
// deduped").
type Table struct {
	names []string
	ids   map[string]uint32
}

// NewTable creates an empty symbol table.
func NewTable() *Table {
	return &Table{ids: make(map[string]uint32)}
}

// Intern returns the id for name, assigning a new one if this is the first
// occurrence.
func (t *Table) Intern(name string) uint32 {
	if id, ok := t.ids[name]; ok {
		return id
	}
	id := uint32(len(t.names))
	t.names = append(t.names, name)
	t.ids[name] = id
	return id
}

// Name returns the interned name for id.
func (t *Table) Name(id uint32) string {
	if int(id) >= len(t.names) {
		return ""
	}
	return t.names[id]
}

type binding struct {
	name  string
	value value.Value
}

// Scope is a scope frame: an ordered mapping from name to value plus a
// pointer to a parent frame (spec.md §3). A runtime has one root frame;
// each call or inlined block creates a new frame whose parent is
// determined by the call ABI (spec.md §5).
type Scope struct {
	vars   []binding
	parent *Scope
}

// NewScope creates a scope frame whose parent is parent (nil for a root or
// detached scope).
func NewScope(parent *Scope) *Scope {
	return &Scope{parent: parent}
}

// Parent returns the frame's parent, or nil.
func (s *Scope) Parent() *Scope { return s.parent }

func (s *Scope) find(name string) (*binding, bool) {
	for i := range s.vars {
		if s.vars[i].name == name {
			return &s.vars[i], true
		}
	}
	return nil, false
}

// Get looks up name in this frame, then its ancestors.
func (s *Scope) Get(name string) (value.Value, bool) {
	for fr := s; fr != nil; fr = fr.parent {
		if b, ok := fr.find(name); ok {
			return b.value, true
		}
	}
	return value.Value{}, false
}

// Define creates (or overwrites) a binding in this frame only, never
// walking to a parent. Used for DEFINE_VAR and for per-iteration foreach
// iterator variables (spec.md open question: the iterator is defined fresh
// in the per-iteration scope, never leaking into the enclosing one).
func (s *Scope) Define(name string, v value.Value) {
	if b, ok := s.find(name); ok {
		value.Assign(&b.value, v)
		return
	}
	value.Retain(v)
	s.vars = append(s.vars, binding{name: name, value: v})
}

// Set assigns to the nearest existing binding in the scope chain, creating
// one in the current frame if none exists anywhere up the chain
// (spec.md §4.4 STORE_VAR semantics).
func (s *Scope) Set(name string, v value.Value) {
	for fr := s; fr != nil; fr = fr.parent {
		if b, ok := fr.find(name); ok {
			value.Assign(&b.value, v)
			return
		}
	}
	s.Define(name, v)
}

// Release releases every value bound directly in this frame (not its
// ancestors). Call when a frame goes out of scope (SCOPE_POP, function
// return, or runtime shutdown) to preserve ref-count discipline.
func (s *Scope) Release() {
	for _, b := range s.vars {
		value.Release(b.value)
	}
	s.vars = nil
}
