package meta

import (
	"fmt"
	"strings"
)

// Mode is a bit set of permitted operations. Permission math is pure set
// intersection; the string form exists only at the configuration edge.
type Mode uint16

const (
	ModeCreate Mode = 1 << iota
	ModeRead
	ModeUpdate
	ModeDelete
	ModeBatch
	ModeClone
	ModeSearch
	ModeImport
	ModeExport
)

// ModeNone permits nothing.
const ModeNone Mode = 0

// ModeAll permits every operation.
const ModeAll = ModeCreate | ModeRead | ModeUpdate | ModeDelete | ModeBatch | ModeClone | ModeSearch | ModeImport | ModeExport

// modeChars fixes the character for each operation and the canonical
// order of the string form.
var modeChars = []struct {
	bit Mode
	ch  byte
}{
	{ModeCreate, 'c'},
	{ModeRead, 'r'},
	{ModeUpdate, 'u'},
	{ModeDelete, 'd'},
	{ModeBatch, 'b'},
	{ModeClone, 'o'},
	{ModeSearch, 's'},
	{ModeImport, 'i'},
	{ModeExport, 'e'},
}

// Has reports whether every bit of op is permitted.
func (m Mode) Has(op Mode) bool {
	return m&op == op
}

// Intersect returns the operations permitted by both modes. Bits absent
// from m can never appear in the result, so callers may only narrow.
func (m Mode) Intersect(other Mode) Mode {
	return m & other
}

// String returns the mode characters in canonical order, or "" for
// ModeNone.
func (m Mode) String() string {
	var b strings.Builder
	for _, mc := range modeChars {
		if m.Has(mc.bit) {
			b.WriteByte(mc.ch)
		}
	}
	return b.String()
}

// ParseMode converts a mode string to a Mode. "*" means every operation;
// otherwise each character must be one of "crudbosie". Duplicates are
// harmless.
func ParseMode(s string) (Mode, error) {
	if s == "*" {
		return ModeAll, nil
	}
	var m Mode
	for i := 0; i < len(s); i++ {
		matched := false
		for _, mc := range modeChars {
			if s[i] == mc.ch {
				m |= mc.bit
				matched = true
				break
			}
		}
		if !matched {
			return ModeNone, fmt.Errorf("unknown mode character %q in %q", s[i], s)
		}
	}
	return m, nil
}

// Mode returns the operations the server flags allow. Search rides on
// Read and Batch on Update since neither has a flag of its own.
func (o OpFlags) Mode() Mode {
	var m Mode
	if o.Create {
		m |= ModeCreate
	}
	if o.Read {
		m |= ModeRead | ModeSearch
	}
	if o.Update {
		m |= ModeUpdate | ModeBatch
	}
	if o.Delete {
		m |= ModeDelete
	}
	if o.Clone {
		m |= ModeClone
	}
	if o.Import {
		m |= ModeImport
	}
	if o.Export {
		m |= ModeExport
	}
	return m
}

// EffectiveMode computes the operations a role may perform on the
// entity: the server's flags intersected with the role's declared mode.
// With no role declarations every role gets all flagged operations; with
// declarations present, a role without an entry falls back to the "*"
// entry or, failing that, to nothing.
func (e *Entity) EffectiveMode(role string) Mode {
	server := e.Ops.Mode()
	if len(e.roleModes) == 0 {
		return server
	}
	roleMode, ok := e.roleModes[role]
	if !ok {
		roleMode, ok = e.roleModes["*"]
		if !ok {
			return ModeNone
		}
	}
	return server.Intersect(roleMode)
}

// Narrow intersects the effective mode with a caller-declared mode
// string. Unknown characters and operations beyond the effective mode
// are dropped, never escalated.
func Narrow(effective Mode, declared string) Mode {
	if declared == "" {
		return effective
	}
	var m Mode
	for i := 0; i < len(declared); i++ {
		for _, mc := range modeChars {
			if declared[i] == mc.ch {
				m |= mc.bit
			}
		}
	}
	if declared == "*" {
		m = ModeAll
	}
	return effective.Intersect(m)
}
