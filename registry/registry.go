// Package registry implements the name-indexed function directory carved
// out of a single caller-supplied byte arena.
//
// The arena is split into two regions growing toward each other. The
// forward region holds one count byte followed by the registered names,
// NUL-terminated and concatenated, closed by an extra empty-string
// terminator. The backward region, sized when the registry is created,
// accounts for one entry-word slot per registered function. Registration
// order is the contract: the ordinal position of a name in the forward
// list is its index into the entry table, entries are append-only, and
// the two regions never overlap.
package registry

import (
	"github.com/wippyai/micro-rpc/errors"
	"github.com/wippyai/micro-rpc/packed"
)

const (
	// entryWordBytes is the per-entry cost reserved in the backward
	// region, matching the 64-bit pointer width of the target ABI.
	entryWordBytes = 8

	// avgNameBytes is the assumed average name length used to estimate
	// the entry capacity of an arena.
	avgNameBytes = 10
)

// Registry is the read path over a built function directory.
type Registry struct {
	buf     []byte
	entries []packed.Entry
}

// MutableRegistry adds the append-only write path. Entries registered
// through Set become visible to the embedded read path immediately.
type MutableRegistry struct {
	Registry
	cursor     int // byte offset of the end-of-list terminator
	maxEntries int
}

// NewMutable initializes a registry inside buf. The buffer must be
// non-empty and is owned by the registry for its lifetime; a zero-size
// buffer is an undefended precondition violation.
//
// The entry capacity is estimated as len(buf)/(avg name + NUL + entry
// word) and bounds the backward region only; the forward name region can
// still fill up first when names run long.
func NewMutable(buf []byte) *MutableRegistry {
	max := len(buf) / (avgNameBytes + 1 + entryWordBytes)
	buf[0] = 0 // entry count
	if len(buf) > 1 {
		buf[1] = 0 // end-of-list terminator
	}
	return &MutableRegistry{
		Registry: Registry{
			buf:     buf,
			entries: make([]packed.Entry, max),
		},
		cursor:     1,
		maxEntries: max,
	}
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	return int(r.buf[0])
}

// Lookup scans the forward name list and returns the ordinal of the
// first exact match.
func (r *Registry) Lookup(name string) (int, error) {
	pos := 1
	for idx := 0; idx < r.Len(); idx++ {
		end := pos
		for r.buf[end] != 0 {
			end++
		}
		if string(r.buf[pos:end]) == name {
			return idx, nil
		}
		pos = end + 1
	}
	return 0, errors.NotFound(errors.PhaseRegistry, "function", name)
}

// GetByIndex returns the entry point registered at index. Access is O(1);
// the index is bounds-checked against the arena's count byte.
func (r *Registry) GetByIndex(index int) (packed.Entry, error) {
	if index < 0 || index >= r.Len() {
		return nil, errors.OutOfRange(errors.PhaseRegistry, index, r.Len())
	}
	return r.entries[index], nil
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, r.Len())
	pos := 1
	for idx := 0; idx < r.Len(); idx++ {
		end := pos
		for r.buf[end] != 0 {
			end++
		}
		names = append(names, string(r.buf[pos:end]))
		pos = end + 1
	}
	return names
}

// Set registers entry under name. A name already present is a conflict
// unless override is set, in which case only the entry slot is replaced
// and the name keeps its ordinal. A new name is appended if both the
// entry estimate and the free bytes between the forward cursor and the
// backward region allow it.
func (m *MutableRegistry) Set(name string, entry packed.Entry, override bool) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseRegistry, "function name cannot be empty")
	}
	for i := 0; i < len(name); i++ {
		if name[i] == 0 {
			return errors.InvalidInput(errors.PhaseRegistry, "function name cannot contain NUL")
		}
	}

	if idx, err := m.Lookup(name); err == nil {
		if !override {
			return errors.Conflict("function", name)
		}
		m.entries[idx] = entry
		return nil
	}

	idx := m.Len()
	if idx >= m.maxEntries {
		return errors.CapacityExceeded(errors.PhaseRegistry,
			"entry estimate %d reached", m.maxEntries)
	}

	// One byte past the new name stays reserved for the end-of-list
	// terminator.
	nameRegionEnd := len(m.buf) - m.maxEntries*entryWordBytes
	free := nameRegionEnd - m.cursor - 1
	if len(name)+1 > free {
		return errors.CapacityExceeded(errors.PhaseRegistry,
			"name %q needs %d bytes, %d free", name, len(name)+1, free)
	}

	copy(m.buf[m.cursor:], name)
	m.cursor += len(name)
	m.buf[m.cursor] = 0
	m.cursor++
	m.buf[m.cursor] = 0 // new end-of-list terminator
	m.entries[idx] = entry
	m.buf[0]++
	return nil
}
