// Package packed implements the dynamic calling convention used to invoke
// native entry points by name. Arguments travel as two fixed-capacity
// parallel arrays (values and type codes) so the call path performs no heap
// allocation and the whole argument block is cheaply copyable by value.
package packed

import (
	"math"

	"github.com/wippyai/micro-rpc/dtype"
	"github.com/wippyai/micro-rpc/errors"
)

// MaxArgs is the capacity of the packed argument block.
const MaxArgs = 10

// Value is one 64-bit argument word. Interpretation is governed by the
// paired TypeCode; floats are stored as IEEE-754 bit patterns and opaque
// handles as table indices.
type Value uint64

// Int64Value packs a signed integer argument.
func Int64Value(v int64) Value { return Value(uint64(v)) }

// Float64Value packs a floating point argument.
func Float64Value(v float64) Value { return Value(math.Float64bits(v)) }

// HandleValue packs an opaque handle argument.
func HandleValue(h uint32) Value { return Value(uint64(h)) }

// Int64 unpacks the value as a signed integer.
func (v Value) Int64() int64 { return int64(v) }

// Float64 unpacks the value as a float.
func (v Value) Float64() float64 { return math.Float64frombits(uint64(v)) }

// Handle unpacks the value as an opaque handle.
func (v Value) Handle() uint32 { return uint32(v) }

// TypeCode is the discriminant tag paired with each Value.
type TypeCode uint32

const (
	TypeCodeInt TypeCode = iota
	TypeCodeUInt
	TypeCodeFloat
	TypeCodeHandle
)

// CodeOf maps a parsed type descriptor onto the argument tag it travels
// under. The sentinel descriptor maps to TypeCodeHandle like any other
// handle.
func CodeOf(d dtype.Descriptor) TypeCode {
	switch d.Code {
	case dtype.Int:
		return TypeCodeInt
	case dtype.UInt:
		return TypeCodeUInt
	case dtype.Float:
		return TypeCodeFloat
	default:
		return TypeCodeHandle
	}
}

// Entry is a native entry point invoked through the packed convention.
// The two return-channel slices are reserved for a higher layer and are
// always nil at this layer. The returned status word is passed through to
// the caller uninterpreted.
type Entry func(values []Value, codes []TypeCode, retValues []Value, retCodes []TypeCode) int32

// Args is an ordered block of up to MaxArgs tagged values plus a count.
// It is a register file, not a collection: copy it by value, never hold
// an index into it across calls.
type Args struct {
	values [MaxArgs]Value
	codes  [MaxArgs]TypeCode
	count  int
}

// NewArgs copies values and codes verbatim into a packed block. Both
// slices must have the same length, at most MaxArgs; violating either is
// a capacity error rather than silent truncation.
func NewArgs(values []Value, codes []TypeCode) (Args, error) {
	var a Args
	if len(values) != len(codes) {
		return a, errors.InvalidInput(errors.PhaseArgs, "values and codes length mismatch")
	}
	if len(values) > MaxArgs {
		return a, errors.CapacityExceeded(errors.PhaseArgs,
			"%d arguments exceed capacity %d", len(values), MaxArgs)
	}
	copy(a.values[:], values)
	copy(a.codes[:], codes)
	a.count = len(values)
	return a, nil
}

// Len returns the number of valid arguments.
func (a *Args) Len() int { return a.count }

// Values returns the valid prefix of the value array.
func (a *Args) Values() []Value { return a.values[:a.count] }

// Codes returns the valid prefix of the tag array.
func (a *Args) Codes() []TypeCode { return a.codes[:a.count] }

// Func binds a native entry point to exactly one Args snapshot at a time.
type Func struct {
	entry Entry
	args  Args
}

// NewFunc binds entry to an initial argument snapshot.
func NewFunc(entry Entry, args Args) Func {
	return Func{entry: entry, args: args}
}

// SetArgs overwrites the bound call state with a copy of args.
func (f *Func) SetArgs(args Args) {
	f.args = args
}

// Call invokes the bound entry point with the packed arrays and the two
// reserved return-channel slots. The status word is not interpreted here;
// return-value handling belongs to a higher layer.
func (f *Func) Call() int32 {
	return f.entry(f.args.values[:f.args.count], f.args.codes[:f.args.count], nil, nil)
}

// Invoke calls entry directly over caller-owned slices, bypassing the
// fixed-capacity block. This is the dynamically sized alternative for
// hosts that do not need the bounded, allocation-free call path.
func Invoke(entry Entry, values []Value, codes []TypeCode) (int32, error) {
	if len(values) != len(codes) {
		return 0, errors.InvalidInput(errors.PhaseArgs, "values and codes length mismatch")
	}
	return entry(values, codes, nil, nil), nil
}
