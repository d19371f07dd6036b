package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseParse    Phase = "parse"    // type-name decoding
	PhaseArgs     Phase = "args"     // packed argument construction
	PhaseRegistry Phase = "registry" // function directory operations
	PhaseFrame    Phase = "frame"    // wire framing codec
	PhaseSession  Phase = "session"  // session state machine
	PhaseServer   Phase = "server"   // device server dispatch
	PhaseKernel   Phase = "kernel"   // wasm kernel loading
)

// Kind categorizes the error
type Kind string

const (
	KindCapacityExceeded Kind = "capacity_exceeded"
	KindConflict         Kind = "conflict"
	KindNotFound         Kind = "not_found"
	KindOutOfRange       Kind = "out_of_range"
	KindInvalidState     Kind = "invalid_state"
	KindShortWrite       Kind = "short_write"
	KindChecksum         Kind = "checksum"
	KindMalformed        Kind = "malformed"
	KindUnsupported      Kind = "unsupported"
	KindRegistration     Kind = "registration"
	KindInvalidInput     Kind = "invalid_input"
)

// Error is the structured error type used throughout the runtime
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// CapacityExceeded creates a capacity violation error
func CapacityExceeded(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindCapacityExceeded,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Conflict creates a duplicate-registration error
func Conflict(what, name string) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindConflict,
		Detail: fmt.Sprintf("%s %q already registered", what, name),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// OutOfRange creates an index out of range error
func OutOfRange(phase Phase, index, length int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindOutOfRange,
		Detail: fmt.Sprintf("index %d out of range (length %d)", index, length),
		Value:  index,
	}
}

// InvalidState creates an out-of-sequence operation error
func InvalidState(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidState,
		Detail: detail,
	}
}

// ShortWrite creates a short/failed transport write error
func ShortWrite(phase Phase, wrote, want int) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindShortWrite,
		Detail: fmt.Sprintf("wrote %d of %d bytes", wrote, want),
	}
}

// Malformed creates a malformed input error
func Malformed(phase Phase, detail string, args ...any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMalformed,
		Detail: fmt.Sprintf(detail, args...),
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// Registration wraps a failure to register a named function
func Registration(phase Phase, name string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindRegistration,
		Detail: fmt.Sprintf("register %q", name),
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
