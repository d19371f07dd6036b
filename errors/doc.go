// Package errors provides structured error types for the micro-rpc runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries a human-readable detail message and an
// optional cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseRegistry, errors.KindCapacityExceeded).
//		Detail("arena full after %d entries", n).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Conflict("registry", "add")
//	err := errors.OutOfRange(errors.PhaseRegistry, 5, 3)
//
// All errors implement the standard error interface and support errors.Is/As.
// Two *Error values match under errors.Is when their Phase and Kind agree,
// which is how callers discriminate capacity failures from conflicts without
// string comparison.
package errors
