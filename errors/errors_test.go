package errors

import (
	"errors"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseRegistry,
				Kind:   KindCapacityExceeded,
				Detail: "arena full",
			},
			contains: []string{"[registry]", "capacity_exceeded", "arena full"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseSession,
				Kind:  KindInvalidState,
			},
			contains: []string{"[session]", "invalid_state"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseFrame,
				Kind:   KindShortWrite,
				Detail: "transport closed",
				Cause:  errors.New("broken pipe"),
			},
			contains: []string{"[frame]", "short_write", "transport closed", "caused by", "broken pipe"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("error message %q does not contain %q", msg, s)
				}
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseServer, KindMalformed, cause, "bad request")
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is did not find wrapped cause")
	}
	if errors.Unwrap(err) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(err), cause)
	}
}

func TestError_Is(t *testing.T) {
	a := CapacityExceeded(PhaseRegistry, "full")
	b := CapacityExceeded(PhaseRegistry, "different detail")
	c := Conflict("function", "add")

	if !errors.Is(a, b) {
		t.Errorf("errors with same phase+kind should match")
	}
	if errors.Is(a, c) {
		t.Errorf("errors with different kind should not match")
	}
}

func TestBuilder(t *testing.T) {
	err := New(PhaseArgs, KindCapacityExceeded).
		Detail("%d arguments exceed capacity %d", 12, 10).
		Value(12).
		Build()

	if err.Phase != PhaseArgs || err.Kind != KindCapacityExceeded {
		t.Errorf("builder lost phase/kind: %v %v", err.Phase, err.Kind)
	}
	if !strings.Contains(err.Detail, "12 arguments exceed capacity 10") {
		t.Errorf("builder detail = %q", err.Detail)
	}
	if err.Value != 12 {
		t.Errorf("builder value = %v", err.Value)
	}
}
