// Package vm - error handling with stack traces.
package vm

import (
	"fmt"
	"strings"
)

// StackFrame is one entry in a captured call stack: which function was
// executing and where its instruction pointer was.
type StackFrame struct {
	Function string
	IP       int
}

// RuntimeError wraps a vm.Error with the call stack captured at the
// moment it was raised, innermost frame first.
type RuntimeError struct {
	Err        error
	StackTrace []StackFrame
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if len(e.StackTrace) > 0 {
		b.WriteString("\n\nstack trace:")
		for _, frame := range e.StackTrace {
			fmt.Fprintf(&b, "\n  in %s (ip %d)", frame.Function, frame.IP)
		}
	}
	return b.String()
}

func (e *RuntimeError) Unwrap() error { return e.Err }

func newRuntimeError(err error, stack []StackFrame) *RuntimeError {
	return &RuntimeError{Err: err, StackTrace: stack}
}

// Trace snapshots the VM's current call stack, innermost frame first.
// It's what Run attaches to an error before returning it, so a failure
// deep in a recursive call reports the whole chain that led to it.
func (m *VM) Trace() []StackFrame {
	trace := make([]StackFrame, 0, len(m.frames))
	for i := len(m.frames) - 1; i >= 0; i-- {
		frame := m.frames[i]
		name := fmt.Sprintf("function#%d", frame.Function)
		if fn, err := m.functionAt(frame.Function); err == nil {
			name = fn.Name
		}
		trace = append(trace, StackFrame{Function: name, IP: frame.IP})
	}
	return trace
}
