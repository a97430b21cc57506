package alarm

import (
	"fmt"
	"runtime"
)

// PanicError wraps a value recovered from a listener or processor together
// with the stack at the point of the panic.
type PanicError struct {
	Value any    // The original panic value
	Stack []byte // Stack trace at point of panic
}

// Error implements the error interface.
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// String returns a detailed representation including the stack trace.
func (p *PanicError) String() string {
	return fmt.Sprintf("panic: %v\nstack:\n%s", p.Value, p.Stack)
}

// Unwrap returns the original panic value if it was an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// safeExecute runs fn and converts a panic into a *PanicError.
// Returns nil if fn completed normally.
func safeExecute(fn func()) (perr *PanicError) {
	defer func() {
		if r := recover(); r != nil {
			const size = 64 << 10
			buf := make([]byte, size)
			buf = buf[:runtime.Stack(buf, false)]
			perr = &PanicError{Value: r, Stack: buf}
		}
	}()
	fn()
	return nil
}
