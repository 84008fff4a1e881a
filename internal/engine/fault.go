package engine

import "fmt"

// Error is the structured engine fault. Engine internals panic with *Error
// when they hit a condition that carries a message the pipeline should
// surface verbatim; any other panic value is treated as an unstructured
// failure by the recover boundary.
type Error struct {
	Op      string
	Message string
}

// NewError builds a structured fault for one engine operation.
func NewError(op, message string) *Error {
	return &Error{Op: op, Message: message}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

// PanicMessage extracts the message a recovered panic value carries.
// Structured faults contribute their message verbatim; every other value
// is rendered with fmt.Sprint.
func PanicMessage(r any) string {
	if fault, ok := r.(*Error); ok {
		return fault.Message
	}
	return fmt.Sprint(r)
}
