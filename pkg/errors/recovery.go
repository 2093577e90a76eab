package errors

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic turns a value returned by recover() into a fatal ErrInternal
// carrying the goroutine stack. A nil value yields nil.
func RecoverPanic(r interface{}) error {
	if r == nil {
		return nil
	}
	cause, ok := r.(error)
	if !ok {
		cause = fmt.Errorf("panic: %v", r)
	}
	return ErrInternal.
		WithCause(cause).
		WithDetail("panic", true).
		WithDetail("stack_trace", string(debug.Stack())).
		AsFatal()
}
