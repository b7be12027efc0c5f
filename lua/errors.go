package lua

import "errors"

// Errors for Lua state operations.
var (
	// ErrStateClosed is returned when operating on a closed state.
	ErrStateClosed = errors.New("lua state is closed")

	// ErrPanic wraps a recovered panic from the Lua VM. A state that
	// panicked is not safe to reuse.
	ErrPanic = errors.New("lua panic")
)
