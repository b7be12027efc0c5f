// Package lua wraps gopher-lua with the sandboxing the plugin engine
// needs: stripped-down standard libraries, a deny-by-default module
// loader, captured print output, and per-invocation interruption.
package lua

import (
	"context"
	"fmt"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// Default limits for a sandboxed state.
const (
	DefaultMemoryLimit      = 128 * 1024 * 1024 // 128 MB ceiling per worker
	DefaultExecutionTimeout = 30 * time.Second
)

// State wraps gopher-lua for plugin execution.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. All operations on
// a State must be called from a single goroutine; workers own their State
// and serialize access through their dispatcher loop. The mutex here only
// protects against accidental concurrent access from Go code.
//
// Interruption works through SetExecContext: a state executing with a
// cancelled context aborts, and per gopher-lua semantics the state must
// not be reused afterwards. Callers terminate and replace the state on
// any context abort.
type State struct {
	L *lua.LState

	mu sync.Mutex

	// Configuration
	memoryLimit int64

	// Sandbox
	sandbox *Sandbox

	// Tracking
	closed bool
}

// StateOption configures a State.
type StateOption func(*State)

// WithMemoryLimit sets the memory ceiling for the Lua state.
// gopher-lua cannot enforce a hard heap cap; the value is advisory and
// the worker checks sampled heap growth against it after each
// invocation.
func WithMemoryLimit(bytes int64) StateOption {
	return func(s *State) {
		s.memoryLimit = bytes
	}
}

// NewState creates a new sandboxed Lua state.
func NewState(opts ...StateOption) (*State, error) {
	state := &State{
		memoryLimit: DefaultMemoryLimit,
	}

	for _, opt := range opts {
		opt(state)
	}

	// Create Lua state with limited libraries
	L := lua.NewState(lua.Options{
		SkipOpenLibs: true, // opened selectively below
	})

	state.L = L

	openSafeLibraries(L)

	state.sandbox = NewSandbox(L)
	state.sandbox.Install()

	return state, nil
}

// openSafeLibraries opens only safe Lua standard libraries.
func openSafeLibraries(L *lua.LState) {
	// Base library (print, type, pairs, ipairs, etc.)
	lua.OpenBase(L)

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Intentionally NOT opened:
	// - io (direct filesystem access)
	// - os (system calls, execute)
	// - debug (can bypass the sandbox)
	// - package loaders beyond the sandboxed require
}

// SetExecContext attaches a context to the state so that in-flight Lua
// execution aborts when the context is cancelled. A state whose context
// fired mid-execution must be closed, not reused.
func (s *State) SetExecContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.SetContext(ctx)
}

// ClearExecContext detaches the invocation context after a clean finish.
func (s *State) ClearExecContext() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.L.RemoveContext()
}

// DoString executes a Lua chunk.
// Execution is synchronous; the call blocks until completion or error.
func (s *State) DoString(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	return s.doWithRecovery(func() error {
		return s.L.DoString(code)
	})
}

// doWithRecovery executes a function with panic recovery. A recovered
// panic wraps ErrPanic so callers can tell a broken VM from an
// ordinary script error.
func (s *State) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return fn()
}

// Call calls a global Lua function with the given arguments.
// Returns an empty slice (not nil) if the function returns no values.
func (s *State) Call(fn string, args ...lua.LValue) ([]lua.LValue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStateClosed
	}

	target := s.L.GetGlobal(fn)
	if target.Type() != lua.LTFunction {
		if target == lua.LNil {
			return nil, fmt.Errorf("function %q not found", fn)
		}
		return nil, fmt.Errorf("%q is not a function (got %s)", fn, target.Type())
	}

	base := s.L.GetTop()
	s.L.Push(target)
	for _, arg := range args {
		s.L.Push(arg)
	}

	err := s.doWithRecovery(func() error {
		return s.L.PCall(len(args), lua.MultRet, nil)
	})
	if err != nil {
		return nil, err
	}

	// Collect only the values added by the call.
	n := s.L.GetTop() - base
	if n <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, n)
	for i := range results {
		results[i] = s.L.Get(base + i + 1)
	}
	s.L.Pop(n)

	return results, nil
}

// HasGlobalFunction reports whether a global function with the given
// name is defined.
func (s *State) HasGlobalFunction(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	return s.L.GetGlobal(name).Type() == lua.LTFunction
}

// GetGlobal returns a global variable value.
func (s *State) GetGlobal(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}

	return s.L.GetGlobal(name)
}

// SetGlobal sets a global variable.
func (s *State) SetGlobal(name string, value lua.LValue) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.L.SetGlobal(name, value)
}

// RegisterModule registers a module table with the given functions as a
// global. Scoped API modules are installed this way per invocation.
func (s *State) RegisterModule(name string, funcs map[string]lua.LGFunction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	mod := s.L.SetFuncs(s.L.NewTable(), funcs)
	s.L.SetGlobal(name, mod)
}

// LuaState returns the underlying gopher-lua state.
//
// WARNING: direct access bypasses the mutex and the sandbox. The caller
// is responsible for thread-safety.
func (s *State) LuaState() *lua.LState {
	return s.L
}

// Sandbox returns the sandbox attached to this state.
func (s *State) Sandbox() *Sandbox {
	return s.sandbox
}

// MemoryLimit returns the configured memory ceiling.
func (s *State) MemoryLimit() int64 {
	return s.memoryLimit
}

// IsClosed returns true if the state has been closed.
func (s *State) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases all resources associated with the Lua state.
// After Close is called, all other methods return ErrStateClosed.
func (s *State) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.L.Close()
	s.closed = true
	return nil
}

// Reset clears the Lua state between invocations. User-defined globals
// and injected API modules are removed; built-in libraries survive.
func (s *State) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	globals := s.L.Get(lua.GlobalsIndex).(*lua.LTable)
	safeGlobals := map[string]bool{
		"_G": true, "_VERSION": true,
		"assert": true, "error": true, "getmetatable": true,
		"ipairs": true, "next": true, "pairs": true, "pcall": true,
		"print": true, "rawequal": true, "rawget": true, "rawlen": true,
		"rawset": true, "select": true, "setmetatable": true,
		"tonumber": true, "tostring": true, "type": true, "xpcall": true,
		"require": true,
		"coroutine": true, "math": true, "string": true, "table": true,
	}

	var keysToRemove []lua.LValue
	globals.ForEach(func(k, _ lua.LValue) {
		if ks, ok := k.(lua.LString); ok {
			if !safeGlobals[string(ks)] {
				keysToRemove = append(keysToRemove, k)
			}
		}
	})

	for _, k := range keysToRemove {
		s.L.SetGlobal(k.String(), lua.LNil)
	}

	s.sandbox.SetPrintCapture(nil)
	return nil
}
