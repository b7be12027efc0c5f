package lua

import (
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Sandbox restricts Lua execution to safe operations. Direct filesystem,
// network, process, and reflective access are never available, whatever
// the plugin declared; permitted effects flow exclusively through the
// scoped API modules injected per invocation.
type Sandbox struct {
	L *lua.LState

	// Print capture, set per invocation. Holds a func(string).
	printCapture atomic.Value
}

// NewSandbox creates a new sandbox for the Lua state.
func NewSandbox(L *lua.LState) *Sandbox {
	return &Sandbox{L: L}
}

// Install sets up the sandbox restrictions.
func (s *Sandbox) Install() {
	// Remove functions that evaluate code dynamically or load modules
	// from disk; these bypass both static scanning and the gate.
	dangerousFuncs := []string{
		"dofile",     // load and execute file
		"loadfile",   // load file as function
		"load",       // load string as function
		"loadstring", // load string as function (deprecated alias)
	}

	for _, name := range dangerousFuncs {
		s.L.SetGlobal(name, lua.LNil)
	}

	// Modules that must never be reachable, even on a state that had
	// them opened. No permission unlocks these.
	for _, name := range []string{"io", "os", "debug"} {
		s.L.SetGlobal(name, lua.LNil)
	}

	s.installCapturedPrint()
	s.installSafeRequire()
}

// installCapturedPrint replaces print with a version that feeds the
// invocation's log collector instead of a shared console.
func (s *Sandbox) installCapturedPrint() {
	s.L.SetGlobal("print", s.L.NewFunction(func(L *lua.LState) int {
		top := L.GetTop()
		line := ""
		for i := 1; i <= top; i++ {
			if i > 1 {
				line += "\t"
			}
			line += L.Get(i).String()
		}
		if fn, ok := s.printCapture.Load().(func(string)); ok && fn != nil {
			fn(line)
		}
		return 0
	}))
}

// SetPrintCapture routes print output to the given function. A nil
// function discards output.
func (s *Sandbox) SetPrintCapture(fn func(string)) {
	// atomic.Value rejects nil; store a typed nil func instead.
	if fn == nil {
		s.printCapture.Store((func(string))(nil))
		return
	}
	s.printCapture.Store(fn)
}

// installSafeRequire replaces require with a whitelist-based version.
//
// SECURITY: package.path/cpath are cleared to prevent loading modules
// from disk, and package.loaded is pruned to the safe built-ins. Only
// the whitelisted gopher-lua built-ins resolve; everything else raises.
func (s *Sandbox) installSafeRequire() {
	pkg := s.L.GetGlobal("package")
	if pkg != lua.LNil {
		if pkgTable, ok := pkg.(*lua.LTable); ok {
			s.L.SetField(pkgTable, "path", lua.LString(""))
			s.L.SetField(pkgTable, "cpath", lua.LString(""))

			safeLoaded := map[string]bool{
				"_G": true, "string": true, "table": true, "math": true,
				"package": true,
			}
			loaded := s.L.GetField(pkgTable, "loaded")
			if loadedTbl, ok := loaded.(*lua.LTable); ok {
				var keysToRemove []string
				loadedTbl.ForEach(func(k, _ lua.LValue) {
					if ks, ok := k.(lua.LString); ok {
						if !safeLoaded[string(ks)] {
							keysToRemove = append(keysToRemove, string(ks))
						}
					}
				})
				for _, key := range keysToRemove {
					loadedTbl.RawSetString(key, lua.LNil)
				}
			}
		}
	}

	// Whitelist of safe modules built in to gopher-lua. io, os, and
	// debug are deliberately absent: no capability unlocks them.
	safeModules := map[string]bool{
		"string": true,
		"table":  true,
		"math":   true,
	}

	originalRequire := s.L.GetGlobal("require")

	s.L.SetGlobal("require", s.L.NewFunction(func(L *lua.LState) int {
		modName := L.CheckString(1)

		if safeModules[modName] {
			L.Push(originalRequire)
			L.Push(lua.LString(modName))
			L.Call(1, 1)
			return 1
		}

		// Note: L.RaiseError does a longjmp; code after it is unreachable.
		L.RaiseError("module %q is not available", modName)
		return 0 // unreachable, but required for the Go compiler
	}))
}
