package api

import (
	"sync"

	glua "github.com/yuin/gopher-lua"
)

// LogAPI collects the lines a plugin logs during one invocation. It is
// always available regardless of grants; the collected lines travel
// with the execution result and the audit record. Collection stops at
// the line budget with a single truncation marker.
type LogAPI struct {
	core *scope

	mu        sync.Mutex
	lines     []string
	truncated bool
}

func newLogAPI(core *scope) *LogAPI {
	return &LogAPI{core: core}
}

// Debug logs at debug level.
func (a *LogAPI) Debug(msg string) { a.write("debug", msg) }

// Info logs at info level.
func (a *LogAPI) Info(msg string) { a.write("info", msg) }

// Warn logs at warn level.
func (a *LogAPI) Warn(msg string) { a.write("warn", msg) }

// Error logs at error level.
func (a *LogAPI) Error(msg string) { a.write("error", msg) }

func (a *LogAPI) write(level, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.truncated {
		return
	}
	if a.core.monitor.AddLogLine() {
		a.truncated = true
		a.lines = append(a.lines, "[warden] log truncated: line limit reached")
		return
	}
	a.lines = append(a.lines, "["+level+"] "+msg)
}

// Lines returns the collected lines in log order.
func (a *LogAPI) Lines() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.lines))
	copy(out, a.lines)
	return out
}

func (a *LogAPI) module() map[string]glua.LGFunction {
	level := func(name string) glua.LGFunction {
		return func(L *glua.LState) int {
			nArgs := L.GetTop()
			args := make([]interface{}, nArgs)
			for i := 1; i <= nArgs; i++ {
				args[i-1] = luaToPlain(L.Get(i))
			}
			a.write(name, joinArgs(args))
			return 0
		}
	}
	return map[string]glua.LGFunction{
		"debug": level("debug"),
		"info":  level("info"),
		"warn":  level("warn"),
		"error": level("error"),
	}
}

// luaToPlain renders a Lua value for log output without pulling in the
// full bridge: scalars convert, everything else uses its Lua string
// form.
func luaToPlain(lv glua.LValue) interface{} {
	switch v := lv.(type) {
	case *glua.LNilType:
		return "nil"
	case glua.LBool:
		return bool(v)
	case glua.LNumber:
		return float64(v)
	case glua.LString:
		return string(v)
	default:
		return lv.String()
	}
}
