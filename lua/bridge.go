package lua

import (
	"reflect"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Bridge marshals invocation arguments and results between Go and Lua.
// The coordinator hands plugins plain Go values (JSON-shaped maps,
// slices, scalars) and receives the same back.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value. Tables with contiguous
// 1-based integer keys become []interface{}, everything else becomes
// map[string]interface{}. Cycles are broken by substituting nil.
func (b *Bridge) ToGoValue(lv lua.LValue) interface{} {
	return b.decode(lv, nil)
}

func (b *Bridge) decode(lv lua.LValue, seen map[*lua.LTable]bool) interface{} {
	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if i := int64(f); float64(i) == f {
			return i
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		if seen[v] {
			return nil
		}
		if seen == nil {
			seen = make(map[*lua.LTable]bool)
		}
		seen[v] = true
		return b.decodeTable(v, seen)
	case *lua.LUserData:
		return v.Value
	default:
		// nil, functions, channels and threads don't cross the boundary
		return nil
	}
}

func (b *Bridge) decodeTable(t *lua.LTable, seen map[*lua.LTable]bool) interface{} {
	n := t.Len()

	// Array form only when the sequence part covers every entry.
	entries := 0
	t.ForEach(func(lua.LValue, lua.LValue) { entries++ })
	if n > 0 && entries == n {
		arr := make([]interface{}, 0, n)
		for i := 1; i <= n; i++ {
			arr = append(arr, b.decode(t.RawGetInt(i), seen))
		}
		return arr
	}

	m := make(map[string]interface{}, entries)
	t.ForEach(func(k, v lua.LValue) {
		m[k.String()] = b.decode(v, seen)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value. Structs are flattened
// to tables keyed by their json tags; values with no Lua analogue are
// wrapped as userdata.
func (b *Bridge) ToLuaValue(v interface{}) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []interface{}:
		t := b.L.NewTable()
		for i, e := range val {
			t.RawSetInt(i+1, b.ToLuaValue(e))
		}
		return t
	case []string:
		t := b.L.NewTable()
		for i, s := range val {
			t.RawSetInt(i+1, lua.LString(s))
		}
		return t
	case map[string]interface{}:
		t := b.L.NewTable()
		for k, e := range val {
			t.RawSetString(k, b.ToLuaValue(e))
		}
		return t
	case map[string]string:
		t := b.L.NewTable()
		for k, s := range val {
			t.RawSetString(k, lua.LString(s))
		}
		return t
	default:
		return b.encodeReflect(reflect.ValueOf(v))
	}
}

func (b *Bridge) encodeReflect(rv reflect.Value) lua.LValue {
	if !rv.IsValid() {
		return lua.LNil
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())
	case reflect.Float32, reflect.Float64:
		return lua.LNumber(rv.Float())
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.encodeReflect(rv.Elem())
	case reflect.Slice, reflect.Array:
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t
	case reflect.Map:
		t := b.L.NewTable()
		iter := rv.MapRange()
		for iter.Next() {
			t.RawSet(b.ToLuaValue(iter.Key().Interface()), b.ToLuaValue(iter.Value().Interface()))
		}
		return t
	case reflect.Struct:
		return b.encodeStruct(rv)
	default:
		ud := b.L.NewUserData()
		ud.Value = rv.Interface()
		return ud
	}
}

func (b *Bridge) encodeStruct(rv reflect.Value) lua.LValue {
	t := b.L.NewTable()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rt.Field(i)
		if f.PkgPath != "" {
			continue
		}
		name := f.Name
		if tag, _, _ := strings.Cut(f.Tag.Get("json"), ","); tag != "" && tag != "-" {
			name = tag
		}
		t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
	}
	return t
}

// CallFunc calls a Lua function with Go arguments and returns Go values.
// Used for timer callbacks scheduled during an invocation.
func (b *Bridge) CallFunc(fn *lua.LFunction, args ...interface{}) ([]interface{}, error) {
	base := b.L.GetTop()

	b.L.Push(fn)
	for _, arg := range args {
		b.L.Push(b.ToLuaValue(arg))
	}
	if err := b.L.PCall(len(args), lua.MultRet, nil); err != nil {
		return nil, err
	}

	n := b.L.GetTop() - base
	if n <= 0 {
		return nil, nil
	}
	out := make([]interface{}, n)
	for i := range out {
		out[i] = b.ToGoValue(b.L.Get(base + i + 1))
	}
	b.L.Pop(n)
	return out, nil
}

// WrapGoFunc wraps a Go function for use in Lua. Errors raise in Lua so
// plugins can pcall around host calls.
func (b *Bridge) WrapGoFunc(fn func(args []interface{}) (interface{}, error)) lua.LGFunction {
	return func(L *lua.LState) int {
		args := make([]interface{}, L.GetTop())
		for i := range args {
			args[i] = b.ToGoValue(L.Get(i + 1))
		}

		out, err := fn(args)
		if err != nil {
			L.RaiseError("%s", err.Error())
			return 0
		}
		if out == nil {
			return 0
		}
		L.Push(b.ToLuaValue(out))
		return 1
	}
}
