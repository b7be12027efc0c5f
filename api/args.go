package api

import (
	"fmt"
	"strings"
)

// Argument helpers for Lua-facing module functions. Arguments arrive
// already converted to Go values by the bridge.

func stringArg(args []interface{}, i int, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", fmt.Errorf("missing argument %q", name)
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return s, nil
}

func optionalStringArg(args []interface{}, i int, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	return stringArg(args, i, name)
}

func optionalNumberArg(args []interface{}, i int, name string) (float64, bool, error) {
	if i >= len(args) || args[i] == nil {
		return 0, false, nil
	}
	switch v := args[i].(type) {
	case float64:
		return v, true, nil
	case int64:
		return float64(v), true, nil
	default:
		return 0, false, fmt.Errorf("argument %q must be a number", name)
	}
}

func optionalTableArg(args []interface{}, i int, name string) (map[string]interface{}, error) {
	if i >= len(args) || args[i] == nil {
		return nil, nil
	}
	m, ok := args[i].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %q must be a table", name)
	}
	return m, nil
}

func stringMapArg(args []interface{}, i int, name string) (map[string]string, error) {
	m, err := optionalTableArg(args, i, name)
	if err != nil || m == nil {
		return nil, err
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must map strings to strings", name)
		}
		out[k] = s
	}
	return out, nil
}

// joinArgs renders every argument for log output, space separated.
func joinArgs(args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprint(a)
	}
	return strings.Join(parts, " ")
}
