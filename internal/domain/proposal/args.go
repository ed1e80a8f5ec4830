package proposal

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// StringArg returns args[key] as a string, or "" when missing or not a string.
func StringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

// IntArg returns args[key] as an int64. It accepts json.Number, Go integer
// types, integral floats, and numeric strings.
func IntArg(args map[string]any, key string) (int64, bool) {
	v, ok := args[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

// Plain converts normalized arguments into values without json.Number,
// suitable for expression evaluation and executors. Integral numbers become
// int64, everything else float64.
func Plain(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		return Plain(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plainValue(t[i])
		}
		return out
	default:
		return v
	}
}

// Describe renders the action and its arguments for human-facing messages,
// e.g. `scale_deployment(name="payment-service", replicas=0)`.
func Describe(action string, args map[string]any) string {
	keys := sortedKeys(args)
	s := action + "("
	for i, k := range keys {
		if i > 0 {
			s += ", "
		}
		switch v := args[k].(type) {
		case string:
			s += fmt.Sprintf("%s=%q", k, v)
		default:
			s += fmt.Sprintf("%s=%v", k, v)
		}
	}
	return s + ")"
}
