package nodes

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/rendis/nodeflow/internal/expressions"
)

// Param helpers used by all node files. Undefined values count as missing.

func lookup(m map[string]any, key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil || expressions.IsUndefined(v) {
		return nil, false
	}
	return v, true
}

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := lookup(m, key)
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}

func boolParam(m map[string]any, key string, defaultVal bool) bool {
	v, ok := lookup(m, key)
	if !ok {
		return defaultVal
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		if parsed, err := strconv.ParseBool(b); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func intParam(m map[string]any, key string, defaultVal int) int {
	v, ok := lookup(m, key)
	if !ok {
		return defaultVal
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return defaultVal
		}
		return int(i)
	default:
		return defaultVal
	}
}

func mapParam(m map[string]any, key string) map[string]any {
	v, ok := lookup(m, key)
	if !ok {
		return nil
	}
	mm, _ := v.(map[string]any)
	return mm
}

// durationParam accepts a Go duration string ("5s") or a number of milliseconds.
func durationParam(m map[string]any, key string, defaultVal time.Duration) time.Duration {
	v, ok := lookup(m, key)
	if !ok {
		return defaultVal
	}
	switch d := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(d); err == nil && parsed > 0 {
			return parsed
		}
	case float64:
		if d > 0 {
			return time.Duration(d * float64(time.Millisecond))
		}
	case int:
		if d > 0 {
			return time.Duration(d) * time.Millisecond
		}
	}
	return defaultVal
}

// asRecord returns v as a record, or an empty one.
func asRecord(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}
