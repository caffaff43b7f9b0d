package expressions

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/expr-lang/expr"
)

// HelperFunctions returns the helper library registered on top of expr's built-ins
// (now, upper, lower, trim, split, round, floor, ceil, abs, first, last, len,
// keys, values, toJSON, fromJSON, ...). search() delegates to jq.
func HelperFunctions(jq *GoJQEngine) []expr.Option {
	return []expr.Option{
		expr.Function("today", func(params ...any) (any, error) {
			return startOfDay(time.Now()), nil
		}, new(func() time.Time)),

		expr.Function("search", func(params ...any) (any, error) {
			path, ok := params[1].(string)
			if !ok {
				return nil, fmt.Errorf("search: path must be a string, got %T", params[1])
			}
			return jq.Query(context.Background(), path, params[0])
		}, new(func(any, string) any)),

		expr.Function("length", func(params ...any) (any, error) {
			return lengthOf(params[0])
		}, new(func(any) int)),

		expr.Function("isEmpty", func(params ...any) (any, error) {
			return isEmpty(params[0]), nil
		}, new(func(any) bool)),

		expr.Function("entries", func(params ...any) (any, error) {
			return entries(params[0])
		}, new(func(any) []any)),

		expr.Function("isString", func(params ...any) (any, error) {
			_, ok := params[0].(string)
			return ok, nil
		}, new(func(any) bool)),

		expr.Function("isNumber", func(params ...any) (any, error) {
			_, ok := asFloat(params[0])
			return ok, nil
		}, new(func(any) bool)),

		expr.Function("isBoolean", func(params ...any) (any, error) {
			_, ok := params[0].(bool)
			return ok, nil
		}, new(func(any) bool)),

		expr.Function("isArray", func(params ...any) (any, error) {
			return isSlice(params[0]), nil
		}, new(func(any) bool)),

		expr.Function("isObject", func(params ...any) (any, error) {
			_, ok := params[0].(map[string]any)
			return ok, nil
		}, new(func(any) bool)),

		expr.Function("isNull", func(params ...any) (any, error) {
			return params[0] == nil || IsUndefined(params[0]), nil
		}, new(func(any) bool)),

		expr.Function("toNumber", func(params ...any) (any, error) {
			return toNumber(params[0])
		}, new(func(any) float64)),

		expr.Function("toBoolean", func(params ...any) (any, error) {
			return toBoolean(params[0]), nil
		}, new(func(any) bool)),

		expr.Function("toString", func(params ...any) (any, error) {
			return stringify(params[0]), nil
		}, new(func(any) string)),

		expr.Function("capitalize", func(params ...any) (any, error) {
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("capitalize: expected string, got %T", params[0])
			}
			return capitalize(s), nil
		}, new(func(any) string)),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func lengthOf(v any) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		return utf8.RuneCountInString(val), nil
	case map[string]any:
		return len(val), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), nil
	}
	return 0, fmt.Errorf("length: unsupported type %T", v)
}

func isEmpty(v any) bool {
	if v == nil || IsUndefined(v) {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	n, err := lengthOf(v)
	if err != nil {
		return false
	}
	return n == 0
}

func isSlice(v any) bool {
	if v == nil {
		return false
	}
	k := reflect.TypeOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

// entries returns [key, value] pairs sorted by key.
func entries(v any) ([]any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("entries: expected object, got %T", v)
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		out = append(out, []any{k, m[k]})
	}
	return out, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toNumber(v any) (float64, error) {
	if f, ok := asFloat(v); ok {
		return f, nil
	}
	switch val := v.(type) {
	case nil:
		return 0, nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("toNumber: %q is not a number", val)
		}
		return f, nil
	}
	return 0, fmt.Errorf("toNumber: cannot convert %T", v)
}

// toBoolean follows truthiness: nil, false, 0, "" and empty collections are false.
// Strings that parse as booleans ("false", "0", "f") use their parsed value.
func toBoolean(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
			return b
		}
		return val != ""
	}
	if f, ok := asFloat(v); ok {
		return f != 0
	}
	if IsUndefined(v) {
		return false
	}
	return !isEmpty(v)
}

// stringify renders a value the way it appears inside rendered templates.
func stringify(v any) string {
	switch val := v.(type) {
	case nil, UndefinedValue:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case time.Time:
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// ToString converts v with the same rules as the toString() helper.
func ToString(v any) string { return stringify(v) }

// ToNumber converts v with the same rules as the toNumber() helper.
func ToNumber(v any) (float64, error) { return toNumber(v) }

// ToBoolean converts v with the same rules as the toBoolean() helper.
func ToBoolean(v any) bool { return toBoolean(v) }
