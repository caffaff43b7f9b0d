package expressions

import (
	"context"
	"testing"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalHelper(t *testing.T, expression string, item schema.Record) any {
	t.Helper()
	ev := NewEvaluator(nil, nil, nil)
	out, err := ev.Resolve(context.Background(), expression, item, 0)
	require.NoError(t, err, expression)
	return out
}

func TestHelpers_Strings(t *testing.T) {
	assert.Equal(t, "Hello", evalHelper(t, `=capitalize("hello")`, nil))
	assert.Equal(t, 5, evalHelper(t, `=length("héllo")`, nil))
	assert.Equal(t, "3", evalHelper(t, `=toString(json.n)`, schema.Record{"n": 3.0}))
	assert.Equal(t, `{"a":1}`, evalHelper(t, `=toString(json.obj)`, schema.Record{"obj": map[string]any{"a": 1}}))
}

func TestHelpers_TypeChecks(t *testing.T) {
	item := schema.Record{"s": "x", "n": 1.5, "b": true, "a": []any{}, "o": map[string]any{}, "z": nil}
	assert.Equal(t, true, evalHelper(t, "=isString(json.s)", item))
	assert.Equal(t, true, evalHelper(t, "=isNumber(json.n)", item))
	assert.Equal(t, false, evalHelper(t, "=isNumber(json.s)", item))
	assert.Equal(t, true, evalHelper(t, "=isBoolean(json.b)", item))
	assert.Equal(t, true, evalHelper(t, "=isArray(json.a)", item))
	assert.Equal(t, true, evalHelper(t, "=isObject(json.o)", item))
	assert.Equal(t, true, evalHelper(t, "=isNull(json.z)", item))
	assert.Equal(t, true, evalHelper(t, "=isEmpty(json.a)", item))
	assert.Equal(t, false, evalHelper(t, "=isEmpty(json.s)", item))
}

func TestHelpers_Conversions(t *testing.T) {
	assert.Equal(t, 42.0, evalHelper(t, `=toNumber(" 42 ")`, nil))
	assert.Equal(t, 1.0, evalHelper(t, `=toNumber(true)`, nil))
	assert.Equal(t, false, evalHelper(t, `=toBoolean("false")`, nil))
	assert.Equal(t, true, evalHelper(t, `=toBoolean("yes")`, nil))
	assert.Equal(t, false, evalHelper(t, `=toBoolean(0)`, nil))

	ev := NewEvaluator(nil, nil, nil)
	_, err := ev.Resolve(context.Background(), `=toNumber("abc")`, nil, 0)
	require.Error(t, err)
}

func TestHelpers_Collections(t *testing.T) {
	out := evalHelper(t, `=entries({"b": 2, "a": 1})`, nil)
	assert.Equal(t, []any{[]any{"a", 1}, []any{"b", 2}}, out)

	assert.Equal(t, 2, evalHelper(t, `=length(json.tags)`, schema.Record{"tags": []any{"a", "b"}}))
}

func TestHelpers_Search(t *testing.T) {
	item := schema.Record{"user": map[string]any{"emails": []any{"a@x.io", "b@x.io"}}}
	assert.Equal(t, "b@x.io", evalHelper(t, `=search(json, ".user.emails[1]")`, item))
}

func TestHelpers_Today(t *testing.T) {
	out := evalHelper(t, "=today()", nil)
	ts, ok := out.(time.Time)
	require.True(t, ok)
	assert.Equal(t, 0, ts.Hour())
	assert.Equal(t, 0, ts.Minute())
	assert.Equal(t, time.Now().Day(), ts.Day())
}
