package schema

import (
	"errors"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validationError(t *testing.T, err error) *ValidationError {
	t.Helper()
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr), "expected ValidationError, got %T", err)
	return vErr
}

func TestValidate(t *testing.T) {
	params := []Parameter{
		{Name: "x", Type: TypeInteger, Required: true},
		{Name: "mode", Type: TypeString, Enum: []any{"fast", "slow"}},
		{Name: "payload", Type: TypeAny},
	}

	assert.NoError(t, Validate(params, map[string]any{"x": 5}, false))
	assert.NoError(t, Validate(params, map[string]any{"x": 5.0, "mode": "slow", "payload": []any{1}}, false))

	vErr := validationError(t, Validate(params, map[string]any{}, false))
	assert.Equal(t, "x", vErr.Field)
	assert.Contains(t, vErr.Message, "required")

	vErr = validationError(t, Validate(params, map[string]any{"x": "not-int"}, false))
	assert.Contains(t, vErr.Message, "expected type integer, got string")

	vErr = validationError(t, Validate(params, map[string]any{"x": 1.5}, false))
	assert.Equal(t, "x", vErr.Field)

	vErr = validationError(t, Validate(params, map[string]any{"x": 1, "mode": "medium"}, false))
	assert.Equal(t, "mode", vErr.Field)
	assert.Contains(t, vErr.Message, "one of")

	vErr = validationError(t, Validate(params, map[string]any{"x": 1, "zzz": true}, false))
	assert.Equal(t, "zzz", vErr.Field)
	assert.Equal(t, "unexpected parameter", vErr.Message)

	assert.NoError(t, Validate(params, map[string]any{"x": 1, "zzz": true}, true))

	vErr = validationError(t, Validate(params, map[string]any{"x": nil}, false))
	assert.Equal(t, "x", vErr.Field)
	assert.Equal(t, "required parameter must not be null", vErr.Message)

	assert.NoError(t, Validate(params, map[string]any{"x": 1, "mode": nil, "payload": nil}, false))
}

func TestValidate_NumericEnum(t *testing.T) {
	params := []Parameter{{Name: "level", Type: TypeInteger, Enum: []any{int64(1), int64(2)}}}
	assert.NoError(t, Validate(params, map[string]any{"level": 2.0}, false))
	assert.Error(t, Validate(params, map[string]any{"level": 3.0}, false))
}

type bindArgs struct {
	Query string   `json:"query" validate:"min=3"`
	Limit int      `json:"limit" default:"10" validate:"gte=1,lte=100"`
	Tags  []string `json:"tags,omitempty"`
}

func TestBind(t *testing.T) {
	typ := reflect.TypeOf(bindArgs{})
	params, errs := NewDeriver().Parameters(typ)
	require.Empty(t, errs)

	v, err := Bind(typ, params, map[string]any{"query": "golang", "tags": []any{"a"}})
	require.NoError(t, err)
	got := v.Interface().(bindArgs)
	assert.Equal(t, bindArgs{Query: "golang", Limit: 10, Tags: []string{"a"}}, got)

	v, err = Bind(reflect.TypeOf(&bindArgs{}), params, map[string]any{"query": "abc", "limit": 5})
	require.NoError(t, err)
	assert.Equal(t, 5, v.Interface().(*bindArgs).Limit)

	// An explicit null keeps the default.
	v, err = Bind(typ, params, map[string]any{"query": "golang", "limit": nil})
	require.NoError(t, err)
	assert.Equal(t, 10, v.Interface().(bindArgs).Limit)
}

func TestBind_Errors(t *testing.T) {
	typ := reflect.TypeOf(bindArgs{})
	params, _ := NewDeriver().Parameters(typ)

	_, err := Bind(typ, params, map[string]any{"query": "go"})
	vErr := validationError(t, err)
	assert.Equal(t, "query", vErr.Field)
	assert.Contains(t, vErr.Message, `"min"`)

	_, err = Bind(typ, params, map[string]any{"query": "golang", "limit": 1000})
	vErr = validationError(t, err)
	assert.Equal(t, "limit", vErr.Field)

	_, err = Bind(typ, params, map[string]any{"query": "golang", "tags": "notalist"})
	vErr = validationError(t, err)
	assert.Equal(t, "tags", vErr.Field)
}

func TestBind_FreeForm(t *testing.T) {
	v, err := Bind(reflect.TypeOf(map[string]any{}), nil, map[string]any{"a": 1.0})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1.0}, v.Interface())
}
