package expressions

import (
	"context"
	"testing"

	"github.com/rendis/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCondition_InputLengthGuard(t *testing.T) {
	c := NewConditionEvaluator()

	t.Run("long input is truthy", func(t *testing.T) {
		scope := &Scope{InputText: "hello world"}
		out, err := c.EvaluateBool(context.Background(), `len(input_text) > 5`, scope)
		require.NoError(t, err)
		assert.True(t, out)
	})

	t.Run("short input is falsy", func(t *testing.T) {
		scope := &Scope{InputText: "hi"}
		out, err := c.EvaluateBool(context.Background(), `len(input_text) > 5`, scope)
		require.NoError(t, err)
		assert.False(t, out)
	})
}

func TestCondition_ParameterAccess(t *testing.T) {
	c := NewConditionEvaluator()
	scope := &Scope{
		InputText:  "text",
		Parameters: map[string]any{"threshold": 10, "mode": "strict"},
	}

	out, err := c.EvaluateBool(context.Background(), `threshold >= 10 && mode == "strict"`, scope)
	require.NoError(t, err)
	assert.True(t, out)

	out, err = c.EvaluateBool(context.Background(), `parameters.threshold < 5`, scope)
	require.NoError(t, err)
	assert.False(t, out)
}

func TestCondition_MatchValueBinding(t *testing.T) {
	c := NewConditionEvaluator()

	t.Run("bound value is visible", func(t *testing.T) {
		scope := &Scope{Value: "urgent", HasValue: true}
		out, err := c.EvaluateBool(context.Background(), `value == "urgent"`, scope)
		require.NoError(t, err)
		assert.True(t, out)
	})

	t.Run("bound nil is falsy but present", func(t *testing.T) {
		scope := &Scope{Value: nil, HasValue: true}
		out, err := c.EvaluateBool(context.Background(), `value == nil`, scope)
		require.NoError(t, err)
		assert.True(t, out)
	})
}

func TestCondition_ForbiddenTokens(t *testing.T) {
	c := NewConditionEvaluator()
	scope := &Scope{InputText: "x"}

	cases := []struct {
		name string
		expr string
	}{
		{"import", `import os`},
		{"exec", `exec("id")`},
		{"eval", `eval("1+1")`},
		{"dunder", `a.__class__`},
		{"open", `open("/etc/passwd")`},
		{"globals", `globals()`},
		{"locals", `locals()`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Evaluate(context.Background(), tc.expr, scope)
			require.Error(t, err)

			lerr, ok := err.(*schema.LoomError)
			require.True(t, ok)
			assert.Equal(t, schema.ErrCodeCondition, lerr.Code)
			assert.Contains(t, lerr.Message, "forbidden token")
		})
	}
}

func TestCondition_EmptyExpression(t *testing.T) {
	c := NewConditionEvaluator()

	_, err := c.Evaluate(context.Background(), "  ", &Scope{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCondition, schema.CodeOf(err))
}

func TestCondition_EvaluationFailure(t *testing.T) {
	c := NewConditionEvaluator()

	_, err := c.Evaluate(context.Background(), `][broken`, &Scope{})
	require.Error(t, err)

	lerr, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeCondition, lerr.Code)
	assert.NotNil(t, lerr.Cause)
}

func TestCondition_Interpolation(t *testing.T) {
	c := NewConditionEvaluator()
	scope := &Scope{
		InputText:  "irrelevant",
		Parameters: map[string]any{"limit": 3},
	}

	// {limit} is substituted before evaluation.
	out, err := c.EvaluateBool(context.Background(), `{limit} > 2`, scope)
	require.NoError(t, err)
	assert.True(t, out)
}

func TestCondition_Truthiness(t *testing.T) {
	c := NewConditionEvaluator()
	scope := &Scope{Parameters: map[string]any{
		"empty_list": []any{},
		"full_list":  []any{1},
		"zero":       0,
		"text":       "x",
	}}

	cases := []struct {
		expr string
		want bool
	}{
		{`empty_list`, false},
		{`full_list`, true},
		{`zero`, false},
		{`text`, true},
		{`""`, false},
		{`nil`, false},
		{`42`, true},
	}

	for _, tc := range cases {
		out, err := c.EvaluateBool(context.Background(), tc.expr, scope)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, out, tc.expr)
	}
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(0.0))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))

	assert.True(t, Truthy(true))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy(-1.5))
	assert.True(t, Truthy("no"))
	assert.True(t, Truthy([]any{nil}))
	assert.True(t, Truthy(struct{}{}))
}
