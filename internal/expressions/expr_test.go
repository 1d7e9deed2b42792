package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/rendis/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExprEngine(t *testing.T) {
	e := NewExprEngine()
	assert.NotNil(t, e)
	assert.Equal(t, "expr", e.Name())
}

func TestExprEngine_ImplementsEngine(t *testing.T) {
	var _ Engine = (*ExprEngine)(nil)
}

// --- Basic evaluation ---

func TestExpr_Literals(t *testing.T) {
	e := NewExprEngine()

	t.Run("integer", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "42", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, 42, out)
	})

	t.Run("string", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `"hello"`, map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, "hello", out)
	})

	t.Run("boolean", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "true", map[string]any{})
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestExpr_Arithmetic(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"a": 10, "b": 3}

	t.Run("addition", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a + b", data)
		require.NoError(t, err)
		assert.Equal(t, 13, out)
	})

	t.Run("multiplication", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a * b", data)
		require.NoError(t, err)
		assert.Equal(t, 30, out)
	})

	t.Run("modulo", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), "a % b", data)
		require.NoError(t, err)
		assert.Equal(t, 1, out)
	})
}

// --- Run environment access ---

func TestExpr_RunVariables(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"input_text": "hello world",
		"parameters": map[string]any{
			"style":     "formal",
			"max_words": 100,
		},
	}

	t.Run("input length guard", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `len(input_text) > 5`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("parameter access", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `parameters.style == "formal"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric parameter", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `parameters.max_words`, data)
		require.NoError(t, err)
		assert.Equal(t, 100, out)
	})
}

// --- Builtins available to conditions ---

func TestExpr_SafeBuiltins(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"text":   "Hello World",
		"scores": []any{3, 1, 4, 1, 5},
	}

	t.Run("len", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `len(text)`, data)
		require.NoError(t, err)
		assert.Equal(t, 11, out)
	})

	t.Run("min", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `min(scores)`, data)
		require.NoError(t, err)
		assert.Equal(t, 1, out)
	})

	t.Run("max", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `max(scores)`, data)
		require.NoError(t, err)
		assert.Equal(t, 5, out)
	})

	t.Run("sum", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `sum(scores)`, data)
		require.NoError(t, err)
		assert.Equal(t, 14, out)
	})

	t.Run("int conversion", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `int("42")`, data)
		require.NoError(t, err)
		assert.Equal(t, 42, out)
	})

	t.Run("string conversion", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `string(42)`, data)
		require.NoError(t, err)
		assert.Equal(t, "42", out)
	})

	t.Run("contains", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `text contains "World"`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})
}

func TestExpr_Ternary(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(),
		`len(input_text) > 5 ? "long" : "short"`,
		map[string]any{"input_text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "short", out)
}

func TestExpr_LogicalOperators(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"count": 25, "enabled": true}

	t.Run("AND", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `count >= 18 && enabled`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("OR", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `count < 18 || enabled`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("NOT", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `!enabled`, data)
		require.NoError(t, err)
		assert.Equal(t, false, out)
	})
}

func TestExpr_InOperator(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"kind":  "summary",
		"kinds": []any{"summary", "review", "draft"},
	}

	out, err := e.Evaluate(context.Background(), `kind in kinds`, data)
	require.NoError(t, err)
	assert.Equal(t, true, out)

	out, err = e.Evaluate(context.Background(), `"missing" in kinds`, data)
	require.NoError(t, err)
	assert.Equal(t, false, out)
}

// --- Error handling ---

func TestExpr_EmptyExpression(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), "", map[string]any{})
	require.Error(t, err)

	lerr, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, lerr.Code)
	assert.Contains(t, lerr.Message, "empty")
}

func TestExpr_CompileError(t *testing.T) {
	e := NewExprEngine()

	_, err := e.Evaluate(context.Background(), `][invalid`, map[string]any{})
	require.Error(t, err)

	lerr, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeValidation, lerr.Code)
	assert.Contains(t, lerr.Message, "compile")
	assert.NotNil(t, lerr.Details)
}

func TestExpr_RuntimeError(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{
		"items": []any{1, 2, 3},
	}

	// Out-of-bounds access fails at runtime, not compile time.
	_, err := e.Evaluate(context.Background(), `items[100]`, data)
	require.Error(t, err)

	lerr, ok := err.(*schema.LoomError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeExecution, lerr.Code)
}

// --- Sandboxing ---

func TestExpr_Sandbox_NoEnvAccess(t *testing.T) {
	e := NewExprEngine()

	// The VM does not expose the OS environment. Undefined variables
	// resolve to nil with AllowUndefinedVariables.
	out, err := e.Evaluate(context.Background(), `HOME`, map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestExpr_Sandbox_OnlyInjectedVars(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"safe": "value"}

	out, err := e.Evaluate(context.Background(), `safe`, data)
	require.NoError(t, err)
	assert.Equal(t, "value", out)

	out, err = e.Evaluate(context.Background(), `dangerous`, data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

// --- Program caching ---

func TestExpr_Caching(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"x": 1}

	_, err := e.Evaluate(context.Background(), `x + 1`, data)
	require.NoError(t, err)

	e.mu.RLock()
	cacheLen := len(e.cache)
	e.mu.RUnlock()
	assert.Equal(t, 1, cacheLen)

	_, err = e.Evaluate(context.Background(), `x + 1`, data)
	require.NoError(t, err)

	e.mu.RLock()
	cacheLen2 := len(e.cache)
	e.mu.RUnlock()
	assert.Equal(t, 1, cacheLen2, "cache size should not change")
}

func TestExpr_CachingDifferentExpressions(t *testing.T) {
	e := NewExprEngine()
	data := map[string]any{"x": 1}

	_, err := e.Evaluate(context.Background(), `x + 1`, data)
	require.NoError(t, err)

	_, err = e.Evaluate(context.Background(), `x * 2`, data)
	require.NoError(t, err)

	e.mu.RLock()
	cacheLen := len(e.cache)
	e.mu.RUnlock()
	assert.Equal(t, 2, cacheLen)
}

// --- Thread safety ---

func TestExpr_Concurrent(t *testing.T) {
	e := NewExprEngine()

	var wg sync.WaitGroup
	errs := make([]error, 100)
	results := make([]any, 100)

	for i := range 100 {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			data := map[string]any{"val": idx}
			results[idx], errs[idx] = e.Evaluate(context.Background(), `val >= 0`, data)
		}(i)
	}
	wg.Wait()

	for i := range 100 {
		assert.NoError(t, errs[i], "goroutine %d should not error", i)
		assert.Equal(t, true, results[i], "goroutine %d should return true", i)
	}
}

func TestExpr_NilData(t *testing.T) {
	e := NewExprEngine()

	out, err := e.Evaluate(context.Background(), `42`, nil)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}
