package tools

import (
	"context"
	"strings"

	"github.com/rendis/loom/internal/expressions"
	"github.com/rendis/loom/pkg/schema"
)

// Calculate evaluates arithmetic expressions with the sandboxed expression
// engine. The tool input is the expression itself, e.g. "(3 + 4) * 2".
type Calculate struct {
	name        string
	description string
	engine      *expressions.ExprEngine
}

func newCalculate(cfg ToolConfig) (Tool, error) {
	desc := cfg.Description
	if desc == "" {
		desc = "Evaluate a math expression and return the result"
	}
	return &Calculate{
		name:        cfg.Name,
		description: desc,
		engine:      expressions.NewExprEngine(),
	}, nil
}

func (t *Calculate) Name() string        { return t.name }
func (t *Calculate) Description() string { return t.description }

func (t *Calculate) Invoke(ctx context.Context, input string) (string, error) {
	expression := strings.TrimSpace(input)
	if expression == "" {
		return "", schema.NewErrorf(schema.ErrCodeTool, "tool %s: empty expression", t.name)
	}

	result, err := t.engine.Evaluate(ctx, expression, map[string]any{})
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: evaluate %q: %s", t.name, expression, err.Error()).WithCause(err)
	}
	return expressions.Stringify(result), nil
}

var _ Tool = (*Calculate)(nil)
