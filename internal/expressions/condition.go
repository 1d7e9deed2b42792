package expressions

import (
	"context"
	"strings"

	"github.com/rendis/loom/pkg/schema"
)

// forbiddenTokens are rejected by substring search before any evaluation.
// A conservative pre-filter in front of the sandboxed VM, which is the real
// line of defense: the VM only reaches injected scope data and its builtins.
var forbiddenTokens = []string{"import", "exec", "eval", "__", "open", "globals", "locals"}

// ConditionEvaluator evaluates the restricted expressions of if/switch/match
// steps and $if template calls against a run scope.
type ConditionEvaluator struct {
	engine *ExprEngine
}

// NewConditionEvaluator creates a condition evaluator with a fresh program cache.
func NewConditionEvaluator() *ConditionEvaluator {
	return &ConditionEvaluator{engine: NewExprEngine()}
}

// Evaluate interpolates {name} references in the expression, then runs it in
// the sandboxed VM against the scope environment. Expressions containing a
// forbidden token fail with CONDITION_ERROR before evaluation.
func (c *ConditionEvaluator) Evaluate(ctx context.Context, expression string, scope *Scope) (any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeCondition, "empty condition expression")
	}

	for _, tok := range forbiddenTokens {
		if strings.Contains(expression, tok) {
			return nil, schema.NewErrorf(schema.ErrCodeCondition,
				"forbidden token %q in expression %q", tok, expression).
				WithDetails(map[string]any{"expression": expression, "token": tok})
		}
	}

	resolved, err := Interpolate(expression, scope)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition,
			"cannot resolve condition %q", expression).WithCause(err)
	}

	out, err := c.engine.Evaluate(ctx, resolved, scope.Env())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCondition,
			"condition %q failed: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	return out, nil
}

// EvaluateBool evaluates the expression and collapses the result to branch
// truthiness.
func (c *ConditionEvaluator) EvaluateBool(ctx context.Context, expression string, scope *Scope) (bool, error) {
	out, err := c.Evaluate(ctx, expression, scope)
	if err != nil {
		return false, err
	}
	return Truthy(out), nil
}
