package engine

import (
	"context"
	"strings"

	"github.com/rendis/loom/internal/expressions"
	"github.com/rendis/loom/pkg/schema"
)

// executeIf evaluates the condition and runs the chosen branch through the
// same dispatcher, threading the branch input exactly like the top level.
// An absent or empty branch is the identity.
func (x *Executor) executeIf(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	if step.Condition == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "if step: condition is required")
	}

	take, err := x.conditions.EvaluateBool(ctx, step.Condition, ec.Scope())
	if err != nil {
		return "", err
	}

	branch := step.Else
	if take {
		branch = step.Then
	}
	return x.runSteps(ctx, branch, ec)
}

// executeSwitch evaluates the switch value once, then each case value in
// declaration order. The first case whose value string-matches wins; no
// match runs the default branch.
func (x *Executor) executeSwitch(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	if step.Value == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "switch step: value is required")
	}

	scope := ec.Scope()
	switchValue, err := x.evaluateValue(ctx, step.Value, scope)
	if err != nil {
		return "", err
	}

	for _, c := range step.Cases {
		caseValue, err := x.evaluateValue(ctx, c.Value, scope)
		if err != nil {
			return "", err
		}
		if caseValue == switchValue {
			return x.runSteps(ctx, c.Steps, ec)
		}
	}
	return x.runSteps(ctx, step.Default, ec)
}

// executeMatch evaluates the match value once, binds it as "value", then
// evaluates each arm's when expression in declaration order. The first
// truthy arm wins; none truthy runs the default branch.
func (x *Executor) executeMatch(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	if step.Value == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "match step: value is required")
	}

	scope := ec.Scope()
	matchValue, err := x.conditions.Evaluate(ctx, step.Value, scope)
	if err != nil {
		return "", err
	}

	bound := *scope
	bound.Value = matchValue
	bound.HasValue = true

	for _, cond := range step.Conditions {
		truthy, err := x.conditions.EvaluateBool(ctx, cond.When, &bound)
		if err != nil {
			return "", err
		}
		if truthy {
			return x.runSteps(ctx, cond.Steps, ec)
		}
	}
	return x.runSteps(ctx, step.Default, ec)
}

// evaluateValue resolves a switch/case value expression to its comparison
// string. An expression that evaluates to nil (a bare word like hello, which
// the evaluator treats as an undefined variable) falls back to its
// interpolated literal text, so plain-text case labels compare naturally.
func (x *Executor) evaluateValue(ctx context.Context, expression string, scope *expressions.Scope) (string, error) {
	out, err := x.conditions.Evaluate(ctx, expression, scope)
	if err != nil {
		return "", err
	}
	if out == nil {
		resolved, ierr := expressions.Interpolate(expression, scope)
		if ierr != nil {
			return "", schema.NewErrorf(schema.ErrCodeCondition,
				"cannot resolve value %q", expression).WithCause(ierr)
		}
		return strings.TrimSpace(resolved), nil
	}
	return expressions.Stringify(out), nil
}
