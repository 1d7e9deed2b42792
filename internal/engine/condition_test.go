package engine

import (
	"context"
	"testing"

	"github.com/rendis/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecuteIf_BranchSelection(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID: "branchy",
		Steps: []schema.Step{{
			Type:      schema.StepTypeIf,
			Condition: "len(input_text) > 5",
			Then:      []schema.Step{llmStep("", "long")},
			Else:      []schema.Step{llmStep("", "short")},
		}},
	}

	out, err := x.Execute(context.Background(), def, "hello world", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: long", out)

	out, err = x.Execute(context.Background(), def, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: short", out)
}

func TestExecuteIf_EmptyBranchIsIdentity(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID: "noop-else",
		Steps: []schema.Step{{
			Type:      schema.StepTypeIf,
			Condition: "len(input_text) > 100",
			Then:      []schema.Step{llmStep("", "never")},
		}},
	}

	out, err := x.Execute(context.Background(), def, "passes through", nil)
	require.NoError(t, err)
	assert.Equal(t, "passes through", out)
	assert.Equal(t, 0, p.count())
}

func TestExecuteIf_ForbiddenTokenRejected(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID: "unsafe",
		Steps: []schema.Step{{
			Type:      schema.StepTypeIf,
			Condition: "import os",
			Then:      []schema.Step{llmStep("", "never")},
		}},
	}

	_, err := x.Execute(context.Background(), def, "in", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCondition, schema.CodeOf(err))
	assert.Equal(t, 0, p.count(), "rejected before any evaluation or dispatch")
}

func switchDef(value string) *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		ID: "router",
		Steps: []schema.Step{{
			Type:  schema.StepTypeSwitch,
			Value: value,
			Cases: []schema.Case{
				{Value: "hello", Steps: []schema.Step{llmStep("", "greeting")}},
				{Value: "world", Steps: []schema.Step{llmStep("", "place")}},
			},
			Default: []schema.Step{llmStep("", "fallback")},
		}},
	}
}

func TestExecuteSwitch_FirstMatchWins(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	out, err := x.Execute(context.Background(), switchDef("hello"), "in", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: greeting", out)
}

func TestExecuteSwitch_NoMatchRunsDefault(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	out, err := x.Execute(context.Background(), switchDef("nomatch"), "in", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: fallback", out)
}

func TestExecuteSwitch_ValueExpression(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	// Expression values string-match case labels: 2*2 compares equal to "4".
	def := &schema.WorkflowDefinition{
		ID: "math-router",
		Steps: []schema.Step{{
			Type:  schema.StepTypeSwitch,
			Value: "2 * 2",
			Cases: []schema.Case{
				{Value: "3", Steps: []schema.Step{llmStep("", "three")}},
				{Value: "4", Steps: []schema.Step{llmStep("", "four")}},
			},
		}},
	}

	out, err := x.Execute(context.Background(), def, "in", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: four", out)
}

func TestExecuteSwitch_InterpolatedValue(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID: "param-router",
		Parameters: map[string]schema.ParamSpec{
			"lang": {Default: "go"},
		},
		Steps: []schema.Step{{
			Type:  schema.StepTypeSwitch,
			Value: "{lang}",
			Cases: []schema.Case{
				{Value: "go", Steps: []schema.Step{llmStep("", "gopher")}},
				{Value: "rust", Steps: []schema.Step{llmStep("", "crab")}},
			},
		}},
	}

	out, err := x.Execute(context.Background(), def, "in", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: gopher", out)
}

func TestExecuteMatch_FirstTruthyArmWins(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID: "grader",
		Steps: []schema.Step{{
			Type:  schema.StepTypeMatch,
			Value: "len(input_text)",
			Conditions: []schema.MatchCondition{
				{When: "value > 20", Steps: []schema.Step{llmStep("", "long")}},
				{When: "value > 5", Steps: []schema.Step{llmStep("", "medium")}},
			},
			Default: []schema.Step{llmStep("", "short")},
		}},
	}

	out, err := x.Execute(context.Background(), def, "eleven chars", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: medium", out)

	out, err = x.Execute(context.Background(), def, "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: short", out)
}

func TestExecuteMatch_ValueBinding(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID: "binder",
		Parameters: map[string]schema.ParamSpec{
			"threshold": {Default: 3},
		},
		Steps: []schema.Step{{
			Type:  schema.StepTypeMatch,
			Value: "1 + 1",
			Conditions: []schema.MatchCondition{
				{When: "value >= threshold", Steps: []schema.Step{llmStep("", "above")}},
				{When: "value < threshold", Steps: []schema.Step{llmStep("", "below")}},
			},
		}},
	}

	out, err := x.Execute(context.Background(), def, "in", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: below", out)
}

func TestConditionBranch_ThreadsInputLikeTopLevel(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID: "threading",
		Steps: []schema.Step{{
			Type:      schema.StepTypeIf,
			Condition: "true",
			Then: []schema.Step{
				llmStep("", "a: {input_text}"),
				llmStep("", "b: {input_text}"),
			},
		}},
	}

	out, err := x.Execute(context.Background(), def, "seed", nil)
	require.NoError(t, err)
	assert.Equal(t, "echo: b: echo: a: seed", out)
}

func TestExecuteSwitch_MissingValue(t *testing.T) {
	p := &scriptedProvider{}
	x := newTestExecutor(p)

	def := &schema.WorkflowDefinition{
		ID:    "bad",
		Steps: []schema.Step{{Type: schema.StepTypeSwitch}},
	}

	_, err := x.Execute(context.Background(), def, "in", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
