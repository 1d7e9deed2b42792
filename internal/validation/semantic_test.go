package validation

import (
	"testing"

	"github.com/rendis/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupOf(names ...string) RefLookup {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return LookupFunc(func(id string) bool { return set[id] })
}

func semanticErrors(t *testing.T, def *schema.WorkflowDefinition, models, tools, workflows RefLookup) []schema.ValidationIssue {
	t.Helper()
	return validateSemantic(def, models, tools, workflows).Errors
}

func issuePaths(issues []schema.ValidationIssue) []string {
	paths := make([]string, len(issues))
	for i, is := range issues {
		paths[i] = is.Path
	}
	return paths
}

func TestSemantic_ValidLLMStep(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "ok",
		Steps: []schema.Step{
			{Type: schema.StepTypeLLM, Model: "gpt-4o", PromptTemplate: "hi"},
		},
	}
	result := validateSemantic(def, lookupOf("gpt-4o"), nil, nil)
	assert.True(t, result.Valid())
	assert.Empty(t, result.Warnings)
}

func TestSemantic_LLMMissingFields(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "bad",
		Steps: []schema.Step{{Type: schema.StepTypeLLM}},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	assert.ElementsMatch(t, []string{"steps[0].model", "steps[0].prompt_template"}, issuePaths(errs))
}

func TestSemantic_UnknownModel(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "bad-model",
		Steps: []schema.Step{
			{Type: schema.StepTypeLLM, Model: "gpt-9", PromptTemplate: "hi"},
		},
	}
	errs := semanticErrors(t, def, lookupOf("gpt-4o"), nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].model", errs[0].Path)
	assert.Contains(t, errs[0].Message, `unknown model "gpt-9"`)
}

func TestSemantic_NilLookupSkipsReferenceCheck(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "no-lookup",
		Steps: []schema.Step{
			{Type: schema.StepTypeLLM, Model: "anything", PromptTemplate: "hi"},
		},
	}
	assert.True(t, validateSemantic(def, nil, nil, nil).Valid())
}

func TestSemantic_AgentChecks(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "agent",
		Steps: []schema.Step{
			{Type: schema.StepTypeAgent, Model: "gpt-4o", Tools: []string{"calculate", "hammer"}},
		},
	}
	errs := semanticErrors(t, def, lookupOf("gpt-4o"), lookupOf("calculate"), nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].tools[1]", errs[0].Path)
	assert.Contains(t, errs[0].Message, `unknown tool "hammer"`)
}

func TestSemantic_AgentRequiresTools(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "agent-no-tools",
		Steps: []schema.Step{{Type: schema.StepTypeAgent, Model: "m"}},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].tools", errs[0].Path)
}

func TestSemantic_IfRequiresConditionAndThen(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "bad-if",
		Steps: []schema.Step{{Type: schema.StepTypeIf}},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	assert.ElementsMatch(t, []string{"steps[0].condition", "steps[0].then"}, issuePaths(errs))
}

func TestSemantic_NestedBranchPath(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "nested",
		Steps: []schema.Step{
			{
				Type:      schema.StepTypeIf,
				Condition: "true",
				Then: []schema.Step{
					{Type: schema.StepTypeLLM, PromptTemplate: "hi"}, // missing model
				},
			},
		},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].then[0].model", errs[0].Path)
}

func TestSemantic_SwitchChecks(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "bad-switch",
		Steps: []schema.Step{
			{Type: schema.StepTypeSwitch},
		},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	assert.ElementsMatch(t, []string{"steps[0].value", "steps[0].cases"}, issuePaths(errs))
}

func TestSemantic_SwitchCaseSteps(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "switch-nested",
		Steps: []schema.Step{
			{
				Type:  schema.StepTypeSwitch,
				Value: "{lang}",
				Cases: []schema.Case{
					{Value: "'go'", Steps: []schema.Step{
						{Type: schema.StepTypeWorkflow}, // missing workflow_id
					}},
				},
				Default: []schema.Step{
					{Type: schema.StepTypeLLM, Model: "m", PromptTemplate: "fallback"},
				},
			},
		},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].cases[0].steps[0].workflow_id", errs[0].Path)
}

func TestSemantic_MatchChecks(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "bad-match",
		Steps: []schema.Step{
			{
				Type:  schema.StepTypeMatch,
				Value: "len(input_text)",
				Conditions: []schema.MatchCondition{
					{Steps: []schema.Step{{Type: schema.StepTypeLLM, Model: "m", PromptTemplate: "p"}}},
				},
			},
		},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].conditions[0].when", errs[0].Path)
}

func TestSemantic_ParallelRequiresSteps(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "empty-parallel",
		Steps: []schema.Step{{Type: schema.StepTypeParallel}},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, "steps[0].steps", errs[0].Path)
}

func TestSemantic_WorkflowReference(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "caller",
		Steps: []schema.Step{
			{Type: schema.StepTypeWorkflow, WorkflowID: "missing"},
		},
	}
	errs := semanticErrors(t, def, nil, nil, lookupOf("present"))
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Message, `unknown workflow "missing"`)
}

func TestSemantic_DuplicateTopLevelIDsWarn(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "dups",
		Steps: []schema.Step{
			{Type: schema.StepTypeLLM, ID: "out", Model: "m", PromptTemplate: "a"},
			{Type: schema.StepTypeLLM, ID: "out", Model: "m", PromptTemplate: "b"},
		},
	}
	result := validateSemantic(def, nil, nil, nil)
	assert.True(t, result.Valid())
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, "steps[1].id", result.Warnings[0].Path)
}

func TestSemantic_UnknownType(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID:    "mystery",
		Steps: []schema.Step{{Type: "frobnicate"}},
	}
	errs := semanticErrors(t, def, nil, nil, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, schema.ErrCodeUnknownStepType, errs[0].Code)
}
