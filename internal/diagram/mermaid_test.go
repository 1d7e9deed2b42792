package diagram

import (
	"strings"
	"testing"

	"github.com/rendis/loom/pkg/schema"
	"github.com/stretchr/testify/assert"
)

func TestRenderMermaid_LinearChain(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "pipeline",
		Steps: []schema.Step{
			{Type: schema.StepTypeLLM, ID: "draft", Model: "gpt-4o", PromptTemplate: "x"},
		},
	}

	out := RenderMermaid(Build(def))
	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% pipeline")
	assert.Contains(t, out, `draft["llm: gpt-4o"]`)
	assert.Contains(t, out, "start --> draft")
	assert.Contains(t, out, "draft --> finish")
	assert.NotContains(t, out, "--> end", "end is a Mermaid reserved word")
}

func TestRenderMermaid_BranchSubgraph(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "route",
		Steps: []schema.Step{
			{
				Type:      schema.StepTypeIf,
				ID:        "gate",
				Condition: "x > 1",
				Then:      []schema.Step{{Type: schema.StepTypeLLM, Model: "m", PromptTemplate: "a"}},
				Else:      []schema.Step{{Type: schema.StepTypeLLM, Model: "m", PromptTemplate: "b"}},
			},
		},
	}

	out := RenderMermaid(Build(def))
	assert.Contains(t, out, `gate{"if x > 1"}`)
	assert.Contains(t, out, `subgraph gate_then["then"]`)
	assert.Contains(t, out, `subgraph gate_else["else"]`)
	assert.Equal(t, 2, strings.Count(out, "\n    end\n"), "every subgraph is closed")
}

func TestRenderMermaid_EscapesQuotesInLabels(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "q",
		Steps: []schema.Step{
			{Type: schema.StepTypeIf, Condition: `value == "yes"`,
				Then: []schema.Step{{Type: schema.StepTypeLLM, Model: "m", PromptTemplate: "a"}}},
		},
	}

	out := RenderMermaid(Build(def))
	assert.Contains(t, out, "value == 'yes'")
}

func TestRenderMermaid_SafeIDs(t *testing.T) {
	def := &schema.WorkflowDefinition{
		ID: "ids",
		Steps: []schema.Step{
			{Type: schema.StepTypeLLM, ID: "my-step.one", Model: "m", PromptTemplate: "x"},
		},
	}

	out := RenderMermaid(Build(def))
	assert.Contains(t, out, "my_step_one[")
	assert.NotContains(t, out, "my-step.one[")
}
