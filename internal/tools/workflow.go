package tools

import (
	"context"

	"github.com/rendis/loom/pkg/schema"
)

// WorkflowRunner executes a registered workflow and returns its final output.
// The executor satisfies this by wiring it after construction (late-bind),
// which keeps this package free of an executor dependency.
type WorkflowRunner func(ctx context.Context, workflowID, input string, params map[string]any) (string, error)

// Workflow exposes a registered workflow as an agent tool. The tool input
// becomes the workflow input text. Required param: workflow_id; optional
// param: parameters (fixed caller parameters for every invocation).
type Workflow struct {
	name        string
	description string
	workflowID  string
	params      map[string]any
	run         WorkflowRunner
}

// NewWorkflowConstructor returns a constructor bound to the given runner, for
// registration under the "workflow" tool type.
func NewWorkflowConstructor(run WorkflowRunner) Constructor {
	return func(cfg ToolConfig) (Tool, error) {
		workflowID := stringParam(cfg.Params, "workflow_id", "")
		if workflowID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"tool %q: params.workflow_id is required", cfg.Name)
		}

		var params map[string]any
		if raw, ok := cfg.Params["parameters"].(map[string]any); ok {
			params = raw
		}

		desc := cfg.Description
		if desc == "" {
			desc = "Run the workflow " + workflowID + " with the tool input as its input text"
		}

		return &Workflow{
			name:        cfg.Name,
			description: desc,
			workflowID:  workflowID,
			params:      params,
			run:         run,
		}, nil
	}
}

func (t *Workflow) Name() string        { return t.name }
func (t *Workflow) Description() string { return t.description }

func (t *Workflow) Invoke(ctx context.Context, input string) (string, error) {
	if t.run == nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: workflow runner not configured", t.name)
	}

	out, err := t.run(ctx, t.workflowID, input, t.params)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: workflow %s failed: %s", t.name, t.workflowID, err.Error()).WithCause(err)
	}
	return out, nil
}

var _ Tool = (*Workflow)(nil)
