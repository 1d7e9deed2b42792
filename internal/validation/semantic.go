package validation

import (
	"fmt"

	"github.com/rendis/loom/pkg/schema"
)

// validateSemantic performs semantic analysis on the workflow definition.
// Checks: per-type required fields, non-empty branch bodies where the type
// demands them, and collaborator references (models, tools, nested
// workflows) against the provided lookups. Branch steps are validated
// recursively with paths like "steps[0].then[1]".
func validateSemantic(def *schema.WorkflowDefinition, models, tools, workflows RefLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// Duplicate top-level ids are legal (last write wins on the execution
	// context) but usually a mistake, so flag them as warnings.
	seen := make(map[string]int, len(def.Steps))
	for i, s := range def.Steps {
		if s.ID == "" {
			continue
		}
		if first, dup := seen[s.ID]; dup {
			result.AddWarning(fmt.Sprintf("steps[%d].id", i), schema.ErrCodeValidation,
				fmt.Sprintf("step id %q already used at steps[%d]; later output overwrites earlier", s.ID, first))
			continue
		}
		seen[s.ID] = i
	}

	for i := range def.Steps {
		validateStepSemantic(&def.Steps[i], fmt.Sprintf("steps[%d]", i), models, tools, workflows, result)
	}

	return result
}

// validateStepSemantic checks one step and recurses into its branches.
func validateStepSemantic(step *schema.Step, path string, models, tools, workflows RefLookup, result *schema.ValidationResult) {
	recurse := func(steps []schema.Step, field string) {
		for i := range steps {
			validateStepSemantic(&steps[i], fmt.Sprintf("%s.%s[%d]", path, field, i), models, tools, workflows, result)
		}
	}

	switch step.Type {
	case schema.StepTypeLLM:
		if step.Model == "" {
			result.AddError(path+".model", schema.ErrCodeValidation, "llm step requires a model")
		} else if models != nil && !models.Has(step.Model) {
			result.AddError(path+".model", schema.ErrCodeValidation,
				fmt.Sprintf("unknown model %q", step.Model))
		}
		if step.PromptTemplate == "" {
			result.AddError(path+".prompt_template", schema.ErrCodeValidation, "llm step requires a prompt_template")
		}

	case schema.StepTypeAgent:
		if step.Model == "" {
			result.AddError(path+".model", schema.ErrCodeValidation, "agent step requires a model")
		} else if models != nil && !models.Has(step.Model) {
			result.AddError(path+".model", schema.ErrCodeValidation,
				fmt.Sprintf("unknown model %q", step.Model))
		}
		if len(step.Tools) == 0 {
			result.AddError(path+".tools", schema.ErrCodeValidation, "agent step requires at least one tool")
		}
		if tools != nil {
			for i, name := range step.Tools {
				if !tools.Has(name) {
					result.AddError(fmt.Sprintf("%s.tools[%d]", path, i), schema.ErrCodeValidation,
						fmt.Sprintf("unknown tool %q", name))
				}
			}
		}

	case schema.StepTypeIf:
		if step.Condition == "" {
			result.AddError(path+".condition", schema.ErrCodeValidation, "if step requires a condition")
		}
		if len(step.Then) == 0 {
			result.AddError(path+".then", schema.ErrCodeValidation, "if step requires a then branch")
		}
		recurse(step.Then, "then")
		recurse(step.Else, "else")

	case schema.StepTypeSwitch:
		if step.Value == "" {
			result.AddError(path+".value", schema.ErrCodeValidation, "switch step requires a value expression")
		}
		if len(step.Cases) == 0 {
			result.AddError(path+".cases", schema.ErrCodeValidation, "switch step requires at least one case")
		}
		for i := range step.Cases {
			c := &step.Cases[i]
			casePath := fmt.Sprintf("%s.cases[%d]", path, i)
			if c.Value == "" {
				result.AddError(casePath+".value", schema.ErrCodeValidation, "case requires a value")
			}
			for j := range c.Steps {
				validateStepSemantic(&c.Steps[j], fmt.Sprintf("%s.steps[%d]", casePath, j), models, tools, workflows, result)
			}
		}
		recurse(step.Default, "default")

	case schema.StepTypeMatch:
		if step.Value == "" {
			result.AddError(path+".value", schema.ErrCodeValidation, "match step requires a value expression")
		}
		if len(step.Conditions) == 0 {
			result.AddError(path+".conditions", schema.ErrCodeValidation, "match step requires at least one condition")
		}
		for i := range step.Conditions {
			c := &step.Conditions[i]
			condPath := fmt.Sprintf("%s.conditions[%d]", path, i)
			if c.When == "" {
				result.AddError(condPath+".when", schema.ErrCodeValidation, "condition requires a when expression")
			}
			for j := range c.Steps {
				validateStepSemantic(&c.Steps[j], fmt.Sprintf("%s.steps[%d]", condPath, j), models, tools, workflows, result)
			}
		}
		recurse(step.Default, "default")

	case schema.StepTypeParallel:
		if len(step.Steps) == 0 {
			result.AddError(path+".steps", schema.ErrCodeValidation, "parallel step requires a non-empty step list")
		}
		recurse(step.Steps, "steps")

	case schema.StepTypeWorkflow:
		if step.WorkflowID == "" {
			result.AddError(path+".workflow_id", schema.ErrCodeValidation, "workflow step requires a workflow_id")
		} else if workflows != nil && !workflows.Has(step.WorkflowID) {
			result.AddError(path+".workflow_id", schema.ErrCodeValidation,
				fmt.Sprintf("unknown workflow %q", step.WorkflowID))
		}

	default:
		result.AddError(path+".type", schema.ErrCodeUnknownStepType,
			fmt.Sprintf("unknown step type %q", step.Type))
	}
}
