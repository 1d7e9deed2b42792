package validation

import "github.com/rendis/loom/pkg/schema"

// RefLookup answers whether a referenced collaborator id is known. Used for
// model, tool and nested-workflow references; nil lookups skip the check.
type RefLookup interface {
	Has(id string) bool
}

// LookupFunc adapts a function to RefLookup.
type LookupFunc func(id string) bool

// Has implements RefLookup.
func (f LookupFunc) Has(id string) bool { return f(id) }

// Validator checks workflow definitions for correctness before registration.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// WorkflowValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema Draft 2020-12)
// 2. Semantic (collaborator references, branch shape, nested steps)
// Steps nest as a strict tree, so there is no reference graph to check.
type WorkflowValidator struct {
	jsonSchema *JSONSchemaValidator
	models     RefLookup
	tools      RefLookup
	workflows  RefLookup
}

// NewWorkflowValidator creates a WorkflowValidator. Any lookup may be nil to
// skip that reference check.
func NewWorkflowValidator(models, tools, workflows RefLookup) (*WorkflowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &WorkflowValidator{
		jsonSchema: jsv,
		models:     models,
		tools:      tools,
		workflows:  workflows,
	}, nil
}

// Validate runs the full pipeline and returns an aggregated result.
// Structural errors short-circuit: the semantic stage is skipped.
func (wv *WorkflowValidator) Validate(def *schema.WorkflowDefinition) *schema.ValidationResult {
	if def == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	result := validateStructural(wv.jsonSchema, def)
	if !result.Valid() {
		return result
	}

	result.Merge(validateSemantic(def, wv.models, wv.tools, wv.workflows))
	return result
}

// ValidateDefinition satisfies the Validator interface.
func (wv *WorkflowValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	return wv.Validate(def).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (wv *WorkflowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return wv.jsonSchema.ValidateInput(input, inputSchema)
}

// validateStructural wraps JSONSchemaValidator.ValidateDefinition, converting
// its error output into ValidationResult.
func validateStructural(v *JSONSchemaValidator, def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateDefinition(def)
	if err == nil {
		return result
	}

	lerr, ok := err.(*schema.LoomError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}

	if lerr.Details != nil {
		if violations, ok := lerr.Details["violations"].([]string); ok {
			for _, v := range violations {
				result.AddError("/", schema.ErrCodeValidation, v)
			}
			return result
		}
	}
	result.AddError("/", schema.ErrCodeValidation, lerr.Message)
	return result
}
