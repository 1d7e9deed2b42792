package schema

// WorkflowDefinition is the declarative workflow format loaded from the
// workflow library. Immutable once loaded; the executor never mutates it.
type WorkflowDefinition struct {
	ID          string               `json:"workflow_id" yaml:"workflow_id"`
	Name        string               `json:"name,omitempty" yaml:"name,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]ParamSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Steps       []Step               `json:"steps" yaml:"steps"`
	Metadata    map[string]any       `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ParamSpec declares one workflow parameter.
type ParamSpec struct {
	Default  any    `json:"default,omitempty" yaml:"default,omitempty"`
	Required bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Describe string `json:"description,omitempty" yaml:"description,omitempty"`
}

// StepType enumerates the kinds of steps in a workflow.
type StepType string

const (
	StepTypeLLM      StepType = "llm"
	StepTypeAgent    StepType = "agent"
	StepTypeIf       StepType = "if"
	StepTypeSwitch   StepType = "switch"
	StepTypeMatch    StepType = "match"
	StepTypeParallel StepType = "parallel"
	StepTypeWorkflow StepType = "workflow"
)

// Step describes a single step in a workflow. It is a tagged variant: Type
// selects which field group is meaningful. Branch fields (Then, Else, Cases,
// Conditions, Default, Steps) nest further Steps, forming a tree; ownership
// is strictly hierarchical, so no cycle handling is needed.
type Step struct {
	Type StepType `json:"type" yaml:"type"`

	// ID, when set, stores the step's output on the execution context under
	// this key for later $output(id) lookups. Last write wins per id.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// llm fields.
	Model          string   `json:"model,omitempty" yaml:"model,omitempty"`
	PromptTemplate string   `json:"prompt_template,omitempty" yaml:"prompt_template,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens      *int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	StopSequences  []string `json:"stop_sequences,omitempty" yaml:"stop_sequences,omitempty"`

	// agent fields (Model is shared with llm). Task, when set, overrides the
	// step input as the agent's task text.
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	Task  string   `json:"task,omitempty" yaml:"task,omitempty"`

	// if fields.
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      []Step `json:"then,omitempty" yaml:"then,omitempty"`
	Else      []Step `json:"else,omitempty" yaml:"else,omitempty"`

	// switch / match fields. Value is the expression evaluated once and
	// compared against cases (switch) or bound as "value" (match).
	Value      string           `json:"value,omitempty" yaml:"value,omitempty"`
	Cases      []Case           `json:"cases,omitempty" yaml:"cases,omitempty"`
	Conditions []MatchCondition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Default    []Step           `json:"default,omitempty" yaml:"default,omitempty"`

	// parallel fields.
	Steps []Step `json:"steps,omitempty" yaml:"steps,omitempty"`

	// workflow fields.
	WorkflowID string `json:"workflow_id,omitempty" yaml:"workflow_id,omitempty"`
}

// Case is one arm of a switch step. Its Value expression is evaluated and
// string-compared against the switch value.
type Case struct {
	Value string `json:"value" yaml:"value"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// MatchCondition is one arm of a match step. When is evaluated with the
// match value bound as "value"; the first truthy arm wins.
type MatchCondition struct {
	When  string `json:"when" yaml:"when"`
	Steps []Step `json:"steps" yaml:"steps"`
}
