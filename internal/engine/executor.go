package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rendis/loom/internal/expressions"
	"github.com/rendis/loom/internal/providers"
	"github.com/rendis/loom/internal/tools"
	"github.com/rendis/loom/pkg/schema"
)

const defaultMaxAgentIterations = 5

// WorkflowSource resolves nested workflow references. Satisfied by
// *registry.Library and test fakes.
type WorkflowSource interface {
	Lookup(id string) (*schema.WorkflowDefinition, error)
}

// Config carries the executor's collaborators. Providers is required; the
// rest are optional and only needed by the step types that use them.
type Config struct {
	Providers          providers.Source
	Tools              tools.Source
	Workflows          WorkflowSource
	Logger             *slog.Logger
	MaxAgentIterations int
}

// Executor runs workflow definitions: it owns the per-run execution context,
// threads the input through the step list, and routes each step to the
// condition evaluator, the parallel fan-out, or a collaborator call.
type Executor struct {
	providers  providers.Source
	tools      tools.Source
	workflows  WorkflowSource
	templates  *expressions.TemplateProcessor
	conditions *expressions.ConditionEvaluator
	breakers   *breakerRegistry
	logger     *slog.Logger
	maxAgent   int

	providerAttempts int
	backoffBase      time.Duration
}

// New creates an executor from its collaborators.
func New(cfg Config) *Executor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxAgent := cfg.MaxAgentIterations
	if maxAgent <= 0 {
		maxAgent = defaultMaxAgentIterations
	}
	conditions := expressions.NewConditionEvaluator()
	return &Executor{
		providers:  cfg.Providers,
		tools:      cfg.Tools,
		workflows:  cfg.Workflows,
		templates:  expressions.NewTemplateProcessor(conditions, logger),
		conditions: conditions,
		breakers:   newBreakerRegistry(defaultBreakerConfig()),

		providerAttempts: defaultProviderAttempts,
		backoffBase:      baseBackoff,
		logger:           logger,
		maxAgent:         maxAgent,
	}
}

// mergeParameters resolves the run parameters: declared defaults overlaid by
// caller values for declared names only. A required parameter without a
// non-nil resolved value fails validation before any step runs.
func mergeParameters(def *schema.WorkflowDefinition, caller map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(def.Parameters))
	for name, spec := range def.Parameters {
		if spec.Default != nil {
			merged[name] = spec.Default
		}
	}
	for name, val := range caller {
		if _, declared := def.Parameters[name]; declared {
			merged[name] = val
		}
	}
	for name, spec := range def.Parameters {
		if !spec.Required {
			continue
		}
		if v, ok := merged[name]; !ok || v == nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"workflow %s: required parameter %q is missing", def.ID, name).
				WithDetails(map[string]any{"parameter": name})
		}
	}
	return merged, nil
}

// Execute runs the workflow to completion and returns the last step's output.
// A zero-step workflow returns the input unchanged. Any step failure aborts
// the run with no partial output.
func (x *Executor) Execute(ctx context.Context, def *schema.WorkflowDefinition, input string, params map[string]any) (string, error) {
	merged, err := mergeParameters(def, params)
	if err != nil {
		return "", err
	}

	x.logger.InfoContext(ctx, "workflow run started",
		slog.String("workflow_id", def.ID),
		slog.Int("total_steps", len(def.Steps)))

	ec := newExecutionContext(def.ID, input, merged)
	out, err := x.runSteps(ctx, def.Steps, ec)
	if err != nil {
		x.logger.ErrorContext(ctx, "workflow run failed",
			slog.String("workflow_id", def.ID),
			slog.String("error", err.Error()))
		return "", err
	}

	x.logger.InfoContext(ctx, "workflow run completed", slog.String("workflow_id", def.ID))
	return out, nil
}

// StreamExecute runs the workflow while emitting progress events. Parameter
// validation failures are returned synchronously before any event; runtime
// failures surface as a terminal step_error event. The channel is closed
// after the terminal event, and event timestamps are monotonically
// non-decreasing within the run.
func (x *Executor) StreamExecute(ctx context.Context, def *schema.WorkflowDefinition, input string, params map[string]any) (<-chan schema.Event, error) {
	merged, err := mergeParameters(def, params)
	if err != nil {
		return nil, err
	}

	events := make(chan schema.Event)
	go func() {
		defer close(events)

		clock := &eventClock{}
		emit := func(ev schema.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		total := len(def.Steps)
		if !emit(schema.WorkflowStartEvent(def.ID, total, clock.now())) {
			return
		}

		ec := newExecutionContext(def.ID, input, merged)
		for i := range def.Steps {
			step := &def.Steps[i]
			if !emit(schema.StepStartEvent(i, step.Type, total, clock.now())) {
				return
			}

			started := time.Now()
			out, err := x.dispatchStep(ctx, step, ec)
			if err != nil {
				x.logger.ErrorContext(ctx, "workflow run failed",
					slog.String("workflow_id", def.ID),
					slog.Int("step_index", i),
					slog.String("error", err.Error()))
				emit(schema.StepErrorEvent(i, err, clock.now()))
				return
			}

			ec.Input = out
			if !emit(schema.StepCompleteEvent(i, step.Type, out, time.Since(started), clock.now())) {
				return
			}
		}

		emit(schema.CompleteEvent(ec.Input, clock.now()))
	}()

	return events, nil
}

// runSteps threads the input through a step sequence: step n+1's input is
// exactly step n's output. An empty sequence is the identity.
func (x *Executor) runSteps(ctx context.Context, steps []schema.Step, ec *ExecutionContext) (string, error) {
	for i := range steps {
		out, err := x.dispatchStep(ctx, &steps[i], ec)
		if err != nil {
			return "", err
		}
		ec.Input = out
	}
	return ec.Input, nil
}

// dispatchStep routes one step by type and stores its output when the step
// declares an id. Unknown types are fatal, never skipped.
func (x *Executor) dispatchStep(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", schema.NewError(schema.ErrCodeCancelled, "run cancelled").WithCause(err)
	}

	x.logger.DebugContext(ctx, "dispatching step",
		slog.String("workflow_id", ec.WorkflowID),
		slog.String("step_type", string(step.Type)),
		slog.String("step_id", step.ID))

	var out string
	var err error
	switch step.Type {
	case schema.StepTypeLLM:
		out, err = x.executeLLM(ctx, step, ec)
	case schema.StepTypeAgent:
		out, err = x.executeAgent(ctx, step, ec)
	case schema.StepTypeIf:
		out, err = x.executeIf(ctx, step, ec)
	case schema.StepTypeSwitch:
		out, err = x.executeSwitch(ctx, step, ec)
	case schema.StepTypeMatch:
		out, err = x.executeMatch(ctx, step, ec)
	case schema.StepTypeParallel:
		return x.executeParallelStep(ctx, step, ec)
	case schema.StepTypeWorkflow:
		out, err = x.executeWorkflow(ctx, step, ec)
	default:
		return "", schema.NewErrorf(schema.ErrCodeUnknownStepType,
			"unknown step type %q", step.Type).WithStep(step.ID)
	}
	if err != nil {
		return "", withStep(err, step.ID)
	}

	if step.ID != "" {
		ec.StoreResult(step.ID, out)
	}
	return out, nil
}

// executeLLM renders the prompt template against the current scope and calls
// the referenced model provider.
func (x *Executor) executeLLM(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	if step.Model == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "llm step: model is required")
	}
	if step.PromptTemplate == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "llm step: prompt_template is required")
	}
	if x.providers == nil {
		return "", schema.NewError(schema.ErrCodeExecution, "model source not configured")
	}

	provider, err := x.providers.Get(step.Model)
	if err != nil {
		return "", err
	}

	prompt, err := x.templates.Render(ctx, step.PromptTemplate, ec.Scope())
	if err != nil {
		return "", err
	}

	return x.callModel(ctx, step.Model, provider, prompt, providerOptions(step))
}

// executeWorkflow recurses into a registered workflow with a derived context:
// the nested run starts from the current input, caller parameters take
// precedence over the nested workflow's own defaults, and its failures
// propagate unwrapped. The nested run keeps its own result store.
func (x *Executor) executeWorkflow(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	if step.WorkflowID == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "workflow step: workflow_id is required")
	}
	if x.workflows == nil {
		return "", schema.NewError(schema.ErrCodeExecution, "workflow registry not configured")
	}

	def, err := x.workflows.Lookup(step.WorkflowID)
	if err != nil {
		return "", err
	}

	merged, err := mergeParameters(def, ec.Parameters)
	if err != nil {
		return "", err
	}

	nested := newExecutionContext(def.ID, ec.Input, merged)
	return x.runSteps(ctx, def.Steps, nested)
}

// withStep attaches the step id to engine errors that lack one.
func withStep(err error, stepID string) error {
	if stepID == "" {
		return err
	}
	if lerr, ok := err.(*schema.LoomError); ok && lerr.StepID == "" {
		return lerr.WithStep(stepID)
	}
	return err
}

// eventClock issues monotonically non-decreasing timestamps for a run's
// event stream, even if the wall clock steps backwards.
type eventClock struct {
	mu   sync.Mutex
	last time.Time
}

func (c *eventClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := time.Now()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}
