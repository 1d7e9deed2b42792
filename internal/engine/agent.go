package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rendis/loom/internal/providers"
	"github.com/rendis/loom/internal/tools"
	"github.com/rendis/loom/pkg/schema"
)

// Reply markers the agent loop recognizes in model output.
const (
	finalAnswerMarker = "Final Answer:"
	actionMarker      = "Action:"
)

const agentContinueTask = "Based on the previous replies, continue your reasoning and finish the task."

// executeAgent runs a bounded reason-act loop: the model either answers with
// "Final Answer: ..." or requests a tool via "Action: tool_name, tool_input";
// tool observations are appended to the history and fed back. A loop that
// never produces a final answer fails after the configured iteration limit.
func (x *Executor) executeAgent(ctx context.Context, step *schema.Step, ec *ExecutionContext) (string, error) {
	if step.Model == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "agent step: model is required")
	}
	if len(step.Tools) == 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "agent step: tools are required")
	}
	if x.providers == nil {
		return "", schema.NewError(schema.ErrCodeExecution, "model source not configured")
	}
	if x.tools == nil {
		return "", schema.NewError(schema.ErrCodeExecution, "tool source not configured")
	}

	provider, err := x.providers.Get(step.Model)
	if err != nil {
		return "", err
	}

	agentTools := make([]tools.Tool, 0, len(step.Tools))
	for _, name := range step.Tools {
		t, err := x.tools.Get(name)
		if err != nil {
			return "", err
		}
		agentTools = append(agentTools, t)
	}

	task := ec.Input
	if step.Task != "" {
		task, err = x.templates.Render(ctx, step.Task, ec.Scope())
		if err != nil {
			return "", err
		}
	}

	opts := providerOptions(step)
	var history strings.Builder

	for i := 0; i < x.maxAgent; i++ {
		prompt := buildAgentPrompt(task, agentTools, history.String())
		reply, err := x.callModel(ctx, step.Model, provider, prompt, opts)
		if err != nil {
			return "", err
		}

		x.logger.DebugContext(ctx, "agent iteration",
			slog.String("workflow_id", ec.WorkflowID),
			slog.Int("iteration", i),
			slog.Int("reply_len", len(reply)))

		if _, after, ok := strings.Cut(reply, finalAnswerMarker); ok {
			return strings.TrimSpace(after), nil
		}

		observation, acted, err := x.performAction(ctx, reply, agentTools)
		if err != nil {
			return "", err
		}

		fmt.Fprintf(&history, "\nUser: %s\nAI: %s", task, reply)
		if acted {
			fmt.Fprintf(&history, "\nObservation: %s", observation)
		}
		task = agentContinueTask
	}

	return "", schema.NewErrorf(schema.ErrCodeExecution,
		"agent did not produce a final answer within %d iterations", x.maxAgent)
}

// performAction parses an "Action: tool_name, tool_input" request from the
// model reply and invokes the tool. A reply without a well-formed action
// produces no observation. A requested tool outside the step's tool list is
// reported back as an observation so the model can recover; an actual tool
// failure aborts the run.
func (x *Executor) performAction(ctx context.Context, reply string, agentTools []tools.Tool) (string, bool, error) {
	_, after, ok := strings.Cut(reply, actionMarker)
	if !ok {
		return "", false, nil
	}

	line := after
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	name, input, ok := strings.Cut(strings.TrimSpace(line), ",")
	if !ok {
		return "", false, nil
	}
	name = strings.TrimSpace(name)
	input = strings.TrimSpace(input)

	for _, t := range agentTools {
		if t.Name() != name {
			continue
		}
		out, err := t.Invoke(ctx, input)
		if err != nil {
			return "", false, err
		}
		return out, true, nil
	}
	return "tool not found: " + name, true, nil
}

func buildAgentPrompt(task string, agentTools []tools.Tool, history string) string {
	var b strings.Builder
	b.WriteString("You are an autonomous agent. Complete the task, using tools when needed.\n\n")
	b.WriteString("Task: ")
	b.WriteString(task)
	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range agentTools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
	}
	b.WriteString("\nRespond with exactly one of:\n")
	b.WriteString("Action: <tool_name>, <tool_input>\n")
	b.WriteString("Final Answer: <your answer>\n")
	if history != "" {
		b.WriteString("\nConversation so far:")
		b.WriteString(history)
		b.WriteString("\n")
	}
	return b.String()
}

func providerOptions(step *schema.Step) providers.Options {
	return providers.Options{
		Temperature:   step.Temperature,
		MaxTokens:     step.MaxTokens,
		StopSequences: step.StopSequences,
	}
}
