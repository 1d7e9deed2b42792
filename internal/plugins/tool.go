package plugins

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/loom/pkg/schema"
)

const defaultCallTimeout = 30 * time.Second

// toolCaller is the slice of the MCP client the tool adapter needs.
// Satisfied by *client.Client and test fakes.
type toolCaller interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// mcpTool adapts one remote MCP tool to the local tool interface. The
// registered name is qualified as "<server>.<tool>" so servers cannot shadow
// built-in tools or each other.
type mcpTool struct {
	name        string
	remoteName  string
	description string
	caller      toolCaller
	timeout     time.Duration
}

func (t *mcpTool) Name() string        { return t.name }
func (t *mcpTool) Description() string { return t.description }

// Invoke calls the remote tool. A JSON object input is passed through as the
// tool arguments; any other input is wrapped as {"input": <text>}.
func (t *mcpTool) Invoke(ctx context.Context, input string) (string, error) {
	args := map[string]any{}
	trimmed := strings.TrimSpace(input)
	if trimmed != "" {
		if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
			args = map[string]any{"input": input}
		}
	}

	timeout := t.timeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := t.caller.CallTool(callCtx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      t.remoteName,
			Arguments: args,
		},
	})
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool, "tool %q call failed", t.name).WithCause(err)
	}

	text := flattenContent(result.Content)
	if result.IsError {
		return "", schema.NewErrorf(schema.ErrCodeTool, "tool %q returned an error: %s", t.name, text)
	}
	return text, nil
}

// flattenContent joins the textual parts of an MCP result. Non-text content
// is rendered as JSON so nothing is silently dropped.
func flattenContent(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, tc.Text)
			continue
		}
		if b, err := json.Marshal(c); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, "\n")
}
