package plugins

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/loom/internal/tools"
	"github.com/rendis/loom/pkg/schema"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeCaller records CallTool requests and returns a scripted result.
type fakeCaller struct {
	requests []mcp.CallToolRequest
	result   *mcp.CallToolResult
	err      error
}

func (f *fakeCaller) CallTool(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func textResult(texts ...string) *mcp.CallToolResult {
	r := &mcp.CallToolResult{}
	for _, t := range texts {
		r.Content = append(r.Content, mcp.TextContent{Type: "text", Text: t})
	}
	return r
}

func TestMCPTool_InvokeJSONArguments(t *testing.T) {
	caller := &fakeCaller{result: textResult("42")}
	tool := &mcpTool{name: "math.add", remoteName: "add", caller: caller}

	out, err := tool.Invoke(context.Background(), `{"a": 40, "b": 2}`)
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	require.Len(t, caller.requests, 1)
	assert.Equal(t, "add", caller.requests[0].Params.Name)
	args, ok := caller.requests[0].Params.Arguments.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(40), args["a"])
}

func TestMCPTool_InvokePlainTextWrapped(t *testing.T) {
	caller := &fakeCaller{result: textResult("ok")}
	tool := &mcpTool{name: "notes.save", remoteName: "save", caller: caller}

	_, err := tool.Invoke(context.Background(), "remember the milk")
	require.NoError(t, err)

	args, ok := caller.requests[0].Params.Arguments.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "remember the milk", args["input"])
}

func TestMCPTool_InvokeEmptyInput(t *testing.T) {
	caller := &fakeCaller{result: textResult("done")}
	tool := &mcpTool{name: "sys.noop", remoteName: "noop", caller: caller}

	out, err := tool.Invoke(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	args, ok := caller.requests[0].Params.Arguments.(map[string]any)
	require.True(t, ok)
	assert.Empty(t, args)
}

func TestMCPTool_MultipleTextParts(t *testing.T) {
	caller := &fakeCaller{result: textResult("line one", "line two")}
	tool := &mcpTool{name: "docs.read", remoteName: "read", caller: caller}

	out, err := tool.Invoke(context.Background(), "{}")
	require.NoError(t, err)
	assert.Equal(t, "line one\nline two", out)
}

func TestMCPTool_RemoteError(t *testing.T) {
	result := textResult("boom")
	result.IsError = true
	caller := &fakeCaller{result: result}
	tool := &mcpTool{name: "math.div", remoteName: "div", caller: caller}

	_, err := tool.Invoke(context.Background(), `{"a": 1, "b": 0}`)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTool, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestMCPTool_TransportError(t *testing.T) {
	caller := &fakeCaller{err: errors.New("connection reset")}
	tool := &mcpTool{name: "math.add", remoteName: "add", caller: caller}

	_, err := tool.Invoke(context.Background(), "{}")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeTool, schema.CodeOf(err))
}

func TestManager_LoadRequiresNameAndCommand(t *testing.T) {
	m := NewManager(tools.NewRegistry(), quietLogger())

	assert.Error(t, m.Load(context.Background(), ServerConfig{Command: "srv"}))
	assert.Error(t, m.Load(context.Background(), ServerConfig{Name: "srv"}))
}

func TestManager_LoadMissingBinary(t *testing.T) {
	m := NewManager(tools.NewRegistry(), quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := m.Load(ctx, ServerConfig{Name: "ghost", Command: "/nonexistent/mcp-server"})
	require.Error(t, err)
	assert.Empty(t, m.Status())
}

func TestManager_UnloadUnknown(t *testing.T) {
	m := NewManager(tools.NewRegistry(), quietLogger())
	assert.Error(t, m.Unload("nope"))
}

func TestManager_StatusEmpty(t *testing.T) {
	m := NewManager(tools.NewRegistry(), quietLogger())
	assert.Empty(t, m.Status())
	assert.Nil(t, m.Tools("nope"))
	assert.NoError(t, m.StopAll())
}
