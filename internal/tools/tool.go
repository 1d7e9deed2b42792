package tools

import "context"

// Tool is a capability an agent can invoke during its reasoning loop. Input
// and output are plain text so results can be threaded back into prompts.
// Implementations report failures as TOOL_ERROR.
type Tool interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (string, error)
}

// Source resolves tool references for the executor. Satisfied by *Registry
// and test fakes.
type Source interface {
	Get(name string) (Tool, error)
}

// ToolConfig declares one tool instance in the tool library. Type selects a
// registered constructor; Params carry constructor-specific settings.
type ToolConfig struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string         `yaml:"type" json:"type"`
	Params      map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

func stringParam(m map[string]any, key, defaultVal string) string {
	v, ok := m[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}
