package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/rendis/loom/pkg/schema"
)

// JQ runs a fixed jq program over the tool input. The program comes from
// params.expression and is compiled once at construction; the input is parsed
// as JSON, or treated as a plain string when it is not valid JSON.
type JQ struct {
	name        string
	description string
	expression  string
	code        *gojq.Code
}

func newJQ(cfg ToolConfig) (Tool, error) {
	expression := stringParam(cfg.Params, "expression", "")
	if expression == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: params.expression is required", cfg.Name)
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: jq parse error in %q: %s", cfg.Name, expression, err.Error()).WithCause(err)
	}

	code, err := gojq.Compile(query,
		// Empty env blocks $ENV and env access.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: jq compile error in %q: %s", cfg.Name, expression, err.Error()).WithCause(err)
	}

	desc := cfg.Description
	if desc == "" {
		desc = "Transform JSON input with the jq program: " + expression
	}

	return &JQ{
		name:        cfg.Name,
		description: desc,
		expression:  expression,
		code:        code,
	}, nil
}

func (t *JQ) Name() string        { return t.name }
func (t *JQ) Description() string { return t.description }

func (t *JQ) Invoke(ctx context.Context, input string) (string, error) {
	var data any
	if err := json.Unmarshal([]byte(input), &data); err != nil {
		data = input
	}

	iter := t.code.RunWithContext(ctx, data)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return "", schema.NewErrorf(schema.ErrCodeTool,
				"tool %s: jq evaluation failed for %q: %s", t.name, t.expression, err.Error()).
				WithCause(err)
		}
		results = append(results, val)
	}

	var out any
	switch len(results) {
	case 0:
		return "", nil
	case 1:
		out = results[0]
	default:
		out = results
	}

	// String results go back raw so they read naturally inside prompts.
	if s, ok := out.(string); ok {
		return s, nil
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: marshal result: %s", t.name, err.Error()).WithCause(err)
	}
	return strings.TrimSpace(string(encoded)), nil
}

var _ Tool = (*JQ)(nil)
