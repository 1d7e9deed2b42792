package expressions

import "context"

// Engine evaluates expressions against a variable environment.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
