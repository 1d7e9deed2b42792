package providers

import "context"

// Options are per-call generation options. Nil fields fall back to the
// provider's defaults.
type Options struct {
	Temperature   *float64
	MaxTokens     *int
	StopSequences []string
}

// Provider turns a prompt into generated text. Implementations wrap one
// concrete model backend and report transport or API problems as
// PROVIDER_ERROR.
type Provider interface {
	Name() string
	GenerateText(ctx context.Context, prompt string, opts Options) (string, error)
}

// Source resolves model references for the executor. Satisfied by *Registry
// and test fakes.
type Source interface {
	Get(id string) (Provider, error)
}

// ModelConfig declares one model instance in the model library.
type ModelConfig struct {
	ModelID string         `yaml:"model_id" json:"model_id"`
	Name    string         `yaml:"name,omitempty" json:"name,omitempty"`
	Type    string         `yaml:"type" json:"type"`
	Params  map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}
