package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rendis/loom/pkg/schema"
)

// Default generation parameters, applied when the step leaves them unset.
const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1000
)

const defaultHTTPTimeout = 120 * time.Second

// OpenAICompatible calls any chat-completions endpoint speaking the OpenAI
// wire format (OpenAI, OpenRouter, DeepSeek, local gateways).
type OpenAICompatible struct {
	name    string
	model   string
	baseURL string
	apiKey  string
	headers map[string]string
	client  *http.Client
}

// NewOpenAICompatible creates a provider from config params. Required params:
// model_name and api_key_env (the env var holding the key). api_base is
// optional and defaults to defaultBase.
func NewOpenAICompatible(cfg ModelConfig, defaultBase string) (*OpenAICompatible, error) {
	modelName, _ := cfg.Params["model_name"].(string)
	if modelName == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"model %q: params.model_name is required", cfg.ModelID)
	}

	keyEnv, _ := cfg.Params["api_key_env"].(string)
	if keyEnv == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"model %q: params.api_key_env is required", cfg.ModelID)
	}
	apiKey := os.Getenv(keyEnv)
	if apiKey == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"model %q: API key not found in environment %s", cfg.ModelID, keyEnv)
	}

	baseURL, _ := cfg.Params["api_base"].(string)
	if baseURL == "" {
		baseURL = defaultBase
	}

	headers := make(map[string]string)
	if extra, ok := cfg.Params["headers"].(map[string]any); ok {
		for k, v := range extra {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	return &OpenAICompatible{
		name:    cfg.ModelID,
		model:   modelName,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		headers: headers,
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}, nil
}

func newOpenAI(cfg ModelConfig) (Provider, error) {
	return NewOpenAICompatible(cfg, "https://api.openai.com/v1")
}

func newOpenRouter(cfg ModelConfig) (Provider, error) {
	return NewOpenAICompatible(cfg, "https://openrouter.ai/api/v1")
}

func newDeepSeek(cfg ModelConfig) (Provider, error) {
	return NewOpenAICompatible(cfg, "https://api.deepseek.com/v1")
}

// Name returns the registered model id.
func (p *OpenAICompatible) Name() string {
	return p.name
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateText sends a single-message chat completion and returns the
// trimmed assistant content.
func (p *OpenAICompatible) GenerateText(ctx context.Context, prompt string, opts Options) (string, error) {
	reqBody := chatRequest{
		Model:       p.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		Stop:        opts.StopSequences,
	}
	if opts.Temperature != nil {
		reqBody.Temperature = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		reqBody.MaxTokens = *opts.MaxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: marshal request: %s", p.name, err.Error()).WithCause(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: build request: %s", p.name, err.Error()).WithCause(err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: request failed: %s", p.name, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: read response: %s", p.name, err.Error()).WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: API error %d: %s", p.name, resp.StatusCode, truncate(string(body), 512)).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: decode response: %s", p.name, err.Error()).WithCause(err)
	}
	if parsed.Error != nil {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: API error: %s", p.name, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", schema.NewErrorf(schema.ErrCodeProvider,
			"model %s: response contained no choices", p.name)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s... (%d bytes)", s[:n], len(s))
}

var _ Provider = (*OpenAICompatible)(nil)
