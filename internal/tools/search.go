package tools

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rendis/loom/pkg/schema"
)

const (
	defaultSearchTimeout   = 30 * time.Second
	defaultMaxResponseBody = 1 << 20 // 1MB
)

// Search queries an HTTP search endpoint with the tool input as the query
// string. Required param: url. Optional params: query_param (default "q"),
// headers (map of extra request headers), timeout (Go duration string).
type Search struct {
	name        string
	description string
	endpoint    string
	queryParam  string
	headers     map[string]string
	client      *http.Client
}

func newSearch(cfg ToolConfig) (Tool, error) {
	endpoint := stringParam(cfg.Params, "url", "")
	if endpoint == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: params.url is required", cfg.Name)
	}
	u, err := url.ParseRequestURI(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"tool %q: invalid url %q", cfg.Name, endpoint)
	}

	timeout := defaultSearchTimeout
	if ts := stringParam(cfg.Params, "timeout", ""); ts != "" {
		if d, err := time.ParseDuration(ts); err == nil && d > 0 {
			timeout = d
		}
	}

	headers := make(map[string]string)
	if extra, ok := cfg.Params["headers"].(map[string]any); ok {
		for k, v := range extra {
			if s, ok := v.(string); ok {
				headers[k] = s
			}
		}
	}

	desc := cfg.Description
	if desc == "" {
		desc = "Search for information and return the raw results"
	}

	return &Search{
		name:        cfg.Name,
		description: desc,
		endpoint:    endpoint,
		queryParam:  stringParam(cfg.Params, "query_param", "q"),
		headers:     headers,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (t *Search) Name() string        { return t.name }
func (t *Search) Description() string { return t.description }

func (t *Search) Invoke(ctx context.Context, input string) (string, error) {
	query := strings.TrimSpace(input)
	if query == "" {
		return "", schema.NewErrorf(schema.ErrCodeTool, "tool %s: empty query", t.name)
	}

	reqURL, err := url.Parse(t.endpoint)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: parse endpoint: %s", t.name, err.Error()).WithCause(err)
	}
	q := reqURL.Query()
	q.Set(t.queryParam, query)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: build request: %s", t.name, err.Error()).WithCause(err)
	}
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: request failed: %s", t.name, err.Error()).WithCause(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, defaultMaxResponseBody))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: read response: %s", t.name, err.Error()).WithCause(err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", schema.NewErrorf(schema.ErrCodeTool,
			"tool %s: search returned %d", t.name, resp.StatusCode).
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	// JSON responses are re-indented so agent prompts stay readable.
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		var parsed any
		if err := json.Unmarshal(body, &parsed); err == nil {
			if pretty, err := json.MarshalIndent(parsed, "", "  "); err == nil {
				return string(pretty), nil
			}
		}
	}
	return string(body), nil
}

var _ Tool = (*Search)(nil)
