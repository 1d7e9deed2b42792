package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rendis/loom/internal/plugins"
	"github.com/rendis/loom/internal/providers"
	"github.com/rendis/loom/internal/secrets"
	"github.com/rendis/loom/internal/tools"
	"github.com/rendis/loom/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Bundle is the full library configuration loaded from a config directory:
// model declarations, tool declarations, MCP server declarations and
// workflow definitions.
type Bundle struct {
	Models     []providers.ModelConfig
	Tools      []tools.ToolConfig
	MCPServers []plugins.ServerConfig
	Workflows  []*schema.WorkflowDefinition
}

type modelsFile struct {
	Models []providers.ModelConfig `yaml:"models"`
}

type toolsFile struct {
	Tools []tools.ToolConfig `yaml:"tools"`
}

type mcpFile struct {
	Servers []plugins.ServerConfig `yaml:"servers"`
}

// Loader reads the library configuration from a directory laid out as
//
//	<dir>/models.yaml      {models: [...]}
//	<dir>/tools.yaml       {tools: [...]}
//	<dir>/workflows/*.yaml one WorkflowDefinition per file
//
// Unreadable or malformed files are logged and skipped so a broken edit
// cannot take the whole library down; duplicate ids within one load are
// reported as errors.
type Loader struct {
	dir      string
	logger   *slog.Logger
	resolver *secrets.Resolver
}

// NewLoader creates a Loader rooted at dir.
func NewLoader(dir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		dir:      dir,
		logger:   logger.With(slog.String("component", "config")),
		resolver: secrets.NewResolver(nil),
	}
}

// UseResolver replaces the secret reference resolver. By default env:
// references resolve and enc: values are rejected.
func (l *Loader) UseResolver(r *secrets.Resolver) {
	if r != nil {
		l.resolver = r
	}
}

// Dir returns the configuration root directory.
func (l *Loader) Dir() string { return l.dir }

// WorkflowsDir returns the directory holding workflow definition files.
func (l *Loader) WorkflowsDir() string { return filepath.Join(l.dir, "workflows") }

// Load reads the whole bundle. It fails only when the config directory itself
// is unusable or declarations collide; individual bad files are skipped.
func (l *Loader) Load() (*Bundle, error) {
	if info, err := os.Stat(l.dir); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("config directory %q is not readable", l.dir)).WithCause(err)
	} else if !info.IsDir() {
		return nil, schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("config path %q is not a directory", l.dir))
	}

	b := &Bundle{}

	models, err := l.loadModels()
	if err != nil {
		return nil, err
	}
	b.Models = models

	toolCfgs, err := l.loadTools()
	if err != nil {
		return nil, err
	}
	b.Tools = toolCfgs

	servers, err := l.loadMCPServers()
	if err != nil {
		return nil, err
	}
	b.MCPServers = servers

	workflows, err := l.loadWorkflows()
	if err != nil {
		return nil, err
	}
	b.Workflows = workflows

	l.logger.Info("configuration loaded",
		slog.Int("models", len(b.Models)),
		slog.Int("tools", len(b.Tools)),
		slog.Int("workflows", len(b.Workflows)))
	return b, nil
}

func (l *Loader) loadModels() ([]providers.ModelConfig, error) {
	path := filepath.Join(l.dir, "models.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file modelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		l.logger.Warn("skipping malformed models file", slog.String("path", path), slog.Any("error", err))
		return nil, nil
	}

	seen := make(map[string]bool, len(file.Models))
	for i, m := range file.Models {
		if m.ModelID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("%s: model entry without model_id", path))
		}
		if seen[m.ModelID] {
			return nil, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("%s: duplicate model id %q", path, m.ModelID))
		}
		seen[m.ModelID] = true

		resolved, err := l.resolver.ResolveParams(m.Params)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"%s: model %q: %s", path, m.ModelID, err.Error()).WithCause(err)
		}
		file.Models[i].Params = resolved
	}
	return file.Models, nil
}

func (l *Loader) loadTools() ([]tools.ToolConfig, error) {
	path := filepath.Join(l.dir, "tools.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file toolsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		l.logger.Warn("skipping malformed tools file", slog.String("path", path), slog.Any("error", err))
		return nil, nil
	}

	seen := make(map[string]bool, len(file.Tools))
	for i, t := range file.Tools {
		if t.Name == "" {
			return nil, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("%s: tool entry without name", path))
		}
		if seen[t.Name] {
			return nil, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("%s: duplicate tool name %q", path, t.Name))
		}
		seen[t.Name] = true

		resolved, err := l.resolver.ResolveParams(t.Params)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"%s: tool %q: %s", path, t.Name, err.Error()).WithCause(err)
		}
		file.Tools[i].Params = resolved
	}
	return file.Tools, nil
}

func (l *Loader) loadMCPServers() ([]plugins.ServerConfig, error) {
	path := filepath.Join(l.dir, "mcp.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var file mcpFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		l.logger.Warn("skipping malformed mcp file", slog.String("path", path), slog.Any("error", err))
		return nil, nil
	}

	seen := make(map[string]bool, len(file.Servers))
	for _, s := range file.Servers {
		if s.Name == "" || s.Command == "" {
			return nil, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("%s: mcp server entry requires name and command", path))
		}
		if seen[s.Name] {
			return nil, schema.NewError(schema.ErrCodeValidation,
				fmt.Sprintf("%s: duplicate mcp server name %q", path, s.Name))
		}
		seen[s.Name] = true
	}
	return file.Servers, nil
}

func (l *Loader) loadWorkflows() ([]*schema.WorkflowDefinition, error) {
	dir := l.WorkflowsDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var defs []*schema.WorkflowDefinition
	seen := make(map[string]string, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			l.logger.Warn("skipping unreadable workflow file", slog.String("path", path), slog.Any("error", err))
			continue
		}

		var def schema.WorkflowDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			l.logger.Warn("skipping malformed workflow file", slog.String("path", path), slog.Any("error", err))
			continue
		}
		if def.ID == "" {
			l.logger.Warn("skipping workflow file without workflow_id", slog.String("path", path))
			continue
		}
		if prev, dup := seen[def.ID]; dup {
			return nil, schema.NewError(schema.ErrCodeConflict,
				fmt.Sprintf("workflow id %q defined in both %s and %s", def.ID, prev, name))
		}
		seen[def.ID] = name

		defs = append(defs, &def)
		l.logger.Debug("loaded workflow", slog.String("workflow_id", def.ID), slog.String("path", path))
	}
	return defs, nil
}
