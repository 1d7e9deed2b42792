package tools

import (
	"sort"
	"sync"

	"github.com/rendis/loom/pkg/schema"
)

// Constructor builds a tool instance from its declared config.
type Constructor func(cfg ToolConfig) (Tool, error)

// Registry is the thread-safe tool library. Tool types are resolved through
// an explicit constructor map populated once at startup; there is no
// reflective loading.
type Registry struct {
	mu           sync.RWMutex
	tools        map[string]Tool
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the built-in tool types registered
// (calculate, search, jq).
func NewRegistry() *Registry {
	r := &Registry{
		tools:        make(map[string]Tool),
		constructors: make(map[string]Constructor),
	}
	r.constructors["calculate"] = newCalculate
	r.constructors["search"] = newSearch
	r.constructors["jq"] = newJQ
	return r
}

// RegisterConstructor adds a tool type. Returns error on duplicate kind.
func (r *Registry) RegisterConstructor(kind string, fn Constructor) error {
	if kind == "" || fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "constructor kind and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool type %q already registered", kind)
	}
	r.constructors[kind] = fn
	return nil
}

// Create instantiates a tool from config and adds it under its name.
func (r *Registry) Create(cfg ToolConfig) error {
	if cfg.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool name is required")
	}

	r.mu.RLock()
	ctor, ok := r.constructors[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown tool type %q", cfg.Type)
	}

	t, err := ctor(cfg)
	if err != nil {
		return err
	}
	return r.Register(t)
}

// Register adds an already-constructed tool. Returns error on duplicate name.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return schema.NewError(schema.ErrCodeValidation, "tool and tool name are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Remove deletes a tool by name. Removing an absent name is an error so
// callers notice stale bookkeeping.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return schema.NewErrorf(schema.ErrCodeNotFound, "tool not found: %s", name)
	}
	delete(r.tools, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "tool not found: %s", name)
	}
	return t, nil
}

// List returns all registered tool names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var _ Source = (*Registry)(nil)
