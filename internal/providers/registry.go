package providers

import (
	"sort"
	"sync"

	"github.com/rendis/loom/pkg/schema"
)

// Constructor builds a provider instance from its declared config.
type Constructor func(cfg ModelConfig) (Provider, error)

// Registry is the thread-safe model library. Provider types are resolved
// through an explicit constructor map populated once at startup; there is no
// reflective loading.
type Registry struct {
	mu           sync.RWMutex
	providers    map[string]Provider
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the built-in provider types registered
// (openai, openrouter, deepseek; all OpenAI-compatible chat backends).
func NewRegistry() *Registry {
	r := &Registry{
		providers:    make(map[string]Provider),
		constructors: make(map[string]Constructor),
	}
	r.constructors["openai"] = newOpenAI
	r.constructors["openrouter"] = newOpenRouter
	r.constructors["deepseek"] = newDeepSeek
	return r
}

// RegisterConstructor adds a provider type. Returns error on duplicate kind.
func (r *Registry) RegisterConstructor(kind string, fn Constructor) error {
	if kind == "" || fn == nil {
		return schema.NewError(schema.ErrCodeValidation, "constructor kind and function are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[kind]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "provider type %q already registered", kind)
	}
	r.constructors[kind] = fn
	return nil
}

// Create instantiates a provider from config and adds it under its model id.
func (r *Registry) Create(cfg ModelConfig) error {
	if cfg.ModelID == "" {
		return schema.NewError(schema.ErrCodeValidation, "model_id is required")
	}

	r.mu.RLock()
	ctor, ok := r.constructors[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown provider type %q", cfg.Type)
	}

	p, err := ctor(cfg)
	if err != nil {
		return err
	}
	return r.Register(cfg.ModelID, p)
}

// Register adds an already-constructed provider. Returns error on duplicate id.
func (r *Registry) Register(id string, p Provider) error {
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "model id is empty")
	}
	if p == nil {
		return schema.NewError(schema.ErrCodeValidation, "provider is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "model %q already registered", id)
	}
	r.providers[id] = p
	return nil
}

// Remove deletes a provider by model id. Removing an absent id is an error
// so callers notice stale bookkeeping.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[id]; !exists {
		return schema.NewErrorf(schema.ErrCodeNotFound, "model not found: %s", id)
	}
	delete(r.providers, id)
	return nil
}

// Get retrieves a provider by model id.
func (r *Registry) Get(id string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "model not found: %s", id)
	}
	return p, nil
}

// List returns all registered model ids, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.providers))
	for id := range r.providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered models.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

var _ Source = (*Registry)(nil)
