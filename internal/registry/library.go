package registry

import (
	"sort"
	"sync"

	"github.com/rendis/loom/pkg/schema"
)

// Source resolves workflow ids for nested workflow steps and the run API.
type Source interface {
	Lookup(id string) (*schema.WorkflowDefinition, error)
}

// Library is the thread-safe workflow library. Definitions are immutable once
// stored; Replace swaps the whole set atomically on config reload.
type Library struct {
	mu        sync.RWMutex
	workflows map[string]*schema.WorkflowDefinition
}

// NewLibrary creates an empty workflow library.
func NewLibrary() *Library {
	return &Library{workflows: make(map[string]*schema.WorkflowDefinition)}
}

// Register adds a definition. Returns error on missing id or duplicate.
func (l *Library) Register(def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition and workflow_id are required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.workflows[def.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "workflow %q already registered", def.ID)
	}
	l.workflows[def.ID] = def
	return nil
}

// Replace swaps the full definition set. Used on hot reload so readers never
// observe a partially updated library.
func (l *Library) Replace(defs []*schema.WorkflowDefinition) error {
	next := make(map[string]*schema.WorkflowDefinition, len(defs))
	for _, def := range defs {
		if def == nil || def.ID == "" {
			return schema.NewError(schema.ErrCodeValidation, "workflow definition and workflow_id are required")
		}
		if _, exists := next[def.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate workflow id %q", def.ID)
		}
		next[def.ID] = def
	}

	l.mu.Lock()
	l.workflows = next
	l.mu.Unlock()
	return nil
}

// Lookup retrieves a definition by id.
func (l *Library) Lookup(id string) (*schema.WorkflowDefinition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	def, ok := l.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow not found: %s", id)
	}
	return def, nil
}

// List returns all registered workflow ids, sorted.
func (l *Library) List() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]string, 0, len(l.workflows))
	for id := range l.workflows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered workflows.
func (l *Library) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.workflows)
}

var _ Source = (*Library)(nil)
