package actions

import (
	"context"
	"sort"
	"sync"
)

// Action is a named side-effecting handler invoked with resolved params.
type Action interface {
	Execute(ctx context.Context, params map[string]any) (any, error)
}

// ActionFunc adapts a function to Action.
type ActionFunc func(ctx context.Context, params map[string]any) (any, error)

// Execute calls f.
func (f ActionFunc) Execute(ctx context.Context, params map[string]any) (any, error) {
	return f(ctx, params)
}

// Registry maps action names to handlers.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register installs a under name, replacing any previous handler.
func (r *Registry) Register(name string, a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = a
}

// RegisterFunc installs fn under name.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, params map[string]any) (any, error)) {
	r.Register(name, ActionFunc(fn))
}

// Lookup returns the handler for name.
func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
