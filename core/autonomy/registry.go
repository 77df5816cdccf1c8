package autonomy

import (
	"slices"
	"strings"
	"sync"
)

// Registry is the catalog of invocable actions. Tasks reference actions by
// name; the engine resolves the name at submission time and again when a
// dispatcher slot picks the task up. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{
		actions: make(map[string]Action),
	}
}

// Register binds the action under its name. Re-registering an existing name
// replaces the previous binding.
func (r *Registry) Register(action Action) error {
	if action == nil {
		return ErrActionNil
	}
	name := action.Name()
	if name == "" {
		return ErrActionNameEmpty
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[name] = action

	return nil
}

// RegisterFunc builds an action from fn and registers it under name.
func (r *Registry) RegisterFunc(name string, fn ActionFunc, opts ...ActionOption) error {
	if fn == nil {
		return ErrActionNil
	}
	return r.Register(NewAction(name, fn, opts...))
}

// Get returns the action bound to name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]

	return action, ok
}

// Has reports whether an action is bound to name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[name]

	return ok
}

// List returns the metadata of all registered actions sorted by name.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	infos := make([]ActionInfo, 0, len(r.actions))
	for _, action := range r.actions {
		infos = append(infos, action.Describe())
	}
	r.mu.RUnlock()

	slices.SortFunc(infos, func(a, b ActionInfo) int {
		return strings.Compare(a.Name, b.Name)
	})

	return infos
}

// Unregister removes the binding for name and reports whether it existed.
// Pending tasks referencing the name fail at execution time with an unknown
// action error.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[name]; !ok {
		return false
	}
	delete(r.actions, name)

	return true
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.actions)
}
