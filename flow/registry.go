package flow

import (
	"sort"
	"sync"
)

// Registry is a thread-safe keyed map of flows. Registration is idempotent
// by name.
type Registry struct {
	mu    sync.RWMutex
	flows map[string]*Flow
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{flows: make(map[string]*Flow)}
}

// Register adds or replaces a flow by name.
func (r *Registry) Register(f *Flow) {
	if f == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flows[f.Name()] = f
}

// Get retrieves a flow; nil on miss.
func (r *Registry) Get(name string) *Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.flows[name]
}

// Unregister removes a flow by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flows, name)
}

// List returns all flows sorted by name.
func (r *Registry) List() []*Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.flows))
	for name := range r.flows {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]*Flow, 0, len(names))
	for _, name := range names {
		out = append(out, r.flows[name])
	}
	return out
}
