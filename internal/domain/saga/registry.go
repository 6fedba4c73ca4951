package saga

import "sync"

// Registry holds the known saga definitions, keyed by type. It is passed to
// the orchestrator as an explicit dependency so orchestrator instances stay
// independently testable.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Registration is idempotent by type: a second
// registration of the same type is ignored.
func (r *Registry) Register(def Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, registered := r.defs[def.Type]; registered {
		return
	}
	r.defs[def.Type] = def
}

func (r *Registry) Get(sagaType string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[sagaType]
	return def, ok
}
