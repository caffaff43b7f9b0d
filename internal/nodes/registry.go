package nodes

import (
	"sort"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Registry maps node type names to implementations. Safe for concurrent use;
// populated at startup and read-mostly afterwards.
type Registry struct {
	mu    sync.RWMutex
	types map[string]NodeType
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		types: make(map[string]NodeType),
	}
}

// Register adds a node type. Returns error on duplicate name.
func (r *Registry) Register(nt NodeType) error {
	if nt == nil {
		return schema.NewError(schema.ErrCodeValidation, "node type is nil")
	}
	name := nt.Describe().Name
	if name == "" {
		return schema.NewError(schema.ErrCodeValidation, "node type name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.types[name]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "node type %q already registered", name)
	}

	r.types[name] = nt
	return nil
}

// Get retrieves a node type by name.
func (r *Registry) Get(name string) (NodeType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nt, ok := r.types[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "unknown node type %q", name).
			WithDetails(map[string]any{"type": name})
	}
	return nt, nil
}

// Describe returns the descriptor of a registered type.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	nt, ok := r.types[name]
	if !ok {
		return Descriptor{}, false
	}
	return nt.Describe(), true
}

// List returns info for all registered node types, sorted by name.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.types))
	for _, nt := range r.types {
		d := nt.Describe()
		infos = append(infos, Info{
			Name:        d.Name,
			DisplayName: d.DisplayName,
			Description: d.Description,
			Inputs:      d.Inputs,
			Outputs:     d.Outputs,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name < infos[j].Name
	})
	return infos
}

// Has checks if a node type is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.types[name]
	return ok
}

// Count returns the number of registered node types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.types)
}
