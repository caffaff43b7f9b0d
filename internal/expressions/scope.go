package expressions

import (
	"encoding/json"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// OutputScope holds the latest output of every node that has run so far in
// a workflow execution. It backs the `nodes` binding of expressions.
// Outputs are frozen (deep-copied) on insert; a later execution of the same
// node replaces the earlier entry.
type OutputScope struct {
	mu       sync.RWMutex
	outputs  map[string]schema.Items
	order    []string
	snapshot map[string]any // rebuilt lazily after each Record
}

// NewOutputScope creates an empty scope.
func NewOutputScope() *OutputScope {
	return &OutputScope{outputs: make(map[string]schema.Items)}
}

// Record stores a deep copy of a node's output items.
func (s *OutputScope) Record(node string, items schema.Items) {
	frozen := make(schema.Items, len(items))
	for i, it := range items {
		frozen[i] = deepCopyMap(it)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.outputs[node]; !seen {
		s.order = append(s.order, node)
	}
	s.outputs[node] = frozen
	s.snapshot = nil
}

// Output returns a copy of the recorded items for a node.
func (s *OutputScope) Output(node string) (schema.Items, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items, ok := s.outputs[node]
	if !ok {
		return nil, false
	}
	cp := make(schema.Items, len(items))
	for i, it := range items {
		cp[i] = deepCopyMap(it)
	}
	return cp, true
}

// Names returns the recorded node names in first-recorded order.
func (s *OutputScope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Nodes returns the `nodes` binding: name -> {"json": first item, "items": all items}.
// The returned map is shared between callers and must be treated as read-only.
func (s *OutputScope) Nodes() map[string]any {
	s.mu.RLock()
	snap := s.snapshot
	s.mu.RUnlock()
	if snap != nil {
		return snap
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot != nil {
		return s.snapshot
	}
	snap = make(map[string]any, len(s.outputs))
	for name, items := range s.outputs {
		first := map[string]any{}
		if len(items) > 0 {
			first = items[0]
		}
		all := make([]any, len(items))
		for i, it := range items {
			all[i] = it
		}
		snap[name] = map[string]any{"json": first, "items": all}
	}
	s.snapshot = snap
	return snap
}

// --- Deep copy utilities ---

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = deepCopyAny(v)
	}
	return cp
}

// deepCopyAny recursively copies maps and slices; scalars are returned as-is.
func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyAny(item)
		}
		return cp
	case []map[string]any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = deepCopyMap(item)
		}
		return cp
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}

// CloneValue deep-copies a JSON-like value.
func CloneValue(v any) any {
	return deepCopyAny(v)
}
