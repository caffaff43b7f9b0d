package nodes

import (
	"time"

	"github.com/rendis/nodeflow/internal/expressions"
)

// BuiltinConfig configures the built-in node types. Zero values use defaults.
type BuiltinConfig struct {
	HTTP   HTTPConfig
	Now    func() time.Time
	NewID  func() string
	Random func() float64
}

// RegisterBuiltins registers all built-in node types in the given registry.
func RegisterBuiltins(reg *Registry, cfg BuiltinConfig) error {
	cel, err := expressions.NewCELEngine()
	if err != nil {
		return err
	}

	all := []NodeType{
		NewManualTrigger(cfg.Now),
		NewHTTPRequestNode(cfg.HTTP),
		NewCodeNode(cfg.Now, cfg.Random),
		NewOutboundCallNode(cfg.Now, cfg.NewID),
		NewSetNode(),
		NewIfNode(cel),
	}

	for _, nt := range all {
		if err := reg.Register(nt); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding only the built-in node types.
func NewBuiltinRegistry(cfg BuiltinConfig) (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, cfg); err != nil {
		return nil, err
	}
	return reg, nil
}
