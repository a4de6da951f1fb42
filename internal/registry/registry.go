// Package registry holds the immutable, build-once mapping from canonical
// tool names and aliases to tool definitions. Everything is registered at
// process start, then Build latches the registry shut; reads after Build
// need no synchronization because nothing mutates.
package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kathoros-ai/proxenos/internal/core"
)

// Registry maps tool names and aliases to definitions.
type Registry struct {
	tools   map[string]*ToolDefinition
	aliases map[string]string // alias -> canonical name
	built   bool
}

// New creates an empty, unlocked registry.
func New() *Registry {
	return &Registry{
		tools:   make(map[string]*ToolDefinition),
		aliases: make(map[string]string),
	}
}

// Register adds a tool definition. It fails once the registry is built, on
// name or alias conflicts, and on definitions missing a name or schema.
// Zero size caps take the defaults.
func (r *Registry) Register(def *ToolDefinition) error {
	if r.built {
		return errors.New("registry already built; register is disabled")
	}
	if def == nil || def.Name == "" {
		return errors.New("tool definition requires a name")
	}
	if def.ArgsSchema == nil {
		return fmt.Errorf("tool %q has no argument schema", def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %q", def.Name)
	}
	if _, exists := r.aliases[def.Name]; exists {
		return fmt.Errorf("tool name conflicts with alias: %q", def.Name)
	}

	if def.MaxInputSize <= 0 {
		def.MaxInputSize = core.DefaultMaxInputSize
	}
	if def.MaxOutputSize <= 0 {
		def.MaxOutputSize = core.DefaultMaxOutputSize
	}

	for _, alias := range def.Aliases {
		if _, exists := r.aliases[alias]; exists {
			return fmt.Errorf("alias conflict: %q", alias)
		}
		if _, exists := r.tools[alias]; exists {
			return fmt.Errorf("alias conflicts with tool name: %q", alias)
		}
	}

	r.tools[def.Name] = def
	for _, alias := range def.Aliases {
		r.aliases[alias] = def.Name
	}
	return nil
}

// Build latches the registry. One-way: there is no unlock.
func (r *Registry) Build() {
	r.built = true
}

// Built reports whether the registry has been latched.
func (r *Registry) Built() bool {
	return r.built
}

// Lookup resolves a name or alias to its canonical definition. Exact match,
// case sensitive, no normalization, no fuzzy matching.
func (r *Registry) Lookup(name string) (*ToolDefinition, error) {
	canonical, ok := r.aliases[name]
	if !ok {
		canonical = name
	}
	def, ok := r.tools[canonical]
	if !ok {
		return nil, fmt.Errorf("unknown tool: %q", name)
	}
	return def, nil
}

// All returns every registered definition, sorted by canonical name.
func (r *Registry) All() []*ToolDefinition {
	out := make([]*ToolDefinition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
