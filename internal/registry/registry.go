// Package registry holds the node type definitions compiled into the binary.
// Node type packages self-register through the Module interface.
package registry

import (
	"fmt"
	"log/slog"

	"github.com/vk/pipegridgo/internal/schema"
)

// Module is the interface all node type packages implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Registry maps node type names to their versioned definitions for a single
// application instance.
type Registry struct {
	types map[string]map[string]*schema.NodeType
	// latest tracks the highest registered version per type.
	latest map[string]string
}

// New creates and initializes a new Registry instance.
func New() *Registry {
	return &Registry{
		types:  make(map[string]map[string]*schema.NodeType),
		latest: make(map[string]string),
	}
}

// RegisterType adds a node type definition. Registering the same
// (type, version) pair twice is a programmer error and panics.
func (r *Registry) RegisterType(nt *schema.NodeType) {
	versions, ok := r.types[nt.Type]
	if !ok {
		versions = make(map[string]*schema.NodeType)
		r.types[nt.Type] = versions
	}
	if _, exists := versions[nt.Version]; exists {
		panic(fmt.Sprintf("node type '%s' version '%s' already registered", nt.Type, nt.Version))
	}
	slog.Debug("Registering node type.", "type", nt.Type, "version", nt.Version)
	versions[nt.Version] = nt
	if nt.Version >= r.latest[nt.Type] {
		r.latest[nt.Type] = nt.Version
	}
}

// Lookup returns the definition for the given type and version. An empty
// version selects the latest registered one.
func (r *Registry) Lookup(nodeType, version string) (*schema.NodeType, error) {
	versions, ok := r.types[nodeType]
	if !ok {
		return nil, fmt.Errorf("unknown node type '%s'", nodeType)
	}
	if version == "" {
		version = r.latest[nodeType]
	}
	nt, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("node type '%s' has no registered version '%s'", nodeType, version)
	}
	return nt, nil
}

// Types returns the names of all registered node types.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.types))
	for name := range r.types {
		out = append(out, name)
	}
	return out
}
