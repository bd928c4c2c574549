// Package config defines the format-agnostic template model and the Loader
// interface implemented by the concrete template formats.
package config

import "github.com/zclconf/go-cty/cty"

// Model is the unified representation of a loaded pipeline template,
// independent of the file format it came from.
type Model struct {
	// NodesVersions records, per node type, the version the template was
	// authored against.
	NodesVersions map[string]string

	// ReleaseVersion and FileVersion identify the producing tool and the
	// template format revision. The core carries them through save.
	ReleaseVersion string
	FileVersion    string

	// Nodes lists the node descriptors in declaration order. Declaration
	// order is significant: it breaks ties in the topological sort.
	Nodes []*NodeDesc
}

// NodeDesc describes one node instance of the template.
type NodeDesc struct {
	Name     string
	NodeType string

	// Position is editor layout only; the core stores it untouched.
	Position [2]int

	// Inputs maps attribute names to raw values. String values (including
	// list elements) may carry link expressions in the {Node.attr} grammar;
	// they are interpreted by the graph builder, not here.
	Inputs []*InputDesc

	// InternalInputs are literal-only values for internal attributes.
	InternalInputs []*InputDesc
}

// InputDesc is one raw attribute assignment from the template. Ordered
// slices rather than maps keep template order stable across load/save.
type InputDesc struct {
	Name  string
	Value cty.Value
}

// Node returns the descriptor with the given name, if present.
func (m *Model) Node(name string) (*NodeDesc, bool) {
	for _, n := range m.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return nil, false
}
