package attr

import (
	"github.com/zclconf/go-cty/cty"
)

// Spec declares a single attribute slot on a node type.
type Spec struct {
	// Name is the attribute name, unique within its owning node or group.
	Name string

	// Type is the declared value type. For group attributes this is ignored
	// and Members describes the nested tree instead.
	Type cty.Type

	// Default is the value an attribute starts with. cty.NilVal means the
	// zero value of Type (null).
	Default cty.Value

	// Doc is a short human-readable description.
	Doc string

	// Invalidating marks the attribute as participating in the node's UID.
	Invalidating bool

	// IsOutput marks the attribute as produced by the node rather than
	// supplied by the user. Only output attributes may be link sources.
	IsOutput bool

	// Enabled controls whether the attribute is active by default.
	Enabled bool

	// Members is non-nil for group attributes and declares the nested specs.
	Members []*Spec
}

// IsGroup reports whether the spec declares a nested attribute group.
func (s *Spec) IsGroup() bool {
	return len(s.Members) > 0
}

// IsList reports whether the declared type is a list.
func (s *Spec) IsList() bool {
	return !s.IsGroup() && s.Type.IsListType()
}

// ElementType returns the element type for list specs, or cty.NilType.
func (s *Spec) ElementType() cty.Type {
	if !s.IsList() {
		return cty.NilType
	}
	return s.Type.ElementType()
}

// DefaultValue returns the spec default, falling back to a typed null.
func (s *Spec) DefaultValue() cty.Value {
	if s.Default != cty.NilVal {
		return s.Default
	}
	if s.IsList() {
		return cty.ListValEmpty(s.ElementType())
	}
	return cty.NullVal(s.Type)
}
