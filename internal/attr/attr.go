package attr

import (
	"fmt"
	"strings"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Ref identifies an attribute on another node by name, never by pointer.
// Path is a dotted path into the target node's attribute tree.
type Ref struct {
	Node string
	Path string
}

// String renders the reference back into link-expression form.
func (r Ref) String() string {
	return "{" + r.Node + "." + r.Path + "}"
}

// Entry is one slot of an attribute: either a literal value or a link.
// Exactly one of the two is set.
type Entry struct {
	Value cty.Value
	Link  *Ref
}

// IsLink reports whether the entry is link-driven.
func (e Entry) IsLink() bool {
	return e.Link != nil

}

// Attribute is a declared slot instantiated on a node. Scalar attributes
// hold exactly one entry; list attributes hold an ordered sequence that may
// mix literal entries and link entries; group attributes hold members only.
type Attribute struct {
	spec    *Spec
	enabled bool

	entries []Entry
	members map[string]*Attribute
}

// New instantiates an attribute (and, for groups, its member tree) from its
// spec, applying declared defaults.
func New(spec *Spec) *Attribute {
	a := &Attribute{spec: spec, enabled: spec.Enabled}
	if spec.IsGroup() {
		a.members = make(map[string]*Attribute, len(spec.Members))
		for _, m := range spec.Members {
			a.members[m.Name] = New(m)
		}
		return a
	}
	a.entries = []Entry{{Value: spec.DefaultValue()}}
	return a
}

// Spec returns the attribute's declaration.
func (a *Attribute) Spec() *Spec { return a.spec }

// Name returns the declared attribute name.
func (a *Attribute) Name() string { return a.spec.Name }

// Enabled reports whether the attribute currently participates in the node.
func (a *Attribute) Enabled() bool { return a.enabled }

// SetEnabled toggles the attribute on or off.
func (a *Attribute) SetEnabled(v bool) { a.enabled = v }

// Linked reports whether any entry of the attribute is link-driven.
func (a *Attribute) Linked() bool {
	for _, e := range a.entries {
		if e.IsLink() {
			return true
		}
	}
	return false
}

// Links returns the ordered references held by the attribute.
func (a *Attribute) Links() []Ref {
	var refs []Ref
	for _, e := range a.entries {
		if e.IsLink() {
			refs = append(refs, *e.Link)
		}
	}
	return refs
}

// Entries returns the attribute's ordered entries. The returned slice must
// not be mutated by the caller.
func (a *Attribute) Entries() []Entry { return a.entries }

// SetValue assigns a literal value, converting it to the declared type.
// It fails with *LinkedError while the attribute is link-driven and with
// *TypeMismatchError when the value cannot be converted.
func (a *Attribute) SetValue(v cty.Value) error {
	if a.spec.IsGroup() {
		return fmt.Errorf("attribute %q is a group; set its members individually", a.spec.Name)
	}
	if a.Linked() {
		return &LinkedError{Attr: a.spec.Name}
	}
	converted, err := convert.Convert(v, a.spec.Type)
	if err != nil {
		return &TypeMismatchError{Attr: a.spec.Name, Want: a.spec.Type, Got: v.Type()}
	}
	a.entries = []Entry{{Value: converted}}
	return nil
}

// SetLink replaces the attribute's content with a single link entry.
func (a *Attribute) SetLink(ref Ref) error {
	if a.spec.IsGroup() {
		return fmt.Errorf("attribute %q is a group and cannot be linked as a whole", a.spec.Name)
	}
	a.entries = []Entry{{Link: &ref}}
	return nil
}

// SetEntries replaces a list attribute's content with an ordered mix of
// literal and link entries. Literals are converted to the element type.
func (a *Attribute) SetEntries(entries []Entry) error {
	if !a.spec.IsList() {
		return fmt.Errorf("attribute %q is not a list", a.spec.Name)
	}
	elemType := a.spec.ElementType()
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsLink() {
			out = append(out, e)
			continue
		}
		converted, err := convert.Convert(e.Value, elemType)
		if err != nil {
			return &TypeMismatchError{Attr: a.spec.Name, Want: elemType, Got: e.Value.Type()}
		}
		out = append(out, Entry{Value: converted})
	}
	a.entries = out
	return nil
}

// Append adds one entry to a list attribute.
func (a *Attribute) Append(e Entry) error {
	if !a.spec.IsList() {
		return fmt.Errorf("attribute %q is not a list", a.spec.Name)
	}
	if e.IsLink() {
		a.entries = append(a.entries, e)
		return nil
	}
	converted, err := convert.Convert(e.Value, a.spec.ElementType())
	if err != nil {
		return &TypeMismatchError{Attr: a.spec.Name, Want: a.spec.ElementType(), Got: e.Value.Type()}
	}
	a.entries = append(a.entries, Entry{Value: converted})
	return nil
}

// RemoveLink drops all link entries and restores the declared default for
// scalar attributes. Literal list entries are preserved.
func (a *Attribute) RemoveLink() {
	if a.spec.IsList() {
		kept := a.entries[:0]
		for _, e := range a.entries {
			if !e.IsLink() {
				kept = append(kept, e)
			}
		}
		a.entries = kept
		return
	}
	a.entries = []Entry{{Value: a.spec.DefaultValue()}}
}

// Member returns the named member of a group attribute.
func (a *Attribute) Member(name string) (*Attribute, bool) {
	m, ok := a.members[name]
	return m, ok
}

// Lookup walks a dotted path through nested groups, returning the attribute
// it names.
func (a *Attribute) Lookup(path string) (*Attribute, bool) {
	cur := a
	for _, part := range strings.Split(path, ".") {
		next, ok := cur.members[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}
