package graph

import (
	"fmt"
	"sync"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/schema"
)

// EventKind classifies a graph change event.
type EventKind int

const (
	EventNodeAdded EventKind = iota
	EventNodeRemoved
	EventValueChanged
	EventLinkAdded
	EventLinkRemoved
)

// Event describes one committed mutation of the graph. Attr is empty for
// node-level events.
type Event struct {
	Kind EventKind
	Node string
	Attr string
}

// Graph owns all nodes of a loaded pipeline. It may be read concurrently;
// mutation is reserved to explicit edit operations and the scheduler.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	// order preserves declaration order; it breaks topological ties.
	order []string
	subs  []func(Event)
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Subscribe registers an observer invoked after every committed mutation.
// Observers run synchronously under the graph lock and must not call back
// into the graph.
func (g *Graph) Subscribe(fn func(Event)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subs = append(g.subs, fn)
}

func (g *Graph) publish(ev Event) {
	for _, fn := range g.subs {
		fn(ev)
	}
}

// Node returns the node with the given name.
func (g *Graph) Node(name string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[name]
	return n, ok
}

// Names returns all node names in declaration order.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// AddNode instantiates a node of the given type under a unique name.
func (g *Graph) AddNode(name string, nt *schema.NodeType, position [2]int) (*Node, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[name]; exists {
		return nil, fmt.Errorf("node name %q already in use", name)
	}
	n := newNode(name, nt, position, len(g.order))
	g.nodes[name] = n
	g.order = append(g.order, name)
	g.publish(Event{Kind: EventNodeAdded, Node: name})
	return n, nil
}

// RemoveNode deletes a node from the graph. Links held by other nodes that
// point at it become dangling and surface as DanglingLinkError on their
// next resolution.
func (g *Graph) RemoveNode(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[name]; !ok {
		return fmt.Errorf("no node named %q", name)
	}
	delete(g.nodes, name)
	for i, other := range g.order {
		if other == name {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	g.publish(Event{Kind: EventNodeRemoved, Node: name})
	return nil
}

// SetValue assigns a literal value to an attribute. The assignment is
// rejected while the attribute is link-driven.
func (g *Graph) SetValue(nodeName, attrPath string, v cty.Value) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, err := g.lookupAttr(nodeName, attrPath)
	if err != nil {
		return err
	}
	if err := a.SetValue(v); err != nil {
		return err
	}
	g.publish(Event{Kind: EventValueChanged, Node: nodeName, Attr: attrPath})
	return nil
}

// SetOutputValue records a computed value on an output attribute, bypassing
// the link guard. Only the scheduler uses this.
func (g *Graph) SetOutputValue(nodeName, attrPath string, v cty.Value) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, err := g.lookupAttr(nodeName, attrPath)
	if err != nil {
		return err
	}
	if !a.Spec().IsOutput {
		return fmt.Errorf("attribute %q of node %q is not an output", attrPath, nodeName)
	}
	if err := a.SetValue(v); err != nil {
		return err
	}
	g.publish(Event{Kind: EventValueChanged, Node: nodeName, Attr: attrPath})
	return nil
}

// SetLink connects a target attribute to an upstream output attribute. The
// edit is validated (existence, output flag, type compatibility,
// acyclicity) before anything is committed.
func (g *Graph) SetLink(nodeName, attrPath string, ref attr.Ref) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	target, err := g.lookupAttr(nodeName, attrPath)
	if err != nil {
		return err
	}
	if err := g.checkLink(nodeName, target, ref); err != nil {
		return err
	}
	if target.Spec().IsList() {
		if err := target.Append(attr.Entry{Link: &ref}); err != nil {
			return err
		}
	} else if err := target.SetLink(ref); err != nil {
		return err
	}
	g.publish(Event{Kind: EventLinkAdded, Node: nodeName, Attr: attrPath})
	return nil
}

// RemoveLink disconnects an attribute, restoring its literal content.
func (g *Graph) RemoveLink(nodeName, attrPath string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, err := g.lookupAttr(nodeName, attrPath)
	if err != nil {
		return err
	}
	a.RemoveLink()
	g.publish(Event{Kind: EventLinkRemoved, Node: nodeName, Attr: attrPath})
	return nil
}

// checkLink validates a prospective link edit without mutating anything.
func (g *Graph) checkLink(targetNode string, target *attr.Attribute, ref attr.Ref) error {
	src, ok := g.nodes[ref.Node]
	if !ok {
		return &UnknownNodeError{Referrer: targetNode, Node: ref.Node}
	}
	srcAttr, ok := src.Attr(ref.Path)
	if !ok {
		return &UnknownAttributeError{Referrer: targetNode, Node: ref.Node, Path: ref.Path}
	}
	if !srcAttr.Spec().IsOutput {
		return fmt.Errorf("attribute %q of node %q is not an output and cannot be a link source", ref.Path, ref.Node)
	}

	srcType := srcAttr.Spec().Type
	want := target.Spec().Type
	if target.Spec().IsList() {
		// List targets accept either element-shaped sources or a whole
		// upstream list, which is spliced at resolution time.
		elemOK := canConvertType(srcType, target.Spec().ElementType())
		listOK := canConvertType(srcType, want)
		if !elemOK && !listOK {
			return &attr.TypeMismatchError{Attr: target.Spec().Name, Want: want, Got: srcType}
		}
	} else if !canConvertType(srcType, want) {
		return &attr.TypeMismatchError{Attr: target.Spec().Name, Want: want, Got: srcType}
	}

	// The new edge is ref.Node -> targetNode. It closes a cycle exactly
	// when ref.Node already (transitively) depends on targetNode.
	if targetNode == ref.Node || g.dependsOnLocked(ref.Node, targetNode) {
		return &CycleError{Cycle: []string{targetNode, ref.Node, targetNode}}
	}
	return nil
}

// ResolvedValue follows an attribute's links and returns its effective
// value. Reading never triggers computation; it reflects whatever the
// upstream node currently holds.
func (g *Graph) ResolvedValue(nodeName, attrPath string) (cty.Value, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLocked(nodeName, attrPath)
}

func (g *Graph) resolveLocked(nodeName, attrPath string) (cty.Value, error) {
	n, ok := g.nodes[nodeName]
	if !ok {
		return cty.NilVal, fmt.Errorf("no node named %q", nodeName)
	}
	a, ok := n.Attr(attrPath)
	if !ok {
		return cty.NilVal, &UnknownAttributeError{Referrer: nodeName, Node: nodeName, Path: attrPath}
	}
	return g.resolveAttrLocked(n, attrPath, a)
}

func (g *Graph) resolveAttrLocked(n *Node, attrPath string, a *attr.Attribute) (cty.Value, error) {
	spec := a.Spec()

	if spec.IsGroup() {
		members := make(map[string]cty.Value, len(spec.Members))
		for _, m := range spec.Members {
			sub, _ := a.Member(m.Name)
			v, err := g.resolveAttrLocked(n, attrPath+"."+m.Name, sub)
			if err != nil {
				return cty.NilVal, err
			}
			members[m.Name] = v
		}
		return cty.ObjectVal(members), nil
	}

	if spec.IsList() {
		elemType := spec.ElementType()
		entries := a.Entries()
		if len(entries) == 0 {
			return cty.ListValEmpty(elemType), nil
		}
		elems := make([]cty.Value, 0, len(entries))
		for _, e := range entries {
			v, err := g.resolveEntryLocked(n, attrPath, e)
			if err != nil {
				return cty.NilVal, err
			}
			// A link entry may point at an upstream list output; its
			// elements are spliced into this list in order.
			if e.IsLink() && (v.Type().IsListType() || v.Type().IsTupleType()) {
				for it := v.ElementIterator(); it.Next(); {
					_, elem := it.Element()
					converted, err := convert.Convert(elem, elemType)
					if err != nil {
						return cty.NilVal, &attr.TypeMismatchError{Attr: spec.Name, Want: elemType, Got: elem.Type()}
					}
					elems = append(elems, converted)
				}
				continue
			}
			converted, err := convert.Convert(v, elemType)
			if err != nil {
				return cty.NilVal, &attr.TypeMismatchError{Attr: spec.Name, Want: elemType, Got: v.Type()}
			}
			elems = append(elems, converted)
		}
		if len(elems) == 0 {
			return cty.ListValEmpty(elemType), nil
		}
		return cty.ListVal(elems), nil
	}

	return g.resolveEntryLocked(n, attrPath, a.Entries()[0])
}

func (g *Graph) resolveEntryLocked(n *Node, attrPath string, e attr.Entry) (cty.Value, error) {
	if !e.IsLink() {
		return e.Value, nil
	}
	upstream, ok := g.nodes[e.Link.Node]
	if !ok {
		return cty.NilVal, &DanglingLinkError{Node: n.Name(), Attr: attrPath, Ref: *e.Link}
	}
	upAttr, ok := upstream.Attr(e.Link.Path)
	if !ok {
		return cty.NilVal, &UnknownAttributeError{Referrer: n.Name(), Node: e.Link.Node, Path: e.Link.Path}
	}
	return g.resolveAttrLocked(upstream, e.Link.Path, upAttr)
}

func canConvertType(from, to cty.Type) bool {
	_, err := convert.Convert(cty.UnknownVal(from), to)
	return err == nil
}

func (g *Graph) lookupAttr(nodeName, attrPath string) (*attr.Attribute, error) {
	n, ok := g.nodes[nodeName]
	if !ok {
		return nil, fmt.Errorf("no node named %q", nodeName)
	}
	a, ok := n.Attr(attrPath)
	if !ok {
		return nil, &UnknownAttributeError{Referrer: nodeName, Node: nodeName, Path: attrPath}
	}
	return a, nil
}
