package graph

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/config"
	"github.com/vk/pipegridgo/internal/ctxlog"
	"github.com/vk/pipegridgo/internal/registry"
)

// Build constructs a complete, validated dependency graph from a template
// model. It runs three passes: instantiate every node from its schema and
// apply literal inputs, resolve link expressions into typed references, and
// validate acyclicity. A failed build returns no graph.
func Build(ctx context.Context, model *config.Model, reg *registry.Registry) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Build: starting graph construction.", "node_count", len(model.Nodes))

	g := New()

	// First pass: create all nodes and apply template inputs. Link
	// expressions are recorded raw; they resolve in the second pass once
	// the full node table exists.
	for _, desc := range model.Nodes {
		nt, err := reg.Lookup(desc.NodeType, model.NodesVersions[desc.NodeType])
		if err != nil {
			return nil, fmt.Errorf("node %q: %w", desc.Name, err)
		}
		n, err := g.AddNode(desc.Name, nt, desc.Position)
		if err != nil {
			return nil, err
		}
		for _, in := range desc.Inputs {
			if err := applyRawInput(n, in.Name, in.Value); err != nil {
				return nil, fmt.Errorf("node %q: %w", desc.Name, err)
			}
		}
		for _, in := range desc.InternalInputs {
			a, ok := n.Attr(in.Name)
			if !ok {
				return nil, &UnknownAttributeError{Referrer: desc.Name, Node: desc.Name, Path: in.Name}
			}
			if err := a.SetValue(in.Value); err != nil {
				return nil, fmt.Errorf("node %q: %w", desc.Name, err)
			}
		}
	}
	logger.Debug("Build: node creation complete.", "node_count", g.Len())

	// Second pass: every recorded reference goes through the same
	// validation an interactive link edit would, so a template cannot
	// create a link an editor would reject.
	for _, name := range g.order {
		n := g.nodes[name]
		for _, l := range n.links() {
			target, ok := n.Attr(l.attrPath)
			if !ok {
				return nil, &UnknownAttributeError{Referrer: name, Node: name, Path: l.attrPath}
			}
			if err := g.checkLink(name, target, l.ref); err != nil {
				return nil, fmt.Errorf("node %q: %w", name, err)
			}
		}
	}
	logger.Debug("Build: link resolution complete.", "edge_count", len(g.Edges()))

	if err := g.DetectCycles(); err != nil {
		return nil, fmt.Errorf("error validating dependency graph: %w", err)
	}
	logger.Debug("Build: cycle detection passed.")

	return g, nil
}

// applyRawInput assigns one raw template value to an attribute, turning
// link-expression strings into link entries.
func applyRawInput(n *Node, path string, v cty.Value) error {
	a, ok := n.Attr(path)
	if !ok {
		return &UnknownAttributeError{Referrer: n.Name(), Node: n.Name(), Path: path}
	}
	spec := a.Spec()

	if spec.IsGroup() {
		if !v.Type().IsObjectType() && !v.Type().IsMapType() {
			return fmt.Errorf("attribute %q is a group and expects an object value", path)
		}
		for it := v.ElementIterator(); it.Next(); {
			k, sub := it.Element()
			if err := applyRawInput(n, path+"."+k.AsString(), sub); err != nil {
				return err
			}
		}
		return nil
	}

	if spec.IsList() && !v.IsNull() && (v.Type().IsListType() || v.Type().IsTupleType()) {
		entries := make([]attr.Entry, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, elem := it.Element()
			entries = append(entries, entryFromRaw(elem))
		}
		return a.SetEntries(entries)
	}

	e := entryFromRaw(v)
	if e.IsLink() {
		return a.SetLink(*e.Link)
	}
	return a.SetValue(v)
}
