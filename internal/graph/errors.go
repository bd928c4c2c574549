package graph

import (
	"fmt"
	"strings"

	"github.com/vk/pipegridgo/internal/attr"
)

// CycleError reports that a set of links forms a dependency cycle.
type CycleError struct {
	// Cycle lists the node names along the detected cycle, in order.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// UnknownNodeError reports a link expression naming a node that does not
// exist in the graph.
type UnknownNodeError struct {
	Referrer string
	Node     string
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("node %q links to unknown node %q", e.Referrer, e.Node)
}

// UnknownAttributeError reports a link expression naming an attribute path
// that does not exist on the referenced node.
type UnknownAttributeError struct {
	Referrer string
	Node     string
	Path     string
}

func (e *UnknownAttributeError) Error() string {
	return fmt.Sprintf("node %q links to unknown attribute %q on node %q", e.Referrer, e.Path, e.Node)
}

// DanglingLinkError reports a link whose upstream node has been removed
// from the graph.
type DanglingLinkError struct {
	Node string
	Attr string
	Ref  attr.Ref
}

func (e *DanglingLinkError) Error() string {
	return fmt.Sprintf("attribute %q of node %q links to removed node %q", e.Attr, e.Node, e.Ref.Node)
}
