package graph

import (
	"strings"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/chunk"
	"github.com/vk/pipegridgo/internal/schema"
)

// Node is one typed stage instance in the pipeline graph. Its attributes
// are instantiated from the node type's schema; its status is always
// derived from its chunks, never stored independently.
type Node struct {
	name      string
	nt        *schema.NodeType
	position  [2]int
	declOrder int

	attrs map[string]*attr.Attribute

	// chunks is populated by the scheduler at dispatch time; empty until
	// the node has been considered for execution.
	chunks []*chunk.Chunk
}

func newNode(name string, nt *schema.NodeType, position [2]int, declOrder int) *Node {
	n := &Node{
		name:      name,
		nt:        nt,
		position:  position,
		declOrder: declOrder,
		attrs:     make(map[string]*attr.Attribute, len(nt.Attrs)),
	}
	for _, spec := range nt.Attrs {
		n.attrs[spec.Name] = attr.New(spec)
	}
	return n
}

// Name returns the node's unique name within the graph.
func (n *Node) Name() string { return n.name }

// TypeName returns the node type name.
func (n *Node) TypeName() string { return n.nt.Type }

// TypeVersion returns the node type version.
func (n *Node) TypeVersion() string { return n.nt.Version }

// Type returns the node's full type definition.
func (n *Node) Type() *schema.NodeType { return n.nt }

// Position returns the editor layout position. The core ignores it.
func (n *Node) Position() [2]int { return n.position }

// Attr walks a dotted path through the node's attribute tree.
func (n *Node) Attr(path string) (*attr.Attribute, bool) {
	head, rest, nested := strings.Cut(path, ".")
	a, ok := n.attrs[head]
	if !ok {
		return nil, false
	}
	if !nested {
		return a, true
	}
	return a.Lookup(rest)
}

// Attrs returns the node's top-level attributes in canonical declaration
// order.
func (n *Node) Attrs() []*attr.Attribute {
	out := make([]*attr.Attribute, 0, len(n.nt.Attrs))
	for _, spec := range n.nt.Attrs {
		out = append(out, n.attrs[spec.Name])
	}
	return out
}

// Chunks returns the node's current chunk list.
func (n *Node) Chunks() []*chunk.Chunk { return n.chunks }

// SetChunks installs the chunk list produced at dispatch time.
func (n *Node) SetChunks(chunks []*chunk.Chunk) { n.chunks = chunks }

// Status derives the node-level aggregate status from its chunks.
func (n *Node) Status() chunk.Status {
	statuses := make([]chunk.Status, len(n.chunks))
	for i, c := range n.chunks {
		statuses[i] = c.Status
	}
	return chunk.Aggregate(statuses)
}

// Computed reports whether every chunk of the node has succeeded.
func (n *Node) Computed() bool {
	return len(n.chunks) > 0 && n.Status() == chunk.StatusSuccess
}

// links collects every link reference held by the node's attribute tree,
// paired with the dotted path of the holding attribute.
func (n *Node) links() []nodeLink {
	var out []nodeLink
	for _, spec := range n.nt.Attrs {
		collectLinks(n.attrs[spec.Name], spec.Name, &out)
	}
	return out
}

type nodeLink struct {
	attrPath string
	ref      attr.Ref
}

func collectLinks(a *attr.Attribute, path string, out *[]nodeLink) {
	if a.Spec().IsGroup() {
		for _, m := range a.Spec().Members {
			if sub, ok := a.Member(m.Name); ok {
				collectLinks(sub, path+"."+m.Name, out)
			}
		}
		return
	}
	for _, ref := range a.Links() {
		*out = append(*out, nodeLink{attrPath: path, ref: ref})
	}
}
