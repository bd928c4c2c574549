// Package schema declares node types: the attribute schema, splitting policy
// and compute payload that together define what a pipeline node of a given
// type and version is.
package schema

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/pipegridgo/internal/attr"
	"github.com/vk/pipegridgo/internal/chunk"
)

// NodeView is the read-only slice of a node handed to its compute payload.
// Inputs holds the resolved values of all enabled input attributes; Dir is
// the node's UID-keyed cache folder. The payload records produced values in
// Outputs, keyed by output attribute name.
type NodeView struct {
	Name     string
	NodeType string
	Version  string
	Inputs   map[string]cty.Value
	Dir      string
	Outputs  map[string]cty.Value
}

// RunFunc is the opaque compute payload of a node type. It is invoked once
// per chunk with the chunk's range. The engine never inspects what it does;
// it only observes success or failure.
type RunFunc func(ctx context.Context, view *NodeView, rng chunk.Range) error

// Parallelization declares range-based chunk splitting for a node type.
// The iteration size is read at dispatch time from the resolved value of
// SizeAttr (a number attribute), so it may depend on upstream results.
type Parallelization struct {
	BlockSize int
	SizeAttr  string
}

// NodeType is the full declaration of a pipeline node type.
type NodeType struct {
	// Type is the node type name referenced by templates.
	Type string

	// Version is the node type version. Templates record the version each
	// node was authored against in their header.
	Version string

	// Doc is a short description of what the node computes.
	Doc string

	// Attrs declares the node's attribute tree in canonical order.
	Attrs []*attr.Spec

	// Parallelization is nil for single-chunk node types.
	Parallelization *Parallelization

	// Run is the compute payload executed by the in-process runner.
	Run RunFunc
}

// Attr returns the top-level attribute spec with the given name.
func (nt *NodeType) Attr(name string) (*attr.Spec, bool) {
	for _, s := range nt.Attrs {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}
