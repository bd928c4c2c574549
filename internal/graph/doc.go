// Package graph owns the pipeline's node arena and the dependency edges
// derived from attribute links.
//
// Nodes reference each other by name only; the graph resolves those
// references, validates acyclicity on every structural edit and produces
// the stable topological order the scheduler walks. Edits follow a
// validate-then-commit discipline: a rejected edit leaves the graph exactly
// as it was.
package graph
