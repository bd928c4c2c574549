// Package worker implements the scheduler that walks the dependency graph
// and computes what a build request needs, in topological order, with
// cache-hit skipping, chunked dispatch, failure containment and resumption.
package worker
