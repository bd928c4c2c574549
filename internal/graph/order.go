package graph

import "sort"

// Edge is one resolved dependency edge: To's attribute reads From's output.
type Edge struct {
	From     string
	FromPath string
	To       string
	ToPath   string
}

// Edges returns the typed edge table derived from every resolved link.
// Links to removed nodes are omitted; they surface as DanglingLinkError at
// resolution time instead.
func (g *Graph) Edges() []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []Edge
	for _, name := range g.order {
		n := g.nodes[name]
		for _, l := range n.links() {
			if _, ok := g.nodes[l.ref.Node]; !ok {
				continue
			}
			edges = append(edges, Edge{
				From:     l.ref.Node,
				FromPath: l.ref.Path,
				To:       name,
				ToPath:   l.attrPath,
			})
		}
	}
	return edges
}

// depsLocked returns the set of node names the given node depends on.
func (g *Graph) depsLocked(name string) map[string]struct{} {
	deps := make(map[string]struct{})
	n, ok := g.nodes[name]
	if !ok {
		return deps
	}
	for _, l := range n.links() {
		if _, ok := g.nodes[l.ref.Node]; ok && l.ref.Node != name {
			deps[l.ref.Node] = struct{}{}
		}
	}
	return deps
}

// dependentsLocked returns the set of node names that depend on the given node.
func (g *Graph) dependentsLocked(name string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, other := range g.order {
		if other == name {
			continue
		}
		if _, ok := g.depsLocked(other)[name]; ok {
			out[other] = struct{}{}
		}
	}
	return out
}

// dependsOnLocked reports whether 'from' transitively depends on 'target'.
func (g *Graph) dependsOnLocked(from, target string) bool {
	seen := make(map[string]bool)
	var walk func(name string) bool
	walk = func(name string) bool {
		if seen[name] {
			return false
		}
		seen[name] = true
		for dep := range g.depsLocked(name) {
			if dep == target || walk(dep) {
				return true
			}
		}
		return false
	}
	return walk(from)
}

// DetectCycles checks the whole graph for dependency cycles using DFS with
// a recursion-stack marker. The returned CycleError names the cycle.
func (g *Graph) DetectCycles() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.detectCyclesLocked()
}

func (g *Graph) detectCyclesLocked() error {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var stack []string

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		visiting[name] = true
		stack = append(stack, name)

		deps := sortedKeys(g.depsLocked(name))
		for _, dep := range deps {
			if visiting[dep] {
				// Slice the recorded stack from the repeated node to
				// name the cycle in traversal order.
				cycle := []string{dep}
				for i := len(stack) - 1; i >= 0; i-- {
					cycle = append(cycle, stack[i])
					if stack[i] == dep {
						break
					}
				}
				return &CycleError{Cycle: cycle}
			}
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			}
		}

		stack = stack[:len(stack)-1]
		delete(visiting, name)
		visited[name] = true
		return nil
	}

	for _, name := range g.order {
		if !visited[name] {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopoSort returns every node name ordered so that each node appears after
// all of its dependencies. Ties are broken by declaration order, making the
// result stable across runs.
func (g *Graph) TopoSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if err := g.detectCyclesLocked(); err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(g.order))
	declIndex := make(map[string]int, len(g.order))
	for i, name := range g.order {
		indegree[name] = len(g.depsLocked(name))
		declIndex[name] = i
	}

	var ready []string
	for _, name := range g.order {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	out := make([]string, 0, len(g.order))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			return declIndex[ready[i]] < declIndex[ready[j]]
		})
		name := ready[0]
		ready = ready[1:]
		out = append(out, name)

		for dependent := range g.dependentsLocked(name) {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}
	return out, nil
}

// Ancestors returns the transitive upstream closure of a node, excluding
// the node itself.
func (g *Graph) Ancestors(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closureLocked(name, g.depsLocked)
}

// Descendants returns the transitive downstream closure of a node,
// excluding the node itself.
func (g *Graph) Descendants(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closureLocked(name, g.dependentsLocked)
}

// Dependents returns the direct downstream neighbours of a node.
func (g *Graph) Dependents(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.dependentsLocked(name))
}

// Dependencies returns the direct upstream neighbours of a node.
func (g *Graph) Dependencies(name string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.depsLocked(name))
}

func (g *Graph) closureLocked(name string, neighbours func(string) map[string]struct{}) []string {
	seen := make(map[string]bool)
	var walk func(n string)
	walk = func(n string) {
		for next := range neighbours(n) {
			if !seen[next] {
				seen[next] = true
				walk(next)
			}
		}
	}
	walk(name)
	return sortedKeys(setOf(seen))
}

func setOf(m map[string]bool) map[string]struct{} {
	out := make(map[string]struct{}, len(m))
	for k, v := range m {
		if v {
			out[k] = struct{}{}
		}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
