// Package graph validates ticket dependency graphs and answers ordering
// questions about them: topological order, the ready set, dependency depth
// and the transitive dependents of a ticket.
package graph

import (
	"fmt"
	"sort"

	"github.com/Iron-Ham/epicrun/internal/errors"
)

// Node is the dependency view of one ticket definition.
type Node struct {
	ID        string
	DependsOn []string
}

// Graph is an immutable, validated DAG. Iteration always follows the
// definition order of the nodes so every answer is deterministic.
type Graph struct {
	order      []string
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	depth      map[string]int
}

// New builds a graph from nodes in definition order. It rejects empty and
// duplicate ids, self-dependencies, dependencies outside the node set and
// cycles. A cycle is reported as *errors.CycleError carrying the cycle path.
func New(nodes []Node) (*Graph, error) {
	g := &Graph{
		index:      make(map[string]int, len(nodes)),
		deps:       make(map[string][]string, len(nodes)),
		dependents: make(map[string][]string, len(nodes)),
	}
	for i, n := range nodes {
		if n.ID == "" {
			return nil, fmt.Errorf("ticket %d has an empty id: %w", i, errors.ErrInvalidInput)
		}
		if _, dup := g.index[n.ID]; dup {
			return nil, fmt.Errorf("%q: %w", n.ID, errors.ErrDuplicateTicket)
		}
		g.index[n.ID] = i
		g.order = append(g.order, n.ID)
	}
	for _, n := range nodes {
		seen := make(map[string]bool, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			if dep == n.ID {
				return nil, errors.NewCycleError([]string{n.ID, n.ID})
			}
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("ticket %q depends on %q: %w", n.ID, dep, errors.ErrUnknownDependency)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[n.ID] = append(g.deps[n.ID], dep)
			g.dependents[dep] = append(g.dependents[dep], n.ID)
		}
	}
	for _, id := range g.order {
		g.sortByIndex(g.dependents[id])
	}
	if cycle := g.findCycle(); cycle != nil {
		return nil, errors.NewCycleError(cycle)
	}
	g.computeDepth()
	return g, nil
}

// findCycle runs a colored depth-first search in definition order and
// returns the first cycle found, with its first id repeated at the end.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(g.order))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, dep := range g.deps[id] {
			switch color[dep] {
			case grey:
				start := len(stack) - 1
				for stack[start] != dep {
					start--
				}
				cycle = append(append([]string(nil), stack[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, id := range g.order {
		if color[id] == white && visit(id) {
			return cycle
		}
	}
	return nil
}

// computeDepth assigns each node the length of its longest dependency
// chain; a node without dependencies has depth 0.
func (g *Graph) computeDepth() {
	g.depth = make(map[string]int, len(g.order))
	for _, id := range g.TopologicalOrder() {
		d := 0
		for _, dep := range g.deps[id] {
			if g.depth[dep]+1 > d {
				d = g.depth[dep] + 1
			}
		}
		g.depth[id] = d
	}
}

func (g *Graph) sortByIndex(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool { return g.index[ids[i]] < g.index[ids[j]] })
}

// IDs returns all ids in definition order.
func (g *Graph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.order)
}

// Has reports whether id is part of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Index returns the definition position of id, or -1.
func (g *Graph) Index(id string) int {
	if i, ok := g.index[id]; ok {
		return i
	}
	return -1
}

// Dependencies returns the direct dependencies of id in declaration order.
func (g *Graph) Dependencies(id string) []string {
	return append([]string(nil), g.deps[id]...)
}

// Dependents returns the tickets that directly depend on id.
func (g *Graph) Dependents(id string) []string {
	return append([]string(nil), g.dependents[id]...)
}

// TransitiveDependents returns every ticket that depends on id directly or
// indirectly, in definition order.
func (g *Graph) TransitiveDependents(id string) []string {
	seen := make(map[string]bool)
	queue := []string{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, d := range g.dependents[cur] {
			if !seen[d] {
				seen[d] = true
				queue = append(queue, d)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for _, candidate := range g.order {
		if seen[candidate] {
			out = append(out, candidate)
		}
	}
	return out
}

// Depth returns the longest dependency chain below id.
func (g *Graph) Depth(id string) int {
	return g.depth[id]
}

// TopologicalOrder returns every id with dependencies before dependents.
// Ties are broken by definition order.
func (g *Graph) TopologicalOrder() []string {
	return g.Sort(g.order, nil)
}

// Sort orders the subset ids with Kahn's algorithm restricted to the
// subgraph they induce: dependencies outside the subset are ignored. Among
// nodes that are ready at the same time, the one whose id appears first in
// tieBreak wins; ids missing from tieBreak follow in definition order.
func (g *Graph) Sort(ids []string, tieBreak []string) []string {
	in := make(map[string]bool, len(ids))
	for _, id := range ids {
		if g.Has(id) {
			in[id] = true
		}
	}
	rank := make(map[string]int, len(tieBreak))
	for i, id := range tieBreak {
		if _, ok := rank[id]; !ok {
			rank[id] = i
		}
	}
	less := func(a, b string) bool {
		ra, aok := rank[a]
		rb, bok := rank[b]
		switch {
		case aok && bok:
			return ra < rb
		case aok != bok:
			return aok
		default:
			return g.index[a] < g.index[b]
		}
	}

	inDegree := make(map[string]int, len(in))
	for id := range in {
		for _, dep := range g.deps[id] {
			if in[dep] {
				inDegree[id]++
			}
		}
	}
	var available []string
	for id := range in {
		if inDegree[id] == 0 {
			available = append(available, id)
		}
	}

	order := make([]string, 0, len(in))
	for len(available) > 0 {
		sort.Slice(available, func(i, j int) bool { return less(available[i], available[j]) })
		next := available[0]
		available = available[1:]
		order = append(order, next)
		for _, d := range g.dependents[next] {
			if !in[d] {
				continue
			}
			inDegree[d]--
			if inDegree[d] == 0 {
				available = append(available, d)
			}
		}
	}
	return order
}

// Ready returns the ids, in definition order, that are not yet done and
// whose dependencies all satisfy done.
func (g *Graph) Ready(done func(id string) bool) []string {
	var ready []string
	for _, id := range g.order {
		if done(id) {
			continue
		}
		ok := true
		for _, dep := range g.deps[id] {
			if !done(dep) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}
