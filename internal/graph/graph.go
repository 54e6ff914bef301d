// Package graph provides a directed graph over string identities with cycle
// and stage-ordering queries. Edges read "From depends on To".
package graph

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Edge is a directed edge between two identities.
type Edge struct {
	From string
	To   string
}

// Directed is an insertion-ordered directed graph. It is not safe for concurrent mutation.
type Directed struct {
	nodes []string
	known map[string]struct{}
	adj   map[string][]string
	seen  map[Edge]struct{}
	edges []Edge
}

// New returns an empty graph.
func New() *Directed {
	return &Directed{
		known: make(map[string]struct{}),
		adj:   make(map[string][]string),
		seen:  make(map[Edge]struct{}),
	}
}

// AddNode registers id. Re-adding is a no-op.
func (g *Directed) AddNode(id string) {
	if _, ok := g.known[id]; ok {
		return
	}
	g.known[id] = struct{}{}
	g.nodes = append(g.nodes, id)
}

// AddEdge records from -> to. The target does not need to be a node; such edges are
// ignored by traversal. Duplicate edges are collapsed.
func (g *Directed) AddEdge(from, to string) {
	e := Edge{From: from, To: to}
	if _, dup := g.seen[e]; dup {
		return
	}
	g.seen[e] = struct{}{}
	g.edges = append(g.edges, e)
	g.adj[from] = append(g.adj[from], to)
}

// Has reports whether id is a node.
func (g *Directed) Has(id string) bool {
	_, ok := g.known[id]
	return ok
}

// Nodes returns node identities in insertion order.
func (g *Directed) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Cycle is one distinct cycle. Path starts at the lexically smallest member and
// follows edge direction; the closing edge back to Path[0] is implied.
type Cycle struct {
	Path []string
}

// String renders the cycle as "a -> b -> a".
func (c Cycle) String() string {
	if len(c.Path) == 0 {
		return ""
	}
	return strings.Join(append(append([]string(nil), c.Path...), c.Path[0]), " -> ")
}

type frame struct {
	node string
	next int
}

// Cycles reports one cycle through every node that sits in a non-trivial
// strongly connected component or carries a self-loop. Nodes are visited in
// insertion order; each uncovered member contributes its shortest cycle inside
// its component, so every member of a component appears on some reported path.
// Cycles with the same member rotation are reported once.
func (g *Directed) Cycles() []Cycle {
	comp := g.components()
	size := make(map[int]int)
	for _, c := range comp {
		size[c]++
	}
	var (
		out     []Cycle
		keys    = make(map[string]struct{})
		covered = make(map[string]struct{})
	)
	for _, id := range g.nodes {
		if _, done := covered[id]; done {
			continue
		}
		_, selfLoop := g.seen[Edge{From: id, To: id}]
		if size[comp[id]] < 2 && !selfLoop {
			continue
		}
		c := canonical(g.shortestCycle(id, comp))
		for _, member := range c.Path {
			covered[member] = struct{}{}
		}
		key := strings.Join(c.Path, "\x00")
		if _, dup := keys[key]; !dup {
			keys[key] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// components labels every node with its strongly connected component using an
// iterative Tarjan traversal. Edges to unknown nodes are skipped.
func (g *Directed) components() map[string]int {
	var (
		index   = make(map[string]int, len(g.nodes))
		low     = make(map[string]int, len(g.nodes))
		onStack = make(map[string]bool, len(g.nodes))
		comp    = make(map[string]int, len(g.nodes))
		stack   []string
		next    int
		count   int
	)
	visit := func(id string) {
		index[id], low[id] = next, next
		next++
		stack = append(stack, id)
		onStack[id] = true
	}
	for _, root := range g.nodes {
		if _, seen := index[root]; seen {
			continue
		}
		visit(root)
		work := []frame{{node: root}}
		for len(work) > 0 {
			top := &work[len(work)-1]
			succ := g.adj[top.node]
			if top.next < len(succ) {
				v := succ[top.next]
				top.next++
				if !g.Has(v) {
					continue
				}
				if _, seen := index[v]; !seen {
					visit(v)
					work = append(work, frame{node: v})
				} else if onStack[v] && index[v] < low[top.node] {
					low[top.node] = index[v]
				}
				continue
			}
			u := top.node
			work = work[:len(work)-1]
			if len(work) > 0 {
				if parent := work[len(work)-1].node; low[u] < low[parent] {
					low[parent] = low[u]
				}
			}
			if low[u] != index[u] {
				continue
			}
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp[w] = count
				if w == u {
					break
				}
			}
			count++
		}
	}
	return comp
}

// shortestCycle returns the members of a shortest cycle through start that stays
// inside start's component, beginning at start.
func (g *Directed) shortestCycle(start string, comp map[string]int) []string {
	if _, ok := g.seen[Edge{From: start, To: start}]; ok {
		return []string{start}
	}
	parent := map[string]string{start: ""}
	queue := []string{start}
	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]
		for _, v := range g.adj[u] {
			if !g.Has(v) || comp[v] != comp[start] {
				continue
			}
			if v == start {
				path := []string{}
				for n := u; n != start; n = parent[n] {
					path = append(path, n)
				}
				path = append(path, start)
				slices.Reverse(path)
				return path
			}
			if _, seen := parent[v]; seen {
				continue
			}
			parent[v] = u
			queue = append(queue, v)
		}
	}
	return []string{start}
}

func canonical(members []string) Cycle {
	start := 0
	for i, id := range members {
		if id < members[start] {
			start = i
		}
	}
	path := make([]string, 0, len(members))
	path = append(path, members[start:]...)
	path = append(path, members[:start]...)
	return Cycle{Path: path}
}

// CycleMembers returns the set of nodes that lie on at least one reported cycle.
func CycleMembers(cycles []Cycle) map[string]struct{} {
	out := make(map[string]struct{})
	for _, c := range cycles {
		for _, id := range c.Path {
			out[id] = struct{}{}
		}
	}
	return out
}

// ErrCyclic is returned by TopoOrder when the graph is not acyclic.
type ErrCyclic struct {
	Cycles []Cycle
}

func (e *ErrCyclic) Error() string {
	parts := make([]string, len(e.Cycles))
	for i, c := range e.Cycles {
		parts[i] = c.String()
	}
	return fmt.Sprintf("graph: cycle detected: %s", strings.Join(parts, "; "))
}

// TopoOrder groups nodes so every node appears after everything it depends on.
// Nodes inside one stage are independent and sorted lexically.
func (g *Directed) TopoOrder() ([][]string, error) {
	if cycles := g.Cycles(); len(cycles) > 0 {
		return nil, &ErrCyclic{Cycles: cycles}
	}
	remaining := make(map[string]int, len(g.nodes))
	dependents := make(map[string][]string)
	for _, id := range g.nodes {
		remaining[id] = 0
	}
	for _, e := range g.edges {
		if !g.Has(e.From) || !g.Has(e.To) || e.From == e.To {
			continue
		}
		remaining[e.From]++
		dependents[e.To] = append(dependents[e.To], e.From)
	}
	var stages [][]string
	for len(remaining) > 0 {
		var ready []string
		for id, n := range remaining {
			if n == 0 {
				ready = append(ready, id)
			}
		}
		sort.Strings(ready)
		for _, id := range ready {
			delete(remaining, id)
			for _, dep := range dependents[id] {
				remaining[dep]--
			}
		}
		stages = append(stages, ready)
	}
	return stages, nil
}
