// Package graph holds the pure in-memory dependency engine: cycle detection
// over a prospective edge set and topological ordering for display. Nodes are
// interned into an arena of integer indices so traversal allocates nothing
// per visit and the package stays testable without a store.
package graph

import "sort"

// Edge is a directed dependency: From depends on To.
type Edge struct {
	From string
	To   string
}

// Node carries the metadata used to break topological-order ties.
type Node struct {
	ID        string
	Priority  int    // rank, 0 highest
	CreatedAt string // RFC3339, compared lexically
}

type arena struct {
	index map[string]int
	ids   []string
	adj   [][]int
}

func build(edges []Edge) *arena {
	a := &arena{index: map[string]int{}}
	intern := func(id string) int {
		if i, ok := a.index[id]; ok {
			return i
		}
		i := len(a.ids)
		a.index[id] = i
		a.ids = append(a.ids, id)
		a.adj = append(a.adj, nil)
		return i
	}
	for _, e := range edges {
		from, to := intern(e.From), intern(e.To)
		a.adj[from] = append(a.adj[from], to)
	}
	return a
}

// FindCycle reports the cycle that adding the edge from->to would create
// over the existing edge set, or nil if the graph stays acyclic. The path
// is returned in traversal order starting at to and closing back on it,
// e.g. [A, B, A] when A->B exists and B->A is prospective.
func FindCycle(edges []Edge, from, to string) []string {
	if from == to {
		return []string{from, to}
	}
	a := build(edges)
	start, ok := a.index[to]
	if !ok {
		return nil
	}
	target, ok := a.index[from]
	if !ok {
		return nil
	}
	// Iterative DFS from the prospective target: a path back to the source
	// means the new edge would close a cycle.
	const (
		unvisited = 0
		onPath    = 1
		done      = 2
	)
	state := make([]int, len(a.ids))
	path := []int{}
	type frame struct {
		node int
		next int
	}
	stack := []frame{{node: start}}
	state[start] = onPath
	path = append(path, start)
	for len(stack) > 0 {
		f := &stack[len(stack)-1]
		if f.node == target {
			cycle := make([]string, 0, len(path)+1)
			for _, i := range path {
				cycle = append(cycle, a.ids[i])
			}
			cycle = append(cycle, a.ids[start])
			return cycle
		}
		if f.next < len(a.adj[f.node]) {
			n := a.adj[f.node][f.next]
			f.next++
			if state[n] == unvisited {
				state[n] = onPath
				path = append(path, n)
				stack = append(stack, frame{node: n})
			}
			continue
		}
		state[f.node] = done
		path = path[:len(path)-1]
		stack = stack[:len(stack)-1]
	}
	return nil
}

// TopoSort orders nodes so that every dependency precedes its dependents
// (Kahn's algorithm). Ties are broken by priority rank, then CreatedAt,
// then ID, so the order is deterministic for a given snapshot. Nodes on a
// cycle are omitted; callers maintain acyclicity so this is defensive only
// against corrupted stores.
func TopoSort(nodes []Node, edges []Edge) []string {
	byID := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	// An edge From->To (From depends on To) orders To before From.
	dependents := map[string][]string{}
	indegree := map[string]int{}
	for _, n := range nodes {
		indegree[n.ID] = 0
	}
	for _, e := range edges {
		if _, ok := byID[e.From]; !ok {
			continue
		}
		if _, ok := byID[e.To]; !ok {
			continue
		}
		dependents[e.To] = append(dependents[e.To], e.From)
		indegree[e.From]++
	}
	ready := make([]string, 0, len(nodes))
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	less := func(a, b string) bool {
		na, nb := byID[a], byID[b]
		if na.Priority != nb.Priority {
			return na.Priority < nb.Priority
		}
		if na.CreatedAt != nb.CreatedAt {
			return na.CreatedAt < nb.CreatedAt
		}
		return na.ID < nb.ID
	}
	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}
	return order
}
