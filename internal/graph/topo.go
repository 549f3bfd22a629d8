package graph

import "sort"

// HasCycleIfAdded reports whether adding a link from -> to, on top of the
// links currently in the graph, would create a cycle. The facade calls
// this synchronously inside Connect so a would-be cycle is rejected
// before ever reaching the compiler, per the "cycle-tolerant graphs" being
// an explicit non-goal: the core simply never admits one.
func (g *Graph) HasCycleIfAdded(from, to NodeID) bool {
	if from == to {
		return true
	}
	g.mu.RLock()
	adj := make(map[NodeID][]NodeID, len(g.nodes))
	for _, l := range g.links {
		adj[l.From.Node] = append(adj[l.From.Node], l.To.Node)
	}
	g.mu.RUnlock()

	adj[from] = append(adj[from], to)

	visiting := make(map[NodeID]bool)
	visited := make(map[NodeID]bool)

	var dfs func(n NodeID) bool
	dfs = func(n NodeID) bool {
		if visiting[n] {
			return true
		}
		if visited[n] {
			return false
		}
		visiting[n] = true
		for _, next := range adj[n] {
			if dfs(next) {
				return true
			}
		}
		visiting[n] = false
		visited[n] = true
		return false
	}

	return dfs(from)
}

// TopoOrder returns the graph's nodes in a valid topological order (every
// node appears after all nodes with a link into it). The compiler visits
// nodes sources-first when creating and starting them, which narrows the
// window during which a downstream plug swallows data, and a stable
// deterministic order makes CREATE/START log lines reproducible across
// runs of the same delta.
func (g *Graph) TopoOrder() ([]NodeID, error) {
	g.mu.RLock()
	nodes := make([]NodeID, 0, len(g.nodes))
	for id := range g.nodes {
		nodes = append(nodes, id)
	}
	adj := make(map[NodeID][]NodeID, len(g.nodes))
	indeg := make(map[NodeID]int, len(g.nodes))
	for _, id := range nodes {
		indeg[id] = 0
	}
	for _, l := range g.links {
		adj[l.From.Node] = append(adj[l.From.Node], l.To.Node)
		indeg[l.To.Node]++
	}
	g.mu.RUnlock()

	// Map iteration order is random; sorting by id (creation order) makes
	// the result the same on every call for the same graph.
	sort.Slice(nodes, func(i, j int) bool { return nodes[i] < nodes[j] })
	for n := range adj {
		next := adj[n]
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	}

	var queue []NodeID
	for _, id := range nodes {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	var order []NodeID
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		order = append(order, n)
		for _, next := range adj[n] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, ErrCycleDetected
	}
	return order, nil
}
