package graph

// NodeSnapshot is a point-in-time copy of one node, safe to read after
// Snapshot returns without racing concurrent compiler mutation. The node
// struct is copied by value; its port slices and Config payload are
// shared with the graph, which replaces rather than mutates them.
type NodeSnapshot struct {
	Node  ProcessorNode
	State NodeState
	Err   error
}

// LinkSnapshot is a deep-copied view of one link.
type LinkSnapshot struct {
	Link Link
}

// GraphSnapshot is a consistent, lock-free-to-read view of the whole
// graph at the instant Snapshot was called. It exists for introspection
// (the streamrt status CLI command, tests asserting on realized state)
// without holding the graph's lock across a caller's own processing time.
type GraphSnapshot struct {
	Revision uint64
	Nodes    []NodeSnapshot
	Links    []LinkSnapshot
}

// Snapshot takes the read lock once and copies out every node, its
// lifecycle state (if a StateComponent is attached), and every link.
func (g *Graph) Snapshot() GraphSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := GraphSnapshot{
		Revision: g.revision,
		Nodes:    make([]NodeSnapshot, 0, len(g.nodes)),
		Links:    make([]LinkSnapshot, 0, len(g.links)),
	}
	for id, n := range g.nodes {
		ns := NodeSnapshot{Node: *n}
		if bag, ok := g.comps[id]; ok {
			if v, ok := bag[componentKey[*StateComponent]()]; ok {
				if sc, ok := v.(*StateComponent); ok {
					ns.State, ns.Err = sc.Get()
				}
			}
		}
		snap.Nodes = append(snap.Nodes, ns)
	}
	for _, l := range g.links {
		snap.Links = append(snap.Links, LinkSnapshot{Link: *l})
	}
	return snap
}
