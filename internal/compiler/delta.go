package compiler

import (
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/processor"
)

// GraphDelta is the set of add/remove/update operations needed to
// reconcile the graph's realized runtime state with its current declared
// state.
type GraphDelta struct {
	// Revision is the graph's structural revision at the moment Compute
	// ran. Apply rejects a delta whose Revision no longer matches the
	// graph's current revision with ErrStaleDelta — this is what makes
	// applying the same delta twice (or an out-of-date one) rejected
	// rather than silently reapplied.
	Revision uint64

	ProcessorsToAdd    []graph.NodeID
	ProcessorsToRemove []graph.NodeID
	ProcessorsToUpdate []graph.NodeID

	LinksToAdd    []graph.LinkID
	LinksToRemove []graph.LinkID
	LinksToUpdate []graph.LinkID
}

// Empty reports whether applying this delta would be a no-op.
func (d *GraphDelta) Empty() bool {
	return len(d.ProcessorsToAdd) == 0 && len(d.ProcessorsToRemove) == 0 &&
		len(d.ProcessorsToUpdate) == 0 && len(d.LinksToAdd) == 0 &&
		len(d.LinksToRemove) == 0 && len(d.LinksToUpdate) == 0
}

// Compute diffs the graph's declared state against its realized state
// (inferred from which runtime components are currently attached to each
// node/link) and returns the delta needed to reconcile them. Entities
// that were marked for removal before ever being realized (declared and
// removed between two compiles, so no instance was constructed and no
// channel allocated) have nothing to unwind; Compute deletes them from
// the graph directly rather than routing them through an Apply that
// would have no work to do on them.
func Compute(g *graph.Graph) *GraphDelta {
	purgeUnrealized(g)
	delta := &GraphDelta{Revision: g.Revision()}

	for _, id := range g.Nodes() {
		node, err := g.Node(id)
		if err != nil {
			continue // removed concurrently with this Compute; next cycle picks it up
		}
		_, pendingRemoval := attachedNode[graph.PendingRemoval](g, id)
		_, hasInstance := attachedNode[processor.Instance](g, id)

		switch {
		case pendingRemoval && hasInstance:
			delta.ProcessorsToRemove = append(delta.ProcessorsToRemove, id)
		case !pendingRemoval && !hasInstance:
			delta.ProcessorsToAdd = append(delta.ProcessorsToAdd, id)
		case !pendingRemoval && hasInstance:
			realized, ok := attachedNode[*graph.RealizedChecksum](g, id)
			want := checksum(node)
			if !ok || realized.Value != want {
				delta.ProcessorsToUpdate = append(delta.ProcessorsToUpdate, id)
			}
		}
	}

	for _, l := range g.Links() {
		_, pendingRemoval := attachedLink[graph.LinkPendingRemoval](g, l.ID)
		state, hasState := attachedLink[*graph.LinkState](g, l.ID)
		wired := hasState && state.Get() == graph.LinkWired

		switch {
		case pendingRemoval && wired:
			delta.LinksToRemove = append(delta.LinksToRemove, l.ID)
		case !pendingRemoval && !wired:
			delta.LinksToAdd = append(delta.LinksToAdd, l.ID)
		case !pendingRemoval && wired:
			cap, ok := attachedLink[*graph.RealizedCapacity](g, l.ID)
			if !ok || cap.Value != declaredCapacity(g, l) {
				delta.LinksToUpdate = append(delta.LinksToUpdate, l.ID)
			}
		}
	}

	return delta
}

// purgeUnrealized removes entities that are marked for removal but were
// never realized: a node with no constructed instance, or a link whose
// channel was never wired. Left alone they would match no delta bucket
// and linger in the graph forever. Links go first so a link incident to
// a purged node is never left dangling, and the purge runs before the
// delta is stamped so the revision it records already reflects these
// removals.
func purgeUnrealized(g *graph.Graph) {
	for _, l := range g.Links() {
		if _, pendingRemoval := attachedLink[graph.LinkPendingRemoval](g, l.ID); !pendingRemoval {
			continue
		}
		state, hasState := attachedLink[*graph.LinkState](g, l.ID)
		if hasState && state.Get() == graph.LinkWired {
			continue
		}
		_ = g.RemoveLink(l.ID)
	}
	for _, id := range g.Nodes() {
		if _, pendingRemoval := attachedNode[graph.PendingRemoval](g, id); !pendingRemoval {
			continue
		}
		if _, hasInstance := attachedNode[processor.Instance](g, id); hasInstance {
			continue
		}
		_ = g.RemoveNode(id)
	}
}

// declaredCapacity resolves a link's effective declared capacity the
// same way the WIRE phase does: a non-positive capacity falls back to
// the source port's default, so a default-sized link is not endlessly
// flagged for rewiring against the literal zero it was declared with.
func declaredCapacity(g *graph.Graph, l *graph.Link) int {
	if l.Capacity > 0 {
		return l.Capacity
	}
	if node, err := g.Node(l.From.Node); err == nil {
		if port, ok := node.OutputPort(l.From.Port); ok {
			return port.DefaultCapacity
		}
	}
	return l.Capacity
}

func attachedNode[C any](g *graph.Graph, id graph.NodeID) (C, bool) {
	v, err := graph.Get[C](g, id)
	return v, err == nil
}

func attachedLink[C any](g *graph.Graph, id graph.LinkID) (C, bool) {
	v, err := graph.GetLink[C](g, id)
	return v, err == nil
}
