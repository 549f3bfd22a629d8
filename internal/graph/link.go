package graph

import (
	"sync"

	"github.com/streamlib/runtime/internal/linkchan"
)

// Link is the static description of a wired connection between an output
// port on one node and an input port on another. Like ProcessorNode, it
// carries no runtime channel state itself; the realized linkchan.Channel
// lives in a component attached to the link (see LinkChannel below),
// keyed by the link id through AttachLink/GetLink/DetachLink.
type Link struct {
	ID       LinkID
	From     PortRef
	To       PortRef
	Capacity int
	Overflow linkchan.OverflowPolicy
}

// ToOverflowPolicy translates a port descriptor's declared overflow name
// into the concrete linkchan.OverflowPolicy the compiler's WIRE phase
// constructs the realized channel with. It lives here rather than in
// linkchan so that package never needs to know about graph's descriptor
// types (see node.go's OverflowPolicyName doc comment).
func ToOverflowPolicy(name OverflowPolicyName) linkchan.OverflowPolicy {
	switch name {
	case OverflowDropOldest:
		return linkchan.DropOldest
	case OverflowBlock:
		return linkchan.Block
	default:
		return linkchan.DropNewest
	}
}

// LinkLifecycleState is the realized lifecycle a wired connection moves
// through, from declaration to teardown.
type LinkLifecycleState int

const (
	LinkPending LinkLifecycleState = iota
	LinkWired
	LinkDisconnecting
	LinkDisconnected
	LinkErrorState
)

func (s LinkLifecycleState) String() string {
	switch s {
	case LinkPending:
		return "pending"
	case LinkWired:
		return "wired"
	case LinkDisconnecting:
		return "disconnecting"
	case LinkDisconnected:
		return "disconnected"
	case LinkErrorState:
		return "error"
	default:
		return "unknown"
	}
}

// LinkState is the component tracking a link's realized lifecycle state.
type LinkState struct {
	mu    sync.Mutex
	state LinkLifecycleState
}

// NewLinkState returns a component initialized to LinkPending.
func NewLinkState() *LinkState {
	return &LinkState{state: LinkPending}
}

func (s *LinkState) Get() LinkLifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *LinkState) Set(state LinkLifecycleState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// LinkChannel is the component holding the realized ring buffer for a
// Wired link, attached at WIRE time and detached at unwire time.
type LinkChannel struct {
	Channel *linkchan.Channel
}

// PendingRemoval is a zero-size marker component attached to a node by
// RemoveProcessor (facade) to record "queued for removal in the next
// compile" without mutating the node or prematurely detaching anything
// the running thread still depends on.
type PendingRemoval struct{}

// LinkPendingRemoval is PendingRemoval's link-side counterpart, attached
// by Disconnect.
type LinkPendingRemoval struct{}

// RealizedChecksum records the config+type checksum the compiler last
// applied for a node, so the next Compute can detect a changed config
// without recomparing against the live Config payload directly (the
// payload may not itself be comparable with ==).
type RealizedChecksum struct {
	Value string
}

// RealizedCapacity records the buffer capacity a Wired link's channel was
// actually allocated with, so Compute can detect a capacity edit that
// requires an unwire+rewire (links_to_update) rather than an in-place
// resize, which this core never performs.
type RealizedCapacity struct {
	Value int
}
