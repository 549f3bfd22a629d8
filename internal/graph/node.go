// Package graph implements the property graph: the entity-component store
// that holds processor nodes, links between them, and every piece of
// runtime state the compiler and runner attach to those entities (thread
// handles, port registries, pause gates, and so on). The graph package
// never imports the processor or runner packages; callers attach
// processor.Instance values into the generic component store so that no
// import cycle is possible.
package graph

import (
	"fmt"

	"github.com/oklog/ulid/v2"
)

// NodeID uniquely identifies a processor node. It is a ULID so that node
// ids sort in creation order, which makes CREATE/WIRE log lines and
// snapshot dumps naturally chronological without a separate sequence
// counter.
type NodeID string

// NewNodeID mints a fresh, monotonically-sortable node id.
func NewNodeID() NodeID {
	return NodeID(ulid.Make().String())
}

func (id NodeID) String() string { return string(id) }

// LinkID uniquely identifies a wired connection between two ports.
type LinkID string

// NewLinkID mints a fresh link id.
func NewLinkID() LinkID {
	return LinkID(ulid.Make().String())
}

func (id LinkID) String() string { return string(id) }

// DisciplineKind selects how a processor's thread body schedules Process
// calls.
type DisciplineKind int

const (
	// Continuous calls Process on a fixed-period ticker.
	Continuous DisciplineKind = iota
	// Reactive calls Process whenever an input port has data or the node's
	// wake channel fires.
	Reactive
	// Manual calls Process only when externally invoked (facade.Invoke).
	Manual
)

func (k DisciplineKind) String() string {
	switch k {
	case Continuous:
		return "continuous"
	case Reactive:
		return "reactive"
	case Manual:
		return "manual"
	default:
		return "unknown"
	}
}

// ExecutionDiscipline describes a node's scheduling behavior.
type ExecutionDiscipline struct {
	Kind DisciplineKind
	// IntervalMS is the ticker period for Continuous nodes. Ignored
	// otherwise.
	IntervalMS int64
}

// ThreadPriority is an OS-scheduling hint passed to the runner; the
// runner applies it best-effort since Go does not expose real-time
// priority control portably.
type ThreadPriority int

const (
	PriorityNormal ThreadPriority = iota
	PriorityHigh
	PriorityRealtime
)

func (p ThreadPriority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityRealtime:
		return "realtime"
	default:
		return "normal"
	}
}

// Placement is a scheduling/affinity hint for where a node's thread should
// run. The core never interprets it beyond carrying it through to the
// runner, which is where a platform-specific glue layer (out of scope)
// would consult it.
type Placement struct {
	Tag string
}

// PortDescriptor describes one named input or output port on a processor,
// including the wire type tag links must match and the default ring
// buffer sizing. A link that declares no capacity takes its source
// output port's DefaultCapacity.
type PortDescriptor struct {
	Name            string
	MessageType     string
	DefaultCapacity int
	DefaultOverflow OverflowPolicyName
}

// OverflowPolicyName mirrors linkchan.OverflowPolicy without creating an
// import from graph into linkchan's enum at the descriptor level; the
// compiler translates it when constructing the real channel.
type OverflowPolicyName string

const (
	OverflowDropNewest OverflowPolicyName = "drop_newest"
	OverflowDropOldest OverflowPolicyName = "drop_oldest"
	OverflowBlock      OverflowPolicyName = "block"
)

// ProcessorNode is the static description of one node in the graph: its
// identity, declared ports, discipline, and opaque configuration payload.
// It does not itself hold runtime state (thread handles, wired channels);
// that state lives in components attached via the Graph's component store
// so that removing a node is a matter of detaching its components rather
// than mutating a monolithic struct under varied locks.
type ProcessorNode struct {
	ID         NodeID
	Kind       string // registry key into processor.Registry
	Discipline ExecutionDiscipline
	Priority   ThreadPriority
	Placement  Placement
	Inputs     []PortDescriptor
	Outputs    []PortDescriptor
	// Config is an opaque payload (commonly a map[string]any decoded from
	// YAML) passed to the processor's Factory at construction and to
	// processor.Instance.UpdateConfig. It may embed
	// credentialed URLs, so logging code must redact it, never print it
	// directly.
	Config any
}

// InputPort looks up a declared input port descriptor by name.
func (n *ProcessorNode) InputPort(name string) (PortDescriptor, bool) {
	for _, p := range n.Inputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDescriptor{}, false
}

// OutputPort looks up a declared output port descriptor by name.
func (n *ProcessorNode) OutputPort(name string) (PortDescriptor, bool) {
	for _, p := range n.Outputs {
		if p.Name == name {
			return p, true
		}
	}
	return PortDescriptor{}, false
}

// PortRef addresses one port on one node, the unit a Link connects.
type PortRef struct {
	Node NodeID
	Port string
}

func (r PortRef) String() string {
	return fmt.Sprintf("%s.%s", r.Node, r.Port)
}
