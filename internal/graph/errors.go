package graph

import "errors"

var (
	// ErrNodeNotFound is returned when a NodeID does not name a node
	// currently present in the graph.
	ErrNodeNotFound = errors.New("graph: node not found")
	// ErrLinkNotFound is returned when a LinkID does not name a link
	// currently present in the graph.
	ErrLinkNotFound = errors.New("graph: link not found")
	// ErrNodeExists is returned by AddNode when the id is already in use.
	ErrNodeExists = errors.New("graph: node already exists")
	// ErrLinkExists is returned by AddLink when the id is already in use.
	ErrLinkExists = errors.New("graph: link already exists")
	// ErrPortNotFound is returned when a PortRef names a port the node
	// does not declare.
	ErrPortNotFound = errors.New("graph: port not found")
	// ErrComponentNotFound is returned by Get when no component of the
	// requested type is attached to the node.
	ErrComponentNotFound = errors.New("graph: component not found")
	// ErrCycleDetected is returned by TopoOrder when the link set is not
	// a DAG. The facade's Connect-time check exists precisely so this
	// should never trigger in practice; it remains as a defensive
	// invariant check for direct graph mutation in tests.
	ErrCycleDetected = errors.New("graph: cycle detected")
)
