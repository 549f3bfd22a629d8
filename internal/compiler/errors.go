package compiler

import "errors"

var (
	// ErrStaleDelta is returned by Apply when the delta's stamped
	// revision no longer matches the graph's current structural
	// revision: something mutated the graph after Compute ran. Applying
	// the same GraphDelta twice is rejected on the second application;
	// this generalizes that to "applying any delta computed against a
	// state that has since moved on".
	ErrStaleDelta = errors.New("compiler: delta is stale, recompute")
	// ErrReadyTimeout is returned when one or more newly started
	// processors did not signal ready within the configured timeout.
	ErrReadyTimeout = errors.New("compiler: timed out waiting for processors to become ready")
	// ErrJoinTimeout is returned when one or more stopped processors did
	// not exit within the configured timeout. The node is abandoned (see
	// DESIGN.md's join-timeout escalation policy) rather than blocking
	// Apply forever.
	ErrJoinTimeout = errors.New("compiler: timed out waiting for processor thread to exit")
)
