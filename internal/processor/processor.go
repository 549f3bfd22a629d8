// Package processor declares the contract concrete processor
// implementations (camera capture, codec, mixer, writer, WebRTC sender,
// and the in-repo demo processors under internal/demoproc) must satisfy,
// plus the factory registry the compiler uses to construct them by type
// tag. No concrete processor lives here: this package only declares the
// capability set and the registry, so heterogeneous processors are
// dispatched polymorphically behind one interface.
package processor

import (
	"context"
	"errors"

	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/linkchan"
)

// ErrComplete is returned by Process to signal natural completion: the
// processor has no more work and its dispatch loop should exit cleanly
// (the thread proceeds straight to teardown), distinct from a processing
// failure which is logged and retried on the next cycle.
var ErrComplete = errors.New("processor: complete")

// Instance is the capability set every concrete processor implements.
// None of these methods may block indefinitely; all must observe
// cooperative shutdown via ctx.
type Instance interface {
	// Setup runs once, on the processor's own thread, after the
	// ready/continue handshake completes and before the dispatch loop
	// starts.
	Setup(ctx context.Context, rc *Context) error
	// Process executes one unit of work according to the processor's
	// declared discipline (one Continuous tick, one Reactive wake-up, or
	// one Manual invocation).
	Process(ctx context.Context, rc *Context) error
	// UpdateConfig is invoked on the processor's own thread (via a
	// control channel, never directly from the compiler) when the
	// node's config_checksum changes without a full restart.
	UpdateConfig(ctx context.Context, config any) error
	// Teardown runs on every exit path from the thread body: normal
	// dispatch-loop exit, Setup failure, and panic recovery.
	Teardown(ctx context.Context) error
	// BindInput attaches the consumer endpoint for the named input port.
	// Called at WIRE time and at unwire time (with a plug consumer).
	BindInput(port string, consumer linkchan.Consumer)
	// BindOutput adds producer to the named output port's fan-out set.
	// Called once per wired link at WIRE time; a port with several
	// outbound links accumulates one producer per link, since output
	// ports fan out to independent SPSC channels rather than sharing
	// one.
	BindOutput(port string, producer linkchan.Producer)
	// UnbindOutput removes producer from the named output port's
	// fan-out set at unwire time. Removing one producer never disturbs
	// the others still bound to the same port.
	UnbindOutput(port string, producer linkchan.Producer)
}

// Factory constructs a new Instance from a node's stored config. It runs
// on the processor's own thread, never under the graph lock.
type Factory func(config any) (Instance, error)

// Descriptor is what a processor type registers with the factory
// registry: its port shape and scheduling defaults. The façade derives
// a ProcessorNode's declared ports from this descriptor at
// AddProcessor time.
type Descriptor struct {
	Inputs     []graph.PortDescriptor
	Outputs    []graph.PortDescriptor
	Discipline graph.ExecutionDiscipline
	Priority   graph.ThreadPriority
	Placement  graph.Placement
	New        Factory
}

// FacadeHandle is the subset of the runtime façade a processor's Context
// exposes, so a processor's Setup/Process can call back into the
// façade (add_processor, connect, disconnect) without this package
// importing facade and creating a cycle. facade.Runtime implements this
// interface.
type FacadeHandle interface {
	AddProcessor(ctx context.Context, procType string, config any) (graph.NodeID, error)
	RemoveProcessor(ctx context.Context, id graph.NodeID) error
	Connect(ctx context.Context, from, to graph.PortRef, capacity int) (graph.LinkID, error)
	Disconnect(ctx context.Context, id graph.LinkID) error
}

// Clock is the processor-visible notion of the current media clock.
// Abstracted behind an interface (rather than a raw time.Time getter) so
// tests can inject a deterministic clock; the default implementation
// wraps time.Now.
type Clock interface {
	Now() int64 // unix nanoseconds
}

// Context is handed to every Instance method. It bundles the media
// clock, a façade back-reference, the pause gate view, and the shutdown
// observer.
type Context struct {
	NodeID   graph.NodeID
	Clock    Clock
	Facade   FacadeHandle
	Pause    *graph.PauseGate
	Shutdown *graph.ShutdownChannel
}

// Paused reports whether the node is currently paused, without blocking.
func (c *Context) Paused() bool {
	if c.Pause == nil {
		return false
	}
	return c.Pause.IsPaused()
}

// Done returns the channel that closes when the processor should stop.
func (c *Context) Done() <-chan struct{} {
	if c.Shutdown == nil {
		return nil
	}
	return c.Shutdown.Done()
}
