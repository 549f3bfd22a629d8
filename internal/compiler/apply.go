package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/streamlib/runtime/internal/eventbus"
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/linkchan"
	"github.com/streamlib/runtime/internal/processor"
	"github.com/streamlib/runtime/internal/runner"
)

// Options tunes the timeouts Apply enforces on its two blocking steps:
// waiting for newly started processors to signal ready, and waiting for
// stopped processors to actually exit.
type Options struct {
	ReadyTimeout time.Duration
	JoinTimeout  time.Duration
}

// DefaultOptions returns generous defaults: constructing a processor
// that opens a real device can take a few seconds, and a muxer-style
// teardown flushing buffers takes longer still.
func DefaultOptions() Options {
	return Options{
		ReadyTimeout: 5 * time.Second,
		JoinTimeout:  10 * time.Second,
	}
}

// Compiler owns the collaborators Apply needs to actually realize a
// GraphDelta: the factory registry to construct new processors, the
// event bus to narrate each phase, the façade handle processors can call
// back into, a clock, and a logger. One Compiler is shared across every
// Apply call for a given façade instance.
type Compiler struct {
	Registry *processor.Registry
	Bus      eventbus.Publisher
	Facade   processor.FacadeHandle
	Clock    processor.Clock
	Logger   *slog.Logger
	Opts     Options
}

// New returns a Compiler with DefaultOptions; callers needing different
// timeouts set c.Opts directly before the first Apply call.
func New(registry *processor.Registry, bus eventbus.Publisher, facade processor.FacadeHandle) *Compiler {
	return &Compiler{
		Registry: registry,
		Bus:      bus,
		Facade:   facade,
		Opts:     DefaultOptions(),
	}
}

// Apply realizes delta against g in a fixed nine-step order: unwire
// removed links, stop removed processors, create
// added processors, start their threads, wait for all of them to signal
// ready, wire added links, push updated configs to their owning threads,
// re-wire updated links, then release the continue barrier for every
// newly started processor. Each step only acts on the ids delta names;
// it never re-diffs the graph, so a stale delta (one computed against a
// revision the graph has since moved past) is rejected up front rather
// than silently reapplied against whatever the graph now looks like.
func (c *Compiler) Apply(ctx context.Context, g *graph.Graph, delta *GraphDelta) error {
	if delta.Revision != g.Revision() {
		return ErrStaleDelta
	}
	log := c.logger()

	// Step 1: unwire links_to_remove.
	for _, id := range delta.LinksToRemove {
		c.unwireLink(g, id, log, true)
	}

	// Step 2: stop processors_to_remove.
	if err := c.stopProcessors(ctx, g, delta.ProcessorsToRemove, log); err != nil {
		log.Warn("stop phase reported errors", slog.String("error", err.Error()))
	}

	// Step 3: CREATE processors_to_add.
	added := orderByTopo(g, delta.ProcessorsToAdd)
	for _, id := range added {
		if err := c.createProcessor(g, id, log); err != nil {
			log.Error("create failed", slog.String("node_id", id.String()), slog.String("error", err.Error()))
		}
	}

	// Step 4: START — spawn one goroutine per newly created thread.
	for _, id := range added {
		c.startProcessor(ctx, g, id, log)
	}

	// Step 5: wait for all of them to signal ready, with timeout.
	readyErr := c.waitAllReady(ctx, g, added, log)

	// Step 6: WIRE links_to_add.
	for _, id := range delta.LinksToAdd {
		if err := c.wireLink(g, id); err != nil {
			log.Error("wire failed", slog.String("link_id", id.String()), slog.String("error", err.Error()))
		}
	}

	// Step 7: apply processors_to_update.
	for _, id := range delta.ProcessorsToUpdate {
		if err := c.updateProcessor(g, id); err != nil {
			log.Error("config update failed", slog.String("node_id", id.String()), slog.String("error", err.Error()))
		}
	}

	// Step 8: apply links_to_update (unwire, then rewire with the new
	// capacity, reusing the same link id).
	for _, id := range delta.LinksToUpdate {
		c.unwireLink(g, id, log, false)
		if err := c.wireLink(g, id); err != nil {
			log.Error("rewire failed", slog.String("link_id", id.String()), slog.String("error", err.Error()))
		}
	}

	// Step 9: CONTINUE — release every newly started processor's
	// barrier, whether or not it made it to ready in time; a processor
	// that never signals ready within the timeout was already abandoned
	// by waitAllReady and firing Continue on it is harmless (nothing is
	// listening).
	for _, id := range added {
		if barrier, err := graph.Get[*graph.ReadyBarrier](g, id); err == nil {
			barrier.SignalContinue()
		}
	}

	// A delta computed before this application is stale from here on,
	// even when it contained only additions (which moved no revision
	// counter of their own during the apply).
	g.BumpRevision()

	return readyErr
}

func (c *Compiler) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func orderByTopo(g *graph.Graph, ids []graph.NodeID) []graph.NodeID {
	order, err := g.TopoOrder()
	if err != nil {
		return ids
	}
	want := make(map[graph.NodeID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make([]graph.NodeID, 0, len(ids))
	for _, id := range order {
		if want[id] {
			out = append(out, id)
		}
	}
	return out
}

// createProcessor attaches every lifecycle component a thread body needs
// before it can be started. It does not construct
// the processor.Instance itself: construction happens on the thread's
// own goroutine (runner.Run step 1), off the mutation path, so a slow or
// failing factory never holds up Apply.
func (c *Compiler) createProcessor(g *graph.Graph, id graph.NodeID, log *slog.Logger) error {
	node, err := g.Node(id)
	if err != nil {
		return err
	}

	state := graph.NewStateComponent()
	if err := graph.Attach[*graph.StateComponent](g, id, state); err != nil {
		return err
	}
	_ = graph.Attach[*graph.ShutdownChannel](g, id, graph.NewShutdownChannel())
	_ = graph.Attach[*graph.PauseGate](g, id, graph.NewPauseGate())
	_ = graph.Attach[*graph.ReadyBarrier](g, id, graph.NewReadyBarrier())
	_ = graph.Attach[*graph.WakeChannel](g, id, graph.NewWakeChannel())
	_ = graph.Attach[*graph.InvokeChannel](g, id, graph.NewInvokeChannel())
	_ = graph.Attach[*graph.ConfigChannel](g, id, graph.NewConfigChannel())
	_ = graph.Attach[*graph.OutputPortRegistry](g, id, graph.NewOutputPortRegistry(node.Outputs))
	_ = graph.Attach[*graph.InputPortRegistry](g, id, graph.NewInputPortRegistry(node.Inputs))
	// Record the config checksum being realized now, so the next Compute
	// only flags this node for update when the declared config actually
	// changes afterwards.
	_ = graph.Attach[*graph.RealizedChecksum](g, id, &graph.RealizedChecksum{Value: checksum(node)})

	publish(c.Bus, eventbus.ProcessorCreating, id, "", "")
	log.Debug("processor created", slog.String("node_id", id.String()), slog.String("kind", node.Kind))
	return nil
}

// startProcessor spawns the thread body goroutine for a freshly created
// node. Placement is carried through to the runner as a logged hint
// only; a real affinity/main-thread dispatcher is platform glue the
// embedding application supplies, not this core.
func (c *Compiler) startProcessor(ctx context.Context, g *graph.Graph, id graph.NodeID, log *slog.Logger) {
	node, err := g.Node(id)
	if err != nil {
		return
	}
	threadCtx, cancel := context.WithCancel(ctx)
	handle := graph.NewThreadHandle(cancel)
	if err := graph.Attach[*graph.ThreadHandle](g, id, handle); err != nil {
		cancel()
		return
	}

	deps := runner.Deps{
		Registry: c.Registry,
		Bus:      c.Bus,
		Facade:   c.Facade,
		Clock:    c.Clock,
		Logger:   log,
	}
	log.Debug("processor starting", slog.String("node_id", id.String()), slog.String("placement", node.Placement.Tag))
	go runner.Run(threadCtx, g, id, deps)
}

// waitAllReady blocks until every node in ids has signaled ready or its
// individual ready timeout elapses, using errgroup purely for the
// fan-out/join bookkeeping: each goroutine always returns nil and
// appends its own outcome to a shared, mutex-guarded slice, so one slow
// processor's timeout does not suppress another's reported result the
// way errgroup.Group.Wait's first-error-wins default would.
func (c *Compiler) waitAllReady(ctx context.Context, g *graph.Graph, ids []graph.NodeID, log *slog.Logger) error {
	if len(ids) == 0 {
		return nil
	}
	var eg errgroup.Group
	var mu sync.Mutex
	var errs []error

	for _, id := range ids {
		id := id
		eg.Go(func() error {
			barrier, err := graph.Get[*graph.ReadyBarrier](g, id)
			if err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			timer := time.NewTimer(c.readyTimeout())
			defer timer.Stop()
			select {
			case <-barrier.Ready():
				publish(c.Bus, eventbus.ProcessorStarted, id, "", "")
			case <-timer.C:
				c.abandon(g, id, log, ErrReadyTimeout)
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %s: %w", id, ErrReadyTimeout))
				mu.Unlock()
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %s: %w", id, ctx.Err()))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

func (c *Compiler) readyTimeout() time.Duration {
	if c.Opts.ReadyTimeout > 0 {
		return c.Opts.ReadyTimeout
	}
	return DefaultOptions().ReadyTimeout
}

func (c *Compiler) joinTimeout() time.Duration {
	if c.Opts.JoinTimeout > 0 {
		return c.Opts.JoinTimeout
	}
	return DefaultOptions().JoinTimeout
}

// abandon implements the join-timeout escalation policy recorded in
// DESIGN.md: a node whose thread never became ready, or never exited,
// is torn out of the graph like any other removal rather than left to
// block Apply indefinitely. Downstream peers are left holding a plug.
func (c *Compiler) abandon(g *graph.Graph, id graph.NodeID, log *slog.Logger, cause error) {
	log.Error("abandoning unresponsive processor", slog.String("node_id", id.String()), slog.String("reason", cause.Error()))
	if state, err := graph.Get[*graph.StateComponent](g, id); err == nil {
		state.Fail(cause)
	}
	publish(c.Bus, eventbus.ProcessorFailed, id, "", cause.Error())
	c.detachAndUnwirePeers(g, id, log)
	detachAllNodeComponents(g, id)
	_ = g.RemoveNode(id)
}

// detachAndUnwirePeers replaces every consumer endpoint a removed node's
// output links feed into with a plug, and drops every producer a removed
// node's input links hold, so a peer still running never blocks on a
// channel whose other end just disappeared.
func (c *Compiler) detachAndUnwirePeers(g *graph.Graph, id graph.NodeID, log *slog.Logger) {
	for _, l := range g.LinksFrom(id) {
		c.unwireLink(g, l.ID, log, true)
	}
	for _, l := range g.LinksTo(id) {
		c.unwireLink(g, l.ID, log, true)
	}
}

// stopProcessors fires shutdown for every node in ids, nudges their wake
// channels so a Reactive thread blocked in Recv notices immediately, and
// joins each thread with a per-node timeout, tearing down whichever
// components were attached to it once its thread has actually exited (or
// been abandoned).
func (c *Compiler) stopProcessors(ctx context.Context, g *graph.Graph, ids []graph.NodeID, log *slog.Logger) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		c.detachAndUnwirePeers(g, id, log)
		if shutdown, err := graph.Get[*graph.ShutdownChannel](g, id); err == nil {
			shutdown.Signal()
		}
		if wake, err := graph.Get[*graph.WakeChannel](g, id); err == nil {
			select {
			case wake.Sender() <- struct{}{}:
			default:
			}
		}
	}

	var eg errgroup.Group
	var mu sync.Mutex
	var errs []error

	for _, id := range ids {
		id := id
		eg.Go(func() error {
			handle, err := graph.Get[*graph.ThreadHandle](g, id)
			if err != nil {
				// Never started (e.g. create failed earlier); just tear
				// down whatever components did attach.
				detachAllNodeComponents(g, id)
				_ = g.RemoveNode(id)
				return nil
			}
			timer := time.NewTimer(c.joinTimeout())
			defer timer.Stop()
			select {
			case <-handle.Exited:
				publish(c.Bus, eventbus.ProcessorStopped, id, "", "")
				detachAllNodeComponents(g, id)
				_ = g.RemoveNode(id)
			case <-timer.C:
				handle.Cancel()
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %s: %w", id, ErrJoinTimeout))
				mu.Unlock()
				c.abandon(g, id, log, ErrJoinTimeout)
			case <-ctx.Done():
				mu.Lock()
				errs = append(errs, fmt.Errorf("node %s: %w", id, ctx.Err()))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = eg.Wait()
	return errors.Join(errs...)
}

// detachAllNodeComponents removes every lifecycle component this package
// or the runner may have attached to id. Safe to call on a node that
// never reached full CREATE (Detach is a no-op for anything never
// attached).
func detachAllNodeComponents(g *graph.Graph, id graph.NodeID) {
	graph.Detach[processor.Instance](g, id)
	graph.Detach[*graph.ThreadHandle](g, id)
	graph.Detach[*graph.ReadyBarrier](g, id)
	graph.Detach[*graph.PauseGate](g, id)
	graph.Detach[*graph.StateComponent](g, id)
	graph.Detach[*graph.ShutdownChannel](g, id)
	graph.Detach[*graph.WakeChannel](g, id)
	graph.Detach[*graph.InvokeChannel](g, id)
	graph.Detach[*graph.ConfigChannel](g, id)
	graph.Detach[*graph.OutputPortRegistry](g, id)
	graph.Detach[*graph.InputPortRegistry](g, id)
	graph.Detach[*graph.RealizedChecksum](g, id)
}

// wireLink allocates the realized ring buffer for a pending link, binds
// it into both endpoints' port registries and the concrete processor
// instances themselves (so processor code reads/writes its bound ports
// directly rather than through the graph), and marks the link Wired.
func (c *Compiler) wireLink(g *graph.Graph, id graph.LinkID) error {
	link, err := g.Link(id)
	if err != nil {
		return err
	}
	srcNode, err := g.Node(link.From.Node)
	if err != nil {
		return err
	}
	dstNode, err := g.Node(link.To.Node)
	if err != nil {
		return err
	}
	srcPort, ok := srcNode.OutputPort(link.From.Port)
	if !ok {
		return fmt.Errorf("wire link %s: %w", id, graph.ErrPortNotFound)
	}
	if _, ok := dstNode.InputPort(link.To.Port); !ok {
		return fmt.Errorf("wire link %s: %w", id, graph.ErrPortNotFound)
	}

	capacity := link.Capacity
	if capacity <= 0 {
		capacity = srcPort.DefaultCapacity
	}
	overflow := link.Overflow

	dstWake, err := graph.Get[*graph.WakeChannel](g, link.To.Node)
	if err != nil {
		return fmt.Errorf("wire link %s: destination has no wake channel: %w", id, err)
	}
	channel := linkchan.NewChannel(capacity, overflow, srcPort.MessageType, dstWake.Sender())
	if bus := c.Bus; bus != nil {
		linkID := id.String()
		channel.OnOverflow(func(policy linkchan.OverflowPolicy, total uint64) {
			bus.Publish(context.Background(), eventbus.New(eventbus.LinkOverflow, "", linkID, "", map[string]any{
				"policy": policy.String(),
				"count":  total,
			}))
		})
	}

	// The registry and the instance share one producer value so that
	// unwireLink can hand the registry's entry to UnbindOutput.
	producer := channel.Producer()
	consumer := channel.Consumer()
	if outReg, err := graph.Get[*graph.OutputPortRegistry](g, link.From.Node); err == nil {
		outReg.Bind(link.From.Port, id, producer)
	}
	if inReg, err := graph.Get[*graph.InputPortRegistry](g, link.To.Node); err == nil {
		inReg.Bind(link.To.Port, consumer)
	}
	if srcInst, err := graph.Get[processor.Instance](g, link.From.Node); err == nil {
		srcInst.BindOutput(link.From.Port, producer)
	}
	if dstInst, err := graph.Get[processor.Instance](g, link.To.Node); err == nil {
		dstInst.BindInput(link.To.Port, consumer)
	}

	_ = graph.AttachLink[*graph.LinkChannel](g, id, &graph.LinkChannel{Channel: channel})
	_ = graph.AttachLink[*graph.RealizedCapacity](g, id, &graph.RealizedCapacity{Value: capacity})
	state, err := graph.GetLink[*graph.LinkState](g, id)
	if err != nil {
		state = graph.NewLinkState()
		_ = graph.AttachLink[*graph.LinkState](g, id, state)
	}
	state.Set(graph.LinkWired)
	publish(c.Bus, eventbus.LinkWired, "", id.String(), "")
	return nil
}

// unwireLink tears down a link's realized channel, removing the producer
// entry at the source and restoring a plug at the destination, without
// necessarily removing the Link entity itself —
// the links_to_update path reuses this with removeFromGraph=false so the
// same link id can be rewired with a new capacity right after.
func (c *Compiler) unwireLink(g *graph.Graph, id graph.LinkID, log *slog.Logger, removeFromGraph bool) {
	link, err := g.Link(id)
	if err != nil {
		return
	}
	publish(c.Bus, eventbus.LinkDisconnecting, "", id.String(), "")

	if outReg, err := graph.Get[*graph.OutputPortRegistry](g, link.From.Node); err == nil {
		if producer, ok := outReg.Unbind(link.From.Port, id); ok {
			if srcInst, err := graph.Get[processor.Instance](g, link.From.Node); err == nil {
				srcInst.UnbindOutput(link.From.Port, producer)
			}
		}
	}
	if inReg, err := graph.Get[*graph.InputPortRegistry](g, link.To.Node); err == nil {
		inReg.Bind(link.To.Port, linkchan.PlugConsumer())
		if dstInst, err := graph.Get[processor.Instance](g, link.To.Node); err == nil {
			dstInst.BindInput(link.To.Port, linkchan.PlugConsumer())
		}
	}

	graph.DetachLink[*graph.LinkChannel](g, id)
	graph.DetachLink[*graph.RealizedCapacity](g, id)
	if state, err := graph.GetLink[*graph.LinkState](g, id); err == nil {
		state.Set(graph.LinkDisconnected)
	}
	publish(c.Bus, eventbus.LinkDisconnected, "", id.String(), "")

	if removeFromGraph {
		if err := g.RemoveLink(id); err != nil {
			log.Warn("remove link after unwire failed", slog.String("link_id", id.String()), slog.String("error", err.Error()))
		}
	}
}

// updateProcessor delivers a node's new config to its own thread via the
// per-node ConfigChannel — UpdateConfig always runs on the processor's
// own thread, never under the graph lock — then records the checksum
// Compute will compare against next cycle.
func (c *Compiler) updateProcessor(g *graph.Graph, id graph.NodeID) error {
	node, err := g.Node(id)
	if err != nil {
		return err
	}
	configCh, err := graph.Get[*graph.ConfigChannel](g, id)
	if err != nil {
		return fmt.Errorf("update processor %s: %w", id, err)
	}
	select {
	case configCh.Sender() <- node.Config:
	default:
		// A previous update has not been drained yet; replace it so the
		// thread only ever sees the latest declared config.
		configCh.TryRecv()
		configCh.Sender() <- node.Config
	}
	_ = graph.Attach[*graph.RealizedChecksum](g, id, &graph.RealizedChecksum{Value: checksum(node)})
	publish(c.Bus, eventbus.ProcessorConfigUpdated, id, "", "")
	return nil
}

func publish(bus eventbus.Publisher, kind eventbus.Kind, nodeID graph.NodeID, linkID, message string) {
	if bus == nil {
		return
	}
	var nid string
	if nodeID != "" {
		nid = nodeID.String()
	}
	bus.Publish(context.Background(), eventbus.New(kind, nid, linkID, message, nil))
}
