// Package facade implements the runtime façade: the public surface for
// declaring processors, wiring links, and driving the global
// start/stop/pause/resume lifecycle. It owns the compiler and calls it
// directly — no process-wide singleton executor reference — and mutates
// the property graph (internal/graph), which remains the single source
// of truth the compiler reconciles against.
package facade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/streamlib/runtime/internal/compiler"
	"github.com/streamlib/runtime/internal/eventbus"
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/processor"
)

// CommitMode selects when a façade mutation triggers a compile. Auto
// compiles after every mutation call (while running); Manual accumulates
// mutations until Commit is called explicitly.
type CommitMode int

const (
	CommitAuto CommitMode = iota
	CommitManual
)

// State is the runtime's own global lifecycle state, distinct from any
// individual node's StateComponent.
type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// Option configures a Runtime at construction time.
type Option func(*Runtime)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) { r.logger = l }
}

// WithClock overrides the processor-visible media clock (tests inject a
// deterministic one; production leaves this unset for processor.SystemClock).
func WithClock(c processor.Clock) Option {
	return func(r *Runtime) { r.clock = c }
}

// WithCommitMode sets the initial commit mode. Defaults to CommitAuto.
func WithCommitMode(m CommitMode) Option {
	return func(r *Runtime) { r.mode = m }
}

// WithCompilerOptions overrides the compiler's ready/join timeouts.
func WithCompilerOptions(opts compiler.Options) Option {
	return func(r *Runtime) { r.compilerOpts = &opts }
}

// Runtime is the façade. One Runtime owns one graph, one compiler, and
// the registry/bus/clock those collaborators need.
type Runtime struct {
	// mu guards state, mode and rootCtx and is held only briefly to read or
	// update them; graph mutations go through the graph's own lock, and mu
	// is never held across a compile. compileMu separately serializes Compute+Apply so
	// two compiles can never race, while leaving mu free for a processor's
	// Setup to call back into AddProcessor/Connect from its own thread
	// without re-entering a lock the façade is still holding (the central
	// deadlock rule: no lock is ever held across a call into user code).
	mu        sync.Mutex
	compileMu sync.Mutex

	graph    *graph.Graph
	registry *processor.Registry
	comp     *compiler.Compiler
	bus      eventbus.Publisher
	logger   *slog.Logger
	clock    processor.Clock

	mode         CommitMode
	state        State
	compilerOpts *compiler.Options

	rootCtx context.Context
	cancel  context.CancelFunc
}

// New returns a Runtime wired to registry and bus, in CommitAuto mode,
// Idle, ready for AddProcessor/Connect calls before Start.
func New(registry *processor.Registry, bus eventbus.Publisher, opts ...Option) *Runtime {
	if bus == nil {
		bus = eventbus.Noop{}
	}
	r := &Runtime{
		graph:    graph.New(),
		registry: registry,
		bus:      bus,
		mode:     CommitAuto,
		state:    Idle,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.comp = compiler.New(registry, bus, r)
	if r.compilerOpts != nil {
		r.comp.Opts = *r.compilerOpts
	}
	r.comp.Clock = r.clock
	r.comp.Logger = r.logger
	return r
}

// Graph exposes the underlying property graph for read-only
// introspection (Snapshot, Query) by callers that need more than the
// façade's own accessors; it is never mutated directly by callers other
// than this package and the compiler.
func (r *Runtime) Graph() *graph.Graph { return r.graph }

// Snapshot returns a point-in-time copy of the graph (see graph.NodeSnapshot).
func (r *Runtime) Snapshot() graph.GraphSnapshot { return r.graph.Snapshot() }

// State reports the runtime's current global lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// SetCommitMode changes how mutations trigger compiles. Safe to call at
// any time; it only affects mutations issued after the call returns.
func (r *Runtime) SetCommitMode(mode CommitMode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = mode
}

// AddProcessor validates procType against the factory registry, mints a
// fresh node id, and declares a ProcessorNode with ports derived from the
// registered descriptor. It returns immediately; construction of the
// concrete processor.Instance happens later, off this call's stack, on
// the node's own thread once a compile actually starts it.
func (r *Runtime) AddProcessor(ctx context.Context, procType string, config any) (graph.NodeID, error) {
	desc, err := r.registry.Lookup(procType)
	if err != nil {
		return "", fmt.Errorf("add processor %s: %w", procType, ErrUnknownProcessorType)
	}

	node := &graph.ProcessorNode{
		ID:         graph.NewNodeID(),
		Kind:       procType,
		Discipline: desc.Discipline,
		Priority:   desc.Priority,
		Placement:  desc.Placement,
		Inputs:     desc.Inputs,
		Outputs:    desc.Outputs,
		Config:     config,
	}
	if err := r.graph.AddNode(node); err != nil {
		return "", fmt.Errorf("add processor %s: %w", procType, err)
	}

	r.maybeCommit()
	return node.ID, nil
}

// RemoveProcessor marks node for removal in the next compile. Every link
// still incident to it (either direction) is marked for removal too, so
// the running instance's shutdown and its links' teardown happen in the
// same delta rather than leaving a dangling Link entity pointing at a
// node that is about to disappear.
func (r *Runtime) RemoveProcessor(ctx context.Context, id graph.NodeID) error {
	if _, err := r.graph.Node(id); err != nil {
		return fmt.Errorf("remove processor %s: %w", id, ErrNotFound)
	}
	if err := graph.Attach[graph.PendingRemoval](r.graph, id, graph.PendingRemoval{}); err != nil {
		return fmt.Errorf("remove processor %s: %w", id, err)
	}
	for _, l := range r.graph.LinksFrom(id) {
		_ = graph.AttachLink[graph.LinkPendingRemoval](r.graph, l.ID, graph.LinkPendingRemoval{})
	}
	for _, l := range r.graph.LinksTo(id) {
		_ = graph.AttachLink[graph.LinkPendingRemoval](r.graph, l.ID, graph.LinkPendingRemoval{})
	}

	r.maybeCommit()
	return nil
}

// Connect validates that both ports exist, their message types match,
// the target input is not already the destination of an active link, and
// that wiring them would not introduce a cycle, then declares a Link.
// capacityHint overrides the source port's default capacity when
// positive.
func (r *Runtime) Connect(ctx context.Context, from, to graph.PortRef, capacityHint int) (graph.LinkID, error) {
	fromNode, err := r.graph.Node(from.Node)
	if err != nil {
		return "", fmt.Errorf("connect %s -> %s: source %w", from, to, ErrNotFound)
	}
	toNode, err := r.graph.Node(to.Node)
	if err != nil {
		return "", fmt.Errorf("connect %s -> %s: target %w", from, to, ErrNotFound)
	}
	srcPort, ok := fromNode.OutputPort(from.Port)
	if !ok {
		return "", fmt.Errorf("connect %s -> %s: source port %w", from, to, ErrNotFound)
	}
	dstPort, ok := toNode.InputPort(to.Port)
	if !ok {
		return "", fmt.Errorf("connect %s -> %s: target port %w", from, to, ErrNotFound)
	}
	if srcPort.MessageType != dstPort.MessageType {
		return "", fmt.Errorf("connect %s -> %s: %s != %s: %w", from, to, srcPort.MessageType, dstPort.MessageType, ErrTypeMismatch)
	}
	if r.targetIsConnected(to) {
		return "", fmt.Errorf("connect %s -> %s: %w", from, to, ErrPortAlreadyConnected)
	}
	if r.graph.HasCycleIfAdded(from.Node, to.Node) {
		return "", fmt.Errorf("connect %s -> %s: %w", from, to, ErrCycleWouldForm)
	}

	capacity := capacityHint
	if capacity <= 0 {
		capacity = srcPort.DefaultCapacity
	}
	link := &graph.Link{
		ID:       graph.NewLinkID(),
		From:     from,
		To:       to,
		Capacity: capacity,
		Overflow: graph.ToOverflowPolicy(srcPort.DefaultOverflow),
	}
	if err := r.graph.AddLink(link); err != nil {
		return "", fmt.Errorf("connect %s -> %s: %w", from, to, err)
	}
	_ = graph.AttachLink[*graph.LinkState](r.graph, link.ID, graph.NewLinkState())

	r.maybeCommit()
	return link.ID, nil
}

// targetIsConnected reports whether any link not already marked for
// removal currently targets to — the "input ports are single-consumer"
// invariant, enforced at declare time rather than left for the compiler
// to discover.
func (r *Runtime) targetIsConnected(to graph.PortRef) bool {
	for _, l := range r.graph.Links() {
		if l.To != to {
			continue
		}
		if _, err := graph.GetLink[graph.LinkPendingRemoval](r.graph, l.ID); err != nil {
			return true
		}
	}
	return false
}

// Disconnect marks link for removal in the next compile.
func (r *Runtime) Disconnect(ctx context.Context, id graph.LinkID) error {
	if _, err := r.graph.Link(id); err != nil {
		return fmt.Errorf("disconnect %s: %w", id, ErrNotFound)
	}
	if err := graph.AttachLink[graph.LinkPendingRemoval](r.graph, id, graph.LinkPendingRemoval{}); err != nil {
		return fmt.Errorf("disconnect %s: %w", id, err)
	}

	r.maybeCommit()
	return nil
}

// Start transitions Idle -> Running and blocks until the initial compile
// has started every currently-declared processor and collected ready (or
// timed-out) signals from all of them.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.rootCtx, r.cancel = context.WithCancel(ctx)
	r.state = Running
	r.mu.Unlock()

	err := r.compile(r.rootCtx)
	publish(r.bus, eventbus.RuntimeStarted, "")
	return err
}

// Stop marks every live processor and link for removal, compiles that
// teardown (blocking until every thread has joined or been abandoned per
// its timeout), cancels the runtime's root context, and transitions back
// to Idle.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state != Running {
		r.mu.Unlock()
		return ErrNotRunning
	}
	r.mu.Unlock()

	for _, id := range r.graph.Nodes() {
		_ = graph.Attach[graph.PendingRemoval](r.graph, id, graph.PendingRemoval{})
	}
	for _, l := range r.graph.Links() {
		_ = graph.AttachLink[graph.LinkPendingRemoval](r.graph, l.ID, graph.LinkPendingRemoval{})
	}

	err := r.compile(r.rootCtx)

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.state = Idle
	r.mu.Unlock()

	publish(r.bus, eventbus.RuntimeStopped, "")
	return err
}

// Pause toggles every currently-attached PauseGate closed. Dispatch loops
// observe this on their next Wait call; the gate applies uniformly
// across all three disciplines.
func (r *Runtime) Pause() {
	for _, gate := range graph.Query[*graph.PauseGate](r.graph) {
		gate.Pause()
	}
	publish(r.bus, eventbus.RuntimePaused, "")
}

// Resume releases every currently-attached PauseGate.
func (r *Runtime) Resume() {
	for _, gate := range graph.Query[*graph.PauseGate](r.graph) {
		gate.Resume()
	}
	publish(r.bus, eventbus.RuntimeResumed, "")
}

// Commit applies accumulated mutations in CommitManual mode. In
// CommitAuto mode it is a no-op past the last auto-commit.
func (r *Runtime) Commit(ctx context.Context) error {
	r.mu.Lock()
	mode := r.mode
	running := r.state == Running
	r.mu.Unlock()
	if mode == CommitAuto || !running {
		return nil
	}
	return r.compile(ctx)
}

// Invoke delivers one external trigger to a Manual-discipline node and
// waits for its Process call to complete.
func (r *Runtime) Invoke(ctx context.Context, id graph.NodeID) error {
	node, err := r.graph.Node(id)
	if err != nil {
		return fmt.Errorf("invoke %s: %w", id, ErrNotFound)
	}
	if node.Discipline.Kind != graph.Manual {
		return fmt.Errorf("invoke %s: %w", id, ErrNotManual)
	}
	invoke, err := graph.Get[*graph.InvokeChannel](r.graph, id)
	if err != nil {
		return fmt.Errorf("invoke %s: node is not running: %w", id, ErrNotRunning)
	}

	done := make(chan error, 1)
	select {
	case invoke.Sender() <- graph.InvokeRequest{Done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// maybeCommit fires a compile in the background when running in
// CommitAuto mode and the runtime is Running; the mutation call that
// triggered it has already returned, so mutations never block on
// processor construction. Any resulting
// lifecycle failure surfaces only through the event bus and the
// affected node's StateComponent, never back to this goroutine's caller.
func (r *Runtime) maybeCommit() {
	r.mu.Lock()
	shouldCommit := r.mode == CommitAuto && r.state == Running
	ctx := r.rootCtx
	r.mu.Unlock()
	if !shouldCommit {
		return
	}
	go func() {
		if err := r.compile(ctx); err != nil {
			r.logger.Warn("auto-commit reported errors", slog.String("error", err.Error()))
		}
	}()
}

// compile runs one Compute+Apply cycle. compileMu ensures at most one
// compile runs at a time; it is never held by any other method in this
// package, so a processor's Setup calling back into AddProcessor/Connect
// from its own thread only ever blocks behind an in-flight compile, never
// behind the façade's own state lock.
func (r *Runtime) compile(ctx context.Context) error {
	r.compileMu.Lock()
	defer r.compileMu.Unlock()
	delta := compiler.Compute(r.graph)
	if delta.Empty() {
		return nil
	}
	return r.comp.Apply(ctx, r.graph, delta)
}

func publish(bus eventbus.Publisher, kind eventbus.Kind, message string) {
	if bus == nil {
		return
	}
	bus.Publish(context.Background(), eventbus.New(kind, "", "", message, nil))
}
