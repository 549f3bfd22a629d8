package graph

import (
	"context"
	"sync"

	"github.com/streamlib/runtime/internal/linkchan"
)

// NodeState is the lifecycle state machine every ProcessorNode's
// StateComponent moves through, per the runner's thread body.
type NodeState int

const (
	StatePending NodeState = iota
	StateStarting
	StateReady
	StateRunning
	StatePausing
	StatePaused
	StateStopping
	StateStopped
	StateFailed
)

func (s NodeState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePausing:
		return "pausing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateComponent tracks a node's lifecycle state under its own mutex,
// separate from the graph's structural lock, so the runner's thread body
// can report progress without contending with unrelated compiler
// operations on other nodes.
type StateComponent struct {
	mu    sync.RWMutex
	state NodeState
	err   error
}

// NewStateComponent returns a component initialized to StatePending.
func NewStateComponent() *StateComponent {
	return &StateComponent{state: StatePending}
}

// Get returns the current state and, if State is Failed, the recorded
// cause.
func (s *StateComponent) Get() (NodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.err
}

// Set transitions to state, clearing any previously recorded error.
func (s *StateComponent) Set(state NodeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	s.err = nil
}

// Fail transitions to StateFailed and records cause for later
// introspection (snapshot dumps, failure event payloads).
func (s *StateComponent) Fail(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.err = cause
}

// PauseGate lets the facade toggle every running node between running and
// paused without tearing threads down. A dispatch loop calls Wait before
// each Process call; Wait returns immediately while the gate is open.
type PauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

// NewPauseGate returns an open (not paused) gate.
func NewPauseGate() *PauseGate {
	return &PauseGate{resume: make(chan struct{})}
}

// Pause closes the gate; every current and future Wait call blocks until
// Resume.
func (g *PauseGate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.resume = make(chan struct{})
}

// Resume opens the gate, releasing every blocked Wait call.
func (g *PauseGate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
}

// Wait blocks while the gate is paused, returning early if done fires.
func (g *PauseGate) Wait(done <-chan struct{}) {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return
	}
	ch := g.resume
	g.mu.Unlock()
	select {
	case <-ch:
	case <-done:
	}
}

// IsPaused reports the gate's current state.
func (g *PauseGate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// ReadyBarrier is the one-shot handshake a newly started thread uses to
// tell the compiler it constructed its instance and is safe to wire, and that in
// turn waits for the compiler's signal that wiring is complete before
// entering its dispatch loop. Splitting it into two one-shot channels
// (rather than a sync.WaitGroup/Cond pair) keeps the compiler's step 5
// "wait all ready" a plain channel receive it can select against a
// timeout and a context, and keeps the thread's "wait for continue" the
// same shape.
type ReadyBarrier struct {
	ready    chan struct{}
	cont     chan struct{}
	readyOne sync.Once
	contOne  sync.Once
}

// NewReadyBarrier returns a fresh, unfired barrier.
func NewReadyBarrier() *ReadyBarrier {
	return &ReadyBarrier{
		ready: make(chan struct{}),
		cont:  make(chan struct{}),
	}
}

// SignalReady is called once by the processor thread after its instance
// is constructed and attached; Setup runs only after SignalContinue.
// Additional calls are no-ops.
func (b *ReadyBarrier) SignalReady() {
	b.readyOne.Do(func() { close(b.ready) })
}

// Ready returns the channel that closes when SignalReady has fired.
func (b *ReadyBarrier) Ready() <-chan struct{} { return b.ready }

// SignalContinue is called once by the compiler after wiring completes,
// releasing the thread into its dispatch loop.
func (b *ReadyBarrier) SignalContinue() {
	b.contOne.Do(func() { close(b.cont) })
}

// Continue returns the channel that closes when SignalContinue has
// fired.
func (b *ReadyBarrier) Continue() <-chan struct{} { return b.cont }

// ShutdownChannel is the one-shot signal a thread body selects on
// alongside its discipline-specific wait, so Stop can interrupt a
// Continuous node's ticker wait or a Reactive node's wake wait without
// a direct reference to its goroutine.
type ShutdownChannel struct {
	ch   chan struct{}
	once sync.Once
}

// NewShutdownChannel returns a fresh, unfired shutdown signal.
func NewShutdownChannel() *ShutdownChannel {
	return &ShutdownChannel{ch: make(chan struct{})}
}

// Signal requests shutdown. Safe to call more than once.
func (s *ShutdownChannel) Signal() {
	s.once.Do(func() { close(s.ch) })
}

// Done returns the channel that closes when Signal has fired.
func (s *ShutdownChannel) Done() <-chan struct{} { return s.ch }

// ThreadHandle is the compiler's reference to a running node's goroutine:
// the context that cancels it and the channel that reports its exit.
type ThreadHandle struct {
	Cancel context.CancelFunc
	// Exited closes when the thread body's goroutine returns, carrying
	// the exit error (nil on clean Stop) exactly once via ExitErr.
	Exited  chan struct{}
	exitErr error
	once    sync.Once
}

// NewThreadHandle returns a handle paired with cancel.
func NewThreadHandle(cancel context.CancelFunc) *ThreadHandle {
	return &ThreadHandle{Cancel: cancel, Exited: make(chan struct{})}
}

// MarkExited records the thread body's terminal error (nil on a clean
// stop) and closes Exited. Safe to call only once; later calls are
// no-ops.
func (h *ThreadHandle) MarkExited(err error) {
	h.once.Do(func() {
		h.exitErr = err
		close(h.Exited)
	})
}

// ExitErr returns the error recorded by MarkExited. Only meaningful after
// Exited has closed.
func (h *ThreadHandle) ExitErr() error { return h.exitErr }

// outputEntry pairs a bound producer with the link it belongs to, so a
// single link's teardown can remove exactly its own entry from a
// fanned-out port without disturbing sibling links on the same port.
type outputEntry struct {
	LinkID   LinkID
	Producer linkchan.Producer
}

// OutputPortRegistry holds, per declared output port name, the weakly-held
// list of link-producer endpoints currently fanned out from it. An empty
// list is a legal, permanent state (a port with no outbound links): writes
// with nothing bound are simply dropped by the owning processor, which is
// why — unlike InputPortRegistry — there is no plug entry to fall back to
// here; "no entries" already means "nobody to write to".
type OutputPortRegistry struct {
	mu   sync.RWMutex
	byID map[string][]outputEntry
}

// NewOutputPortRegistry returns a registry with every declared port
// starting out unconnected (empty fan-out list).
func NewOutputPortRegistry(ports []PortDescriptor) *OutputPortRegistry {
	r := &OutputPortRegistry{byID: make(map[string][]outputEntry, len(ports))}
	for _, p := range ports {
		r.byID[p.Name] = nil
	}
	return r
}

// Bind adds producer to port's fan-out list under link id.
func (r *OutputPortRegistry) Bind(port string, link LinkID, producer linkchan.Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[port] = append(r.byID[port], outputEntry{LinkID: link, Producer: producer})
}

// Unbind removes the entry for link from port's fan-out list and returns
// the producer that was bound there, if any.
func (r *OutputPortRegistry) Unbind(port string, link LinkID) (linkchan.Producer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.byID[port]
	for i, e := range entries {
		if e.LinkID == link {
			r.byID[port] = append(entries[:i], entries[i+1:]...)
			return e.Producer, true
		}
	}
	return nil, false
}

// Producers returns every producer currently fanned out from port, in
// insertion order, which is also the fan-out delivery order.
func (r *OutputPortRegistry) Producers(port string) []linkchan.Producer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.byID[port]
	out := make([]linkchan.Producer, len(entries))
	for i, e := range entries {
		out[i] = e.Producer
	}
	return out
}

// InputPortRegistry mirrors OutputPortRegistry for the consumer side.
type InputPortRegistry struct {
	mu   sync.RWMutex
	byID map[string]linkchan.Consumer
}

// NewInputPortRegistry returns a registry with every declared port bound
// to a plug consumer.
func NewInputPortRegistry(ports []PortDescriptor) *InputPortRegistry {
	r := &InputPortRegistry{byID: make(map[string]linkchan.Consumer, len(ports))}
	for _, p := range ports {
		r.byID[p.Name] = linkchan.PlugConsumer()
	}
	return r
}

// Bind wires port to consumer.
func (r *InputPortRegistry) Bind(port string, consumer linkchan.Consumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[port] = consumer
}

// Unbind rebinds port back to a plug consumer.
func (r *InputPortRegistry) Unbind(port string) {
	r.Bind(port, linkchan.PlugConsumer())
}

// Consumer returns the currently bound consumer for port, or a plug if
// the port name is unknown.
func (r *InputPortRegistry) Consumer(port string) linkchan.Consumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byID[port]; ok {
		return c
	}
	return linkchan.PlugConsumer()
}

// Names returns every port name this registry knows about, for the
// dispatch loop's fan-in select-equivalent poll.
func (r *InputPortRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byID))
	for name := range r.byID {
		out = append(out, name)
	}
	return out
}

// WakeChannel is the single, per-node notification channel shared by
// every linkchan.Channel wired into one of the node's input ports. A
// Reactive dispatch loop blocks on Recv; every wired inbound link's
// writer posts to the same channel, so multiple input ports coalesce
// onto one wait instead of needing a dynamic select over N channels.
type WakeChannel struct {
	ch chan struct{}
}

// NewWakeChannel returns a 1-slot wake channel.
func NewWakeChannel() *WakeChannel {
	return &WakeChannel{ch: make(chan struct{}, 1)}
}

// Sender returns the write side, handed to linkchan.NewChannel as its
// wake parameter.
func (w *WakeChannel) Sender() chan<- struct{} { return w.ch }

// Recv blocks until a wake notification arrives, the node's shutdown
// channel fires, or ctx is done.
func (w *WakeChannel) Recv(ctx context.Context, shutdown <-chan struct{}) {
	select {
	case <-w.ch:
	case <-shutdown:
	case <-ctx.Done():
	}
}

// ConfigChannel delivers a processor's updated Config payload to its own
// thread, for the compiler's processors_to_update phase: UpdateConfig
// always runs on the processor's own thread via this control channel,
// never invoked directly by the compiler under the graph lock.
type ConfigChannel struct {
	ch chan any
}

// NewConfigChannel returns a config-update channel with room for one
// pending update; a second config change arriving before the thread has
// drained the first simply replaces it next iteration (the thread only
// ever cares about the latest declared config).
func NewConfigChannel() *ConfigChannel {
	return &ConfigChannel{ch: make(chan any, 1)}
}

// Sender returns the write side, used by the compiler's update phase.
func (c *ConfigChannel) Sender() chan<- any { return c.ch }

// TryRecv returns the pending config update, if any, without blocking.
func (c *ConfigChannel) TryRecv() (any, bool) {
	select {
	case cfg := <-c.ch:
		return cfg, true
	default:
		return nil, false
	}
}

// InvokeRequest is one external trigger delivered to a Manual-discipline
// node, with Done reporting back the Process call's outcome to whoever
// invoked it through the facade.
type InvokeRequest struct {
	Done chan<- error
}

// InvokeChannel is the per-node request queue a Manual dispatch loop
// selects on. It is attached at CREATE time alongside WakeChannel, but
// only Manual-discipline nodes ever have anything send on it (the
// facade's Invoke call looks the node's discipline up first).
type InvokeChannel struct {
	ch chan InvokeRequest
}

// NewInvokeChannel returns an invoke queue with room for one pending
// request; a second concurrent Invoke call blocks until the first is
// picked up, which is the desired backpressure for a manually-clocked
// processor.
func NewInvokeChannel() *InvokeChannel {
	return &InvokeChannel{ch: make(chan InvokeRequest, 1)}
}

// Sender returns the write side, used by facade.Invoke.
func (i *InvokeChannel) Sender() chan<- InvokeRequest { return i.ch }

// Recv blocks until a request arrives, shutdown fires, or ctx is done. ok
// is false in the latter two cases.
func (i *InvokeChannel) Recv(ctx context.Context, shutdown <-chan struct{}) (InvokeRequest, bool) {
	select {
	case req := <-i.ch:
		return req, true
	case <-shutdown:
		return InvokeRequest{}, false
	case <-ctx.Done():
		return InvokeRequest{}, false
	}
}
