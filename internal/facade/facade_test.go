package facade_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlib/runtime/internal/demoproc"
	"github.com/streamlib/runtime/internal/eventbus"
	"github.com/streamlib/runtime/internal/facade"
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/processor"
)

// sinkRecorder captures every demoproc.Sink the registry constructs, in
// creation order, so tests can read back what a running sink observed
// without reaching into the façade's internals. One recorder is shared
// by a single test's registry; tests that only ever declare one sink
// node can treat recorder.last() as that node's instance.
type sinkRecorder struct {
	mu    sync.Mutex
	sinks []*demoproc.Sink
}

func (r *sinkRecorder) record(s *demoproc.Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sinks = append(r.sinks, s)
}

func (r *sinkRecorder) last() *demoproc.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sinks) == 0 {
		return nil
	}
	return r.sinks[len(r.sinks)-1]
}

func (r *sinkRecorder) all() []*demoproc.Sink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*demoproc.Sink(nil), r.sinks...)
}

func newRuntime(t *testing.T) (*facade.Runtime, *sinkRecorder) {
	t.Helper()
	rec := &sinkRecorder{}
	reg := processor.NewRegistry()
	demoproc.Register(reg)
	reg.Register("demo.sink", processor.Descriptor{
		Inputs: []graph.PortDescriptor{
			{Name: "in", MessageType: "int", DefaultCapacity: 8, DefaultOverflow: graph.OverflowDropNewest},
		},
		Discipline: graph.ExecutionDiscipline{Kind: graph.Reactive},
		New: func(config any) (processor.Instance, error) {
			inst, err := demoproc.NewSink(config)
			if err != nil {
				return nil, err
			}
			rec.record(inst.(*demoproc.Sink))
			return inst, nil
		},
	})
	return facade.New(reg, eventbus.NewBus()), rec
}

// TestTwoNodePassthrough wires a generator straight into a sink and
// confirms every emitted value is eventually observed, exercising the
// basic declare/connect/start/stop lifecycle.
func TestTwoNodePassthrough(t *testing.T) {
	rt, rec := newRuntime(t)
	ctx := context.Background()

	genID, err := rt.AddProcessor(ctx, "demo.generator", map[string]any{"count": 5})
	require.NoError(t, err)
	sinkID, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)

	_, err = rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: sinkID, Port: "in"}, 0)
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	snap := rt.Snapshot()
	require.Len(t, snap.Nodes, 2)

	require.Eventually(t, func() bool {
		return rec.last() != nil && len(rec.last().Received()) == 5
	}, 2*time.Second, 10*time.Millisecond)
}

// TestDynamicInsertionDuringRun splices a filter between a generator and
// a sink while the runtime is already running.
func TestDynamicInsertionDuringRun(t *testing.T) {
	rt, rec := newRuntime(t)
	ctx := context.Background()

	genID, err := rt.AddProcessor(ctx, "demo.generator", map[string]any{"count": 3})
	require.NoError(t, err)
	sinkID, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)
	directLink, err := rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: sinkID, Port: "in"}, 0)
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	require.NoError(t, rt.Disconnect(ctx, directLink))
	filterID, err := rt.AddProcessor(ctx, "demo.filter", map[string]any{"factor": 10})
	require.NoError(t, err)
	_, err = rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: filterID, Port: "in"}, 0)
	require.NoError(t, err)
	_, err = rt.Connect(ctx, graph.PortRef{Node: filterID, Port: "out"}, graph.PortRef{Node: sinkID, Port: "in"}, 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return rec.last() != nil && len(rec.last().Received()) > 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestSetupCallbackDoesNotDeadlock starts a manual node whose Setup adds
// a companion processor and wires a link through the façade it is
// currently being started by, confirming the compileMu/mu split does not
// deadlock against the compile still in flight.
func TestSetupCallbackDoesNotDeadlock(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	spawnerID, err := rt.AddProcessor(ctx, "demo.spawner", nil)
	require.NoError(t, err)

	startCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	require.NoError(t, rt.Start(startCtx))
	defer rt.Stop(ctx)

	require.Eventually(t, func() bool {
		return len(rt.Snapshot().Nodes) == 2
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.Invoke(ctx, spawnerID))
}

// TestConnectRejectsCycle confirms the façade refuses a link that would
// close a cycle back to an ancestor.
func TestConnectRejectsCycle(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	a, err := rt.AddProcessor(ctx, "demo.filter", nil)
	require.NoError(t, err)
	b, err := rt.AddProcessor(ctx, "demo.filter", nil)
	require.NoError(t, err)

	_, err = rt.Connect(ctx, graph.PortRef{Node: a, Port: "out"}, graph.PortRef{Node: b, Port: "in"}, 0)
	require.NoError(t, err)

	_, err = rt.Connect(ctx, graph.PortRef{Node: b, Port: "out"}, graph.PortRef{Node: a, Port: "in"}, 0)
	assert.ErrorIs(t, err, facade.ErrCycleWouldForm)
}

// TestConnectRejectsDoubleBindOfInput confirms an input port cannot
// acquire a second active link while the first is still live.
func TestConnectRejectsDoubleBindOfInput(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	gen1, err := rt.AddProcessor(ctx, "demo.generator", nil)
	require.NoError(t, err)
	gen2, err := rt.AddProcessor(ctx, "demo.generator", nil)
	require.NoError(t, err)
	sink, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)

	_, err = rt.Connect(ctx, graph.PortRef{Node: gen1, Port: "out"}, graph.PortRef{Node: sink, Port: "in"}, 0)
	require.NoError(t, err)

	_, err = rt.Connect(ctx, graph.PortRef{Node: gen2, Port: "out"}, graph.PortRef{Node: sink, Port: "in"}, 0)
	assert.ErrorIs(t, err, facade.ErrPortAlreadyConnected)
}

// TestGracefulShutdownDrainsRunningGraph confirms Stop tears every node
// down and returns the runtime to Idle.
func TestGracefulShutdownDrainsRunningGraph(t *testing.T) {
	rt, rec := newRuntime(t)
	ctx := context.Background()

	genID, err := rt.AddProcessor(ctx, "demo.generator", map[string]any{"count": 1000000})
	require.NoError(t, err)
	sinkID, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)
	_, err = rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: sinkID, Port: "in"}, 0)
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx))
	require.Eventually(t, func() bool {
		return rec.last() != nil && len(rec.last().Received()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, rt.Stop(ctx))
	assert.Equal(t, facade.Idle, rt.State())
	assert.Empty(t, rt.Snapshot().Nodes)
}

// TestRemoveBeforeRealizationLeavesNoResidue declares a processor and a
// link, then removes both while the runtime is still Idle — no compile
// has run, so neither was ever realized. The next compile (triggered by
// Start) must drop them entirely rather than leaving permanently
// orphaned entities in the graph.
func TestRemoveBeforeRealizationLeavesNoResidue(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()

	genID, err := rt.AddProcessor(ctx, "demo.generator", map[string]any{"count": 5})
	require.NoError(t, err)
	sinkID, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)
	linkID, err := rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: sinkID, Port: "in"}, 0)
	require.NoError(t, err)

	require.NoError(t, rt.Disconnect(ctx, linkID))
	require.NoError(t, rt.RemoveProcessor(ctx, genID))

	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	snap := rt.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, sinkID, snap.Nodes[0].Node.ID)
	assert.Empty(t, snap.Links)
}

// TestManualCommitDefersRealization confirms CommitManual accumulates
// mutations until an explicit Commit, and that a declare+remove pair
// issued between commits cancels out without residue.
func TestManualCommitDefersRealization(t *testing.T) {
	rt, rec := newRuntime(t)
	rt.SetCommitMode(facade.CommitManual)
	ctx := context.Background()

	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	sinkID, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)

	// No compile has run for this mutation yet: no sink constructed.
	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, rec.last())

	require.NoError(t, rt.Commit(ctx))
	require.Eventually(t, func() bool { return rec.last() != nil }, 2*time.Second, 10*time.Millisecond)

	genID, err := rt.AddProcessor(ctx, "demo.generator", nil)
	require.NoError(t, err)
	require.NoError(t, rt.RemoveProcessor(ctx, genID))
	require.NoError(t, rt.Commit(ctx))

	snap := rt.Snapshot()
	require.Len(t, snap.Nodes, 1)
	assert.Equal(t, sinkID, snap.Nodes[0].Node.ID)
}

// TestFanOutDeliversToEverySink wires one generator's output port into
// two independent sinks and confirms each receives the full sequence in
// order: fan-out at an output port is multiple independent SPSC
// channels, not a shared consumer. The overflow-policy half of the
// asymmetric-consumption story is covered by linkchan's own DropOldest
// tests.
func TestFanOutDeliversToEverySink(t *testing.T) {
	rt, rec := newRuntime(t)
	ctx := context.Background()

	genID, err := rt.AddProcessor(ctx, "demo.generator", map[string]any{"count": 5})
	require.NoError(t, err)
	sinkA, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)
	sinkB, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)

	_, err = rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: sinkA, Port: "in"}, 8)
	require.NoError(t, err)
	_, err = rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: sinkB, Port: "in"}, 8)
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	require.Eventually(t, func() bool {
		sinks := rec.all()
		if len(sinks) != 2 {
			return false
		}
		for _, s := range sinks {
			if len(s.Received()) != 5 {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	for _, s := range rec.all() {
		assert.Equal(t, []int{0, 1, 2, 3, 4}, s.Received())
	}
}

// slowTeardown wraps a Sink so its Teardown takes longer than a fast
// processor's entire lifetime, exercising Stop's per-thread join wait
// the way a buffer-flushing muxer would, scaled down to keep the suite
// fast.
type slowTeardown struct {
	*demoproc.Sink
	delay time.Duration
}

func (s *slowTeardown) Teardown(ctx context.Context) error {
	time.Sleep(s.delay)
	return s.Sink.Teardown(ctx)
}

// TestStopWaitsForSlowTeardown confirms Stop blocks until a processor
// with a lengthy teardown has actually finished, still lands the
// runtime in Idle, and leaves no node behind.
func TestStopWaitsForSlowTeardown(t *testing.T) {
	reg := processor.NewRegistry()
	demoproc.Register(reg)
	reg.Register("demo.slow", processor.Descriptor{
		Inputs: []graph.PortDescriptor{
			{Name: "in", MessageType: "int", DefaultCapacity: 8, DefaultOverflow: graph.OverflowDropNewest},
		},
		Discipline: graph.ExecutionDiscipline{Kind: graph.Reactive},
		New: func(config any) (processor.Instance, error) {
			inst, err := demoproc.NewSink(config)
			if err != nil {
				return nil, err
			}
			return &slowTeardown{Sink: inst.(*demoproc.Sink), delay: 300 * time.Millisecond}, nil
		},
	})
	rt := facade.New(reg, eventbus.NewBus())
	ctx := context.Background()

	genID, err := rt.AddProcessor(ctx, "demo.generator", map[string]any{"count": 1000000})
	require.NoError(t, err)
	slowID, err := rt.AddProcessor(ctx, "demo.slow", nil)
	require.NoError(t, err)
	_, err = rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: slowID, Port: "in"}, 0)
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx))

	began := time.Now()
	require.NoError(t, rt.Stop(ctx))
	assert.GreaterOrEqual(t, time.Since(began), 300*time.Millisecond)
	assert.Equal(t, facade.Idle, rt.State())
	assert.Empty(t, rt.Snapshot().Nodes)
}

// TestPauseHaltsProcessingUntilResume confirms the pause gate freezes a
// continuous source and resume releases it.
func TestPauseHaltsProcessingUntilResume(t *testing.T) {
	rt, rec := newRuntime(t)
	ctx := context.Background()

	genID, err := rt.AddProcessor(ctx, "demo.generator", map[string]any{"count": 1000000})
	require.NoError(t, err)
	sinkID, err := rt.AddProcessor(ctx, "demo.sink", nil)
	require.NoError(t, err)
	_, err = rt.Connect(ctx, graph.PortRef{Node: genID, Port: "out"}, graph.PortRef{Node: sinkID, Port: "in"}, 0)
	require.NoError(t, err)

	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)

	require.Eventually(t, func() bool {
		return rec.last() != nil && len(rec.last().Received()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	rt.Pause()
	// Let any in-flight Process call finish before sampling.
	time.Sleep(50 * time.Millisecond)
	frozen := len(rec.last().Received())
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, frozen, len(rec.last().Received()))

	rt.Resume()
	require.Eventually(t, func() bool {
		return len(rec.last().Received()) > frozen
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStartTwiceFails(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)
	assert.ErrorIs(t, rt.Start(ctx), facade.ErrAlreadyRunning)
}

func TestStopWithoutStartFails(t *testing.T) {
	rt, _ := newRuntime(t)
	assert.ErrorIs(t, rt.Stop(context.Background()), facade.ErrNotRunning)
}

func TestInvokeRejectsNonManualNode(t *testing.T) {
	rt, _ := newRuntime(t)
	ctx := context.Background()
	id, err := rt.AddProcessor(ctx, "demo.generator", nil)
	require.NoError(t, err)
	require.NoError(t, rt.Start(ctx))
	defer rt.Stop(ctx)
	assert.ErrorIs(t, rt.Invoke(ctx, id), facade.ErrNotManual)
}
