package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamlib/runtime/internal/eventbus"
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/linkchan"
	"github.com/streamlib/runtime/internal/processor"
)

// fakeInstance is a minimal processor.Instance used to exercise the
// thread body and dispatch loops without a concrete demo processor.
type fakeInstance struct {
	setupErr    error
	processes   atomic.Int32
	completeAt  int32
	teardownErr error
	teardownHit atomic.Bool
}

func (f *fakeInstance) Setup(context.Context, *processor.Context) error { return f.setupErr }

func (f *fakeInstance) Process(context.Context, *processor.Context) error {
	n := f.processes.Add(1)
	if f.completeAt > 0 && n >= f.completeAt {
		return processor.ErrComplete
	}
	return nil
}

func (f *fakeInstance) UpdateConfig(context.Context, any) error { return nil }

func (f *fakeInstance) Teardown(context.Context) error {
	f.teardownHit.Store(true)
	return f.teardownErr
}

func (f *fakeInstance) BindInput(string, linkchan.Consumer)    {}
func (f *fakeInstance) BindOutput(string, linkchan.Producer)   {}
func (f *fakeInstance) UnbindOutput(string, linkchan.Producer) {}

// setupNode attaches every component CREATE would attach, registers a
// factory returning inst, and returns the node id.
func setupNode(t *testing.T, g *graph.Graph, disc graph.ExecutionDiscipline, inst processor.Instance) (graph.NodeID, *processor.Registry) {
	t.Helper()
	node := ProcessorNodeFixture(disc)
	require.NoError(t, g.AddNode(node))

	require.NoError(t, graph.Attach(g, node.ID, graph.NewStateComponent()))
	require.NoError(t, graph.Attach(g, node.ID, graph.NewShutdownChannel()))
	require.NoError(t, graph.Attach(g, node.ID, graph.NewPauseGate()))
	require.NoError(t, graph.Attach(g, node.ID, graph.NewReadyBarrier()))
	require.NoError(t, graph.Attach(g, node.ID, graph.NewWakeChannel()))
	require.NoError(t, graph.Attach(g, node.ID, graph.NewInvokeChannel()))
	require.NoError(t, graph.Attach(g, node.ID, graph.NewOutputPortRegistry(node.Outputs)))
	require.NoError(t, graph.Attach(g, node.ID, graph.NewInputPortRegistry(node.Inputs)))

	reg := processor.NewRegistry()
	reg.Register(node.Kind, processor.Descriptor{New: func(any) (processor.Instance, error) { return inst, nil }})
	return node.ID, reg
}

func ProcessorNodeFixture(disc graph.ExecutionDiscipline) *graph.ProcessorNode {
	return &graph.ProcessorNode{
		ID:         graph.NewNodeID(),
		Kind:       "test.fake",
		Discipline: disc,
	}
}

func runToExit(t *testing.T, g *graph.Graph, id graph.NodeID, reg *processor.Registry) (done chan struct{}) {
	t.Helper()
	require.NoError(t, graph.Attach(g, id, graph.NewThreadHandle(func() {})))
	ctx := context.Background()
	deps := Deps{Registry: reg, Bus: eventbus.Noop{}}

	barrier, err := graph.Get[*graph.ReadyBarrier](g, id)
	require.NoError(t, err)

	done = make(chan struct{})
	go func() {
		Run(ctx, g, id, deps)
		close(done)
	}()

	select {
	case <-barrier.Ready():
	case <-time.After(time.Second):
		t.Fatal("processor never signaled ready")
	}
	barrier.SignalContinue()
	return done
}

func TestRunContinuousCompletesNaturally(t *testing.T) {
	g := graph.New()
	inst := &fakeInstance{completeAt: 3}
	id, reg := setupNode(t, g, graph.ExecutionDiscipline{Kind: graph.Continuous, IntervalMS: 1}, inst)

	done := runToExit(t, g, id, reg)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("processor did not exit after ErrComplete")
	}

	assert.True(t, inst.teardownHit.Load())
	state, _ := graph.Get[*graph.StateComponent](g, id)
	s, _ := state.Get()
	assert.Equal(t, graph.StateStopped, s)
}

func TestRunReactiveRespondsToWake(t *testing.T) {
	g := graph.New()
	inst := &fakeInstance{}
	id, reg := setupNode(t, g, graph.ExecutionDiscipline{Kind: graph.Reactive}, inst)

	handle := graph.NewThreadHandle(func() {})
	require.NoError(t, graph.Attach(g, id, handle))
	deps := Deps{Registry: reg, Bus: eventbus.Noop{}}
	barrier, err := graph.Get[*graph.ReadyBarrier](g, id)
	require.NoError(t, err)

	go Run(context.Background(), g, id, deps)
	<-barrier.Ready()
	barrier.SignalContinue()

	wake, err := graph.Get[*graph.WakeChannel](g, id)
	require.NoError(t, err)
	wake.Sender() <- struct{}{}

	require.Eventually(t, func() bool { return inst.processes.Load() >= 1 }, time.Second, 5*time.Millisecond)

	shutdown, err := graph.Get[*graph.ShutdownChannel](g, id)
	require.NoError(t, err)
	shutdown.Signal()

	select {
	case <-handle.Exited:
	case <-time.After(time.Second):
		t.Fatal("reactive processor did not exit after shutdown")
	}
}

func TestRunManualRespondsToInvoke(t *testing.T) {
	g := graph.New()
	inst := &fakeInstance{}
	id, reg := setupNode(t, g, graph.ExecutionDiscipline{Kind: graph.Manual}, inst)

	handle := graph.NewThreadHandle(func() {})
	require.NoError(t, graph.Attach(g, id, handle))
	deps := Deps{Registry: reg, Bus: eventbus.Noop{}}
	barrier, err := graph.Get[*graph.ReadyBarrier](g, id)
	require.NoError(t, err)

	go Run(context.Background(), g, id, deps)
	<-barrier.Ready()
	barrier.SignalContinue()

	invoke, err := graph.Get[*graph.InvokeChannel](g, id)
	require.NoError(t, err)
	resultCh := make(chan error, 1)
	invoke.Sender() <- graph.InvokeRequest{Done: resultCh}

	select {
	case err := <-resultCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manual invoke was never serviced")
	}

	shutdown, err := graph.Get[*graph.ShutdownChannel](g, id)
	require.NoError(t, err)
	shutdown.Signal()
	select {
	case <-handle.Exited:
	case <-time.After(time.Second):
		t.Fatal("manual processor did not exit after shutdown")
	}
}

func TestRunSetupFailureStillTearsDown(t *testing.T) {
	g := graph.New()
	inst := &fakeInstance{setupErr: assert.AnError}
	id, reg := setupNode(t, g, graph.ExecutionDiscipline{Kind: graph.Manual}, inst)

	done := runToExit(t, g, id, reg)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread did not exit after setup failure")
	}
	assert.True(t, inst.teardownHit.Load())
}

func TestRunPanicInProcessStillTearsDownAndFails(t *testing.T) {
	g := graph.New()
	inst := &panicInstance{}
	id, reg := setupNode(t, g, graph.ExecutionDiscipline{Kind: graph.Continuous, IntervalMS: 1}, inst)

	done := runToExit(t, g, id, reg)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("thread did not exit after panic")
	}
	assert.True(t, inst.teardownHit.Load())
	state, _ := graph.Get[*graph.StateComponent](g, id)
	s, _ := state.Get()
	assert.Equal(t, graph.StateFailed, s)
}

type panicInstance struct {
	teardownHit atomic.Bool
}

func (p *panicInstance) Setup(context.Context, *processor.Context) error { return nil }
func (p *panicInstance) Process(context.Context, *processor.Context) error {
	panic("boom")
}
func (p *panicInstance) UpdateConfig(context.Context, any) error { return nil }
func (p *panicInstance) Teardown(context.Context) error {
	p.teardownHit.Store(true)
	return nil
}
func (p *panicInstance) BindInput(string, linkchan.Consumer)    {}
func (p *panicInstance) BindOutput(string, linkchan.Producer)   {}
func (p *panicInstance) UnbindOutput(string, linkchan.Producer) {}
