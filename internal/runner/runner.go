// Package runner implements the processor thread body: the nine-step
// sequence a dedicated-thread processor's owning goroutine runs from
// construction through teardown, and the three dispatch loop shapes
// (Continuous, Reactive, Manual) that drive a running processor's
// Process calls.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/streamlib/runtime/internal/eventbus"
	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/processor"
)

// Deps bundles the collaborators the thread body needs beyond the graph
// itself, so Run's signature stays stable as new cross-cutting concerns
// (logging, clock injection) are added.
type Deps struct {
	Registry *processor.Registry
	Bus      eventbus.Publisher
	Facade   processor.FacadeHandle
	Clock    processor.Clock
	Logger   *slog.Logger
}

// Run is the thread body spawned by the compiler's START phase for node
// id. It owns the node's lifecycle end to end: factory construction,
// the ready/continue handshake, setup, the discipline-specific dispatch
// loop, and teardown on every exit path including panics. The caller
// (compiler) supplies ctx already scoped to this node's ThreadHandle
// cancellation; Run returns only after teardown has completed, and
// always marks the node's ThreadHandle exited exactly once.
func Run(ctx context.Context, g *graph.Graph, id graph.NodeID, deps Deps) {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("node_id", id.String()))

	handle, err := graph.Get[*graph.ThreadHandle](g, id)
	if err != nil {
		// START always attaches a ThreadHandle before spawning; a
		// missing handle here is a compiler bug, not a runtime
		// condition to recover from gracefully.
		panic(fmt.Sprintf("runner: no ThreadHandle attached for node %s", id))
	}

	handle.MarkExited(runGuarded(ctx, g, id, deps, log))
}

// runGuarded wraps run in a panic recovery that still performs teardown:
// every exit path, including a fault inside the dispatch loop, must
// release what setup acquired.
func runGuarded(ctx context.Context, g *graph.Graph, id graph.NodeID, deps Deps, log *slog.Logger) (resultErr error) {
	defer func() {
		if r := recover(); r != nil {
			resultErr = fmt.Errorf("panic in processor thread: %v", r)
			if sc, err := graph.Get[*graph.StateComponent](g, id); err == nil {
				sc.Fail(resultErr)
			}
			if inst, err := graph.Get[processor.Instance](g, id); err == nil {
				safeTeardown(ctx, inst, log)
			}
		}
	}()
	return run(ctx, g, id, deps, log)
}

func safeTeardown(ctx context.Context, inst processor.Instance, log *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during teardown after earlier panic", slog.Any("panic", r))
		}
	}()
	if err := inst.Teardown(ctx); err != nil {
		log.Warn("teardown failed", slog.String("error", err.Error()))
	}
}

func run(ctx context.Context, g *graph.Graph, id graph.NodeID, deps Deps, log *slog.Logger) error {
	node, err := g.Node(id)
	if err != nil {
		return err
	}
	state, err := graph.Get[*graph.StateComponent](g, id)
	if err != nil {
		return err
	}
	shutdown, _ := graph.Get[*graph.ShutdownChannel](g, id)
	barrier, _ := graph.Get[*graph.ReadyBarrier](g, id)
	pause, _ := graph.Get[*graph.PauseGate](g, id)

	// Step 1: construct the concrete processor via the factory registry.
	desc, err := deps.Registry.Lookup(node.Kind)
	if err != nil {
		state.Fail(err)
		publish(ctx, deps.Bus, eventbus.ProcessorFailed, id, "", err.Error())
		return err
	}
	inst, err := desc.New(node.Config)
	if err != nil {
		wrapped := fmt.Errorf("construct processor %s: %w", node.Kind, err)
		state.Fail(wrapped)
		publish(ctx, deps.Bus, eventbus.ProcessorFailed, id, "", wrapped.Error())
		return wrapped
	}

	// Step 2: thread priority is a best-effort platform hint; this core
	// has no OS-specific scheduling glue (out of scope), so it is only
	// logged, never failed on.
	log.Debug("thread priority requested", slog.String("priority", node.Priority.String()))

	// Step 3: briefly touch the graph lock to attach the instance.
	if err := graph.Attach[processor.Instance](g, id, inst); err != nil {
		state.Fail(err)
		return err
	}
	publish(ctx, deps.Bus, eventbus.ProcessorCreated, id, "", "")

	// Step 4: signal ready.
	barrier.SignalReady()

	// Step 5: wait for continue, but stay shutdown- and ctx-aware so a
	// sibling's construction failure aborting the compile cannot wedge
	// this thread forever.
	select {
	case <-barrier.Continue():
	case <-shutdown.Done():
		return finish(ctx, inst, state, log, nil)
	case <-ctx.Done():
		return finish(ctx, inst, state, log, ctx.Err())
	}

	clock := deps.Clock
	if clock == nil {
		clock = processor.SystemClock{}
	}
	rc := &processor.Context{
		NodeID:   id,
		Clock:    clock,
		Facade:   deps.Facade,
		Pause:    pause,
		Shutdown: shutdown,
	}

	// Step 6: setup.
	publish(ctx, deps.Bus, eventbus.ProcessorStarting, id, "", "")
	if err := inst.Setup(ctx, rc); err != nil {
		state.Fail(err)
		publish(ctx, deps.Bus, eventbus.ProcessorFailed, id, "", err.Error())
		return finish(ctx, inst, state, log, err)
	}

	// Step 7: running, enter the dispatch loop.
	state.Set(graph.StateRunning)
	publish(ctx, deps.Bus, eventbus.ProcessorStarted, id, "", "")

	configCh, _ := graph.Get[*graph.ConfigChannel](g, id)
	loopErr := dispatch(ctx, g, id, node.Discipline, inst, rc, pause, shutdown, configCh, log)

	// Step 8: stopping.
	state.Set(graph.StateStopping)
	publish(ctx, deps.Bus, eventbus.ProcessorStopping, id, "", "")

	// Step 9: teardown on every path.
	return finish(ctx, inst, state, log, loopErr)
}

// finish runs Teardown exactly once and sets the terminal state. Per the
// thread body's step 9, a successful teardown always lands the node in
// Stopped — even if an earlier step (Setup) had marked it Failed — since
// Failed is meant to flag the last lifecycle error, not linger as a
// permanent state once the thread has actually wound down; a caller
// wanting to know "did this run cleanly" reads the returned error, which
// carries the original cause independent of the final state label.
func finish(ctx context.Context, inst processor.Instance, state *graph.StateComponent, log *slog.Logger, priorErr error) error {
	if err := inst.Teardown(ctx); err != nil {
		log.Warn("teardown failed", slog.String("error", err.Error()))
		state.Fail(err)
		if priorErr == nil {
			priorErr = err
		}
		return priorErr
	}
	state.Set(graph.StateStopped)
	return priorErr
}

func publish(ctx context.Context, bus eventbus.Publisher, kind eventbus.Kind, id graph.NodeID, linkID, message string) {
	if bus == nil {
		return
	}
	bus.Publish(ctx, eventbus.New(kind, id.String(), linkID, message, nil))
}

// dispatch runs the discipline-specific loop until shutdown, ctx
// cancellation, or the processor signals natural completion via
// processor.ErrComplete.
func dispatch(ctx context.Context, g *graph.Graph, id graph.NodeID, disc graph.ExecutionDiscipline, inst processor.Instance, rc *processor.Context, pause *graph.PauseGate, shutdown *graph.ShutdownChannel, configCh *graph.ConfigChannel, log *slog.Logger) error {
	switch disc.Kind {
	case graph.Continuous:
		return dispatchContinuous(ctx, disc, inst, rc, pause, shutdown, configCh, log)
	case graph.Reactive:
		return dispatchReactive(ctx, g, id, inst, rc, pause, shutdown, configCh, log)
	case graph.Manual:
		return dispatchManual(ctx, g, id, inst, rc, pause, shutdown, configCh, log)
	default:
		return fmt.Errorf("runner: unknown discipline %v", disc.Kind)
	}
}

// applyConfigUpdate drains a pending config-update (delivered by the
// compiler's processors_to_update phase) and hands it to the processor
// on its own thread, never under the graph lock.
func applyConfigUpdate(ctx context.Context, inst processor.Instance, configCh *graph.ConfigChannel, log *slog.Logger) {
	if configCh == nil {
		return
	}
	cfg, ok := configCh.TryRecv()
	if !ok {
		return
	}
	if err := inst.UpdateConfig(ctx, cfg); err != nil {
		log.Warn("config update failed", slog.String("error", err.Error()))
	}
}

func dispatchContinuous(ctx context.Context, disc graph.ExecutionDiscipline, inst processor.Instance, rc *processor.Context, pause *graph.PauseGate, shutdown *graph.ShutdownChannel, configCh *graph.ConfigChannel, log *slog.Logger) error {
	interval := time.Duration(disc.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pause.Wait(shutdown.Done())
		if shuttingDown(ctx, shutdown) {
			return ctxErr(ctx)
		}
		applyConfigUpdate(ctx, inst, configCh, log)

		if err := inst.Process(ctx, rc); err != nil {
			if err == processor.ErrComplete {
				return nil
			}
			log.Warn("process failed", slog.String("error", err.Error()))
		}

		select {
		case <-shutdown.Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func dispatchReactive(ctx context.Context, g *graph.Graph, id graph.NodeID, inst processor.Instance, rc *processor.Context, pause *graph.PauseGate, shutdown *graph.ShutdownChannel, configCh *graph.ConfigChannel, log *slog.Logger) error {
	wake, err := graph.Get[*graph.WakeChannel](g, id)
	if err != nil {
		return fmt.Errorf("reactive node %s has no wake channel: %w", id, err)
	}
	for {
		pause.Wait(shutdown.Done())
		if shuttingDown(ctx, shutdown) {
			return ctxErr(ctx)
		}
		applyConfigUpdate(ctx, inst, configCh, log)

		wake.Recv(ctx, shutdown.Done())
		if shuttingDown(ctx, shutdown) {
			return ctxErr(ctx)
		}

		if err := inst.Process(ctx, rc); err != nil {
			if err == processor.ErrComplete {
				return nil
			}
			log.Warn("process failed", slog.String("error", err.Error()))
		}
	}
}

func dispatchManual(ctx context.Context, g *graph.Graph, id graph.NodeID, inst processor.Instance, rc *processor.Context, pause *graph.PauseGate, shutdown *graph.ShutdownChannel, configCh *graph.ConfigChannel, log *slog.Logger) error {
	invoke, err := graph.Get[*graph.InvokeChannel](g, id)
	if err != nil {
		return fmt.Errorf("manual node %s has no invoke channel: %w", id, err)
	}
	for {
		pause.Wait(shutdown.Done())
		if shuttingDown(ctx, shutdown) {
			return ctxErr(ctx)
		}
		applyConfigUpdate(ctx, inst, configCh, log)

		req, ok := invoke.Recv(ctx, shutdown.Done())
		if !ok {
			return nil
		}

		procErr := inst.Process(ctx, rc)
		if req.Done != nil {
			req.Done <- procErr
		}
		if procErr != nil && procErr != processor.ErrComplete {
			log.Warn("process failed", slog.String("error", procErr.Error()))
		}
		if procErr == processor.ErrComplete {
			return nil
		}
	}
}

func shuttingDown(ctx context.Context, shutdown *graph.ShutdownChannel) bool {
	select {
	case <-shutdown.Done():
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
