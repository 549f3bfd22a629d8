package demoproc

import (
	"context"
	"sync/atomic"

	"github.com/streamlib/runtime/internal/graph"
	"github.com/streamlib/runtime/internal/linkchan"
	"github.com/streamlib/runtime/internal/processor"
)

// Spawner is a Manual-discipline node whose Setup calls back into the
// façade to add a companion Sink and wire this node's "out" port to it,
// exercising the setup-time-callback scenario: Setup runs off the graph
// mutation thread (after the ready/continue handshake), so AddProcessor
// and Connect from inside it must not deadlock against the compile that
// is still in the middle of starting this very node.
type Spawner struct {
	out fanout

	spawned atomic.Bool
}

// NewSpawner builds a Spawner. It ignores its config payload.
func NewSpawner(any) (processor.Instance, error) {
	return &Spawner{}, nil
}

func (s *Spawner) Setup(ctx context.Context, rc *processor.Context) error {
	sinkID, err := rc.Facade.AddProcessor(ctx, "demo.sink", nil)
	if err != nil {
		return err
	}
	_, err = rc.Facade.Connect(ctx, graph.PortRef{Node: rc.NodeID, Port: "out"}, graph.PortRef{Node: sinkID, Port: "in"}, 0)
	return err
}

func (s *Spawner) Process(ctx context.Context, _ *processor.Context) error {
	if !s.spawned.CompareAndSwap(false, true) {
		return nil
	}
	return s.out.write(ctx, 1)
}

func (s *Spawner) UpdateConfig(context.Context, any) error { return nil }

func (s *Spawner) Teardown(context.Context) error { return nil }

func (s *Spawner) BindInput(string, linkchan.Consumer) {}

func (s *Spawner) BindOutput(port string, producer linkchan.Producer) {
	if port == "out" {
		s.out.bind(producer)
	}
}

func (s *Spawner) UnbindOutput(port string, producer linkchan.Producer) {
	if port == "out" {
		s.out.unbind(producer)
	}
}
