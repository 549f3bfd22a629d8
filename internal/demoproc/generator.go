package demoproc

import (
	"context"
	"sync/atomic"

	"github.com/streamlib/runtime/internal/linkchan"
	"github.com/streamlib/runtime/internal/processor"
)

// Generator is a Continuous-discipline source: each Process call emits
// the next int in 0..Count-1 on its "out" port, then returns
// processor.ErrComplete once exhausted so the runner tears it down
// cleanly instead of ticking forever.
type Generator struct {
	Count int

	out  fanout
	next atomic.Int64
}

// NewGenerator builds a Generator from a processor config payload,
// reading an optional "count" field (default 10).
func NewGenerator(config any) (processor.Instance, error) {
	return &Generator{Count: intOr(config, "count", 10)}, nil
}

func (g *Generator) Setup(_ context.Context, _ *processor.Context) error { return nil }

func (g *Generator) Process(ctx context.Context, _ *processor.Context) error {
	n := g.next.Add(1) - 1
	if n >= int64(g.Count) {
		return processor.ErrComplete
	}
	return g.out.write(ctx, int(n))
}

func (g *Generator) UpdateConfig(_ context.Context, config any) error {
	g.Count = intOr(config, "count", g.Count)
	return nil
}

func (g *Generator) Teardown(_ context.Context) error { return nil }

func (g *Generator) BindInput(string, linkchan.Consumer) {}

func (g *Generator) BindOutput(port string, producer linkchan.Producer) {
	if port == "out" {
		g.out.bind(producer)
	}
}

func (g *Generator) UnbindOutput(port string, producer linkchan.Producer) {
	if port == "out" {
		g.out.unbind(producer)
	}
}
