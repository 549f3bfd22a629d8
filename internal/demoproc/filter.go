package demoproc

import (
	"context"

	"github.com/streamlib/runtime/internal/linkchan"
	"github.com/streamlib/runtime/internal/processor"
)

// Filter is a Reactive-discipline passthrough transform: it multiplies
// every int it reads on "in" by Factor before writing it to "out". It
// exists to demonstrate splicing a node into a running graph between an
// existing producer and consumer without either of them being aware of
// the change.
type Filter struct {
	Factor int

	in  linkchan.Consumer
	out fanout
}

// NewFilter builds a Filter from a config payload, reading an optional
// "factor" field (default 2).
func NewFilter(config any) (processor.Instance, error) {
	return &Filter{Factor: intOr(config, "factor", 2), in: linkchan.PlugConsumer()}, nil
}

func (f *Filter) Setup(_ context.Context, _ *processor.Context) error { return nil }

func (f *Filter) Process(ctx context.Context, _ *processor.Context) error {
	for {
		msg, ok := f.in.TryRead()
		if !ok {
			return nil
		}
		n, ok := msg.(int)
		if !ok {
			continue
		}
		if err := f.out.write(ctx, n*f.Factor); err != nil {
			return err
		}
	}
}

func (f *Filter) UpdateConfig(_ context.Context, config any) error {
	f.Factor = intOr(config, "factor", f.Factor)
	return nil
}

func (f *Filter) Teardown(context.Context) error { return nil }

func (f *Filter) BindInput(port string, consumer linkchan.Consumer) {
	if port == "in" {
		f.in = consumer
	}
}

func (f *Filter) BindOutput(port string, producer linkchan.Producer) {
	if port == "out" {
		f.out.bind(producer)
	}
}

func (f *Filter) UnbindOutput(port string, producer linkchan.Producer) {
	if port == "out" {
		f.out.unbind(producer)
	}
}
