package demoproc

import (
	"context"
	"sync"

	"github.com/streamlib/runtime/internal/linkchan"
	"github.com/streamlib/runtime/internal/processor"
)

// Sink is a Reactive-discipline terminal node: each wake-up drains its
// "in" port and appends whatever arrives to an in-memory log, exposed
// to tests via Received.
type Sink struct {
	in linkchan.Consumer

	mu       sync.Mutex
	received []int
}

// NewSink builds a Sink. It ignores its config payload; there is nothing
// to configure.
func NewSink(any) (processor.Instance, error) {
	return &Sink{in: linkchan.PlugConsumer()}, nil
}

func (s *Sink) Setup(_ context.Context, _ *processor.Context) error { return nil }

func (s *Sink) Process(_ context.Context, _ *processor.Context) error {
	for {
		msg, ok := s.in.TryRead()
		if !ok {
			return nil
		}
		n, ok := msg.(int)
		if !ok {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, n)
		s.mu.Unlock()
	}
}

func (s *Sink) UpdateConfig(context.Context, any) error { return nil }

func (s *Sink) Teardown(context.Context) error { return nil }

func (s *Sink) BindInput(port string, consumer linkchan.Consumer) {
	if port == "in" {
		s.in = consumer
	}
}

func (s *Sink) BindOutput(string, linkchan.Producer)   {}
func (s *Sink) UnbindOutput(string, linkchan.Producer) {}

// Received returns a snapshot of every value the sink has recorded so
// far, in arrival order.
func (s *Sink) Received() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.received))
	copy(out, s.received)
	return out
}
