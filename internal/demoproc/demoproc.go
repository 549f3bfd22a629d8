// Package demoproc holds small, in-repo processor.Instance
// implementations used to exercise the runtime end to end: a source that
// emits a bounded integer sequence, a sink that records what it
// receives, a filter that transforms values in flight, and a spawner
// that demonstrates a processor's Setup calling back into the façade.
// None of these processors touch real media; concrete capture/codec/
// WebRTC processors live outside this core entirely.
package demoproc

import (
	"context"
	"errors"
	"sync"

	"github.com/streamlib/runtime/internal/linkchan"
)

const wireTypeInt = "int"

// fanout tracks every producer currently bound to one output port,
// mirroring the graph's own OutputPortRegistry at the processor instance
// level: BindOutput/UnbindOutput are called once per wired link, so a
// port with several outbound links accumulates one producer per link
// rather than sharing one.
type fanout struct {
	mu        sync.Mutex
	producers []linkchan.Producer
}

func (f *fanout) bind(p linkchan.Producer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producers = append(f.producers, p)
}

func (f *fanout) unbind(p linkchan.Producer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.producers {
		if existing == p {
			f.producers = append(f.producers[:i], f.producers[i+1:]...)
			return
		}
	}
}

// write delivers msg to every currently bound producer. A port with zero
// bound producers silently drops the message; writing to an output with
// nothing wired is not an error.
func (f *fanout) write(ctx context.Context, msg any) error {
	f.mu.Lock()
	producers := append([]linkchan.Producer(nil), f.producers...)
	f.mu.Unlock()

	var errs []error
	for _, p := range producers {
		if err := p.Write(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// intOr extracts an int field from an opaque config payload (typically a
// map[string]any decoded from YAML), returning def if the field is
// absent or of an unexpected type.
func intOr(config any, field string, def int) int {
	m, ok := config.(map[string]any)
	if !ok {
		return def
	}
	v, ok := m[field]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return def
}
