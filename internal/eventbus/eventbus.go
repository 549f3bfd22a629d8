// Package eventbus defines the publish-only interface the core depends
// on for lifecycle notifications, plus an in-memory fan-out
// implementation. The core never depends on a transport: serialization
// and cross-process delivery are out of scope, so the bus here is a
// same-process pub/sub used by tests, the `streamrt status` CLI, and
// any in-process tap point.
package eventbus

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind names the lifecycle event taxonomy from the publish contract.
type Kind string

const (
	RuntimeStarted Kind = "runtime.started"
	RuntimeStopped Kind = "runtime.stopped"
	RuntimePaused  Kind = "runtime.paused"
	RuntimeResumed Kind = "runtime.resumed"

	ProcessorCreating      Kind = "processor.creating"
	ProcessorCreated       Kind = "processor.created"
	ProcessorStarting      Kind = "processor.starting"
	ProcessorStarted       Kind = "processor.started"
	ProcessorStopping      Kind = "processor.stopping"
	ProcessorStopped       Kind = "processor.stopped"
	ProcessorFailed        Kind = "processor.failed"
	ProcessorConfigUpdated Kind = "processor.config_updated"

	LinkPending       Kind = "link.pending"
	LinkWired         Kind = "link.wired"
	LinkDisconnecting Kind = "link.disconnecting"
	LinkDisconnected  Kind = "link.disconnected"
	LinkError         Kind = "link.error"
	LinkOverflow      Kind = "link.overflow"
)

// Event is one envelope published on the bus. ID is a uuid distinct from
// any graph entity id, so a tap-point subscriber can de-duplicate
// redelivered events without confusing it for a NodeID/LinkID.
type Event struct {
	ID      string
	Kind    Kind
	At      time.Time
	NodeID  string
	LinkID  string
	Attrs   map[string]any
	Message string
}

// Publisher is the out-bound contract the core depends on. Compiler,
// runner, and facade code hold one of these, never a concrete bus type.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// New returns an Event stamped with a fresh id and the current time.
func New(kind Kind, nodeID, linkID, message string, attrs map[string]any) Event {
	return Event{
		ID:      uuid.NewString(),
		Kind:    kind,
		At:      time.Now(),
		NodeID:  nodeID,
		LinkID:  linkID,
		Attrs:   attrs,
		Message: message,
	}
}

// Bus is an in-memory, fan-out-to-all-subscribers publisher. Publish
// never blocks on a slow subscriber: each subscriber has its own bounded
// channel, and a full channel drops the event for that subscriber only,
// mirroring the link channel's own DropNewest overflow policy rather than
// inventing a second semantics for "what happens when nobody is
// listening fast enough".
type Bus struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// NewBus returns an empty in-memory bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a channel buffered to capacity (at least 1) and an
// unsubscribe function. The channel is closed by Unsubscribe, never by
// the bus spontaneously.
func (b *Bus) Subscribe(capacity int) (<-chan Event, func()) {
	if capacity < 1 {
		capacity = 1
	}
	b.mu.Lock()
	id := b.next
	b.next++
	ch := make(chan Event, capacity)
	b.subs[id] = ch
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if ch, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
	}
	return ch, unsub
}

// Publish fans ev out to every current subscriber, non-blocking.
func (b *Bus) Publish(_ context.Context, ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Noop is a Publisher that discards every event, used where a caller
// does not want to wire a real bus (e.g. minimal unit tests of the
// compiler or runner in isolation).
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}
