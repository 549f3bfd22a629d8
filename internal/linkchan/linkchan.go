// Package linkchan implements the typed, bounded, single-producer
// single-consumer channel used to wire one processor's output port to
// another's input port, along with the "plug" null-object endpoints that
// satisfy the port contract when nothing is wired.
package linkchan

import (
	"context"
	"sync/atomic"
)

// OverflowPolicy controls what happens when a write finds the ring full.
type OverflowPolicy int

const (
	// DropNewest discards the message being written. Default for video.
	DropNewest OverflowPolicy = iota
	// DropOldest evicts the head of the ring to make room. Latest-wins.
	DropOldest
	// Block waits for room, honoring ctx cancellation. For hard-delivery audio.
	Block
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropNewest:
		return "drop_newest"
	case DropOldest:
		return "drop_oldest"
	case Block:
		return "block"
	default:
		return "unknown"
	}
}

// Producer is the write side of a link. A plug producer and a real
// producer satisfy the same interface so the hot path never branches on
// whether a port is actually connected.
type Producer interface {
	// Write enqueues msg, applying the endpoint's overflow policy. It only
	// blocks when the endpoint is backed by a Block-policy channel with no
	// room; ctx cancellation unblocks it.
	Write(ctx context.Context, msg any) error
	// MessageType reports the wire type tag this endpoint was wired for.
	MessageType() string
}

// Consumer is the read side of a link. Wake-up notification is not part of
// this interface: it is a property of the owning node (see the graph
// package's WakeChannel component and the runner package), not of an
// individual link, so that fan-in from several wired input ports coalesces
// onto one channel the dispatch loop selects on.
type Consumer interface {
	// TryRead returns the next message without blocking. ok is false when
	// the endpoint has nothing buffered (including: it is a plug).
	TryRead() (msg any, ok bool)
	// MessageType reports the wire type tag this endpoint was wired for.
	MessageType() string
}

// Channel is the SPSC ring buffer backing a single wired Link. It is built
// on a native Go buffered channel: Go's channel implementation already
// gives correct, race-free bounded FIFO semantics for a single producer and
// a single consumer, so the overflow-policy logic here only has to decide
// what happens when that channel is momentarily full rather than
// reimplement ring-index bookkeeping by hand.
type Channel struct {
	messageType   string
	overflow      OverflowPolicy
	buf           chan any
	wake          chan<- struct{}
	overflowCount atomic.Uint64
	onOverflow    func(policy OverflowPolicy, total uint64)
}

// NewChannel allocates a new Channel of the given capacity. wake is the
// destination node's shared wake-up receiver (see runner.Run); every
// successful write attempts a non-blocking, coalesced notification on it.
func NewChannel(capacity int, overflow OverflowPolicy, messageType string, wake chan<- struct{}) *Channel {
	if capacity < 1 {
		capacity = 1
	}
	return &Channel{
		messageType: messageType,
		overflow:    overflow,
		buf:         make(chan any, capacity),
		wake:        wake,
	}
}

// OverflowCount returns the number of messages dropped (or, for DropOldest,
// evicted) by the overflow policy since creation.
func (c *Channel) OverflowCount() uint64 {
	return c.overflowCount.Load()
}

// OnOverflow registers fn to run after every overflow-policy drop, with
// the channel's policy and the new cumulative drop count. The compiler
// uses this to publish link.overflow counter events; fn runs on the
// producer's thread and must not block. Must be set before the producer
// endpoint is handed out.
func (c *Channel) OnOverflow(fn func(policy OverflowPolicy, total uint64)) {
	c.onOverflow = fn
}

func (c *Channel) recordOverflow() {
	total := c.overflowCount.Add(1)
	if c.onOverflow != nil {
		c.onOverflow(c.overflow, total)
	}
}

func (c *Channel) notifyWake() {
	if c.wake == nil {
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Producer returns the write endpoint for this channel.
func (c *Channel) Producer() Producer { return &channelProducer{c: c} }

// Consumer returns the read endpoint for this channel.
func (c *Channel) Consumer() Consumer { return &channelConsumer{c: c} }

type channelProducer struct{ c *Channel }

func (p *channelProducer) MessageType() string { return p.c.messageType }

func (p *channelProducer) Write(ctx context.Context, msg any) error {
	c := p.c
	select {
	case c.buf <- msg:
		c.notifyWake()
		return nil
	default:
	}

	switch c.overflow {
	case Block:
		select {
		case c.buf <- msg:
			c.notifyWake()
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	case DropOldest:
		select {
		case <-c.buf:
		default:
		}
		select {
		case c.buf <- msg:
			c.notifyWake()
		default:
			// Lost the race to a concurrent reader; nothing more to do.
		}
		c.recordOverflow()
		return nil
	default: // DropNewest
		c.recordOverflow()
		return nil
	}
}

type channelConsumer struct{ c *Channel }

func (c *channelConsumer) MessageType() string { return c.c.messageType }

func (c *channelConsumer) TryRead() (any, bool) {
	select {
	case msg := <-c.c.buf:
		return msg, true
	default:
		return nil, false
	}
}

