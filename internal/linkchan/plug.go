package linkchan

import "context"

// plug is the sentinel producer and consumer: it performs no I/O. A plug
// producer drops every write; a plug consumer always reports "no data".
// Every input port always has exactly one consumer endpoint bound, real or
// plug, so processor code calling into its bound ports never needs a
// nil-check branch.
type plug struct{}

func (plug) MessageType() string { return "" }

func (plug) Write(_ context.Context, _ any) error { return nil }

func (plug) TryRead() (any, bool) { return nil, false }

var singleton = plug{}

// PlugProducer returns the shared null-object producer.
func PlugProducer() Producer { return singleton }

// PlugConsumer returns the shared null-object consumer.
func PlugConsumer() Consumer { return singleton }
