package processor

import "time"

// SystemClock is the default Clock, backed by the wall clock. Tests that
// need deterministic timestamps supply their own Clock implementation
// instead.
type SystemClock struct{}

func (SystemClock) Now() int64 { return time.Now().UnixNano() }
