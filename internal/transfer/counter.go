package transfer

import "sync/atomic"

// ByteCounter accumulates bytes written by many concurrent transfers.
//
// Writers only add, and a single sampler drains with a swap-to-zero read, so
// no increment is ever lost or double counted. Once the owner closes the
// counter, further adds are silently dropped; an in-flight transfer keeps a
// reference but must not resurrect a finished run's telemetry.
type ByteCounter struct {
	n      atomic.Uint64
	closed atomic.Bool
}

// NewByteCounter returns a zeroed counter.
func NewByteCounter() *ByteCounter {
	return &ByteCounter{}
}

// Add records n more bytes. It is a no-op after Close.
//
// A wrap of the uint64 value means the sampler has not drained for an
// impossibly long time; that is a bug, not a measurement, so Add panics.
func (c *ByteCounter) Add(n uint64) {
	if c.closed.Load() {
		return
	}

	if c.n.Add(n) < n {
		panic("transfer: byte counter overflow")
	}
}

// Write implements io.Writer so the counter can be teed into a copy.
func (c *ByteCounter) Write(p []byte) (int, error) {
	c.Add(uint64(len(p)))

	return len(p), nil
}

// Drain atomically reads the accumulated byte count and resets it to zero.
// Only the speed sampler may call Drain.
func (c *ByteCounter) Drain() uint64 {
	return c.n.Swap(0)
}

// Close invalidates the counter: subsequent adds are dropped. The sampler
// uses Closed as its stop signal.
func (c *ByteCounter) Close() {
	c.closed.Store(true)
}

// Closed reports whether the owner has invalidated the counter.
func (c *ByteCounter) Closed() bool {
	return c.closed.Load()
}
