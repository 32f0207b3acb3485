// Package counter provides a concurrency-safe counter, used by the BGP peer
// actor to count frames dropped by its bounded outbound queue.
package counter

import (
	"fmt"
	"sync/atomic"
)

// Counter is a 64 bit monotonically increasing counter.
type Counter struct {
	count atomic.Uint64
}

// New creates a new zeroed counter.
func New() *Counter {
	return new(Counter)
}

// Reset sets the counter back to zero.
func (c *Counter) Reset() {
	c.count.Store(0)
}

// Increment adds one to the counter and returns the new value.
func (c *Counter) Increment() uint64 {
	return c.count.Add(1)
}

// Value returns the current count.
func (c *Counter) Value() uint64 {
	return c.count.Load()
}

// String implements fmt.Stringer.
func (c *Counter) String() string {
	return fmt.Sprintf("%d", c.Value())
}
