// Package clock provides an injectable time source: the rate limiter,
// shaper, breaker, and heartbeat monitor all need deterministic time in
// tests, so direct calls to time.Now() are kept behind this one seam.
package clock

import "time"

// Clock is the minimal time source the data plane depends on.
type Clock interface {
	NowMillis() int64
	NowNanos() int64
}

// Real is the production Clock backed by the system clock.
type Real struct{}

func (Real) NowMillis() int64 { return time.Now().UnixMilli() }
func (Real) NowNanos() int64  { return time.Now().UnixNano() }

// Fake is a controllable Clock for tests, tracked at nanosecond resolution.
type Fake struct {
	nanos int64
}

// NewFake returns a Fake clock starting at the given millisecond instant.
func NewFake(startMillis int64) *Fake {
	return &Fake{nanos: startMillis * int64(time.Millisecond)}
}

func (f *Fake) NowMillis() int64 { return f.nanos / int64(time.Millisecond) }
func (f *Fake) NowNanos() int64  { return f.nanos }

// Advance moves the fake clock forward.
func (f *Fake) Advance(d time.Duration) {
	f.nanos += int64(d)
}
