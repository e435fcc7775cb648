// Package breaker implements a three-state circuit breaker guarding the
// encapsulator's UDP send.
package breaker

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/xtaci/godiode/internal/clock"
)

// State names the breaker's current mode.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Allow when the breaker rejects a call.
var ErrOpen = errors.New("breaker: circuit open")

// Config holds the breaker's tunables.
type Config struct {
	FailureThreshold   uint32
	SuccessThreshold   uint32
	OpenTimeoutMillis  int64
	HalfOpenMaxInFlight uint32
}

// DefaultConfig returns the breaker's recommended defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		OpenTimeoutMillis:   30000,
		HalfOpenMaxInFlight: 3,
	}
}

// Breaker is a mutex-guarded closed/open/half-open state machine.
type Breaker struct {
	mu   sync.Mutex
	clk  clock.Clock
	cfg  Config

	state             State
	consecutiveFailures uint32
	openedAtMillis    int64
	halfOpenInFlight  uint32
	halfOpenSuccesses uint32
}

// New builds a Breaker starting Closed.
func New(clk clock.Clock, cfg Config) *Breaker {
	return &Breaker{clk: clk, cfg: cfg, state: Closed}
}

// Allow decides whether a call may proceed. On success it returns nil and
// the caller must subsequently call RecordSuccess or RecordFailure exactly
// once. On rejection it returns ErrOpen and must not call the guarded
// operation at all.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return nil
	case Open:
		now := b.clk.NowMillis()
		if now-b.openedAtMillis < b.cfg.OpenTimeoutMillis {
			return ErrOpen
		}
		// timeout elapsed: transition to half-open and admit this call as a probe.
		b.state = HalfOpen
		b.halfOpenInFlight = 1
		b.halfOpenSuccesses = 0
		return nil
	case HalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMaxInFlight {
			return ErrOpen
		}
		b.halfOpenInFlight++
		return nil
	default:
		return nil
	}
}

// RecordSuccess reports that a call admitted by Allow succeeded.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures = 0
	case HalfOpen:
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.toClosedLocked()
		} else if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
	}
}

// RecordFailure reports that a call admitted by Allow failed.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.consecutiveFailures++
		if b.consecutiveFailures >= b.cfg.FailureThreshold {
			b.toOpenLocked()
		}
	case HalfOpen:
		b.toOpenLocked()
	}
}

func (b *Breaker) toOpenLocked() {
	b.state = Open
	b.openedAtMillis = b.clk.NowMillis()
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0
}

func (b *Breaker) toClosedLocked() {
	b.state = Closed
	b.consecutiveFailures = 0
	b.halfOpenInFlight = 0
	b.halfOpenSuccesses = 0
}

// Reset forces the breaker back to Closed, for operator recovery.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosedLocked()
}

// State reports the current state, for metrics/tests.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
