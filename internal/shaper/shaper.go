// Package shaper implements the global token-bucket admission gate at the
// encapsulator: continuous refill, no fixed-tick coarseness.
package shaper

import (
	"sync"

	"github.com/xtaci/godiode/internal/clock"
)

// Bucket is a continuously-refilling token bucket. Safe for concurrent use.
type Bucket struct {
	mu            sync.Mutex
	clk           clock.Clock
	tokens        float64
	capacity      float64
	refillPerSec  float64
	lastRefillNs  int64
}

// New builds a Bucket starting full, with the given capacity and refill
// rate (tokens/sec).
func New(clk clock.Clock, capacity, refillPerSec uint32) *Bucket {
	return &Bucket{
		clk:          clk,
		tokens:       float64(capacity),
		capacity:     float64(capacity),
		refillPerSec: float64(refillPerSec),
		lastRefillNs: clk.NowNanos(),
	}
}

// Allow refills continuously, then attempts to take one token.
func (b *Bucket) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.NowNanos()
	elapsed := now - b.lastRefillNs
	if elapsed < 0 {
		elapsed = 0
	}
	b.tokens += float64(elapsed) * b.refillPerSec / 1e9
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefillNs = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// Tokens returns the current token count, for metrics/tests.
func (b *Bucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}
