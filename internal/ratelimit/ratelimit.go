// Package ratelimit implements a per-source-IP fixed 1-second window
// admission gate: a bounded table of rate-tracking entries, swept
// periodically and capped with oldest-first eviction so an unbounded
// number of distinct source IPs can never grow the table without limit.
package ratelimit

import (
	"sync"

	"github.com/xtaci/godiode/internal/clock"
)

const (
	windowMillis      = 1000
	sweepTTLMillis    = 10000
	// DefaultMaxEntries bounds the table's distinct-source-IP count.
	DefaultMaxEntries = 10000
)

type entry struct {
	count       uint32
	windowStart int64
	// insertedAt orders eviction when the table overflows: oldest wins.
	insertedAt int64
}

// Decision is the outcome of a Check call.
type Decision struct {
	Allowed bool
	Count   uint32
	Limit   uint32
}

// Limiter is a per-source-IP fixed-window rate limiter. Safe for concurrent
// use; all state lives behind a single mutex.
type Limiter struct {
	mu         sync.Mutex
	clk        clock.Clock
	maxPerSec  uint32
	maxEntries int
	entries    map[string]*entry
	seq        int64
}

// New builds a Limiter enforcing maxPacketsPerSecond per source IP, capped
// at maxEntries tracked sources (0 uses DefaultMaxEntries).
func New(clk clock.Clock, maxPacketsPerSecond uint32, maxEntries int) *Limiter {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Limiter{
		clk:        clk,
		maxPerSec:  maxPacketsPerSecond,
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// Check applies the fixed-window algorithm for ip at the current time.
func (l *Limiter) Check(ip string) Decision {
	now := l.clk.NowMillis()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[ip]
	if !ok {
		l.evictIfFullLocked()
		l.seq++
		l.entries[ip] = &entry{count: 1, windowStart: now, insertedAt: l.seq}
		return Decision{Allowed: true, Count: 1, Limit: l.maxPerSec}
	}

	if now-e.windowStart >= windowMillis {
		e.count = 1
		e.windowStart = now
		return Decision{Allowed: true, Count: 1, Limit: l.maxPerSec}
	}

	if e.count >= l.maxPerSec {
		return Decision{Allowed: false, Count: e.count, Limit: l.maxPerSec}
	}

	e.count++
	return Decision{Allowed: true, Count: e.count, Limit: l.maxPerSec}
}

// evictIfFullLocked drops the oldest entry when the table is at capacity.
// Caller must hold l.mu.
func (l *Limiter) evictIfFullLocked() {
	if len(l.entries) < l.maxEntries {
		return
	}
	var oldestIP string
	var oldestSeq int64 = -1
	for ip, e := range l.entries {
		if oldestSeq == -1 || e.insertedAt < oldestSeq {
			oldestSeq = e.insertedAt
			oldestIP = ip
		}
	}
	if oldestIP != "" {
		delete(l.entries, oldestIP)
	}
}

// Reset clears one IP's entry, exposed for operator recovery via diodectl.
func (l *Limiter) Reset(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, ip)
}

// Sweep removes entries whose window started more than sweepTTLMillis ago.
// Intended to run every 60s from a background goroutine owned by the caller.
func (l *Limiter) Sweep() int {
	now := l.clk.NowMillis()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, e := range l.entries {
		if e.windowStart < now-sweepTTLMillis {
			delete(l.entries, ip)
			removed++
		}
	}
	return removed
}

// Len reports the current number of tracked source IPs (for metrics/tests).
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
