// Package heartbeat covers the liveness beacon: the S1-side periodic
// beacon is emitted by internal/encap directly, and this package is the
// S2-side Monitor that tracks last-seen state and fires dead/recovered
// transitions.
package heartbeat

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds the monitor's tunables.
type Config struct {
	TimeoutMillis      int64
	CheckInterval      time.Duration
}

// DefaultConfig returns the recommended defaults: 360s timeout, 30s check period.
func DefaultConfig() Config {
	return Config{TimeoutMillis: 360000, CheckInterval: 30 * time.Second}
}

// Monitor tracks the last-seen timestamp and fires dead/recovered
// transitions exactly once each.
type Monitor struct {
	mu         sync.Mutex
	cfg        Config
	lastSeenMs int64
	seenAny    bool
	dead       bool

	log     zerolog.Logger
	onEvent func(event string)

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds a Monitor. onEvent (optional) is called with "dead" or
// "recovered" exactly once per transition, in addition to the log side
// effect.
func New(cfg Config, log zerolog.Logger, onEvent func(event string)) *Monitor {
	return &Monitor{cfg: cfg, log: log, onEvent: onEvent}
}

// Observe records a received heartbeat frame at nowMs.
func (m *Monitor) Observe(nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeenMs = nowMs
	m.seenAny = true
	if m.dead {
		m.dead = false
		m.fireLocked("recovered")
	}
}

// checkOnce evaluates liveness at nowMs: if now - last_seen > timeout,
// transition into "dead" and fire the event exactly once on that edge.
func (m *Monitor) checkOnce(nowMs int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.seenAny {
		// never observed a heartbeat: treat as not-yet-established, not dead,
		// so start-up ordering doesn't immediately flap LinkDead.
		return
	}
	if !m.dead && nowMs-m.lastSeenMs > m.cfg.TimeoutMillis {
		m.dead = true
		m.fireLocked("dead")
	}
}

// fireLocked must be called with m.mu held.
func (m *Monitor) fireLocked(event string) {
	switch event {
	case "dead":
		m.log.Warn().Msg("link dead: no heartbeat received within timeout")
	case "recovered":
		m.log.Info().Msg("link recovered: heartbeat resumed")
	}
	if m.onEvent != nil {
		m.onEvent(event)
	}
}

// IsDead reports the current liveness state, for diodectl health checks.
func (m *Monitor) IsDead() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dead
}

// clockFunc lets tests drive checkOnce deterministically without a real
// ticker; production Run uses time.Now via the supplied closure.
type clockFunc func() int64

// Run starts the periodic liveness check on its own goroutine, using now
// as the time source (so callers can inject a fake clock in tests).
func (m *Monitor) Run(now clockFunc) {
	m.stop = make(chan struct{})
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.checkOnce(now())
			case <-m.stop:
				return
			}
		}
	}()
}

// Stop halts the periodic check goroutine.
func (m *Monitor) Stop() {
	if m.stop != nil {
		close(m.stop)
	}
	m.wg.Wait()
}
