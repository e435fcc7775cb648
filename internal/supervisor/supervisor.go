// Package supervisor starts children in dependency order, stops them in
// reverse, restarts a crashed child in isolation, and enforces a bounded
// restart intensity across the whole tree.
package supervisor

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// restartWindow and maxRestarts bound restarts across the whole tree to
// at most 50 within any 10-second window.
const (
	restartWindow = 10 * time.Second
	maxRestarts   = 50
)

// Child is one supervised long-lived component. Run must block until
// ctx-like shutdown or a fatal error; Close tears it down.
type Child struct {
	Name  string
	Run   func() error // blocks; returns nil on graceful stop, error on crash
	Close func() error
}

// Supervisor starts children in the order Add was called and stops them in
// reverse order.
type Supervisor struct {
	mu       sync.Mutex
	children []Child
	log      zerolog.Logger

	restarts []time.Time // timestamps of restarts across the whole tree
	exit     chan struct{}
	exitOnce sync.Once

	wg sync.WaitGroup
}

// New builds an empty Supervisor.
func New(log zerolog.Logger) *Supervisor {
	return &Supervisor{log: log, exit: make(chan struct{})}
}

// Add registers a child in start order.
func (s *Supervisor) Add(c Child) {
	s.children = append(s.children, c)
}

// Start launches every child, each in its own goroutine, with independent
// restart-on-crash supervision: one child crashing does not restart its
// siblings.
func (s *Supervisor) Start() {
	for _, c := range s.children {
		s.wg.Add(1)
		go s.superviseChild(c)
	}
}

func (s *Supervisor) superviseChild(c Child) {
	defer s.wg.Done()
	for {
		err := c.Run()
		if err == nil {
			return // graceful stop, e.g. during shutdown
		}

		s.log.Error().Err(err).Str("child", c.Name).Msg("child crashed, restarting")

		if !s.recordRestartAllowed() {
			s.log.Error().Msg("restart intensity exceeded, triggering orderly shutdown")
			s.triggerExit()
			return
		}
	}
}

// recordRestartAllowed enforces the 10s/50-restart budget.
func (s *Supervisor) recordRestartAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-restartWindow)
	kept := s.restarts[:0]
	for _, t := range s.restarts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.restarts = kept

	if len(s.restarts) >= maxRestarts {
		return false
	}
	s.restarts = append(s.restarts, now)
	return true
}

func (s *Supervisor) triggerExit() {
	s.exitOnce.Do(func() { close(s.exit) })
}

// Exited returns a channel closed when restart intensity has been
// exceeded and the process should exit.
func (s *Supervisor) Exited() <-chan struct{} { return s.exit }

// Shutdown closes children in reverse start order. Callers that want
// listeners-first, data-plane-last teardown should Add the data-plane
// component first and the listeners last, since the last Add is the
// first Close.
func (s *Supervisor) Shutdown() {
	for i := len(s.children) - 1; i >= 0; i-- {
		if err := s.children[i].Close(); err != nil {
			s.log.Warn().Err(err).Str("child", s.children[i].Name).Msg("close error during shutdown")
		}
	}
	s.wg.Wait()
}
