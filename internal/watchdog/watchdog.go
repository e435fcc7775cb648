// Package watchdog implements the gate that pulses an external hardware
// watchdog only when critical components are healthy and thermals are
// safe. Withholding the pulse is the intended failure mode — the hardware
// watchdog resets the machine if pulses cease.
package watchdog

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xtaci/godiode/internal/collaborators"
)

// LivenessCheck reports whether a critical component is present and has
// not crashed.
type LivenessCheck func() bool

// DefaultInterval is the gate's default tick period.
const DefaultInterval = 10 * time.Second

// Pulser writes the pulse byte; production is a device/file path, tests
// inject a fake.
type Pulser interface {
	Pulse() error
}

type filePulser struct {
	path string
}

func (f filePulser) Pulse() error {
	file, err := os.OpenFile(f.path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.Write([]byte{1})
	return err
}

// NewFilePulser returns a Pulser that writes one byte to path (the
// configured watchdog_path device/file).
func NewFilePulser(path string) Pulser { return filePulser{path: path} }

// Gate is the periodic watchdog task.
type Gate struct {
	mu       sync.Mutex
	interval time.Duration
	maxTemp  float64
	checks   []LivenessCheck
	thermal  collaborators.ThermalReader
	pulser   Pulser
	log      zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup

	lastPulsed bool
}

// New builds a Gate. maxTemp <= 0 disables the thermal check (treated as
// "unknown", which is always safe).
func New(interval time.Duration, maxTemp float64, thermal collaborators.ThermalReader, pulser Pulser, log zerolog.Logger, checks ...LivenessCheck) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{interval: interval, maxTemp: maxTemp, checks: checks, thermal: thermal, pulser: pulser, log: log}
}

// Tick runs one evaluation, exposed directly for deterministic tests.
func (g *Gate) Tick() {
	allLive := true
	for _, c := range g.checks {
		if !c() {
			allLive = false
			break
		}
	}

	thermalSafe := true
	if g.maxTemp > 0 {
		if temp, ok := g.thermal.Temperature(); ok {
			thermalSafe = temp <= g.maxTemp
		}
		// unknown temperature (ok == false) is treated as safe.
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if allLive && thermalSafe {
		if err := g.pulser.Pulse(); err != nil {
			g.log.Error().Err(err).Msg("watchdog pulse failed")
			g.lastPulsed = false
			return
		}
		g.lastPulsed = true
		return
	}

	g.lastPulsed = false
	g.log.Warn().Bool("components_live", allLive).Bool("thermal_safe", thermalSafe).Msg("withholding watchdog pulse")
}

// LastPulsed reports whether the most recent tick issued a pulse, for
// diodectl health checks.
func (g *Gate) LastPulsed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastPulsed
}

// Run starts the periodic tick loop.
func (g *Gate) Run() {
	g.stop = make(chan struct{})
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		ticker := time.NewTicker(g.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				g.Tick()
			case <-g.stop:
				return
			}
		}
	}()
}

// Stop halts the tick loop.
func (g *Gate) Stop() {
	if g.stop != nil {
		close(g.stop)
	}
	g.wg.Wait()
}
