// Package decap implements the decapsulator: CRC verification, atomic
// durable persistence via write-to-tmp-then-rename, and heartbeat
// hand-off.
package decap

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/xtaci/godiode/internal/clock"
	"github.com/xtaci/godiode/internal/frame"
	"github.com/xtaci/godiode/internal/heartbeat"
	"github.com/xtaci/godiode/internal/metricsx"
)

// FileSystem is the durable-write seam: production is osFileSystem backed
// by the real filesystem, tests use an in-memory fake to exercise the
// atomic-write contract without touching disk.
type FileSystem interface {
	WriteFile(path string, data []byte) error
	Rename(oldPath, newPath string) error
	Remove(path string) error
	Sync(dir string) error
}

type osFileSystem struct{}

// NewOSFileSystem returns the production FileSystem backed by os.
func NewOSFileSystem() FileSystem { return osFileSystem{} }

func (osFileSystem) WriteFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0644)
}

func (osFileSystem) Rename(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

func (osFileSystem) Remove(path string) error {
	return os.Remove(path)
}

func (osFileSystem) Sync(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// Decapsulator owns the data directory path exclusively.
type Decapsulator struct {
	dataDir string
	fs      FileSystem
	clk     clock.Clock
	metrics metricsx.Store
	log     zerolog.Logger
	monitor *heartbeat.Monitor
}

// New builds a Decapsulator writing persisted records under dataDir.
func New(dataDir string, fs FileSystem, clk clock.Clock, metrics metricsx.Store, log zerolog.Logger, monitor *heartbeat.Monitor) *Decapsulator {
	return &Decapsulator{dataDir: dataDir, fs: fs, clk: clk, metrics: metrics, log: log, monitor: monitor}
}

// Receive runs the per-frame contract on a just-received UDP datagram.
func (d *Decapsulator) Receive(buf []byte) error {
	decoded, err := frame.Decode(buf)
	if err != nil {
		d.metrics.Inc(metricsx.IntegrityFailed)
		d.log.Warn().Err(err).Msg("integrity check failed")
		return err
	}

	if frame.IsHeartbeat(decoded) {
		d.monitor.Observe(d.clk.NowMillis())
		return nil
	}

	if err := d.persist(decoded.Payload); err != nil {
		d.metrics.Inc(metricsx.WriteFailed)
		d.log.Error().Err(err).Msg("write failed")
		return err
	}

	d.metrics.Inc(metricsx.PacketsReceived)
	d.metrics.Add(metricsx.BytesReceived, len(decoded.Payload))
	return nil
}

// persist implements atomic write-then-rename: write to <dir>/<name>.tmp,
// rename to <dir>/<name>.dat. On any error the .tmp is removed if present.
func (d *Decapsulator) persist(payload []byte) error {
	name, err := d.filename()
	if err != nil {
		return errors.Wrap(err, "generate filename")
	}

	tmpPath := filepath.Join(d.dataDir, name+".tmp")
	finalPath := filepath.Join(d.dataDir, name+".dat")

	if err := d.fs.WriteFile(tmpPath, payload); err != nil {
		_ = d.fs.Remove(tmpPath)
		return errors.Wrap(err, "write tmp")
	}

	if err := d.fs.Rename(tmpPath, finalPath); err != nil {
		_ = d.fs.Remove(tmpPath)
		return errors.Wrap(err, "rename")
	}
	return nil
}

// filename builds <monotonic-unix-nanos>_<random-hex-16>.
func (d *Decapsulator) filename() (string, error) {
	var randBytes [8]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d_%s", d.clk.NowNanos(), hex.EncodeToString(randBytes[:])), nil
}

// Flush issues a filesystem sync; safe to invoke during shutdown even if
// idle.
func (d *Decapsulator) Flush() error {
	return d.fs.Sync(d.dataDir)
}
