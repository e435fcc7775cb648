// Package collaborators declares the interfaces for systems deliberately
// kept out of this repo's scope — the HTTP health/control API, the
// environmental sensor reader, the UPS battery monitor, and the disk
// cleaner — so the watchdog gate and supervisor have something concrete to
// depend on without this repo owning their implementation. Default no-op /
// always-healthy adapters ship here so the core is runnable standalone.
package collaborators

// ThermalReader reports the current chassis temperature. "Unknown" (ok ==
// false) is treated as safe by the watchdog gate.
type ThermalReader interface {
	Temperature() (celsius float64, ok bool)
}

// NoThermalReader always reports "unknown", the safe default for
// platforms without thermal sensors.
type NoThermalReader struct{}

func (NoThermalReader) Temperature() (float64, bool) { return 0, false }

// PowerMonitor reports UPS battery health; the watchdog gate does not
// currently consume it (only thermal and liveness gate the pulse), but the
// interface is named here so a supervisor extension has a seam.
type PowerMonitor interface {
	OnBattery() bool
	BatteryPercent() (percent float64, ok bool)
}

// NoPowerMonitor reports mains power with no battery telemetry.
type NoPowerMonitor struct{}

func (NoPowerMonitor) OnBattery() bool                      { return false }
func (NoPowerMonitor) BatteryPercent() (float64, bool)       { return 0, false }

// DiskJanitor deletes persisted .dat files once downstream consumers are
// done with them. It must never touch .tmp files younger than the
// in-flight write window; that invariant binds whatever implementation is
// plugged in here, not this package.
type DiskJanitor interface {
	Sweep(dir string) (removed int, err error)
}

// NoDiskJanitor never removes anything; operators wire in their own sweep.
type NoDiskJanitor struct{}

func (NoDiskJanitor) Sweep(string) (int, error) { return 0, nil }

// HealthAPI is the external HTTP health/control API surface, declared as
// an interface only: the control plane this repo does own is the
// unix-socket diodectl protocol in internal/control.
type HealthAPI interface {
	Healthy() bool
}
