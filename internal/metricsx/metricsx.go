// Package metricsx adapts github.com/VictoriaMetrics/metrics into the
// counter-store interface the data plane depends on. Store is treated as
// an external collaborator with a named interface only; vmStore is the
// in-process default that actually exercises the metrics library, and
// nopStore is the test double.
package metricsx

import (
	"net/http"

	"github.com/VictoriaMetrics/metrics"
)

// Store is the counter-store interface every admission decision in
// internal/encap, internal/decap, internal/ingress, and internal/egress
// reports to.
type Store interface {
	Inc(name string)
	Add(name string, n int)
}

// vmStore is the default Store, backed by a private VictoriaMetrics
// registry so multiple Stores (e.g. one per daemon in-process tests) don't
// collide on the global one.
type vmStore struct {
	set *metrics.Set
}

// NewVictoriaMetrics builds a Store backed by its own metrics.Set.
func NewVictoriaMetrics() Store {
	return &vmStore{set: metrics.NewSet()}
}

func (s *vmStore) Inc(name string)        { s.set.GetOrCreateCounter(name).Inc() }
func (s *vmStore) Add(name string, n int) { s.set.GetOrCreateCounter(name).Add(n) }

// Handler exposes the underlying registry in Prometheus text format, wired
// to the optional metrics_listen_addr config key.
func (s *vmStore) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.set.WritePrometheus(w)
	})
}

// Handler type-asserts store into something that can serve /metrics, or
// returns a 404 handler if store isn't a *vmStore (e.g. the nop store in
// tests).
func Handler(store Store) http.Handler {
	if vs, ok := store.(*vmStore); ok {
		return vs.Handler()
	}
	return http.NotFoundHandler()
}

// nopStore discards everything; used by tests that don't care about counters.
type nopStore struct{}

// NewNop returns a Store that discards all updates.
func NewNop() Store { return nopStore{} }

func (nopStore) Inc(string)      {}
func (nopStore) Add(string, int) {}

// Names of the counters reported at each admission point.
const (
	ProtocolRejected      = "diode_protocol_rejected_total"
	RateLimited           = "diode_rate_limited_total"
	ShapedDropped         = "diode_shaped_dropped_total"
	BreakerOpenRejected   = "diode_breaker_open_rejected_total"
	SendFailed            = "diode_send_failed_total"
	PacketsForwarded      = "diode_packets_forwarded_total"
	BytesForwarded        = "diode_bytes_forwarded_total"
	PayloadTooLarge       = "diode_payload_too_large_total"
	IntegrityFailed       = "diode_integrity_failed_total"
	WriteFailed           = "diode_write_failed_total"
	PacketsReceived       = "diode_packets_received_total"
	BytesReceived         = "diode_bytes_received_total"
	S2BackpressureDropped = "diode_s2_backpressure_dropped_total"
)
