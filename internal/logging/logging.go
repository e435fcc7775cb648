// Package logging builds the zerolog loggers used across the data plane.
// High-frequency per-packet drop logs are sampled 1:100 to avoid log-storm
// amplification under attack, via zerolog's built-in sampler rather than
// hand-rolled counters.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the base logger for a component, writing to w (os.Stderr in
// production, a buffer in tests) with the given name tagged on every line.
func New(w io.Writer, component string) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(w).With().Timestamp().Str("component", component).Logger()
}

// Sampled wraps l with a 1:100 sampler, for the high-frequency per-packet
// rejection paths (protocol-rejected, rate-limited, shaped, breaker-open).
func Sampled(l zerolog.Logger) zerolog.Logger {
	return l.Sample(&zerolog.BasicSampler{N: 100})
}
