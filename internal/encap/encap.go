// Package encap implements the encapsulator: the admission pipeline
// (classify -> per-source rate limit -> shape -> breaker-wrapped UDP send)
// plus heartbeat emission.
package encap

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/xtaci/godiode/internal/breaker"
	"github.com/xtaci/godiode/internal/classifier"
	"github.com/xtaci/godiode/internal/clock"
	"github.com/xtaci/godiode/internal/frame"
	"github.com/xtaci/godiode/internal/metricsx"
	"github.com/xtaci/godiode/internal/ratelimit"
	"github.com/xtaci/godiode/internal/shaper"
)

// Sender is the UDP send operation the circuit breaker guards. Production
// is a *net.UDPConn wrapped by udpSender; tests inject a fake that can be
// told to fail.
type Sender interface {
	SendTo(b []byte) error
}

type udpSender struct {
	conn *net.UDPConn
}

func (u *udpSender) SendTo(b []byte) error {
	_, err := u.conn.Write(b)
	return err
}

// NewUDPSender dials peerAddr and returns a Sender. The encapsulator
// exclusively owns the returned connection.
func NewUDPSender(peerAddr string) (Sender, *net.UDPConn, error) {
	raddr, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, nil, err
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, nil, err
	}
	return &udpSender{conn: conn}, conn, nil
}

// Config bundles the Encapsulator's tunables.
type Config struct {
	HeartbeatInterval time.Duration
}

// Encapsulator is the one path every S1 listener/handler submits through.
// Its mutex serializes writes to the single owned outbound socket; the
// classifier, limiter, bucket and breaker each guard their own state.
type Encapsulator struct {
	mu sync.Mutex

	classifier *classifier.Classifier
	limiter    *ratelimit.Limiter
	bucket     *shaper.Bucket
	brk        *breaker.Breaker
	sender     Sender
	metrics    metricsx.Store
	log        zerolog.Logger
	sampled    zerolog.Logger
	clk        clock.Clock

	cfg Config

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
}

// New builds an Encapsulator. Callers own starting/stopping the heartbeat
// loop via Start/Stop.
func New(
	clf *classifier.Classifier,
	limiter *ratelimit.Limiter,
	bucket *shaper.Bucket,
	brk *breaker.Breaker,
	sender Sender,
	metrics metricsx.Store,
	log zerolog.Logger,
	sampled zerolog.Logger,
	clk clock.Clock,
	cfg Config,
) *Encapsulator {
	return &Encapsulator{
		classifier: clf,
		limiter:    limiter,
		bucket:     bucket,
		brk:        brk,
		sender:     sender,
		metrics:    metrics,
		log:        log,
		sampled:    sampled,
		clk:        clk,
		cfg:        cfg,
	}
}

// Submit runs the admission pipeline for one payload from (srcIP,
// srcPort). Every outcome is counted in metrics. Drops (protocol, rate
// limit, shaper, open breaker) return nil; an encode or send failure is
// also returned to the caller, which only logs it.
func (e *Encapsulator) Submit(srcIP [4]byte, srcPort uint16, payload []byte) error {
	if !e.classifier.Admitted(payload) {
		e.metrics.Inc(metricsx.ProtocolRejected)
		e.sampled.Debug().Str("src_ip", ipString(srcIP)).Msg("protocol rejected")
		return nil
	}

	d := e.limiter.Check(ipString(srcIP))
	if !d.Allowed {
		e.metrics.Inc(metricsx.RateLimited)
		e.sampled.Debug().Str("src_ip", ipString(srcIP)).Msg("rate limited")
		return nil
	}

	return e.shapeAndSend(srcIP, srcPort, payload)
}

// submitHeartbeat bypasses classification and rate limiting but still
// passes through the token bucket.
func (e *Encapsulator) submitHeartbeat() error {
	return e.shapeAndSend([4]byte{}, 0, []byte(frame.HeartbeatMarker))
}

func (e *Encapsulator) shapeAndSend(srcIP [4]byte, srcPort uint16, payload []byte) error {
	if !e.bucket.Allow() {
		e.metrics.Inc(metricsx.ShapedDropped)
		e.sampled.Debug().Msg("shaped")
		return nil
	}

	buf, err := frame.Encode(srcIP, srcPort, payload)
	if err != nil {
		e.metrics.Inc(metricsx.PayloadTooLarge)
		e.log.Warn().Err(err).Msg("payload too large")
		return err
	}

	if err := e.brk.Allow(); err != nil {
		e.metrics.Inc(metricsx.BreakerOpenRejected)
		e.sampled.Debug().Msg("breaker open")
		return nil
	}

	// mutex serializes access to the single owned outbound socket.
	e.mu.Lock()
	sendErr := e.sender.SendTo(buf)
	e.mu.Unlock()

	if sendErr != nil {
		e.brk.RecordFailure()
		e.metrics.Inc(metricsx.SendFailed)
		e.log.Warn().Err(sendErr).Msg("send failed")
		return sendErr
	}

	e.brk.RecordSuccess()
	e.metrics.Inc(metricsx.PacketsForwarded)
	e.metrics.Add(metricsx.BytesForwarded, len(buf))
	return nil
}

// Start launches the periodic heartbeat emission goroutine.
func (e *Encapsulator) Start() {
	e.stopHeartbeat = make(chan struct{})
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(e.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := e.submitHeartbeat(); err != nil {
					e.log.Warn().Err(err).Msg("heartbeat send failed")
				}
			case <-e.stopHeartbeat:
				return
			}
		}
	}()
}

// Stop halts the heartbeat loop and waits for it to exit.
func (e *Encapsulator) Stop() {
	if e.stopHeartbeat != nil {
		close(e.stopHeartbeat)
	}
	e.wg.Wait()
}

func ipString(ip [4]byte) string {
	return net.IP(ip[:]).String()
}
