package ingress

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/xtaci/godiode/internal/metricsx"
)

// UDPListener is C7: one bound UDP socket, datagram-oriented, forwarding
// each received datagram directly to the encapsulator.
type UDPListener struct {
	conn       *net.UDPConn
	submitter  Submitter
	maxPayload int
	metrics    metricsx.Store
	log        zerolog.Logger
	closing    chan struct{}
}

// NewUDPListener binds bindAddr and returns a UDPListener ready for Serve.
func NewUDPListener(bindAddr string, submitter Submitter, maxPayload int, metrics metricsx.Store, log zerolog.Logger) (*UDPListener, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPListener{
		conn:       conn,
		submitter:  submitter,
		maxPayload: maxPayload,
		metrics:    metrics,
		log:        log,
		closing:    make(chan struct{}),
	}, nil
}

// Addr reports the bound address.
func (l *UDPListener) Addr() net.Addr { return l.conn.LocalAddr() }

// Serve runs the receive loop until Close is called.
func (l *UDPListener) Serve() error {
	buf := make([]byte, 65535)
	for {
		l.conn.SetReadDeadline(time.Now().Add(acceptTimeout))
		n, raddr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-l.closing:
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}

		if n > l.maxPayload {
			l.metrics.Inc(metricsx.PayloadTooLarge)
			continue
		}

		var srcIP [4]byte
		if ip4 := raddr.IP.To4(); ip4 != nil {
			copy(srcIP[:], ip4)
		}
		payload := append([]byte(nil), buf[:n]...)
		if err := l.submitter.Submit(srcIP, uint16(raddr.Port), payload); err != nil {
			l.log.Debug().Err(err).Msg("submit failed")
		}
	}
}

// Close stops the receive loop.
func (l *UDPListener) Close() error {
	close(l.closing)
	return l.conn.Close()
}
