// Package ingress implements the S1 TCP listener + handler pool and the
// S1 UDP listener. Both forward admitted chunks/datagrams to the
// encapsulator's Submit operation.
package ingress

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/xtaci/godiode/internal/frame"
	"github.com/xtaci/godiode/internal/metricsx"
)

// Submitter is the encapsulator seam ingress forwards admitted data to.
type Submitter interface {
	Submit(srcIP [4]byte, srcPort uint16, payload []byte) error
}

// acceptTimeout bounds how long Accept blocks before re-checking the
// shutdown flag.
const acceptTimeout = 500 * time.Millisecond

// connRateLimiter is a connection-level token bucket bounding new
// connections per second to resist SYN-like floods, reusing the same
// Allow() seam as the token-bucket shaper.
type connRateLimiter interface {
	Allow() bool
}

// TCPListener owns one bound TCP listen socket exclusively.
type TCPListener struct {
	ln          *net.TCPListener
	submitter   Submitter
	maxPayload  int
	connLimiter connRateLimiter
	metrics     metricsx.Store
	log         zerolog.Logger

	closing chan struct{}
	wg      sync.WaitGroup
}

// NewTCPListener binds bindAddr (host:port, host may be empty for all
// interfaces) and returns a TCPListener ready for Serve.
func NewTCPListener(bindAddr string, submitter Submitter, maxPayload int, connLimiter connRateLimiter, metrics metricsx.Store, log zerolog.Logger) (*TCPListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{
		ln:          ln,
		submitter:   submitter,
		maxPayload:  maxPayload,
		connLimiter: connLimiter,
		metrics:     metrics,
		log:         log,
		closing:     make(chan struct{}),
	}, nil
}

// Addr reports the bound address (useful when bindAddr requested an
// ephemeral port).
func (l *TCPListener) Addr() net.Addr { return l.ln.Addr() }

// Serve runs the accept loop until Close is called. Fatal errors on the
// listen socket itself (not accept timeouts) are returned to the caller —
// the supervisor — to restart this listener.
func (l *TCPListener) Serve() error {
	for {
		l.ln.SetDeadline(time.Now().Add(acceptTimeout))
		conn, err := l.ln.Accept()
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

		if l.connLimiter != nil && !l.connLimiter.Allow() {
			conn.Close()
			continue
		}

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handle(conn)
		}()
	}
}

// handle owns conn exclusively until it closes.
func (l *TCPListener) handle(conn net.Conn) {
	defer conn.Close()

	tcpAddr, _ := conn.RemoteAddr().(*net.TCPAddr)
	var srcIP [4]byte
	var srcPort uint16
	if tcpAddr != nil {
		if ip4 := tcpAddr.IP.To4(); ip4 != nil {
			copy(srcIP[:], ip4)
		}
		srcPort = uint16(tcpAddr.Port)
	}

	buf := make([]byte, frame.MaxPayload)

	for {
		select {
		case <-l.closing:
			return
		default:
		}

		conn.SetReadDeadline(time.Now().Add(acceptTimeout))
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if len(chunk) > l.maxPayload {
				l.metrics.Inc(metricsx.PayloadTooLarge)
				continue
			}
			if err := l.submitter.Submit(srcIP, srcPort, chunk); err != nil {
				l.log.Debug().Err(err).Msg("submit failed")
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return // peer close or socket error
		}
	}
}

// Close stops the accept loop and waits for in-flight handlers' next I/O
// deadline to notice shutdown.
func (l *TCPListener) Close() error {
	close(l.closing)
	err := l.ln.Close()
	l.wg.Wait()
	return err
}
