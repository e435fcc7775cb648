// Package egress implements the S2 UDP listener and its bounded worker
// pool. This is the explicit backpressure boundary on the secure side — a
// saturated pool drops the datagram rather than blocking the listener.
package egress

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/xtaci/godiode/internal/metricsx"
)

const readTimeout = 500 * time.Millisecond

// Receiver is the decapsulator seam each worker hands a datagram to.
type Receiver interface {
	Receive(buf []byte) error
}

// Listener owns the bound UDP socket exclusively and fans received
// datagrams out to a bounded worker pool.
type Listener struct {
	conn     *net.UDPConn
	receiver Receiver
	metrics  metricsx.Store
	log      zerolog.Logger

	work        chan []byte
	closing     chan struct{} // stops Serve's receive loop
	stopWorkers chan struct{} // stops the worker pool, independent of closing
	done        chan struct{}
}

// NewListener binds bindAddr and starts poolSize workers (default 200).
func NewListener(bindAddr string, receiver Receiver, poolSize int, metrics metricsx.Store, log zerolog.Logger) (*Listener, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	l := &Listener{
		conn:        conn,
		receiver:    receiver,
		metrics:     metrics,
		log:         log,
		work:        make(chan []byte, poolSize),
		closing:     make(chan struct{}),
		stopWorkers: make(chan struct{}),
		done:        make(chan struct{}),
	}

	for i := 0; i < poolSize; i++ {
		go l.worker()
	}
	return l, nil
}

// Addr reports the bound address.
func (l *Listener) Addr() net.Addr { return l.conn.LocalAddr() }

func (l *Listener) worker() {
	for {
		select {
		case buf, ok := <-l.work:
			if !ok {
				return
			}
			if err := l.receiver.Receive(buf); err != nil {
				l.log.Debug().Err(err).Msg("receive failed")
			}
		case <-l.stopWorkers:
			return
		}
	}
}

// Serve runs the receive loop until Close is called. The listener never
// blocks on worker completion: if the pool is saturated, the datagram is
// dropped and counted rather than applying backpressure to the socket.
func (l *Listener) Serve() error {
	buf := make([]byte, 65551) // max UDP datagram size + slack; larger frames cannot arrive over UDP
	for {
		l.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := l.conn.ReadFromUDP(buf)
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

		owned := append([]byte(nil), buf[:n]...)
		select {
		case l.work <- owned:
		default:
			l.metrics.Inc(metricsx.S2BackpressureDropped)
		}
	}
}

// Close stops the receive loop and closes the socket, halting new
// admission. It does not stop the worker pool — callers that want an
// orderly shutdown call Drain first, then StopWorkers, so queued work
// from before Close isn't abandoned.
func (l *Listener) Close() error {
	close(l.closing)
	err := l.conn.Close()
	close(l.done)
	return err
}

// StopWorkers halts the worker pool. Call after Drain so workers get a
// chance to consume whatever was still queued at Close.
func (l *Listener) StopWorkers() {
	close(l.stopWorkers)
}

// Drain blocks until all queued work has been consumed or deadline elapses,
// used during graceful shutdown after Close stops new admission.
func (l *Listener) Drain(deadline time.Duration) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	for {
		if len(l.work) == 0 {
			return
		}
		select {
		case <-timer.C:
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}
