package ingress

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/godiode/internal/metricsx"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads [][]byte
}

func (f *fakeSubmitter) Submit(srcIP [4]byte, srcPort uint16, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	return nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type alwaysAllow struct{}

func (alwaysAllow) Allow() bool { return true }

type alwaysDeny struct{}

func (alwaysDeny) Allow() bool { return false }

func TestTCPListenerForwardsChunks(t *testing.T) {
	sub := &fakeSubmitter{}
	l, err := NewTCPListener("127.0.0.1:0", sub, 1024, alwaysAllow{}, metricsx.NewNop(), zerolog.Nop())
	require.NoError(t, err)
	go l.Serve()
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write([]byte("hello world"))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool { return sub.count() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestTCPListenerRejectsConnectionsWhenConnLimiterDenies(t *testing.T) {
	sub := &fakeSubmitter{}
	l, err := NewTCPListener("127.0.0.1:0", sub, 1024, alwaysDeny{}, metricsx.NewNop(), zerolog.Nop())
	require.NoError(t, err)
	go l.Serve()
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 1)
	_, err = conn.Read(buf)
	require.Error(t, err) // server closed the connection without reading

	require.Never(t, func() bool { return sub.count() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestTCPListenerRejectsOversizeChunk(t *testing.T) {
	sub := &fakeSubmitter{}
	metrics := metricsx.NewVictoriaMetrics()
	l, err := NewTCPListener("127.0.0.1:0", sub, 4, alwaysAllow{}, metrics, zerolog.Nop())
	require.NoError(t, err)
	go l.Serve()
	defer l.Close()

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("this chunk exceeds the four byte limit"))
	require.NoError(t, err)

	require.Never(t, func() bool { return sub.count() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestTCPListenerCloseStopsServeLoop(t *testing.T) {
	sub := &fakeSubmitter{}
	l, err := NewTCPListener("127.0.0.1:0", sub, 1024, alwaysAllow{}, metricsx.NewNop(), zerolog.Nop())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Serve() }()

	require.NoError(t, l.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after Close")
	}
}
