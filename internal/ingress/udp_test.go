package ingress

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/godiode/internal/metricsx"
)

func TestUDPListenerForwardsDatagrams(t *testing.T) {
	sub := &fakeSubmitter{}
	l, err := NewUDPListener("127.0.0.1:0", sub, 1024, metricsx.NewNop(), zerolog.Nop())
	require.NoError(t, err)
	go l.Serve()
	defer l.Close()

	conn, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("datagram"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestUDPListenerDropsOversizeDatagrams(t *testing.T) {
	metrics := metricsx.NewVictoriaMetrics()
	sub := &fakeSubmitter{}
	l, err := NewUDPListener("127.0.0.1:0", sub, 4, metrics, zerolog.Nop())
	require.NoError(t, err)
	go l.Serve()
	defer l.Close()

	conn, err := net.Dial("udp", l.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("this payload exceeds the four byte limit"))
	require.NoError(t, err)

	require.Never(t, func() bool { return sub.count() > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}
