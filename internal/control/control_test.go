package control

import (
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeLimiter struct {
	resetIPs []string
}

func (f *fakeLimiter) Reset(ip string) { f.resetIPs = append(f.resetIPs, ip) }

type fakeHealth struct {
	healthy bool
	detail  string
}

func (f fakeHealth) Healthy() (bool, string) { return f.healthy, f.detail }

func newTestServer(t *testing.T, limiter Limiter, health HealthChecker) (*Server, *Client) {
	t.Helper()
	sockPath := filepath.Join(t.TempDir(), "diode.sock")
	srv, err := NewServer(sockPath, limiter, health, func() string { return "running" }, zerolog.Nop())
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() { srv.Close() })
	return srv, NewClient(sockPath)
}

func TestStatusCommand(t *testing.T) {
	_, client := newTestServer(t, &fakeLimiter{}, fakeHealth{healthy: true})
	reply, err := client.Send("STATUS")
	require.NoError(t, err)
	require.Equal(t, "OK running", reply)
}

func TestResetCommandCallsLimiter(t *testing.T) {
	limiter := &fakeLimiter{}
	_, client := newTestServer(t, limiter, fakeHealth{healthy: true})
	reply, err := client.Send("RESET 10.0.0.5")
	require.NoError(t, err)
	require.Equal(t, "OK reset 10.0.0.5", reply)
	require.Equal(t, []string{"10.0.0.5"}, limiter.resetIPs)
}

func TestHealthCommandReportsUnhealthy(t *testing.T) {
	_, client := newTestServer(t, &fakeLimiter{}, fakeHealth{healthy: false, detail: "link dead"})
	reply, err := client.Send("HEALTH")
	require.NoError(t, err)
	require.Equal(t, "FAIL link dead", reply)
}

func TestUnknownCommand(t *testing.T) {
	_, client := newTestServer(t, &fakeLimiter{}, fakeHealth{healthy: true})
	reply, err := client.Send("BOGUS")
	require.NoError(t, err)
	require.Equal(t, "ERR unknown command", reply)
}
