package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRealClockAdvances(t *testing.T) {
	var r Real
	a := r.NowNanos()
	time.Sleep(time.Millisecond)
	b := r.NowNanos()
	require.Greater(t, b, a)
}

func TestFakeClockAdvance(t *testing.T) {
	f := NewFake(1000)
	require.Equal(t, int64(1000), f.NowMillis())

	f.Advance(250 * time.Millisecond)
	require.Equal(t, int64(1250), f.NowMillis())
}
