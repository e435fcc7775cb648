package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xtaci/godiode/internal/clock"
)

func TestAllowsUpToLimitThenDenies(t *testing.T) {
	clk := clock.NewFake(0)
	l := New(clk, 5, 0)

	allowed := 0
	denied := 0
	for i := 0; i < 100; i++ {
		d := l.Check("10.0.0.1")
		if d.Allowed {
			allowed++
		} else {
			denied++
		}
	}
	require.Equal(t, 5, allowed)
	require.Equal(t, 95, denied)
}

func TestWindowResets(t *testing.T) {
	clk := clock.NewFake(0)
	l := New(clk, 2, 0)

	require.True(t, l.Check("1.2.3.4").Allowed)
	require.True(t, l.Check("1.2.3.4").Allowed)
	require.False(t, l.Check("1.2.3.4").Allowed)

	clk.Advance(1001 * time.Millisecond)
	require.True(t, l.Check("1.2.3.4").Allowed)
}

func TestPerIPIsolation(t *testing.T) {
	clk := clock.NewFake(0)
	l := New(clk, 1, 0)
	require.True(t, l.Check("1.1.1.1").Allowed)
	require.True(t, l.Check("2.2.2.2").Allowed)
	require.False(t, l.Check("1.1.1.1").Allowed)
}

func TestReset(t *testing.T) {
	clk := clock.NewFake(0)
	l := New(clk, 1, 0)
	require.True(t, l.Check("5.5.5.5").Allowed)
	require.False(t, l.Check("5.5.5.5").Allowed)
	l.Reset("5.5.5.5")
	require.True(t, l.Check("5.5.5.5").Allowed)
}

func TestSweepEvictsStaleEntries(t *testing.T) {
	clk := clock.NewFake(0)
	l := New(clk, 10, 0)
	l.Check("1.1.1.1")
	clk.Advance(11 * time.Second)
	removed := l.Sweep()
	require.Equal(t, 1, removed)
	require.Equal(t, 0, l.Len())
}

func TestTableCapEvictsOldest(t *testing.T) {
	clk := clock.NewFake(0)
	l := New(clk, 10, 4)
	for i := 0; i < 4; i++ {
		l.Check(fmt.Sprintf("10.0.0.%d", i))
		clk.Advance(time.Millisecond)
	}
	require.Equal(t, 4, l.Len())
	l.Check("10.0.0.99")
	require.LessOrEqual(t, l.Len(), 4)
	// 10.0.0.0 was inserted first, so it was the one evicted: checking it
	// again starts a fresh entry at count 1 instead of incrementing to 2.
	require.Equal(t, uint32(1), l.Check("10.0.0.0").Count)
}
