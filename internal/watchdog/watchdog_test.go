package watchdog

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/xtaci/godiode/internal/collaborators"
)

type fakePulser struct {
	pulses int
	fail   bool
}

func (f *fakePulser) Pulse() error {
	if f.fail {
		return errFakePulse
	}
	f.pulses++
	return nil
}

var errFakePulse = &pulseErr{}

type pulseErr struct{}

func (*pulseErr) Error() string { return "fake pulse failure" }

type fakeThermal struct {
	celsius float64
	ok      bool
}

func (f fakeThermal) Temperature() (float64, bool) { return f.celsius, f.ok }

func TestPulsesWhenAllHealthyAndCool(t *testing.T) {
	pulser := &fakePulser{}
	g := New(0, 80, fakeThermal{celsius: 40, ok: true}, pulser, zerolog.Nop(), func() bool { return true })
	g.Tick()
	require.Equal(t, 1, pulser.pulses)
	require.True(t, g.LastPulsed())
}

func TestWithholdsWhenComponentDown(t *testing.T) {
	pulser := &fakePulser{}
	g := New(0, 80, fakeThermal{celsius: 40, ok: true}, pulser, zerolog.Nop(), func() bool { return false })
	g.Tick()
	require.Equal(t, 0, pulser.pulses)
	require.False(t, g.LastPulsed())
}

func TestWithholdsWhenOverTemp(t *testing.T) {
	pulser := &fakePulser{}
	g := New(0, 80, fakeThermal{celsius: 95, ok: true}, pulser, zerolog.Nop(), func() bool { return true })
	g.Tick()
	require.Equal(t, 0, pulser.pulses)
}

func TestUnknownTemperatureIsSafe(t *testing.T) {
	pulser := &fakePulser{}
	g := New(0, 80, collaborators.NoThermalReader{}, pulser, zerolog.Nop(), func() bool { return true })
	g.Tick()
	require.Equal(t, 1, pulser.pulses)
}

func TestNoThermalLimitDisablesCheck(t *testing.T) {
	pulser := &fakePulser{}
	g := New(0, 0, fakeThermal{celsius: 200, ok: true}, pulser, zerolog.Nop(), func() bool { return true })
	g.Tick()
	require.Equal(t, 1, pulser.pulses)
}
