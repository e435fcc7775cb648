package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyAllowListDeniesEverything(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	require.False(t, c.Admitted([]byte("anything")))
	require.False(t, c.Admitted(nil))
}

func TestAnyAdmitsEverything(t *testing.T) {
	c, err := New([]Tag{Any})
	require.NoError(t, err)
	require.True(t, c.Admitted([]byte("GET / HTTP/1.1\r\n\r\n")))
}

func TestModbus(t *testing.T) {
	c, err := New([]Tag{Modbus})
	require.NoError(t, err)
	require.True(t, c.Admitted([]byte{0x01, 0x01, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00, 0x00, 0x01}))
	require.False(t, c.Admitted([]byte("GET / HTTP/1.1\r\n\r\n")))
	require.False(t, c.Admitted([]byte{0x01, 0x01, 0x00, 0x01})) // too short
}

func TestDNP3(t *testing.T) {
	c, err := New([]Tag{DNP3})
	require.NoError(t, err)
	require.True(t, c.Admitted([]byte{0x05, 0x64, 0x00, 0x00}))
	require.False(t, c.Admitted([]byte{0x05}))
}

func TestMQTT(t *testing.T) {
	c, err := New([]Tag{MQTT})
	require.NoError(t, err)
	require.True(t, c.Admitted([]byte{0x10, 0x00})) // CONNECT
	require.False(t, c.Admitted([]byte{0x00, 0x00}))
	require.False(t, c.Admitted(nil))
}

func TestSNMP(t *testing.T) {
	c, err := New([]Tag{SNMP})
	require.NoError(t, err)
	require.True(t, c.Admitted([]byte{0x30, 0x29, 0x02, 0x01}))
	require.False(t, c.Admitted([]byte{0x30, 0x29, 0x03}))
}

func TestUnknownTagRejectedAtLoad(t *testing.T) {
	_, err := New([]Tag{"bogus"})
	require.ErrorIs(t, err, ErrUnknownTag)
}

func TestMultiTagAllowList(t *testing.T) {
	c, err := New([]Tag{Modbus, DNP3})
	require.NoError(t, err)
	require.True(t, c.Admitted([]byte{0x05, 0x64}))
	require.False(t, c.Admitted([]byte("plain text")))
}
