package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultsFailValidationWithoutRequiredFields(t *testing.T) {
	cfg := Defaults()
	err := cfg.Validate(RoleS2)
	require.Error(t, err)
}

func TestValidConfigPasses(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.S2PeerAddr = "10.0.0.2:42001"
	cfg.DataDir = dir
	require.NoError(t, cfg.Validate(RoleS2))
}

func TestS1RoleRequiresPeerAddr(t *testing.T) {
	cfg := Defaults()
	require.Error(t, cfg.Validate(RoleS1))
	cfg.S2PeerAddr = "10.0.0.2:42001"
	require.NoError(t, cfg.Validate(RoleS1))
}

func TestUnknownProtocolTagRejected(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.S2PeerAddr = "10.0.0.2:42001"
	cfg.DataDir = dir
	cfg.AllowedProtocols = []string{"bogus"}
	require.Error(t, cfg.Validate(RoleS2))
}

func TestOutOfRangePortRejected(t *testing.T) {
	dir := t.TempDir()
	cfg := Defaults()
	cfg.S2PeerAddr = "10.0.0.2:42001"
	cfg.DataDir = dir
	cfg.S1TCPPort = 70000
	require.Error(t, cfg.Validate(RoleS2))
}

func TestUnwritableDataDirRejected(t *testing.T) {
	cfg := Defaults()
	cfg.S2PeerAddr = "10.0.0.2:42001"
	cfg.DataDir = "/nonexistent/does/not/exist"
	require.Error(t, cfg.Validate(RoleS2))
}

func TestApplyEnvFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "diode.env")
	require.NoError(t, os.WriteFile(envPath, []byte("S1_TCP_PORT=9000\nDATA_DIR="+dir+"\nS2_PEER_ADDR=1.2.3.4:9\n"), 0644))

	cfg := Defaults()
	require.NoError(t, ApplyEnvFile(&cfg, envPath))
	require.Equal(t, 9000, cfg.S1TCPPort)
	require.Equal(t, dir, cfg.DataDir)
	require.Equal(t, "1.2.3.4:9", cfg.S2PeerAddr)
	require.NoError(t, cfg.Validate(RoleS2))
}

func TestApplyEnvFileRejectsNonNumeric(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "diode.env")
	require.NoError(t, os.WriteFile(envPath, []byte("S1_TCP_PORT=notanumber\n"), 0644))

	cfg := Defaults()
	err := ApplyEnvFile(&cfg, envPath)
	require.Error(t, err)
}

func TestApplyJSONFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "diode.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"s2_peer_addr":"9.9.9.9:1","data_dir":"`+dir+`"}`), 0644))

	cfg := Defaults()
	require.NoError(t, ApplyJSONFile(&cfg, jsonPath))
	require.Equal(t, "9.9.9.9:1", cfg.S2PeerAddr)
	require.NoError(t, cfg.Validate(RoleS2))
}
