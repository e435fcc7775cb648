// Package config loads and validates the gateway's configuration in four
// layers, each overriding the last:
//
//  1. built-in defaults (Defaults)
//  2. env file, parsed with github.com/hashicorp/go-envparse (ApplyEnvFile)
//  3. JSON file (ApplyJSONFile)
//  4. CLI flags, applied last by the caller (cmd/s1, cmd/s2) — highest
//     precedence, since flags are the most specific operator intent
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-envparse"
	"github.com/pkg/errors"

	"github.com/xtaci/godiode/internal/classifier"
)

// Config holds every recognized gateway option.
type Config struct {
	S1TCPPort     int    `json:"s1_tcp_port"`
	S1UDPPort     *int   `json:"s1_udp_port"`
	S1BindIP      string `json:"s1_bind_ip"`
	S2UDPPort     int    `json:"s2_udp_port"`
	S2BindIP      string `json:"s2_bind_ip"`
	S2PeerAddr    string `json:"s2_peer_addr"`
	MaxPayloadBytes int  `json:"max_payload_bytes"`
	AllowedProtocols []string `json:"allowed_protocols"`
	MaxPacketsPerSecond uint32 `json:"max_packets_per_second"`
	ShaperCapacity      uint32 `json:"shaper_capacity"`
	ShaperRefillPerSec  uint32 `json:"shaper_refill_per_sec"`
	BreakerFailureThreshold uint32 `json:"breaker_failure_threshold"`
	BreakerOpenTimeoutMs    int64  `json:"breaker_open_timeout_ms"`
	HeartbeatIntervalMs int64 `json:"heartbeat_interval_ms"`
	HeartbeatTimeoutMs  int64 `json:"heartbeat_timeout_ms"`
	DataDir       string `json:"data_dir"`
	WorkerPoolSize int   `json:"worker_pool_size"`
	WatchdogPath  string `json:"watchdog_path"`

	ControlSocket     string `json:"control_socket"`
	MetricsListenAddr string `json:"metrics_listen_addr"`
}

// Defaults returns the gateway's built-in default configuration.
func Defaults() Config {
	return Config{
		S1TCPPort:               8080,
		S1UDPPort:               nil,
		S1BindIP:                "",
		S2UDPPort:               42001,
		S2BindIP:                "0.0.0.0",
		S2PeerAddr:              "",
		MaxPayloadBytes:         1048576,
		AllowedProtocols:        []string{"any"},
		MaxPacketsPerSecond:     1000,
		ShaperCapacity:          1000,
		ShaperRefillPerSec:      1000,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeoutMs:    30000,
		HeartbeatIntervalMs:     5000,
		HeartbeatTimeoutMs:      360000,
		DataDir:                 "",
		WorkerPoolSize:          200,
		WatchdogPath:            "",
		ControlSocket:           "/var/run/diode/s1.sock",
		MetricsListenAddr:       "",
	}
}

// ApplyEnvFile reads path with go-envparse and applies recognized
// S1_*/S2_*/... keys onto cfg. Unset keys are left untouched.
func ApplyEnvFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open env file")
	}
	defer f.Close()

	env, err := envparse.Parse(f)
	if err != nil {
		return errors.Wrap(err, "parse env file")
	}
	return applyEnv(cfg, env)
}

func applyEnv(cfg *Config, env map[string]string) error {
	getInt := func(key string, dst *int) error {
		v, ok := env[key]
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "%s: not an integer", key)
		}
		*dst = n
		return nil
	}
	getInt64 := func(key string, dst *int64) error {
		v, ok := env[key]
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errors.Wrapf(err, "%s: not an integer", key)
		}
		*dst = n
		return nil
	}
	getUint32 := func(key string, dst *uint32) error {
		v, ok := env[key]
		if !ok {
			return nil
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return errors.Wrapf(err, "%s: not an unsigned integer", key)
		}
		*dst = uint32(n)
		return nil
	}
	getString := func(key string, dst *string) {
		if v, ok := env[key]; ok {
			*dst = v
		}
	}

	if err := getInt("S1_TCP_PORT", &cfg.S1TCPPort); err != nil {
		return err
	}
	if v, ok := env["S1_UDP_PORT"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "S1_UDP_PORT: not an integer")
		}
		cfg.S1UDPPort = &n
	}
	getString("S1_BIND_IP", &cfg.S1BindIP)
	if err := getInt("S2_UDP_PORT", &cfg.S2UDPPort); err != nil {
		return err
	}
	getString("S2_BIND_IP", &cfg.S2BindIP)
	getString("S2_PEER_ADDR", &cfg.S2PeerAddr)
	if err := getInt("MAX_PAYLOAD_BYTES", &cfg.MaxPayloadBytes); err != nil {
		return err
	}
	if v, ok := env["ALLOWED_PROTOCOLS"]; ok {
		cfg.AllowedProtocols = strings.Split(v, ",")
	}
	if err := getUint32("MAX_PACKETS_PER_SECOND", &cfg.MaxPacketsPerSecond); err != nil {
		return err
	}
	if err := getUint32("SHAPER_CAPACITY", &cfg.ShaperCapacity); err != nil {
		return err
	}
	if err := getUint32("SHAPER_REFILL_PER_SEC", &cfg.ShaperRefillPerSec); err != nil {
		return err
	}
	if err := getUint32("BREAKER_FAILURE_THRESHOLD", &cfg.BreakerFailureThreshold); err != nil {
		return err
	}
	if err := getInt64("BREAKER_OPEN_TIMEOUT_MS", &cfg.BreakerOpenTimeoutMs); err != nil {
		return err
	}
	if err := getInt64("HEARTBEAT_INTERVAL_MS", &cfg.HeartbeatIntervalMs); err != nil {
		return err
	}
	if err := getInt64("HEARTBEAT_TIMEOUT_MS", &cfg.HeartbeatTimeoutMs); err != nil {
		return err
	}
	getString("DATA_DIR", &cfg.DataDir)
	if err := getInt("WORKER_POOL_SIZE", &cfg.WorkerPoolSize); err != nil {
		return err
	}
	getString("WATCHDOG_PATH", &cfg.WatchdogPath)
	getString("CONTROL_SOCKET", &cfg.ControlSocket)
	getString("METRICS_LISTEN_ADDR", &cfg.MetricsListenAddr)
	return nil
}

// ApplyJSONFile decodes path onto cfg.
func ApplyJSONFile(cfg *Config, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open json config")
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return errors.Wrap(err, "decode json config")
	}
	return nil
}

// Role distinguishes which daemon is validating the config, since a few
// fields are only meaningful on one side of the diode.
type Role int

const (
	RoleS1 Role = iota
	RoleS2
)

// Validate enforces the load-bearing constraints: invalid configuration
// must fail startup with a precise error before any socket is bound.
func (c Config) Validate(role Role) error {
	if c.S1TCPPort < 0 || c.S1TCPPort > 65535 {
		return errors.Errorf("s1_tcp_port out of range: %d", c.S1TCPPort)
	}
	if c.S1UDPPort != nil && (*c.S1UDPPort < 0 || *c.S1UDPPort > 65535) {
		return errors.Errorf("s1_udp_port out of range: %d", *c.S1UDPPort)
	}
	if c.S2UDPPort < 0 || c.S2UDPPort > 65535 {
		return errors.Errorf("s2_udp_port out of range: %d", c.S2UDPPort)
	}
	if role == RoleS1 && c.S2PeerAddr == "" {
		return errors.New("s2_peer_addr is required")
	}
	if c.MaxPayloadBytes <= 0 {
		return errors.Errorf("max_payload_bytes must be positive: %d", c.MaxPayloadBytes)
	}
	if len(c.AllowedProtocols) == 0 {
		return errors.New("allowed_protocols must name at least one tag (deny-all is allowed by leaving it empty at the classifier, but config must be explicit)")
	}
	for _, tag := range c.AllowedProtocols {
		switch classifier.Tag(tag) {
		case classifier.Any, classifier.Modbus, classifier.DNP3, classifier.MQTT, classifier.SNMP:
		default:
			return errors.Errorf("allowed_protocols: unknown tag %q", tag)
		}
	}
	if role == RoleS2 {
		if c.DataDir == "" {
			return errors.New("data_dir is required")
		}
		if info, err := os.Stat(c.DataDir); err != nil {
			return errors.Wrapf(err, "data_dir %q", c.DataDir)
		} else if !info.IsDir() {
			return errors.Errorf("data_dir %q is not a directory", c.DataDir)
		}
		probe := c.DataDir + "/.write-probe"
		if f, err := os.Create(probe); err != nil {
			return errors.Wrapf(err, "data_dir %q is not writable", c.DataDir)
		} else {
			f.Close()
			os.Remove(probe)
		}
	}
	if c.WorkerPoolSize <= 0 {
		return errors.Errorf("worker_pool_size must be positive: %d", c.WorkerPoolSize)
	}
	return nil
}

// ClassifierTags converts the validated AllowedProtocols strings into the
// classifier package's Tag type.
func (c Config) ClassifierTags() []classifier.Tag {
	tags := make([]classifier.Tag, len(c.AllowedProtocols))
	for i, t := range c.AllowedProtocols {
		tags[i] = classifier.Tag(t)
	}
	return tags
}
