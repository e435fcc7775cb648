// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Command s1 is the ingress side of the data diode: it accepts TCP and UDP
// traffic from the untrusted network, runs the admission pipeline, and
// transmits encapsulated frames one-way toward s2.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/godiode/internal/breaker"
	"github.com/xtaci/godiode/internal/classifier"
	"github.com/xtaci/godiode/internal/clock"
	"github.com/xtaci/godiode/internal/config"
	"github.com/xtaci/godiode/internal/control"
	"github.com/xtaci/godiode/internal/encap"
	"github.com/xtaci/godiode/internal/ingress"
	"github.com/xtaci/godiode/internal/logging"
	"github.com/xtaci/godiode/internal/metricsx"
	"github.com/xtaci/godiode/internal/ratelimit"
	"github.com/xtaci/godiode/internal/shaper"
	"github.com/xtaci/godiode/internal/supervisor"
)

// VERSION is injected by build flags.
var VERSION = "SELFBUILD"

func main() {
	myApp := cli.NewApp()
	myApp.Name = "s1"
	myApp.Usage = "data diode ingress (untrusted side)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{Name: "s1-tcp-port", Value: 8080, Usage: "S1 TCP bind port"},
		cli.IntFlag{Name: "s1-udp-port", Value: 0, Usage: "S1 UDP bind port, 0 disables UDP ingress"},
		cli.StringFlag{Name: "s1-bind-ip", Value: "", Usage: "bind IP, empty = all interfaces"},
		cli.StringFlag{Name: "s2-peer-addr", Usage: "host:port where the encapsulator sends frames"},
		cli.IntFlag{Name: "max-payload-bytes", Value: 1048576, Usage: "enforces the wire frame's max payload"},
		cli.StringFlag{Name: "allowed-protocols", Value: "any", Usage: "comma-separated allow-list: any,modbus,dnp3,mqtt,snmp"},
		cli.IntFlag{Name: "max-packets-per-second", Value: 1000, Usage: "per-source-IP rate limit"},
		cli.IntFlag{Name: "shaper-capacity", Value: 1000, Usage: "token bucket capacity"},
		cli.IntFlag{Name: "shaper-refill-per-sec", Value: 1000, Usage: "token bucket refill rate"},
		cli.IntFlag{Name: "breaker-failure-threshold", Value: 5},
		cli.Int64Flag{Name: "breaker-open-timeout-ms", Value: 30000},
		cli.Int64Flag{Name: "heartbeat-interval-ms", Value: 5000},
		cli.StringFlag{Name: "control-socket", Value: "/var/run/diode/s1.sock"},
		cli.StringFlag{Name: "metrics-listen-addr", Value: ""},
		cli.StringFlag{Name: "envfile", Value: "", Usage: "env file overriding defaults, applied before -c and flags"},
		cli.StringFlag{Name: "c", Value: "", Usage: "JSON config file, overridden by explicit flags"},
		cli.StringFlag{Name: "log", Value: "", Usage: "log file path, default stderr"},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Defaults()

	if envfile := c.String("envfile"); envfile != "" {
		if err := config.ApplyEnvFile(&cfg, envfile); err != nil {
			return err
		}
	}
	if jsonPath := c.String("c"); jsonPath != "" {
		if err := config.ApplyJSONFile(&cfg, jsonPath); err != nil {
			return err
		}
	}

	// explicit CLI flags win over file-based config.
	cfg.S1TCPPort = c.Int("s1-tcp-port")
	if p := c.Int("s1-udp-port"); p != 0 {
		cfg.S1UDPPort = &p
	}
	cfg.S1BindIP = c.String("s1-bind-ip")
	if v := c.String("s2-peer-addr"); v != "" {
		cfg.S2PeerAddr = v
	}
	cfg.MaxPayloadBytes = c.Int("max-payload-bytes")
	if v := c.String("allowed-protocols"); v != "" {
		cfg.AllowedProtocols = splitCSV(v)
	}
	cfg.MaxPacketsPerSecond = uint32(c.Int("max-packets-per-second"))
	cfg.ShaperCapacity = uint32(c.Int("shaper-capacity"))
	cfg.ShaperRefillPerSec = uint32(c.Int("shaper-refill-per-sec"))
	cfg.BreakerFailureThreshold = uint32(c.Int("breaker-failure-threshold"))
	cfg.BreakerOpenTimeoutMs = c.Int64("breaker-open-timeout-ms")
	cfg.HeartbeatIntervalMs = c.Int64("heartbeat-interval-ms")
	cfg.ControlSocket = c.String("control-socket")
	cfg.MetricsListenAddr = c.String("metrics-listen-addr")

	if logPath := c.String("log"); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		if err != nil {
			return err
		}
		defer f.Close()
		os.Stderr = f
	}

	if err := cfg.Validate(config.RoleS1); err != nil {
		return err
	}

	log := logging.New(os.Stderr, "s1")
	sampled := logging.Sampled(log)
	log.Info().Str("version", VERSION).Int("s1_tcp_port", cfg.S1TCPPort).Str("s2_peer_addr", cfg.S2PeerAddr).Msg("starting s1")

	clf, err := classifier.New(cfg.ClassifierTags())
	if err != nil {
		return err
	}

	clk := clock.Real{}
	limiter := ratelimit.New(clk, cfg.MaxPacketsPerSecond, ratelimit.DefaultMaxEntries)
	go func() {
		ticker := time.NewTicker(60 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			limiter.Sweep()
		}
	}()
	bucket := shaper.New(clk, cfg.ShaperCapacity, cfg.ShaperRefillPerSec)
	brkCfg := breaker.DefaultConfig()
	brkCfg.FailureThreshold = cfg.BreakerFailureThreshold
	brkCfg.OpenTimeoutMillis = cfg.BreakerOpenTimeoutMs
	brk := breaker.New(clk, brkCfg)

	metrics := metricsx.NewVictoriaMetrics()
	if cfg.MetricsListenAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListenAddr, metricsx.Handler(metrics)); err != nil {
				log.Warn().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	sender, udpConn, err := encap.NewUDPSender(cfg.S2PeerAddr)
	if err != nil {
		return fmt.Errorf("dial s2 peer: %w", err)
	}

	e := encap.New(clf, limiter, bucket, brk, sender, metrics, log, sampled, clk, encap.Config{
		HeartbeatInterval: time.Duration(cfg.HeartbeatIntervalMs) * time.Millisecond,
	})

	connLimiter := shaper.New(clk, 50, 50) // connection-accept-rate bucket, separate from the per-payload shaper

	bindAddr := fmt.Sprintf("%s:%d", cfg.S1BindIP, cfg.S1TCPPort)
	tcpListener, err := ingress.NewTCPListener(bindAddr, e, cfg.MaxPayloadBytes, connLimiter, metrics, log)
	if err != nil {
		return fmt.Errorf("bind tcp listener: %w", err)
	}

	var udpListener *ingress.UDPListener
	if cfg.S1UDPPort != nil {
		udpBind := fmt.Sprintf("%s:%d", cfg.S1BindIP, *cfg.S1UDPPort)
		udpListener, err = ingress.NewUDPListener(udpBind, e, cfg.MaxPayloadBytes, metrics, log)
		if err != nil {
			return fmt.Errorf("bind udp listener: %w", err)
		}
	}

	ctrl, err := control.NewServer(cfg.ControlSocket, limiter, s1Health{brk: brk}, func() string {
		return "breaker=" + brk.State().String()
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("control socket unavailable")
	}

	// Add order is dependency-first: the encapsulator must be up before
	// listeners can submit to it, and Shutdown() closes in reverse Add
	// order, so this also gives listeners-first, encapsulator-last teardown.
	sup := supervisor.New(log)
	encapDone := make(chan struct{})
	sup.Add(supervisor.Child{
		Name: "encapsulator",
		Run: func() error {
			e.Start()
			<-encapDone
			return nil
		},
		Close: func() error {
			close(encapDone)
			e.Stop()
			return udpConn.Close()
		},
	})
	if ctrl != nil {
		sup.Add(supervisor.Child{
			Name:  "control",
			Run:   ctrl.Serve,
			Close: ctrl.Close,
		})
	}
	if udpListener != nil {
		sup.Add(supervisor.Child{
			Name:  "udp-listener",
			Run:   udpListener.Serve,
			Close: udpListener.Close,
		})
	}
	sup.Add(supervisor.Child{
		Name:  "tcp-listener",
		Run:   tcpListener.Serve,
		Close: tcpListener.Close,
	})

	sup.Start()

	waitForSignal(sup.Exited())
	sup.Shutdown()
	return nil
}

type s1Health struct {
	brk *breaker.Breaker
}

func (h s1Health) Healthy() (bool, string) {
	if h.brk.State() == breaker.Open {
		return false, "circuit breaker open"
	}
	return true, "ok"
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// waitForSignal returns on SIGINT/SIGTERM, or when exited is closed because
// the supervisor's restart intensity was exceeded.
func waitForSignal(exited <-chan struct{}) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-exited:
	}
}
