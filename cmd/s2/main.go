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

// Command s2 is the egress side of the data diode: it listens for
// encapsulated frames on the secure network, verifies their integrity, and
// persists payloads durably. It never transmits a single byte back toward
// s1.
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

	"github.com/xtaci/godiode/internal/clock"
	"github.com/xtaci/godiode/internal/collaborators"
	"github.com/xtaci/godiode/internal/config"
	"github.com/xtaci/godiode/internal/control"
	"github.com/xtaci/godiode/internal/decap"
	"github.com/xtaci/godiode/internal/egress"
	"github.com/xtaci/godiode/internal/heartbeat"
	"github.com/xtaci/godiode/internal/logging"
	"github.com/xtaci/godiode/internal/metricsx"
	"github.com/xtaci/godiode/internal/supervisor"
	"github.com/xtaci/godiode/internal/watchdog"
)

var VERSION = "SELFBUILD"

func main() {
	myApp := cli.NewApp()
	myApp.Name = "s2"
	myApp.Usage = "data diode egress (secure side)"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.IntFlag{Name: "s2-udp-port", Value: 42001},
		cli.StringFlag{Name: "s2-bind-ip", Value: "0.0.0.0"},
		cli.StringFlag{Name: "data-dir", Usage: "directory receiving .dat payload files"},
		cli.IntFlag{Name: "worker-pool-size", Value: 200},
		cli.Int64Flag{Name: "heartbeat-timeout-ms", Value: 360000},
		cli.StringFlag{Name: "watchdog-path", Value: "", Usage: "device/file pulsed on every healthy tick, empty disables"},
		cli.Float64Flag{Name: "watchdog-max-temp-c", Value: 0, Usage: "0 disables the thermal gate"},
		cli.StringFlag{Name: "control-socket", Value: "/var/run/diode/s2.sock"},
		cli.StringFlag{Name: "metrics-listen-addr", Value: ""},
		cli.StringFlag{Name: "envfile", Value: ""},
		cli.StringFlag{Name: "c", Value: ""},
		cli.StringFlag{Name: "log", Value: ""},
	}
	myApp.Action = run

	if err := myApp.Run(os.Args); err != nil {
		color.Red("fatal: %v", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg := config.Defaults()
	cfg.ControlSocket = "/var/run/diode/s2.sock"

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

	cfg.S2UDPPort = c.Int("s2-udp-port")
	cfg.S2BindIP = c.String("s2-bind-ip")
	if v := c.String("data-dir"); v != "" {
		cfg.DataDir = v
	}
	cfg.WorkerPoolSize = c.Int("worker-pool-size")
	cfg.HeartbeatTimeoutMs = c.Int64("heartbeat-timeout-ms")
	cfg.WatchdogPath = c.String("watchdog-path")
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

	if err := cfg.Validate(config.RoleS2); err != nil {
		return err
	}

	log := logging.New(os.Stderr, "s2")
	log.Info().Str("version", VERSION).Int("s2_udp_port", cfg.S2UDPPort).Str("data_dir", cfg.DataDir).Msg("starting s2")

	clk := clock.Real{}
	metrics := metricsx.NewVictoriaMetrics()
	if cfg.MetricsListenAddr != "" {
		go func() {
			if err := http.ListenAndServe(cfg.MetricsListenAddr, metricsx.Handler(metrics)); err != nil {
				log.Warn().Err(err).Msg("metrics listener stopped")
			}
		}()
	}
	fs := decap.NewOSFileSystem()

	var monitorDead bool
	monitor := heartbeat.New(heartbeat.Config{
		TimeoutMillis: cfg.HeartbeatTimeoutMs,
		CheckInterval: 30 * time.Second,
	}, log, func(event string) {
		monitorDead = event == "dead"
	})

	d := decap.New(cfg.DataDir, fs, clk, metrics, log, monitor)

	bindAddr := fmt.Sprintf("%s:%d", cfg.S2BindIP, cfg.S2UDPPort)
	listener, err := egress.NewListener(bindAddr, d, cfg.WorkerPoolSize, metrics, log)
	if err != nil {
		return fmt.Errorf("bind udp listener: %w", err)
	}

	var pulser watchdog.Pulser
	if cfg.WatchdogPath != "" {
		pulser = watchdog.NewFilePulser(cfg.WatchdogPath)
	}

	var gate *watchdog.Gate
	if pulser != nil {
		gate = watchdog.New(watchdog.DefaultInterval, c.Float64("watchdog-max-temp-c"),
			collaborators.NoThermalReader{}, pulser, log,
			func() bool { return !monitorDead },
		)
	}

	ctrl, err := control.NewServer(cfg.ControlSocket, noopLimiter{}, s2Health{monitor: monitor}, func() string {
		if monitorDead {
			return "link dead"
		}
		return "link up"
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("control socket unavailable")
	}

	// Add order puts the udp-listener first so that, since Shutdown()
	// closes in reverse Add order, it closes last: the close-drain-flush
	// sequence in its Close must run after the monitoring children have
	// stopped.
	sup := supervisor.New(log)
	sup.Add(supervisor.Child{
		Name: "udp-listener",
		Run:  listener.Serve,
		Close: func() error {
			err := listener.Close()
			listener.Drain(5 * time.Second)
			listener.StopWorkers()
			if err != nil {
				return err
			}
			return d.Flush()
		},
	})
	if ctrl != nil {
		sup.Add(supervisor.Child{Name: "control", Run: ctrl.Serve, Close: ctrl.Close})
	}
	if gate != nil {
		gateDone := make(chan struct{})
		sup.Add(supervisor.Child{
			Name: "watchdog",
			Run: func() error {
				gate.Run()
				<-gateDone
				return nil
			},
			Close: func() error { close(gateDone); gate.Stop(); return nil },
		})
	}
	monitorDone := make(chan struct{})
	sup.Add(supervisor.Child{
		Name: "heartbeat-monitor",
		Run: func() error {
			monitor.Run(func() int64 { return clk.NowMillis() })
			<-monitorDone
			return nil
		},
		Close: func() error {
			close(monitorDone)
			monitor.Stop()
			return nil
		},
	})

	sup.Start()
	waitForSignal(sup.Exited())
	sup.Shutdown()
	return nil
}

type noopLimiter struct{}

func (noopLimiter) Reset(string) {}

type s2Health struct {
	monitor *heartbeat.Monitor
}

func (h s2Health) Healthy() (bool, string) {
	if h.monitor.IsDead() {
		return false, "heartbeat link dead"
	}
	return true, "ok"
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
