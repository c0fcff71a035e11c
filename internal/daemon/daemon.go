// Package daemon implements the sqelf server process lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"firestige.xyz/sqelf/internal/config"
	"firestige.xyz/sqelf/internal/core"
	logpkg "firestige.xyz/sqelf/internal/log"
	"firestige.xyz/sqelf/internal/metrics"
	"firestige.xyz/sqelf/internal/process"
	"firestige.xyz/sqelf/internal/receive"
	"firestige.xyz/sqelf/internal/server"
	"firestige.xyz/sqelf/internal/sink"
	"firestige.xyz/sqelf/pkg/gelf"
)

// Daemon wires config, outputs, decoder and server into one process.
type Daemon struct {
	// Configuration
	config     *config.SqelfConfig
	configPath string
	pidFile    string

	// Core components
	emitter       *process.Emitter
	server        *server.Server
	handle        *server.Handle
	metricsServer *metrics.Server // nil if metrics disabled

	// Lifecycle management
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownChan chan struct{}
	sigChan      chan os.Signal
	serverErr    chan error
	serverDone   chan struct{}
	stdin        io.Reader

	sinkFailures atomic.Int64
	lastSinkErr  atomic.Pointer[error]
}

// New loads the configuration. A non-empty pidFile overrides control.pid_file.
func New(configPath, pidFile string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return newWithConfig(cfg, configPath, pidFile), nil
}

func newWithConfig(cfg *config.SqelfConfig, configPath, pidFile string) *Daemon {
	if pidFile == "" {
		pidFile = cfg.Control.PIDFile
	}
	d := &Daemon{
		config:       cfg,
		configPath:   configPath,
		pidFile:      pidFile,
		shutdownChan: make(chan struct{}, 1),
		serverErr:    make(chan error, 1),
		serverDone:   make(chan struct{}),
		stdin:        os.Stdin,
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d
}

// Start builds every component and starts the receive loop in the background.
func (d *Daemon) Start() error {
	// 1. Initialize logging system
	if err := d.initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	slog.Info("starting sqelf",
		"version", core.Version,
		"config", d.configPath,
		"bind", d.config.Server.Bind,
	)

	if warning := d.config.MemoryWarning(config.SystemFreeMemory()); warning != "" {
		slog.Warn(warning)
	}

	// 2. Write PID file
	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	// 3. Start metrics server
	if err := d.startMetrics(); err != nil {
		d.cleanupPartial()
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	// 4. Build outputs
	outputs, err := sink.Build(d.config.Outputs)
	if err != nil {
		d.cleanupPartial()
		return fmt.Errorf("failed to build outputs: %w", err)
	}
	d.emitter = process.NewEmitter(process.New(process.Config{
		IncludeRawLevel: d.config.Process.IncludeRawLevel,
	}), outputs)

	// 5. Bind the socket
	decoder := receive.NewDecoder(receive.Config{
		MaxIncomplete:     d.config.Receive.MaxIncompleteMessages,
		IncompleteTimeout: d.config.Receive.IncompleteTimeoutDuration(),
		MaxChunks:         d.config.Receive.MaxChunksPerMessage,
		MaxMessageSize:    d.config.Receive.MaxMessageSize,
	})
	srv, handle, err := server.New(d.serverConfig(), decoder, d.emitter)
	if err != nil {
		_ = d.emitter.Close()
		d.cleanupPartial()
		return fmt.Errorf("failed to bind server: %w", err)
	}
	d.server, d.handle = srv, handle

	// 6. Run the receive loop
	go func() {
		defer close(d.serverDone)
		if err := srv.Run(); err != nil {
			d.serverErr <- err
		}
	}()

	if d.config.Server.WaitOnStdin {
		go d.watchStdin()
	}

	slog.Info("sqelf started", "addr", srv.Addr().String(), "outputs", len(outputs))
	return nil
}

func (d *Daemon) serverConfig() server.Config {
	sc := d.config.Server
	return server.Config{
		Bind:                  sc.Bind,
		ReadTimeout:           sc.ReadTimeoutDuration(),
		EvictInterval:         sc.EvictIntervalDuration(),
		QueueCapacity:         sc.QueueCapacity,
		ReusePort:             sc.ReusePort,
		ReceiveBufferBytes:    sc.ReceiveBufferBytes,
		MaxDatagramsPerSource: sc.MaxDatagramsPerSource,
		RateLimitWindow:       sc.RateLimitWindowDuration(),
		OnSinkError:           d.recordSinkError,
	}
}

// recordSinkError runs on the goroutine feeding the outputs. The server
// already logs each failure.
func (d *Daemon) recordSinkError(_ *gelf.Message, err error) {
	d.sinkFailures.Add(1)
	d.lastSinkErr.Store(&err)
}

// SinkFailures returns how many messages the outputs failed to accept and
// the most recent failure.
func (d *Daemon) SinkFailures() (int64, error) {
	var last error
	if p := d.lastSinkErr.Load(); p != nil {
		last = *p
	}
	return d.sinkFailures.Load(), last
}

// watchStdin stops the server once stdin is closed by the parent process.
func (d *Daemon) watchStdin() {
	_, _ = io.Copy(io.Discard, d.stdin)
	slog.Info("stdin closed, stopping")
	d.handle.Close()
}

// Addr returns the bound UDP address. Only valid after Start.
func (d *Daemon) Addr() string {
	if d.server == nil {
		return ""
	}
	return d.server.Addr().String()
}

// Stop closes the handle, waits for the receive loop to drain and then
// releases outputs, metrics and the PID file. Safe to call more than once.
func (d *Daemon) Stop() {
	slog.Info("initiating graceful shutdown")

	// 1. Stop receiving and wait for queued messages to flush
	if d.handle != nil {
		d.handle.Close()
		<-d.serverDone
	}

	if n, last := d.SinkFailures(); n > 0 {
		slog.Warn("outputs failed to accept messages", "count", n, "last_error", last)
	}

	// 2. Close outputs
	if d.emitter != nil {
		if err := d.emitter.Close(); err != nil {
			slog.Error("error closing outputs", "error", err)
		}
		d.emitter = nil
	}

	// 3. Stop metrics server
	if d.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.metricsServer.Stop(shutdownCtx); err != nil {
			slog.Error("error stopping metrics server", "error", err)
		}
		cancel()
		d.metricsServer = nil
	}

	d.cancel()

	if d.sigChan != nil {
		signal.Stop(d.sigChan)
	}

	// 4. Remove PID file
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}

	slog.Info("sqelf stopped")
	logpkg.Flush()
}

// Run blocks until shutdown is triggered, then stops the daemon.
// Shutdown can be triggered by:
//  1. OS signals (SIGTERM, SIGINT)
//  2. TriggerShutdown
//  3. the receive loop exiting, on socket failure or stdin EOF
//
// SIGHUP reopens the log configuration.
func (d *Daemon) Run() error {
	d.sigChan = make(chan os.Signal, 1)
	signal.Notify(d.sigChan, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)

	slog.Info("sqelf running, waiting for signals")

	for {
		select {
		case sig := <-d.sigChan:
			switch sig {
			case syscall.SIGTERM, syscall.SIGINT:
				slog.Info("received shutdown signal", "signal", sig)
				d.Stop()
				return nil

			case syscall.SIGHUP:
				if err := d.Reload(); err != nil {
					slog.Error("failed to reload logging", "error", err)
				}
			}

		case <-d.shutdownChan:
			slog.Info("shutdown triggered")
			d.Stop()
			return nil

		case err := <-d.serverErr:
			slog.Error("receive loop failed", "error", err)
			d.Stop()
			return err

		case <-d.serverDone:
			select {
			case err := <-d.serverErr:
				slog.Error("receive loop failed", "error", err)
				d.Stop()
				return err
			default:
			}
			d.Stop()
			return nil
		}
	}
}

// Reload re-reads the config file and re-applies the log section. Other
// sections require a restart.
func (d *Daemon) Reload() error {
	slog.Info("reloading configuration", "path", d.configPath)

	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new config: %w", err)
	}
	if err := logpkg.Init(newConfig.Log); err != nil {
		return err
	}
	d.config.Log = newConfig.Log

	slog.Info("logging reloaded", "level", newConfig.Log.Level, "format", newConfig.Log.Format)
	return nil
}

// TriggerShutdown asks Run to stop the daemon.
func (d *Daemon) TriggerShutdown() {
	select {
	case d.shutdownChan <- struct{}{}:
	default:
	}
}

func (d *Daemon) initLogging() error {
	if err := logpkg.Init(d.config.Log); err != nil {
		return err
	}
	slog.Debug("logging initialized",
		"level", d.config.Log.Level,
		"format", d.config.Log.Format,
	)
	return nil
}

// cleanupPartial undoes the steps of a failed Start.
func (d *Daemon) cleanupPartial() {
	if d.metricsServer != nil {
		_ = d.metricsServer.Stop(context.Background())
		d.metricsServer = nil
	}
	if err := d.removePIDFile(); err != nil {
		slog.Error("error removing PID file", "error", err)
	}
}

// startMetrics starts the metrics HTTP server if enabled.
func (d *Daemon) startMetrics() error {
	if !d.config.Metrics.Enabled {
		slog.Debug("metrics server disabled")
		return nil
	}

	ms := metrics.NewServer(d.config.Metrics.Listen, d.config.Metrics.Path)
	if err := ms.Start(d.ctx); err != nil {
		return err
	}
	d.metricsServer = ms
	return nil
}

// writePIDFile writes the current process ID to the PID file.
func (d *Daemon) writePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", d.pidFile, err)
	}

	slog.Debug("PID file written", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) removePIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.Remove(d.pidFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove PID file %s: %w", d.pidFile, err)
	}
	return nil
}

// ReadPIDFile returns the process ID recorded in path.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID file %s", path)
	}
	return pid, nil
}

// StopProcess sends SIGTERM to the daemon recorded in pidFile and waits up
// to timeout for it to exit.
func StopProcess(pidFile string, timeout time.Duration) error {
	pid, err := ReadPIDFile(pidFile)
	if err != nil {
		return fmt.Errorf("daemon not running: %w", err)
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(pidFile); errors.Is(err, os.ErrNotExist) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("pid %d did not exit within %s", pid, timeout)
}
