package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"focusd/internal/config"
	"focusd/internal/engine"
	"focusd/internal/health"
	"focusd/internal/ipc"
	"focusd/internal/logging"
	"focusd/internal/metrics"
	"focusd/internal/rules"
	"focusd/internal/tracking"
)

const (
	// crashRetention is how long crash reports are kept.
	crashRetention = 30 * 24 * time.Hour

	// minFreeDisk is the free space below which the data volume is unhealthy.
	minFreeDisk = 100 << 20
)

// daemon owns every long-lived component of a running focusd.
type daemon struct {
	cfg     *config.Config
	logger  *logging.Logger
	crash   *logging.CrashHandler
	metrics *metrics.FocusMetrics
	engine  *engine.Engine
	rules   *rules.Watcher
	tracker *tracking.Service
	server  *ipc.Server
	health  *health.Checker
}

func newLogger(c config.LoggingConfig) (*logging.Logger, error) {
	// Without a home directory paths are logged in full.
	home, _ := os.UserHomeDir()
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     c.Output,
		FilePath:   c.FilePath,
		MaxSize:    int64(c.MaxSizeMB),
		MaxAge:     c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
		Component:  logging.ComponentDaemon,
		Home:       home,
	})
}

// newDaemon opens the store and builds the tracking and IPC components.
// Nothing runs until run is called.
func newDaemon(cfg *config.Config) (*daemon, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("set up logging: %w", err)
	}
	logging.SetDefault(logger)

	d := &daemon{
		cfg:    cfg,
		logger: logger,
		crash: logging.NewCrashHandler(logging.CrashHandlerConfig{
			CrashDir: filepath.Join(filepath.Dir(cfg.Logging.FilePath), "crashes"),
			Version:  version,
			Logger:   logger.WithComponent(logging.ComponentCrash).Logger,
		}),
		metrics: metrics.NewFocusMetrics(metrics.NewRegistry("focusd")),
	}

	d.engine, err = engine.Open(cfg.Storage.DataDir,
		engine.WithLogger(logger.WithComponent(logging.ComponentEngine).Logger),
		engine.WithMetrics(d.metrics),
	)
	if err != nil {
		logger.Close()
		if errors.Is(err, engine.ErrLocked) {
			return nil, fmt.Errorf("%w (is another focusd running?)", err)
		}
		return nil, err
	}

	if err := d.build(); err != nil {
		d.close()
		return nil, err
	}
	return d, nil
}

func (d *daemon) build() error {
	cfg := d.cfg

	if err := os.MkdirAll(filepath.Dir(cfg.Rules.Path), 0700); err != nil {
		return fmt.Errorf("create rules directory: %w", err)
	}
	w, err := rules.NewWatcher(cfg.Rules.Path, rulesHome(d.logger.WithComponent(logging.ComponentRules).Logger))
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}
	d.rules = w

	if cfg.Tracking.Enabled {
		opts := []tracking.Option{
			tracking.WithFilter(d.rules),
			tracking.WithMetrics(d.metrics),
			tracking.WithLogger(d.logger.WithComponent(logging.ComponentTracking).Logger),
		}
		if cfg.Tracking.SleepWatch {
			opts = append(opts, tracking.WithSleepWatcher(tracking.NewSleepWatcher()))
		}
		source := tracking.NewSource(tracking.SourceConfig{SampleInterval: cfg.Tracking.SampleInterval()})
		d.tracker = tracking.NewService(tracking.Config{
			PollInterval:    cfg.Tracking.PollInterval(),
			InvalidInterval: cfg.Tracking.InvalidInterval(),
			QueueSize:       cfg.Tracking.QueueSize,
		}, source, d.engine, opts...)
	}

	d.health = d.healthChecks()

	if cfg.IPC.Enabled {
		hcfg := ipc.DaemonHandlerConfig{
			Engine:  d.engine,
			Metrics: d.metrics,
			Health:  d.health,
			Version: version,
		}
		if d.tracker != nil {
			hcfg.Tracker = d.tracker
		}
		handler := ipc.NewDaemonHandler(hcfg)

		scfg := ipc.DefaultServerConfig(filepath.Dir(cfg.IPC.SocketPath))
		scfg.SocketPath = cfg.IPC.SocketPath
		scfg.MaxConnections = cfg.IPC.MaxConnections
		scfg.IdleTimeout = time.Duration(cfg.IPC.IdleTimeoutSec) * time.Second
		scfg.RequestsPerSecond = cfg.IPC.RequestsPerSecond
		scfg.Burst = cfg.IPC.Burst
		scfg.Logger = d.logger.WithComponent(logging.ComponentIPC).Logger

		d.server = ipc.NewServer(scfg, handler)
		handler.AttachServer(d.server)
	}
	return nil
}

func (d *daemon) healthChecks() *health.Checker {
	c := health.NewChecker()
	dir := d.cfg.Storage.DataDir

	c.RegisterFunc("storage", true, health.WritableDirCheck(dir))
	c.RegisterFunc("disk", false, health.DiskSpaceCheck(dir, minFreeDisk))
	c.RegisterFunc("engine", true, func(ctx context.Context) health.CheckResult {
		st := d.engine.Stats()
		res := health.CheckResult{
			Status:  health.StatusHealthy,
			Details: map[string]any{"records": st.Records, "state": d.engine.State().String()},
		}
		if d.engine.State() == engine.Suspended {
			res.Status = health.StatusDegraded
			res.Message = "recording suspended"
		}
		return res
	})
	if d.tracker != nil {
		c.RegisterFunc("tracking", false, func(ctx context.Context) health.CheckResult {
			st := d.tracker.Status()
			res := health.CheckResult{
				Status:  health.StatusHealthy,
				Message: st.Source,
				Details: map[string]any{"spans": st.Spans, "write_errors": st.WriteErrors},
			}
			switch {
			case !st.Running:
				res.Status = health.StatusUnhealthy
				res.Message = "tracking is not running"
			case st.WriteErrors > 0:
				res.Status = health.StatusDegraded
				res.Error = st.LastError
			case !st.SourceReady:
				res.Status = health.StatusDegraded
			}
			return res
		})
	}
	return c
}

// rulesHome returns the directory "~" expands to in rules. Without one,
// rules written with "~" match nothing.
func rulesHome(logger *slog.Logger) string {
	home, err := os.UserHomeDir()
	if err != nil {
		logger.Warn("home directory unknown; rules starting with ~ will not match", "error", err)
		return ""
	}
	return home
}

// run starts every component and blocks until ctx is cancelled or a
// component fails. The open span is flushed before the store closes.
func (d *daemon) run(ctx context.Context, loader *config.Loader) error {
	defer d.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if n, err := d.crash.CleanupOldCrashReports(crashRetention); err != nil {
		d.logger.Warn("crash report cleanup failed", "error", err)
	} else if n > 0 {
		d.logger.Info("removed old crash reports", "count", n)
	}

	if d.server != nil {
		if err := d.server.Start(); err != nil {
			return fmt.Errorf("start ipc server: %w", err)
		}
		defer d.server.Stop()
	}

	if loader != nil {
		loader.SetLogger(d.logger.WithComponent(logging.ComponentConfig).Logger)
		loader.OnChange(d.applyConfig)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 3)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.crash.Guard(name, func() error { return fn(ctx) }); err != nil {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	if d.tracker != nil {
		spawn("tracking", d.tracker.Run)
	}
	if d.cfg.Rules.Watch {
		spawn("rules", d.rules.Run)
	}
	if loader != nil {
		spawn("config", loader.Watch)
	}

	d.health.SetReady(true)
	d.logger.Info("focusd started",
		"version", version,
		"data_dir", d.engine.Dir(),
		"instance_id", d.engine.Meta().InstanceID,
		"tracking", d.tracker != nil,
		"socket", d.cfg.IPC.SocketPath,
	)

	<-ctx.Done()
	d.health.SetReady(false)
	wg.Wait()
	close(errs)

	d.logger.Info("focusd stopping")
	var first error
	for err := range errs {
		d.logger.Error("component failed", "error", err)
		if first == nil {
			first = err
		}
	}
	return first
}

// applyConfig applies the settings that can change without a restart.
func (d *daemon) applyConfig(old, cur *config.Config) {
	if cur.Logging.Level != old.Logging.Level {
		if level, err := logging.ParseLevel(cur.Logging.Level); err == nil {
			d.logger.SetLevel(level)
			d.logger.Info("log level changed", "level", cur.Logging.Level)
		}
	}
	if d.tracker != nil && cur.Tracking.PollIntervalSec != old.Tracking.PollIntervalSec {
		d.tracker.SetPollInterval(cur.Tracking.PollInterval())
	}
	if cur.Storage.DataDir != old.Storage.DataDir ||
		cur.IPC != old.IPC ||
		cur.Tracking.InvalidIntervalSec != old.Tracking.InvalidIntervalSec ||
		cur.Tracking.Enabled != old.Tracking.Enabled ||
		cur.Rules != old.Rules {
		d.logger.Warn("configuration change requires a restart to take effect")
	}
}

func (d *daemon) close() error {
	var errs []error
	if d.engine != nil {
		if err := d.engine.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close engine: %w", err))
		}
		d.engine = nil
	}
	if d.logger != nil {
		d.logger.Close()
	}
	return errors.Join(errs...)
}
