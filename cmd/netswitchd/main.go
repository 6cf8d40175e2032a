package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/markus-lassfolk/netswitch/pkg"
	"github.com/markus-lassfolk/netswitch/pkg/config"
	"github.com/markus-lassfolk/netswitch/pkg/failover"
	"github.com/markus-lassfolk/netswitch/pkg/journal"
	"github.com/markus-lassfolk/netswitch/pkg/logx"
	"github.com/markus-lassfolk/netswitch/pkg/metrics"
	"github.com/markus-lassfolk/netswitch/pkg/mqtt"
	"github.com/markus-lassfolk/netswitch/pkg/pidfile"
)

const (
	AppName    = "netswitchd"
	AppVersion = "1.0.0"
)

func main() {
	fs := flag.NewFlagSet(AppName, flag.ExitOnError)
	var (
		configPath = fs.String("config", config.DefaultConfigPath, "path to the YAML or TOML configuration (env: NETSWITCH_CONFIG)")
		pidPath    = fs.String("pid-file", "/run/netswitchd.pid", "path to PID file")
		logLevel   = fs.String("log-level", "", "override log level (debug|info|warn|error|trace)")
		force      = fs.Bool("force", false, "force start by removing a stale PID file")
		watch      = fs.Bool("watch", true, "check early when the configuration file changes")
		version    = fs.Bool("version", false, "show version information")
	)
	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("NETSWITCH")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	effectiveLogLevel := config.DefaultLogLevel
	if *logLevel != "" {
		effectiveLogLevel = *logLevel
	}
	logger := logx.NewLogger(effectiveLogLevel, AppName)

	pidFile := pidfile.New(*pidPath)
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Error("Failed to check for running instance", "error", err)
		os.Exit(1)
	}
	if running {
		if !*force {
			logger.Error("Another instance is already running", "existing_pid", existingPID, "pid_file", *pidPath)
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			fmt.Fprintf(os.Stderr, "Use --force to override, or stop the existing instance first\n")
			os.Exit(1)
		}
		logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
		if err := pidFile.ForceRemove(); err != nil {
			logger.Error("Failed to remove existing PID file", "error", err)
			os.Exit(1)
		}
	}
	if err := pidFile.Create(); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", *pidPath)
		os.Exit(1)
	}

	code := run(logger, *configPath, *logLevel != "", *watch)

	if err := pidFile.Remove(); err != nil {
		logger.Error("Failed to remove PID file", "error", err)
	}
	os.Exit(code)
}

func run(logger *logx.Logger, configPath string, levelPinned, watch bool) int {
	logger.Info("Starting netswitch daemon", "version", AppVersion, "pid", os.Getpid(), "config", configPath)

	loader := config.NewLoader(configPath, func(cfg *config.Config) {
		if !levelPinned {
			logger.SetLevel(cfg.LogLevel)
		}
	})
	cfg, err := loader.Reload()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", configPath)
		return 1
	}
	logger.Info("Configuration loaded",
		"rules", len(cfg.Rules),
		"interval", cfg.Interval.String(),
		"scanner", cfg.Scanner.Backend,
		"lifeline", cfg.Lifeline.SSID)

	sys, err := failover.NewSystem(cfg, nil, logger)
	if err != nil {
		logger.Error("Failed to initialize system adapters", "error", err)
		return 1
	}
	engine := failover.New(sys.Deps(loader, logger.With("component", "failover")))

	var observers []pkg.CheckObserver
	if cfg.Journal.Path != "" {
		j, err := journal.Open(cfg.Journal.Path, cfg.Journal.MaxEntries, logger.With("component", "journal"))
		if err != nil {
			logger.Error("Failed to open journal, history disabled", "error", err, "path", cfg.Journal.Path)
		} else {
			defer j.Close()
			observers = append(observers, j)
		}
	}

	m := metrics.New(engine.Registry())
	observers = append(observers, m)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MQTT.Enabled {
		publisher := mqtt.NewClient(cfg.MQTT, logger.With("component", "mqtt"))
		if err := publisher.Connect(ctx); err != nil {
			logger.Warn("MQTT connection failed, publishing disabled", "error", err)
		} else {
			defer publisher.Disconnect()
			observers = append(observers, publisher)
		}
	}

	for _, o := range observers {
		engine.AddObserver(o)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return engine.Run(ctx) })

	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return metrics.Serve(ctx, cfg.Metrics.Listen, m.Handler(), logger) })
	}

	if watch {
		g.Go(func() error {
			if err := config.Watch(ctx, loader.Path(), engine.Wake(), logger); err != nil {
				logger.Warn("Config watcher unavailable", "error", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				logger.Info("Received SIGHUP, checking now")
				select {
				case engine.Wake() <- struct{}{}:
				default:
				}
			}
		}
	})

	g.Go(func() error {
		watchdog(ctx, logger)
		return nil
	})

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Debug("sd_notify ready failed", "error", err)
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Daemon stopped with error", "error", err)
		return 1
	}
	logger.Info("Shutting down netswitch daemon", "last_connected", lastConnected(engine))
	return 0
}

// watchdog pings systemd at half the configured watchdog interval.
func watchdog(ctx context.Context, logger *logx.Logger) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return
	}
	logger.Debug("Systemd watchdog enabled", "interval", interval.String())
	ticker := time.NewTicker(interval / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}

func lastConnected(e *failover.Engine) bool {
	last := e.Last()
	return last != nil && last.Connected
}
