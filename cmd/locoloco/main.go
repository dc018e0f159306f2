// Package main implements the locoloco controller: the hub that drives a
// model locomotive layout over TCP device channels and exposes a REST and
// websocket boundary for operators.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dededodu/locoloco/component"
	"github.com/dededodu/locoloco/config"
	"github.com/dededodu/locoloco/events"
	"github.com/dededodu/locoloco/fleet"
	gateway "github.com/dededodu/locoloco/gateway/http"
	"github.com/dededodu/locoloco/gateway/ws"
	"github.com/dededodu/locoloco/health"
	"github.com/dededodu/locoloco/metric"
	"github.com/dededodu/locoloco/oracle"
	"github.com/dededodu/locoloco/protocol"
	"github.com/dededodu/locoloco/router"
	"github.com/dededodu/locoloco/topology"
	"github.com/dededodu/locoloco/tracker"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "locoloco"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("controller failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := initializeConfiguration(cliCfg)
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("starting locoloco controller",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	if cliCfg.Validate {
		slog.Info("configuration is valid")
		return nil
	}

	manager, err := setupInfrastructure(cfg, logger)
	if err != nil {
		return err
	}

	return runWithSignalHandling(manager, cliCfg.ShutdownTimeout)
}

// initializeCLI parses and validates flags.
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	return cliCfg, false, nil
}

// initializeConfiguration loads the config file and applies flag overrides.
func initializeConfiguration(cliCfg *CLIConfig) (*config.Config, error) {
	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Flags win over file and environment.
	if cliCfg.LogLevel != "" {
		cfg.LogLevel = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.LogFormat = cliCfg.LogFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupInfrastructure builds every component and registers them with the
// lifecycle manager in dependency order.
func setupInfrastructure(cfg *config.Config, logger *slog.Logger) (*component.Manager, error) {
	layout, err := loadTopology(cfg)
	if err != nil {
		return nil, err
	}

	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	manager := component.NewManager(logger, monitor)

	// Event publisher first: everything downstream emits through it.
	var publisher events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		natsPublisher, err := events.NewNATSPublisher(events.Deps{
			URL:      cfg.NATSURL,
			Logger:   logger,
			Registry: registry,
		})
		if err != nil {
			return nil, fmt.Errorf("create event publisher: %w", err)
		}
		if err := manager.Register(natsPublisher); err != nil {
			return nil, err
		}
		publisher = natsPublisher
	}

	trk, err := tracker.New(tracker.Deps{
		Topology:       layout,
		Logger:         logger,
		Registry:       registry,
		Events:         publisher,
		SilenceTimeout: cfg.SilenceTimeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("create tracker: %w", err)
	}
	if err := manager.Register(trk); err != nil {
		return nil, err
	}

	table := fleet.NewTable()
	timeouts := fleet.Timeouts{
		RegisterGrace:    cfg.RegisterGrace.Std(),
		HeartbeatTimeout: cfg.HeartbeatTimeout.Std(),
		StaleTimeout:     cfg.StaleTimeout.Std(),
		WriteTimeout:     cfg.WriteTimeout.Std(),
	}
	listeners := []struct {
		class protocol.DeviceClass
		addr  string
	}{
		{protocol.ClassLoco, cfg.LocoAddr},
		{protocol.ClassSensor, cfg.SensorAddr},
		{protocol.ClassActuator, cfg.ActuatorAddr},
	}
	for _, l := range listeners {
		listener, err := fleet.NewListener(fleet.Deps{
			Class:    l.class,
			Addr:     l.addr,
			Table:    table,
			Sink:     trk,
			Logger:   logger,
			Registry: registry,
			Events:   publisher,
			Timeouts: timeouts,
		})
		if err != nil {
			return nil, fmt.Errorf("create %s listener: %w", l.class, err)
		}
		if err := manager.Register(listener); err != nil {
			return nil, err
		}
	}

	rtr, err := router.New(router.Deps{
		Sessions:       table,
		Locos:          trk,
		Topology:       layout,
		Logger:         logger,
		Registry:       registry,
		Events:         publisher,
		CommandTimeout: cfg.CommandTimeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	supervisor, err := oracle.New(oracle.Deps{
		Locos:    trk,
		Commands: rtr,
		Topology: layout,
		Logger:   logger,
		Registry: registry,
		Tick:     cfg.OracleTick.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("create oracle: %w", err)
	}
	if err := manager.Register(supervisor); err != nil {
		return nil, err
	}

	stream, err := ws.New(ws.Deps{
		Locos:    trk,
		Switches: rtr,
		Logger:   logger,
		Registry: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("create status stream: %w", err)
	}
	if err := manager.Register(stream); err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Deps{
		Addr:         cfg.HTTPAddr,
		Locos:        trk,
		Commands:     rtr,
		Supervisor:   supervisor,
		Monitor:      monitor,
		Logger:       logger,
		Registry:     registry,
		StatusStream: stream,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	if err := manager.Register(gw); err != nil {
		return nil, err
	}

	return manager, nil
}

// loadTopology reads the layout file, or uses the built-in reference layout.
func loadTopology(cfg *config.Config) (*topology.Network, error) {
	if cfg.TopologyPath == "" {
		return topology.Default(), nil
	}
	layout, err := topology.Load(cfg.TopologyPath)
	if err != nil {
		return nil, fmt.Errorf("load topology: %w", err)
	}
	return layout, nil
}

// runWithSignalHandling starts everything and blocks until SIGINT/SIGTERM.
func runWithSignalHandling(manager *component.Manager, shutdownTimeout time.Duration) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if err := manager.InitializeAll(); err != nil {
		return fmt.Errorf("initialize components: %w", err)
	}
	if err := manager.StartAll(signalCtx, shutdownTimeout); err != nil {
		return fmt.Errorf("start components: %w", err)
	}
	slog.Info("locoloco controller running")

	<-signalCtx.Done()
	slog.Info("received shutdown signal")

	if err := manager.StopAll(shutdownTimeout); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("locoloco shutdown complete")
	return nil
}
