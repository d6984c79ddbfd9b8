package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	api "github.com/stratawm/strata/scripting/internal/api/http"
	"github.com/stratawm/strata/scripting/internal/config"
	"github.com/stratawm/strata/scripting/internal/engine"
	"github.com/stratawm/strata/scripting/internal/host"
	"github.com/stratawm/strata/scripting/internal/logging"
	"github.com/stratawm/strata/scripting/internal/monitoring"
	"github.com/stratawm/strata/scripting/internal/world"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config file")
	scripts := flag.String("scripts", "", "Directory of Lua scripts to load on boot")
	tick := flag.Duration("tick", 16*time.Millisecond, "Refresh loop interval")
	debugAddr := flag.String("debug", "", "Serve the debug API on this address")
	dev := flag.Bool("dev", false, "Console logging at debug level")
	flag.Parse()

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		logging.NewDefault().Fatal("invalid configuration", zap.Error(err))
	}
	if *debugAddr != "" {
		cfg.Debug.Enabled = true
		cfg.Debug.Addr = *debugAddr
	}
	if *dev {
		cfg.Logging.Development = true
		cfg.Logging.Level = "debug"
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scriptd: logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	metrics := monitoring.NewDefault()
	loop := host.NewLoop(*tick, logger)
	eng := engine.New(cfg, loop, newDemoWorld(), metrics, logger)
	loop.OnTick(eng.Runtime().HostTick)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopErr := make(chan error, 1)
	go func() {
		loopErr <- loop.Run(ctx)
	}()

	// Boot scripts load beside the running loop, never before it:
	// top-level code is free to issue live state queries, and those
	// are answered on the loop's idle phase.
	loadErr := make(chan error, 1)
	go func() {
		loadErr <- eng.Runtime().LoadDir(*scripts)
	}()

	select {
	case err := <-loadErr:
		if err != nil {
			logger.Error("boot scripts failed", zap.Error(err))
			cancel()
			<-loopErr
			eng.Close()
			os.Exit(1)
		}
	case <-sigChan:
		logger.Info("shutting down")
		cancel()
		<-loopErr
		eng.Close()
		return
	}

	var debug *api.Server
	if cfg.Debug.Enabled {
		debug = api.New(cfg, eng, prometheus.DefaultGatherer, logger)
		go func() {
			if err := debug.Run(); err != nil {
				logger.Error("debug server failed", zap.Error(err))
			}
		}()
	}

	logger.Info("scriptd running",
		zap.Duration("tick", *tick),
		zap.Bool("debug", cfg.Debug.Enabled))

	select {
	case <-sigChan:
		logger.Info("shutting down")
		cancel()
		<-loopErr
	case err := <-loopErr:
		if err != nil {
			logger.Error("refresh loop failed", zap.Error(err))
		}
	}

	if debug != nil {
		shutdownCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
		if err := debug.Shutdown(shutdownCtx); err != nil {
			logger.Warn("debug server shutdown", zap.Error(err))
		}
		stop()
	}
	eng.Close()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadOrDefault(), nil
	}
	return config.LoadFile(path)
}

// buildLogger maps config onto the logging presets: the development
// console setup when -dev or the config asks for it, the production
// JSON encoder otherwise. STRATA_ENV=production wins over both.
func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	if cfg.Logging.Development && !logging.IsProduction() {
		return logging.NewDevelopment(), nil
	}
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	return logging.New(lc)
}

// demoWorld is the fixed single-output world scriptd serves state
// queries from when no compositor is attached. Scripts that only
// read state behave the same as they would in-session.
type demoWorld struct {
	snap *world.Snapshot
}

func newDemoWorld() *demoWorld {
	return &demoWorld{
		snap: &world.Snapshot{
			Outputs: []world.Output{{
				Name:     "eDP-1",
				Make:     "Strata",
				Model:    "Virtual",
				Geometry: world.Rect{Width: 1920, Height: 1080},
				Scale:    1.0,
				Refresh:  60.0,
				Focused:  true,
			}},
			Workspaces: []world.Workspace{{
				ID:     1,
				Name:   "1",
				Output: "eDP-1",
				Active: true,
			}},
			Cursor:    &world.Cursor{X: 960, Y: 540, Output: "eDP-1"},
			FocusMode: world.FocusFollowsMouse,
		},
	}
}

func (w *demoWorld) Snapshot() *world.Snapshot {
	return w.snap.Clone()
}
