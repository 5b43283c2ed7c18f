package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/praxis-works/covenant/pkg/config"
	"github.com/praxis-works/covenant/pkg/engine"
	"github.com/praxis-works/covenant/pkg/ledger"
	"github.com/praxis-works/covenant/pkg/observability"
)

// Subsystems the serve loop heartbeats on behalf of. They match the
// components the engine registers with the watchdog at boot.
var heartbeatSubsystems = []string{"router", "legality", "audit", "bus"}

// runServe boots the kernel and runs the watchdog loop until interrupted.
//
// Exit codes:
//
//	0 = clean shutdown
//	1 = boot failed
//	2 = runtime error
func runServe(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("serve", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var constitutionPath string
	cmd.StringVar(&constitutionPath, "constitution", "", "Override COVENANT_CONSTITUTION")

	if err := cmd.Parse(args); err != nil {
		return 2
	}

	cfg := config.Load()
	if constitutionPath != "" {
		cfg.ConstitutionPath = constitutionPath
	}

	logger := newLogger(stderr, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Enabled = cfg.TelemetryEnabled
	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: telemetry init failed: %v\n", err)
		return 2
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	eng, cleanup, err := buildEngine(cfg, obs, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	defer cleanup()

	report, err := eng.Boot(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Boot failed: %v\n", err)
		for _, p := range report.Phases {
			if p.Status == "failed" {
				_, _ = fmt.Fprintf(stderr, "  phase %s: %s\n", p.Name, p.Detail)
			}
		}
		return 1
	}

	logger.Info("kernel ready",
		"constitution", cfg.ConstitutionPath,
		"archetype", eng.Governance().Name,
		"phases", len(report.Phases))

	ticker := time.NewTicker(eng.Watchdog().Interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down", "stats", eng.Stats())
			return 0
		case <-ticker.C:
			if eng.IsHalted() {
				continue
			}
			for _, name := range heartbeatSubsystems {
				_ = eng.Watchdog().Heartbeat(name)
			}
			if dead := eng.Watchdog().Check(); len(dead) > 0 {
				logger.Warn("watchdog detected dead components", "components", dead)
			}
		}
	}
}

// buildEngine assembles the engine from runtime configuration. The
// returned cleanup closes the SQLite store when one was opened.
func buildEngine(cfg *config.Config, obs *observability.Provider, logger *slog.Logger) (*engine.Engine, func(), error) {
	opts := engine.Options{
		ConstitutionPath: cfg.ConstitutionPath,
		Archetype:        cfg.Archetype,
		Telemetry:        obs,
		Logger:           logger,
	}
	cleanup := func() {}
	if cfg.LedgerDBPath != "" {
		store, err := ledger.OpenSQLite(cfg.LedgerDBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open ledger store: %w", err)
		}
		opts.LedgerStore = store
		cleanup = func() { _ = store.Close() }
	}
	return engine.New(opts), cleanup, nil
}

func newLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
