package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mapache-ai/shaper/internal/agents"
	"github.com/mapache-ai/shaper/internal/audit"
	"github.com/mapache-ai/shaper/internal/codehost"
	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/engine"
	"github.com/mapache-ai/shaper/internal/prioritize"
	"github.com/mapache-ai/shaper/internal/snapshot"
	"github.com/mapache-ai/shaper/internal/telemetry"
	"github.com/mapache-ai/shaper/internal/tracker"
	_ "github.com/mapache-ai/shaper/internal/tracker/linear" // register the linear tracker
)

// configFile resolves the config path: --config flag, then $SHAPER_CONFIG,
// then shaper.yaml in the working directory.
func configFile() string {
	if configPath != "" {
		return configPath
	}
	if env := os.Getenv("SHAPER_CONFIG"); env != "" {
		return env
	}
	return "shaper.yaml"
}

// appRuntime bundles everything a command needs: loaded config, the
// engine, and a close func that flushes and releases resources in reverse
// order.
type appRuntime struct {
	cfg   *config.Config
	eng   *engine.Engine
	rules string // resolved rules file path, watched in serve mode
	close func()
}

// buildRuntime loads config and assembles the full pipeline. Config errors
// are fatal: a misconfigured shaper must not half-run.
func buildRuntime(ctx context.Context) (*appRuntime, error) {
	cfg, err := config.Load(configFile())
	if err != nil {
		return nil, err
	}

	if err := telemetry.Init(ctx, cfg.Telemetry, "shaper", Version); err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	auditLog, err := audit.Open(cfg.Resolve(cfg.Audit.Path))
	if err != nil {
		shutdownTelemetry(ctx)
		return nil, err
	}

	snapshots, err := snapshot.Open(ctx, cfg.Resolve(cfg.Snapshot.Path))
	if err != nil {
		_ = auditLog.Close()
		shutdownTelemetry(ctx)
		return nil, err
	}

	rulesPath := cfg.Resolve(cfg.Priority.RulesFile)
	rules, err := prioritize.LoadRules(rulesPath)
	if err != nil {
		_ = snapshots.Close()
		_ = auditLog.Close()
		shutdownTelemetry(ctx)
		return nil, err
	}

	trk, err := buildTracker(cfg)
	if err != nil {
		_ = snapshots.Close()
		_ = auditLog.Close()
		shutdownTelemetry(ctx)
		return nil, err
	}

	host, err := buildHost(cfg)
	if err != nil {
		_ = snapshots.Close()
		_ = auditLog.Close()
		shutdownTelemetry(ctx)
		return nil, err
	}

	roster, err := buildRoster(cfg)
	if err != nil {
		_ = snapshots.Close()
		_ = auditLog.Close()
		shutdownTelemetry(ctx)
		return nil, err
	}

	eng, err := engine.New(engine.Options{
		Config:    cfg,
		Tracker:   trk,
		CodeHost:  host,
		Roster:    roster,
		Audit:     auditLog,
		Snapshots: snapshots,
		Rules:     rules,
		Logger:    slog.Default(),
	})
	if err != nil {
		_ = snapshots.Close()
		_ = auditLog.Close()
		shutdownTelemetry(ctx)
		return nil, err
	}

	return &appRuntime{
		cfg:   cfg,
		eng:   eng,
		rules: rulesPath,
		close: func() {
			if err := snapshots.Close(); err != nil {
				slog.Warn("closing snapshot store", "error", err)
			}
			if err := auditLog.Close(); err != nil {
				slog.Warn("closing audit log", "error", err)
			}
			shutdownTelemetry(context.Background())
		},
	}, nil
}

func shutdownTelemetry(ctx context.Context) {
	if err := telemetry.Shutdown(ctx); err != nil {
		slog.Warn("telemetry shutdown", "error", err)
	}
}

func buildTracker(cfg *config.Config) (tracker.Tracker, error) {
	return tracker.New(cfg.Tracker.Kind, cfg.Tracker)
}

// buildHost returns nil (not an error) when no code host is usable:
// shaping works without one, only agent dispatch needs it.
func buildHost(cfg *config.Config) (codehost.Host, error) {
	if cfg.CodeHost.Kind != "memory" && cfg.CodeHost.Token == "" {
		slog.Warn("code host token not set, agent dispatch disabled",
			"token_env", cfg.CodeHost.TokenEnv)
		return nil, nil
	}
	return codehost.New(cfg.CodeHost)
}

func buildRoster(cfg *config.Config) (*agents.Roster, error) {
	if cfg.Agents.RosterFile == "" {
		return nil, nil
	}
	return agents.Load(cfg.Resolve(cfg.Agents.RosterFile))
}
