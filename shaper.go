// Package shaper provides a minimal public API for embedding the backlog
// shaping pipeline in other Go tools.
//
// Most automation should drive shaper through its CLI or the webhook
// receiver. This package exports only the types and the constructor needed
// to run the pipeline programmatically: load a config file with Open, call
// the pipeline operations, Close when done.
package shaper

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mapache-ai/shaper/internal/agents"
	"github.com/mapache-ai/shaper/internal/audit"
	"github.com/mapache-ai/shaper/internal/codehost"
	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/engine"
	"github.com/mapache-ai/shaper/internal/prioritize"
	"github.com/mapache-ai/shaper/internal/snapshot"
	"github.com/mapache-ai/shaper/internal/ticket"
	"github.com/mapache-ai/shaper/internal/tracker"
	_ "github.com/mapache-ai/shaper/internal/tracker/linear" // register the linear tracker
)

// Core types for working with shaped tickets
type (
	Ticket       = ticket.Ticket
	LeanTicket   = ticket.LeanTicket
	AgentBrief   = ticket.AgentBrief
	TriageResult = ticket.TriageResult
	ReadyItem    = ticket.ReadyItem
	Inspection   = ticket.Inspection
	Dispatch     = ticket.Dispatch
	Status       = ticket.Status
	Route        = ticket.Route
	Config       = config.Config
)

// Lifecycle status constants
const (
	StatusCandidate = ticket.StatusCandidate
	StatusShaped    = ticket.StatusShaped
	StatusReady     = ticket.StatusReady
	StatusParked    = ticket.StatusParked
	StatusDiscarded = ticket.StatusDiscarded
)

// Routing constants
const (
	RouteAgent  = ticket.RouteAgent
	RouteChat   = ticket.RouteChat
	RouteManual = ticket.RouteManual
)

// Pipeline is an assembled shaping engine plus the resources it owns.
// All engine operations (Triage, Next, Inspect, DispatchReady, Reset) are
// available directly on the Pipeline. Close releases the audit log and
// snapshot store; the pipeline must not be used afterwards.
type Pipeline struct {
	*engine.Engine
	cfg       *config.Config
	auditLog  *audit.Log
	snapshots *snapshot.Store
}

// Open loads the configuration file at path and assembles the pipeline
// behind it. Configuration problems are fatal and reported as a single
// error listing every issue found.
func Open(ctx context.Context, path string) (*Pipeline, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	auditLog, err := audit.Open(cfg.Resolve(cfg.Audit.Path))
	if err != nil {
		return nil, err
	}

	snapshots, err := snapshot.Open(ctx, cfg.Resolve(cfg.Snapshot.Path))
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}

	rules, err := prioritize.LoadRules(cfg.Resolve(cfg.Priority.RulesFile))
	if err != nil {
		_ = snapshots.Close()
		_ = auditLog.Close()
		return nil, err
	}

	trk, err := tracker.New(cfg.Tracker.Kind, cfg.Tracker)
	if err != nil {
		_ = snapshots.Close()
		_ = auditLog.Close()
		return nil, err
	}

	// Without a code host token the pipeline still shapes and routes;
	// only agent dispatch is unavailable.
	var host codehost.Host
	if cfg.CodeHost.Kind == "memory" || cfg.CodeHost.Token != "" {
		host, err = codehost.New(cfg.CodeHost)
		if err != nil {
			_ = snapshots.Close()
			_ = auditLog.Close()
			return nil, err
		}
	}

	var roster *agents.Roster
	if cfg.Agents.RosterFile != "" {
		roster, err = agents.Load(cfg.Resolve(cfg.Agents.RosterFile))
		if err != nil {
			_ = snapshots.Close()
			_ = auditLog.Close()
			return nil, err
		}
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
		return nil, err
	}

	return &Pipeline{
		Engine:    eng,
		cfg:       cfg,
		auditLog:  auditLog,
		snapshots: snapshots,
	}, nil
}

// Config returns the loaded configuration.
func (p *Pipeline) Config() *Config {
	return p.cfg
}

// Close flushes and releases everything the pipeline owns.
func (p *Pipeline) Close() error {
	return errors.Join(p.snapshots.Close(), p.auditLog.Close())
}
