// Package engine orchestrates the shaping pipeline. It wires the pure
// stages (classify, leanify, prioritize, route) to the lifecycle machine
// and the external collaborators, serializes work per ticket, and records
// every decision on the audit trail.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/mapache-ai/shaper/internal/agents"
	"github.com/mapache-ai/shaper/internal/audit"
	"github.com/mapache-ai/shaper/internal/classify"
	"github.com/mapache-ai/shaper/internal/codehost"
	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/health"
	"github.com/mapache-ai/shaper/internal/leanify"
	"github.com/mapache-ai/shaper/internal/learn"
	"github.com/mapache-ai/shaper/internal/lifecycle"
	"github.com/mapache-ai/shaper/internal/prioritize"
	"github.com/mapache-ai/shaper/internal/route"
	"github.com/mapache-ai/shaper/internal/snapshot"
	"github.com/mapache-ai/shaper/internal/telemetry"
	"github.com/mapache-ai/shaper/internal/tracker"
)

// ErrUnknownTicket is returned when the tracker has no ticket for a key.
var ErrUnknownTicket = errors.New("unknown ticket")

const defaultConcurrency = 4

// QuotaReporter is implemented by collaborators that surface rate-limit
// headroom. The engine wires it into the health monitor.
type QuotaReporter interface {
	SetQuotaFunc(func(remaining, limit int))
}

// Options collects the engine's collaborators. Config, Tracker, Audit,
// and Snapshots are required; the rest degrade gracefully when absent.
type Options struct {
	Config    *config.Config
	Tracker   tracker.Tracker
	CodeHost  codehost.Host
	Roster    *agents.Roster
	Audit     *audit.Log
	Snapshots *snapshot.Store
	Rules     []prioritize.Rule
	Monitor   *health.Monitor
	Logger    *slog.Logger
}

// Engine runs the shaping pipeline over tracker tickets.
type Engine struct {
	cfg        *config.Config
	tracker    tracker.Tracker
	host       codehost.Host
	roster     *agents.Roster
	classifier *classify.Classifier
	leanifier  *leanify.Leanifier

	// prioritizer is guarded: serve mode swaps it when the rules file
	// changes on disk. Runs in flight keep the table they started with.
	rulesMu     sync.RWMutex
	prioritizer *prioritize.Prioritizer

	router      *route.Router
	machine     *lifecycle.Machine
	recorder    *learn.Recorder
	auditLog    *audit.Log
	snapshots   *snapshot.Store
	monitor     *health.Monitor
	logger      *slog.Logger
	metrics     *telemetry.Pipeline
	locks       *keyedMutex
	concurrency int
}

// New builds an engine from its collaborators and the loaded config.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Config == nil:
		return nil, errors.New("engine: config is required")
	case opts.Tracker == nil:
		return nil, errors.New("engine: tracker is required")
	case opts.Audit == nil:
		return nil, errors.New("engine: audit log is required")
	case opts.Snapshots == nil:
		return nil, errors.New("engine: snapshot store is required")
	}
	cfg := opts.Config

	prioritizer, err := prioritize.New(cfg.Priority, opts.Rules, cfg.Classify.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = health.NewMonitor(logger)
	}
	monitor.Register("tracker")
	if opts.CodeHost != nil {
		monitor.Register("codehost")
	}
	if qr, ok := opts.Tracker.(QuotaReporter); ok {
		qr.SetQuotaFunc(monitor.QuotaFunc("tracker"))
	}

	concurrency := cfg.Sweep.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	return &Engine{
		cfg:         cfg,
		tracker:     opts.Tracker,
		host:        opts.CodeHost,
		roster:      opts.Roster,
		classifier:  classify.New(cfg.Classify),
		leanifier:   leanify.New(cfg.Leanify),
		prioritizer: prioritizer,
		router:      route.New(cfg.Classify),
		machine:     lifecycle.New(cfg.Relevance, cfg.Classify.ConfidenceThreshold),
		recorder:    learn.NewRecorder(opts.Audit, cfg.Learn, telemetry.WrapCreator(opts.Tracker)),
		auditLog:    opts.Audit,
		snapshots:   opts.Snapshots,
		monitor:     monitor,
		logger:      logger,
		metrics:     telemetry.NewPipeline(),
		locks:       newKeyedMutex(),
		concurrency: concurrency,
	}, nil
}

// scorer returns the live prioritizer. Callers must not retain it across
// a blocking call; reload swaps the pointer, never mutates the table.
func (e *Engine) scorer() *prioritize.Prioritizer {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()
	return e.prioritizer
}

// ReloadRules replaces the live priority rule table. Serve mode calls this
// when the rules file changes on disk.
func (e *Engine) ReloadRules(rules []prioritize.Rule) error {
	p, err := prioritize.New(e.cfg.Priority, rules, e.cfg.Classify.ConfidenceThreshold)
	if err != nil {
		return err
	}
	e.rulesMu.Lock()
	e.prioritizer = p
	e.rulesMu.Unlock()
	e.logger.Info("priority rules reloaded", "rules", len(rules))
	return nil
}

// Health reports collaborator health for /healthz and serve logs.
func (e *Engine) Health() health.Report {
	return e.monitor.Report()
}

// Audit exposes the audit log for the analyze command.
func (e *Engine) Audit() *audit.Log {
	return e.auditLog
}

// Recorder exposes the self-learning recorder for filing findings.
func (e *Engine) Recorder() *learn.Recorder {
	return e.recorder
}

// Roster exposes agent capacities, nil when dispatch is not configured.
func (e *Engine) Roster() *agents.Roster {
	return e.roster
}

// record appends an ok entry; append problems are logged, not fatal,
// since triage availability outranks audit completeness.
func (e *Engine) record(ctx context.Context, stage, ticketID string, input, output any) {
	if _, err := e.recorder.Record(ctx, stage, ticketID, input, output); err != nil {
		e.logger.Warn("audit append failed", "stage", stage, "ticket", ticketID, "error", err)
	}
}

// recordFailure appends a failure entry (which may file an improvement
// ticket once the stage's failure budget is spent).
func (e *Engine) recordFailure(ctx context.Context, stage, ticketID string, input any, failure error) {
	if _, err := e.recorder.RecordFailure(ctx, stage, ticketID, input, failure); err != nil {
		e.logger.Warn("audit append failed", "stage", stage, "ticket", ticketID, "error", err)
	}
}
