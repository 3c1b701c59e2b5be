package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mapache-ai/shaper/internal/agents"
	"github.com/mapache-ai/shaper/internal/audit"
	"github.com/mapache-ai/shaper/internal/telemetry"
	"github.com/mapache-ai/shaper/internal/ticket"
	"github.com/mapache-ai/shaper/internal/tracker"
)

// Triage runs the pipeline over every candidate ticket in scope. An
// empty scope covers the configured projects. Results keep the
// tracker's listing order; per-ticket failures are embedded in their
// result rather than aborting the sweep.
func (e *Engine) Triage(ctx context.Context, scope string) (results []ticket.TriageResult, err error) {
	ctx, span := e.metrics.StartRun(ctx, "triage", attribute.String("shaper.scope", scope))
	defer func() { telemetry.EndRun(span, err) }()

	tickets, err := e.tracker.ListCandidates(ctx, scope)
	if err != nil {
		e.monitor.RecordError("tracker", err)
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	e.monitor.RecordSuccess("tracker")
	e.logger.Info("triage sweep", "scope", scope, "candidates", len(tickets))

	return e.sweep(ctx, tickets, false)
}

// TriageTicket runs the pipeline for one ticket, the webhook path.
func (e *Engine) TriageTicket(ctx context.Context, key string) (result *ticket.TriageResult, err error) {
	ctx, span := e.metrics.StartRun(ctx, "triage_ticket", attribute.String("shaper.ticket.key", key))
	defer func() { telemetry.EndRun(span, err) }()

	t, err := e.getTicket(ctx, key)
	if err != nil {
		return nil, err
	}

	res := e.runOne(ctx, t, false)
	e.metrics.CountTriaged(ctx, res.Status, res.Skipped, res.Err != "")
	return &res, nil
}

// CleanProject reruns leanification and prioritization across a whole
// project regardless of lifecycle status. Statuses never regress; the
// unchanged-content short-circuit is bypassed.
func (e *Engine) CleanProject(ctx context.Context, projectKey string) (results []ticket.TriageResult, err error) {
	ctx, span := e.metrics.StartRun(ctx, "clean_project", attribute.String("shaper.project", projectKey))
	defer func() { telemetry.EndRun(span, err) }()

	if projectKey == "" {
		return nil, errors.New("project key required")
	}
	tickets, err := e.tracker.ListTickets(ctx, projectKey)
	if err != nil {
		e.monitor.RecordError("tracker", err)
		return nil, fmt.Errorf("list project %s: %w", projectKey, err)
	}
	e.monitor.RecordSuccess("tracker")
	e.logger.Info("clean sweep", "project", projectKey, "tickets", len(tickets))

	return e.sweep(ctx, tickets, true)
}

// sweep fans runOne out over a bounded worker pool. Cancellation is
// cooperative: in-flight tickets finish, unstarted ones are dropped, and
// the context error is returned alongside the completed results.
func (e *Engine) sweep(ctx context.Context, tickets []ticket.Ticket, force bool) ([]ticket.TriageResult, error) {
	results := make([]ticket.TriageResult, len(tickets))
	done := make([]bool, len(tickets))

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(e.concurrency))

	var stopped error
	for i := range tickets {
		if err := sem.Acquire(gctx, 1); err != nil {
			stopped = err
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			t := tickets[i]
			results[i] = e.runOne(gctx, &t, force)
			done[i] = true
			e.metrics.CountTriaged(gctx, results[i].Status, results[i].Skipped, results[i].Err != "")
			return nil
		})
	}
	_ = g.Wait()

	if stopped != nil {
		completed := make([]ticket.TriageResult, 0, len(results))
		for i := range results {
			if done[i] {
				completed = append(completed, results[i])
			}
		}
		return completed, stopped
	}
	return results, nil
}

// readyCandidate pairs a ready ticket with its stored (or recomputed)
// pipeline outcome.
type readyCandidate struct {
	t        ticket.Ticket
	cls      *ticket.ClassificationResult
	score    ticket.PriorityScore
	decision ticket.RoutingDecision
}

// Next returns the top-n ready tickets by priority, ties broken by
// earliest creation. n <= 0 returns the whole queue.
func (e *Engine) Next(ctx context.Context, n int) (items []ticket.ReadyItem, err error) {
	ctx, span := e.metrics.StartRun(ctx, "next")
	defer func() { telemetry.EndRun(span, err) }()

	ready, err := e.listReady(ctx)
	if err != nil {
		return nil, err
	}

	items = make([]ticket.ReadyItem, 0, len(ready))
	for _, c := range ready {
		items = append(items, ticket.ReadyItem{
			Key:       c.t.Key,
			Title:     c.t.Title,
			Score:     c.score.Score,
			Route:     c.decision.Route,
			CreatedAt: c.t.CreatedAt,
			URL:       c.t.URL,
		})
	}
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return items, nil
}

// Inspect returns the stored pipeline state for one ticket, recomputing
// (without persisting) when no snapshot exists.
func (e *Engine) Inspect(ctx context.Context, key string) (insp *ticket.Inspection, err error) {
	ctx, span := e.metrics.StartRun(ctx, "inspect", attribute.String("shaper.ticket.key", key))
	defer func() { telemetry.EndRun(span, err) }()

	t, err := e.getTicket(ctx, key)
	if err != nil {
		return nil, err
	}

	insp = &ticket.Inspection{Key: t.Key, Status: t.Status}
	snap, err := e.snapshots.Get(ctx, t.ID)
	if err != nil {
		e.logger.Warn("snapshot read failed", "ticket", t.Key, "error", err)
	}
	err = nil
	if snap != nil && snap.Classification != nil {
		insp.ContentHash = snap.ContentHash
		insp.Classification = snap.Classification
		insp.Priority = snap.Priority
		insp.Routing = snap.Routing
		insp.RecordedAt = snap.UpdatedAt
		return insp, nil
	}

	cls := e.classifier.Classify(t)
	insp.Classification = &cls
	score := e.scorer().Score(&cls)
	insp.Priority = &score
	if t.Status == ticket.StatusShaped || t.Status == ticket.StatusReady {
		lean := e.leanifier.Leanify(t, &cls)
		decision := e.router.Route(t, &cls, &lean)
		insp.Routing = &decision
	}
	insp.ContentHash = t.ComputeContentHash()
	insp.Recomputed = true
	return insp, nil
}

// DispatchReady hands the top-n ready agent-routed tickets to roster
// agents: reserve capacity, start a session, link it back. Capacity is
// released when the session fails to start; exhausted capacity and
// repeat dispatches are reported as skips, not errors.
func (e *Engine) DispatchReady(ctx context.Context, n int) (dispatches []ticket.Dispatch, err error) {
	ctx, span := e.metrics.StartRun(ctx, "dispatch")
	defer func() { telemetry.EndRun(span, err) }()

	if e.host == nil {
		return nil, errors.New("no code host configured")
	}
	if e.roster == nil {
		return nil, errors.New("no agent roster configured")
	}

	ready, err := e.listReady(ctx)
	if err != nil {
		return nil, err
	}
	agentBound := ready[:0]
	for _, c := range ready {
		if c.decision.Route == ticket.RouteAgent && c.decision.Brief != nil {
			agentBound = append(agentBound, c)
		}
	}
	if n > 0 && len(agentBound) > n {
		agentBound = agentBound[:n]
	}

	dispatches = make([]ticket.Dispatch, 0, len(agentBound))
	for _, c := range agentBound {
		if ctx.Err() != nil {
			return dispatches, ctx.Err()
		}
		d := e.dispatchOne(ctx, c)
		outcome := "started"
		if d.Skipped {
			outcome = "skipped"
		}
		e.metrics.CountDispatch(ctx, outcome)
		dispatches = append(dispatches, d)
	}
	return dispatches, nil
}

func (e *Engine) dispatchOne(ctx context.Context, c readyCandidate) ticket.Dispatch {
	unlock := e.locks.lock(c.t.ID)
	defer unlock()

	d := ticket.Dispatch{Key: c.t.Key}

	// Re-dispatch of a placed job starts no second session.
	if name, ok := e.roster.AssignedTo(c.t.Key); ok {
		d.Agent = name
		d.Skipped = true
		d.Reason = fmt.Sprintf("already dispatched to %s", name)
		return d
	}

	name, err := e.roster.Assign(c.t.Key, c.cls.Surfaces)
	if err != nil {
		d.Skipped = true
		d.Reason = err.Error()
		if !errors.Is(err, agents.ErrNoCapacity) {
			e.logger.Warn("agent assignment failed", "ticket", c.t.Key, "error", err)
		}
		return d
	}
	d.Agent = name

	ref, err := e.host.StartAgentSession(ctx, c.decision.Brief)
	if err != nil {
		e.roster.Release(c.t.Key)
		e.monitor.RecordError("codehost", err)
		e.recordFailure(ctx, audit.StageDispatch, c.t.ID, contentRef{Key: c.t.Key}, err)
		d.Agent = ""
		d.Skipped = true
		d.Reason = err.Error()
		return d
	}
	e.monitor.RecordSuccess("codehost")
	d.SessionRef = ref

	// The session is running either way; link problems are recorded but
	// do not undo the dispatch.
	if err := e.host.LinkReference(ctx, c.t.Key, ref); err != nil {
		e.monitor.RecordError("codehost", err)
		e.recordFailure(ctx, audit.StageDispatch, c.t.ID, contentRef{Key: c.t.Key}, err)
	}
	if err := e.tracker.Comment(ctx, c.t.ID, fmt.Sprintf("Agent session started by %s: %s", name, ref)); err != nil {
		e.monitor.RecordError("tracker", err)
		e.logger.Warn("session comment failed", "ticket", c.t.Key, "error", err)
	}

	e.record(ctx, audit.StageDispatch, c.t.ID,
		contentRef{Key: c.t.Key},
		map[string]string{"agent": name, "session_ref": ref})
	return d
}

// Reset is the only exit from a terminal status: back to candidate, with
// the snapshot dropped so the next run starts clean.
func (e *Engine) Reset(ctx context.Context, key string) (err error) {
	ctx, span := e.metrics.StartRun(ctx, "reset", attribute.String("shaper.ticket.key", key))
	defer func() { telemetry.EndRun(span, err) }()

	t, err := e.getTicket(ctx, key)
	if err != nil {
		return err
	}

	unlock := e.locks.lock(t.ID)
	defer unlock()

	from := t.Status
	if err := e.machine.Reset(t); err != nil {
		return err
	}
	status := ticket.StatusCandidate
	if err := e.tracker.Update(ctx, t.ID, tracker.Fields{Status: &status}); err != nil {
		e.monitor.RecordError("tracker", err)
		e.recordFailure(ctx, audit.StageLifecycle, t.ID, contentRef{Key: t.Key}, err)
		return fmt.Errorf("reset %s: %w", key, err)
	}
	e.monitor.RecordSuccess("tracker")

	if err := e.snapshots.Delete(ctx, t.ID); err != nil {
		e.logger.Warn("snapshot delete failed", "ticket", t.Key, "error", err)
	}
	e.record(ctx, audit.StageLifecycle, t.ID,
		transition{From: from, To: ticket.StatusCandidate, Rationale: "external reset"}, nil)
	return nil
}

// getTicket resolves a key to a ticket, mapping tracker misses to
// ErrUnknownTicket.
func (e *Engine) getTicket(ctx context.Context, key string) (*ticket.Ticket, error) {
	t, err := e.tracker.Get(ctx, key)
	if err != nil {
		e.monitor.RecordError("tracker", err)
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	e.monitor.RecordSuccess("tracker")
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTicket, key)
	}
	return t, nil
}

// listReady collects ready tickets with their stored outcomes, sorted by
// score descending, ties to the oldest ticket.
func (e *Engine) listReady(ctx context.Context) ([]readyCandidate, error) {
	tickets, err := e.tracker.ListTickets(ctx, "")
	if err != nil {
		e.monitor.RecordError("tracker", err)
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	e.monitor.RecordSuccess("tracker")

	ready := make([]readyCandidate, 0, len(tickets))
	for _, t := range tickets {
		if t.Status != ticket.StatusReady {
			continue
		}
		c := readyCandidate{t: t}

		snap, err := e.snapshots.Get(ctx, t.ID)
		if err != nil {
			e.logger.Warn("snapshot read failed", "ticket", t.Key, "error", err)
		}
		if snap != nil && snap.Classification != nil && snap.Priority != nil && snap.Routing != nil {
			c.cls = snap.Classification
			c.score = *snap.Priority
			c.decision = *snap.Routing
		} else {
			// No stored run; compute in memory without persisting.
			cls := e.classifier.Classify(&c.t)
			lean := e.leanifier.Leanify(&c.t, &cls)
			c.cls = &cls
			c.score = e.scorer().Score(&cls)
			c.decision = e.router.Route(&c.t, &cls, &lean)
		}
		ready = append(ready, c)
	}

	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].score.Score != ready[j].score.Score {
			return ready[i].score.Score > ready[j].score.Score
		}
		if !ready[i].t.CreatedAt.Equal(ready[j].t.CreatedAt) {
			return ready[i].t.CreatedAt.Before(ready[j].t.CreatedAt)
		}
		return ready[i].t.Key < ready[j].t.Key
	})
	return ready, nil
}
