package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/mapache-ai/shaper/internal/audit"
	"github.com/mapache-ai/shaper/internal/learn"
	"github.com/mapache-ai/shaper/internal/snapshot"
	"github.com/mapache-ai/shaper/internal/telemetry"
	"github.com/mapache-ai/shaper/internal/ticket"
	"github.com/mapache-ai/shaper/internal/tracker"
)

// contentRef is the audit input snapshot for content-driven stages.
type contentRef struct {
	Key         string `json:"key"`
	Title       string `json:"title,omitempty"`
	ContentHash string `json:"content_hash"`
}

// transition is the audit payload for lifecycle moves.
type transition struct {
	From      ticket.Status `json:"from"`
	To        ticket.Status `json:"to"`
	Rationale string        `json:"rationale,omitempty"`
}

// runOne executes the pipeline for a single ticket under its keyed lock.
// Collaborator failures are captured in the result, never returned: the
// lifecycle status is left untouched and a failure entry lands on the
// audit trail. force (clean-project) bypasses the unchanged-content
// short-circuit and refreshes terminal tickets in place.
func (e *Engine) runOne(ctx context.Context, t *ticket.Ticket, force bool) ticket.TriageResult {
	unlock := e.locks.lock(t.ID)
	defer unlock()

	ctx, span := e.metrics.StartRun(ctx, "pipeline",
		attribute.String("shaper.ticket.key", t.Key),
	)
	res := ticket.TriageResult{Key: t.Key, TicketID: t.ID, Status: t.Status}
	defer func() {
		var err error
		if res.Err != "" {
			err = errors.New(res.Err)
		}
		telemetry.EndRun(span, err)
	}()

	hash := t.ComputeContentHash()

	if t.Status.IsTerminal() && !force {
		res.Skipped = true
		res.Relevant = t.Status != ticket.StatusDiscarded
		res.Rationale = fmt.Sprintf("%s is terminal; only an explicit reset revives it", t.Status)
		return res
	}

	// Idempotency short-circuit: an already shaped ticket whose content
	// has not moved keeps its previous run.
	if !force && (t.Status == ticket.StatusShaped || t.Status == ticket.StatusReady) {
		snap, err := e.snapshots.Get(ctx, t.ID)
		if err != nil {
			e.logger.Warn("snapshot read failed", "ticket", t.Key, "error", err)
		} else if snap != nil && snap.ContentHash == hash {
			res.Skipped = true
			res.Relevant = true
			res.Classification = snap.Classification
			res.Priority = snap.Priority
			res.Routing = snap.Routing
			res.Rationale = "content unchanged since last run"
			return res
		}
	}

	start := time.Now()
	cls := e.classifier.Classify(t)
	e.metrics.ObserveStage(ctx, audit.StageClassify, start)
	e.record(ctx, audit.StageClassify, t.ID, contentRef{Key: t.Key, Title: t.Title, ContentHash: hash}, cls)
	res.Classification = &cls

	switch {
	case t.Status == ticket.StatusCandidate:
		verdict, why := e.machine.Assess(t, &cls)
		if verdict == ticket.StatusParked || verdict == ticket.StatusDiscarded {
			e.sideline(ctx, t, &res, &cls, verdict, why, hash)
			return res
		}
		res.Relevant = true
		e.shape(ctx, t, &res, &cls, hash, why)
	case t.Status.IsTerminal():
		// force only: refresh content and score, leave the resting state.
		res.Relevant = true
		e.refresh(ctx, t, &res, &cls, hash)
	default:
		res.Relevant = true
		e.shape(ctx, t, &res, &cls, hash, "")
	}
	return res
}

// shape runs the content stages over an admitted ticket, advances the
// lifecycle, and persists the rewrite.
func (e *Engine) shape(ctx context.Context, t *ticket.Ticket, res *ticket.TriageResult, cls *ticket.ClassificationResult, hash, admitWhy string) {
	original := t.Status
	if t.Status == ticket.StatusCandidate {
		if err := e.machine.Advance(t, ticket.StatusShaped); err != nil {
			e.fail(ctx, res, t, original, audit.StageLifecycle, "", err)
			return
		}
	}

	start := time.Now()
	lean := e.leanifier.Leanify(t, cls)
	e.metrics.ObserveStage(ctx, audit.StageLeanify, start)
	e.record(ctx, audit.StageLeanify, t.ID, contentRef{Key: t.Key, ContentHash: hash}, lean)
	res.Lean = &lean

	start = time.Now()
	score := e.scorer().Score(cls)
	e.metrics.ObserveStage(ctx, audit.StagePrioritize, start)
	e.record(ctx, audit.StagePrioritize, t.ID, cls, score)
	res.Priority = &score

	start = time.Now()
	decision := e.router.Route(t, cls, &lean)
	e.metrics.ObserveStage(ctx, audit.StageRoute, start)
	e.record(ctx, audit.StageRoute, t.ID, cls, decision)
	res.Routing = &decision

	// Tickets with an executable artifact are ready; manual ones wait at
	// shaped for a human. Never regress an already ready ticket.
	if decision.Route == ticket.RouteAgent || decision.Route == ticket.RouteChat {
		if err := e.machine.Advance(t, ticket.StatusReady); err != nil {
			e.fail(ctx, res, t, original, audit.StageLifecycle, "", err)
			return
		}
	}
	res.Status = t.Status
	res.Rationale = admitWhy
	if res.Rationale == "" {
		res.Rationale = decision.Rationale
	}

	desc := lean.Markdown()
	labels := withRouteLabel(t.Labels, decision.Route)
	prio := e.cfg.Priority.TrackerPriority(score.Score)
	fields := tracker.Fields{Description: &desc, Labels: &labels, Priority: &prio}
	if t.Status != original {
		fields.Status = &t.Status
	}
	if err := e.tracker.Update(ctx, t.ID, fields); err != nil {
		e.fail(ctx, res, t, original, audit.StageLifecycle, "tracker", fmt.Errorf("update %s: %w", t.Key, err))
		return
	}
	e.monitor.RecordSuccess("tracker")

	if t.Status != original {
		e.record(ctx, audit.StageLifecycle, t.ID,
			transition{From: original, To: t.Status, Rationale: admitWhy}, nil)
	}

	// The rewrite just changed the tracker-side content. Snapshot the hash
	// of what is stored now, so the next run's short-circuit compares
	// against the description and labels it will actually fetch.
	t.Description = desc
	t.Labels = labels
	e.putSnapshot(ctx, t, t.ComputeContentHash(), cls, &score, &decision)
}

// sideline parks or discards a candidate: rationale comment, status
// write, no artifacts.
func (e *Engine) sideline(ctx context.Context, t *ticket.Ticket, res *ticket.TriageResult, cls *ticket.ClassificationResult, verdict ticket.Status, why, hash string) {
	original := t.Status
	if err := e.machine.Advance(t, verdict); err != nil {
		e.fail(ctx, res, t, original, audit.StageLifecycle, "", err)
		return
	}
	res.Status = verdict
	res.Rationale = why
	res.Relevant = verdict != ticket.StatusDiscarded

	body := fmt.Sprintf("Shaper %s this ticket: %s", verdict, why)
	if err := e.tracker.Comment(ctx, t.ID, body); err != nil {
		e.fail(ctx, res, t, original, audit.StageLifecycle, "tracker", fmt.Errorf("comment %s: %w", t.Key, err))
		return
	}
	status := verdict
	if err := e.tracker.Update(ctx, t.ID, tracker.Fields{Status: &status}); err != nil {
		e.fail(ctx, res, t, original, audit.StageLifecycle, "tracker", fmt.Errorf("update %s: %w", t.Key, err))
		return
	}
	e.monitor.RecordSuccess("tracker")

	e.record(ctx, audit.StageLifecycle, t.ID,
		transition{From: original, To: verdict, Rationale: why}, nil)

	e.putSnapshot(ctx, t, hash, cls, nil, nil)
}

// refresh reruns the content stages over a terminal ticket during a
// clean-project pass. The resting status never moves and no route is
// computed.
func (e *Engine) refresh(ctx context.Context, t *ticket.Ticket, res *ticket.TriageResult, cls *ticket.ClassificationResult, hash string) {
	start := time.Now()
	lean := e.leanifier.Leanify(t, cls)
	e.metrics.ObserveStage(ctx, audit.StageLeanify, start)
	e.record(ctx, audit.StageLeanify, t.ID, contentRef{Key: t.Key, ContentHash: hash}, lean)
	res.Lean = &lean

	start = time.Now()
	score := e.scorer().Score(cls)
	e.metrics.ObserveStage(ctx, audit.StagePrioritize, start)
	e.record(ctx, audit.StagePrioritize, t.ID, cls, score)
	res.Priority = &score

	desc := lean.Markdown()
	prio := e.cfg.Priority.TrackerPriority(score.Score)
	if err := e.tracker.Update(ctx, t.ID, tracker.Fields{Description: &desc, Priority: &prio}); err != nil {
		e.fail(ctx, res, t, t.Status, audit.StageLifecycle, "tracker", fmt.Errorf("update %s: %w", t.Key, err))
		return
	}
	e.monitor.RecordSuccess("tracker")

	t.Description = desc
	e.putSnapshot(ctx, t, t.ComputeContentHash(), cls, &score, nil)
}

// fail records a failed run: the lifecycle status stays where it was,
// the failure lands on the audit trail, and the result carries the error
// for the caller. collab names the collaborator to blame on the health
// monitor, empty for internal failures.
func (e *Engine) fail(ctx context.Context, res *ticket.TriageResult, t *ticket.Ticket, original ticket.Status, stage, collab string, err error) {
	t.Status = original
	res.Status = original
	res.Err = err.Error()
	if collab != "" {
		e.monitor.RecordError(collab, err)
	} else {
		// Not a collaborator hiccup: the engine asked the lifecycle for a
		// transition it forbids. One occurrence is worth a proposal.
		err = learn.Severe(err)
	}
	e.recordFailure(ctx, stage, t.ID, contentRef{Key: t.Key}, err)
	e.logger.Warn("pipeline run failed", "ticket", t.Key, "stage", stage, "error", err)
}

// putSnapshot stores the run's outcome for idempotency checks and
// inspect. Snapshot problems only cost a recomputation next run.
func (e *Engine) putSnapshot(ctx context.Context, t *ticket.Ticket, hash string, cls *ticket.ClassificationResult, score *ticket.PriorityScore, decision *ticket.RoutingDecision) {
	rec := &snapshot.Record{
		TicketID:       t.ID,
		ContentHash:    hash,
		Status:         t.Status,
		Classification: cls,
		Priority:       score,
		Routing:        decision,
	}
	if err := e.snapshots.Put(ctx, rec); err != nil {
		e.logger.Warn("snapshot write failed", "ticket", t.Key, "error", err)
	}
}

// withRouteLabel swaps any previous route marker for the current one.
func withRouteLabel(labels []string, r ticket.Route) []string {
	out := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		if !strings.HasPrefix(l, "route:") {
			out = append(out, l)
		}
	}
	return append(out, "route:"+string(r))
}
