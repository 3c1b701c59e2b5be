// Package learn closes the feedback loop: it records every stage outcome
// to the audit log, watches failure rates, and turns recurring problems
// into improvement-ticket proposals.
//
// Nothing in this package ever changes pipeline behavior. Findings and
// improvement tickets are proposals for a human; applying them means
// editing configuration and shipping it like any other change.
package learn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mapache-ai/shaper/internal/audit"
	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/idgen"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// Finding kinds produced by Analyze.
const (
	FindingRepeatedFailure = "repeated-failure"
	FindingMisroute        = "misroute"
)

// Creator files improvement tickets on the tracker. Implemented by the
// tracker client; nil disables filing.
type Creator interface {
	Create(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error)
}

// severeError marks a failure that warrants an immediate proposal
// instead of waiting for the rate threshold.
type severeError struct{ err error }

func (e *severeError) Error() string { return e.err.Error() }
func (e *severeError) Unwrap() error { return e.err }

// Severe wraps an error so RecordFailure proposes an improvement ticket
// on the first occurrence.
func Severe(err error) error {
	if err == nil {
		return nil
	}
	return &severeError{err: err}
}

func isSevere(err error) bool {
	var se *severeError
	return errors.As(err, &se)
}

// Recorder appends stage records and watches the failure budget.
type Recorder struct {
	log     *audit.Log
	cfg     config.LearnConfig
	creator Creator
	now     func() time.Time

	mu        sync.Mutex
	lastFiled map[string]time.Time
}

// NewRecorder builds a Recorder. creator may be nil, in which case
// failures are still recorded but never turned into tracker tickets.
func NewRecorder(log *audit.Log, cfg config.LearnConfig, creator Creator) *Recorder {
	return &Recorder{
		log:       log,
		cfg:       cfg,
		creator:   creator,
		now:       time.Now,
		lastFiled: make(map[string]time.Time),
	}
}

// Record appends one successful stage record and returns the entry id.
func (r *Recorder) Record(ctx context.Context, stage, ticketID string, input, output any) (string, error) {
	return r.log.Append(ctx, &audit.Entry{
		TicketID: ticketID,
		Stage:    stage,
		Input:    audit.Payload(input),
		Output:   audit.Payload(output),
		Outcome:  ticket.OutcomeOK,
	})
}

// RecordFailure appends a failure record and, when the failure budget
// for the stage is spent (or the error is marked severe), files one
// improvement ticket. Filing problems never surface to the caller; the
// failure entry itself is the contract.
func (r *Recorder) RecordFailure(ctx context.Context, stage, ticketID string, input any, failure error) (string, error) {
	id, err := r.log.Append(ctx, &audit.Entry{
		TicketID: ticketID,
		Stage:    stage,
		Input:    audit.Payload(input),
		Outcome:  ticket.OutcomeError,
		Error:    failure.Error(),
	})
	if err != nil {
		return "", err
	}
	r.maybePropose(ctx, stage, id, failure)
	return id, nil
}

func (r *Recorder) maybePropose(ctx context.Context, stage, entryID string, failure error) {
	if r.creator == nil {
		return
	}

	windowStart := r.now().Add(-time.Duration(r.cfg.WindowDays) * 24 * time.Hour)
	entryIDs := []string{entryID}
	reason := ""

	if isSevere(failure) {
		reason = fmt.Sprintf("severe failure at the %s stage: %v", stage, failure)
	} else {
		window, err := r.log.Window(windowStart, 0)
		if err != nil {
			return
		}
		total, failed := 0, 0
		for _, e := range window {
			if e.Stage != stage {
				continue
			}
			total++
			if e.Outcome == ticket.OutcomeError {
				failed++
				entryIDs = append(entryIDs, e.EntryID)
			}
		}
		rate := 0.0
		if total > 0 {
			rate = float64(failed) / float64(total)
		}
		switch {
		case r.cfg.FailureThreshold > 0 && failed >= r.cfg.FailureThreshold:
			reason = fmt.Sprintf("%d %s failures in the last %d days", failed, stage, r.cfg.WindowDays)
		case r.cfg.FailureRate > 0 && rate >= r.cfg.FailureRate:
			reason = fmt.Sprintf("%s failure rate %.0f%% over the last %d days", stage, rate*100, r.cfg.WindowDays)
		default:
			return
		}
	}

	// One proposal per stage per window.
	r.mu.Lock()
	if last, ok := r.lastFiled[stage]; ok && last.After(windowStart) {
		r.mu.Unlock()
		return
	}
	r.lastFiled[stage] = r.now()
	r.mu.Unlock()

	it := ticket.ImprovementTicket{
		ID:                  idgen.ProposalID(stage, reason),
		Title:               fmt.Sprintf("Shaping pipeline: recurring %s failures", stage),
		InputSummary:        reason,
		DecisionMade:        fmt.Sprintf("the %s stage kept recording failures without a configuration change", stage),
		WhyWrong:            fmt.Sprintf("last error: %v", failure),
		SuggestedAdjustment: fmt.Sprintf("review the %s stage configuration and its collaborator health", stage),
		Severity:            ticket.SeverityHigh,
		SourceEntryIDs:      sortedUnique(entryIDs),
		CreatedAt:           r.now().UTC(),
	}
	r.file(ctx, &it)
}

// File turns a finding from Analyze into an improvement ticket on the
// tracker. Used by the analyze command when asked to file proposals.
func (r *Recorder) File(ctx context.Context, f Finding) (*ticket.Ticket, error) {
	if r.creator == nil {
		return nil, fmt.Errorf("no tracker configured for filing proposals")
	}
	it := Improvement(f)
	return r.create(ctx, &it)
}

func (r *Recorder) file(ctx context.Context, it *ticket.ImprovementTicket) {
	created, err := r.create(ctx, it)
	if err != nil {
		_, _ = r.log.Append(ctx, &audit.Entry{
			Stage:   audit.StageAnalyze,
			Outcome: ticket.OutcomeError,
			Error:   fmt.Sprintf("filing improvement ticket: %v", err),
		})
		return
	}
	_, _ = r.log.Append(ctx, &audit.Entry{
		TicketID: created.ID,
		Stage:    audit.StageAnalyze,
		Output:   audit.Payload(it),
		Outcome:  ticket.OutcomeOK,
	})
}

func (r *Recorder) create(ctx context.Context, it *ticket.ImprovementTicket) (*ticket.Ticket, error) {
	t := &ticket.Ticket{
		Title:       it.Title,
		Description: it.Markdown(),
		Labels:      []string{r.cfg.Label},
		Status:      ticket.StatusCandidate,
	}
	created, err := r.creator.Create(ctx, t)
	if err != nil {
		return nil, err
	}
	it.TicketKey = created.Ref()
	return created, nil
}

// Finding is one pattern surfaced by Analyze, ranked by occurrence.
type Finding struct {
	Kind       string          `json:"kind"`
	Stage      string          `json:"stage"`
	Axis       string          `json:"axis,omitempty"`
	Count      int             `json:"count"`
	Confidence float64         `json:"confidence"`
	Severity   ticket.Severity `json:"severity"`
	Summary    string          `json:"summary"`
	Suggestion string          `json:"suggestion"`
	EntryIDs   []string        `json:"entry_ids"`
}

// Analyze scans a window of audit entries for repeated failure patterns
// and misrouted work. It is a pure function over its input: it never
// reads configuration and never mutates anything.
func Analyze(window []audit.Entry) []Finding {
	type group struct {
		count int
		ids   []string
	}
	failures := make(map[string]*group)
	misroutes := &group{}

	for _, e := range window {
		if e.Outcome == ticket.OutcomeError {
			key := e.Stage + "\x00" + failureAxis(e)
			g := failures[key]
			if g == nil {
				g = &group{}
				failures[key] = g
			}
			g.count++
			g.ids = append(g.ids, e.EntryID)
			continue
		}
		if e.Stage == audit.StageRoute && isMisroute(e) {
			misroutes.count++
			misroutes.ids = append(misroutes.ids, e.EntryID)
		}
	}

	var findings []Finding
	for key, g := range failures {
		if g.count < 2 {
			continue
		}
		stage, axis, _ := strings.Cut(key, "\x00")
		findings = append(findings, Finding{
			Kind:       FindingRepeatedFailure,
			Stage:      stage,
			Axis:       axis,
			Count:      g.count,
			Confidence: confidence(g.count),
			Severity:   failureSeverity(g.count),
			Summary:    failureSummary(stage, axis, g.count),
			Suggestion: failureSuggestion(stage, axis),
			EntryIDs:   sortedUnique(g.ids),
		})
	}
	if misroutes.count > 0 {
		findings = append(findings, Finding{
			Kind:       FindingMisroute,
			Stage:      audit.StageRoute,
			Count:      misroutes.count,
			Confidence: confidence(misroutes.count),
			Severity:   ticket.SeverityHigh,
			Summary:    fmt.Sprintf("%d large ticket(s) routed to chat", misroutes.count),
			Suggestion: "audit recent routing overrides and the large-size vocabulary; large work belongs with an autonomous agent",
			EntryIDs:   sortedUnique(misroutes.ids),
		})
	}

	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Count != findings[j].Count {
			return findings[i].Count > findings[j].Count
		}
		if findings[i].Kind != findings[j].Kind {
			return findings[i].Kind < findings[j].Kind
		}
		if findings[i].Stage != findings[j].Stage {
			return findings[i].Stage < findings[j].Stage
		}
		return findings[i].Axis < findings[j].Axis
	})
	return findings
}

// Improvement renders a finding as an improvement ticket payload.
func Improvement(f Finding) ticket.ImprovementTicket {
	return ticket.ImprovementTicket{
		ID:                  idgen.ProposalID(f.Stage, f.Summary),
		Title:               fmt.Sprintf("Shaping pipeline: %s at the %s stage", f.Kind, f.Stage),
		InputSummary:        f.Summary,
		DecisionMade:        decisionMade(f),
		WhyWrong:            whyWrong(f),
		SuggestedAdjustment: f.Suggestion,
		Severity:            f.Severity,
		SourceEntryIDs:      f.EntryIDs,
		CreatedAt:           time.Now().UTC(),
	}
}

func decisionMade(f Finding) string {
	if f.Kind == FindingMisroute {
		return "routed size=large tickets to a chat session"
	}
	return fmt.Sprintf("kept running the %s stage against inputs it repeatedly fails on", f.Stage)
}

func whyWrong(f Finding) string {
	if f.Kind == FindingMisroute {
		return "large work in a chat session loses the agent brief and the multi-repo plan"
	}
	if f.Axis != "" {
		return fmt.Sprintf("the %s axis keeps coming out wrong for the same kind of input", f.Axis)
	}
	return "the same failure keeps repeating without a configuration response"
}

// failureAxis guesses which classification axis a failure is about from
// the recorded error text.
func failureAxis(e audit.Entry) string {
	msg := strings.ToLower(e.Error)
	for _, axis := range []string{"source", "surface", "size"} {
		if strings.Contains(msg, axis) {
			return axis
		}
	}
	return ""
}

// isMisroute reports whether a successful route record sent a large
// ticket to chat. The route stage records the classification as input
// and the decision as output.
func isMisroute(e audit.Entry) bool {
	var in struct {
		Size ticket.Size `json:"size"`
	}
	var out struct {
		Route ticket.Route `json:"route"`
	}
	if err := json.Unmarshal(e.Input, &in); err != nil {
		return false
	}
	if err := json.Unmarshal(e.Output, &out); err != nil {
		return false
	}
	return in.Size == ticket.SizeLarge && out.Route == ticket.RouteChat
}

func confidence(n int) float64 {
	c := float64(n) / 10
	if c > 1 {
		return 1
	}
	return c
}

func failureSeverity(count int) ticket.Severity {
	if count >= 5 {
		return ticket.SeverityHigh
	}
	return ticket.SeverityMedium
}

func failureSummary(stage, axis string, count int) string {
	if axis != "" {
		return fmt.Sprintf("%d repeated %s failures on the %s axis", count, stage, axis)
	}
	return fmt.Sprintf("%d repeated %s failures", count, stage)
}

func failureSuggestion(stage, axis string) string {
	if axis != "" {
		return fmt.Sprintf("review the %s vocabulary and thresholds feeding the %s stage", axis, stage)
	}
	return fmt.Sprintf("review the %s stage configuration and its collaborator health", stage)
}

func sortedUnique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
