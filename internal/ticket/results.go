package ticket

import (
	"fmt"
	"strings"
	"time"
)

// ClassificationResult captures the three classification axes plus the
// per-axis confidence scores. It also carries the derived content signals
// later stages key off, so prioritization and routing stay pure functions
// of this value and never re-read the raw ticket.
type ClassificationResult struct {
	Source           Source  `json:"source"`
	SourceConfidence float64 `json:"source_confidence"`

	Surfaces          []Surface `json:"surfaces"`
	SurfaceConfidence float64   `json:"surface_confidence"`

	Size           Size    `json:"size"`
	SizeConfidence float64 `json:"size_confidence"`

	// Derived signals. Computed once during classification from the raw
	// ticket text and labels.
	ValidatedSignal     bool     `json:"validated_signal,omitempty"`     // user/customer/revenue evidence present
	MaintenanceFlavored bool     `json:"maintenance_flavored,omitempty"` // dependency bumps, upkeep, version chores
	MultiRepo           bool     `json:"multi_repo,omitempty"`           // work spans multiple repositories
	Ambiguous           bool     `json:"ambiguous,omitempty"`            // open-question language or conflicting asks
	Malformed           bool     `json:"malformed,omitempty"`            // empty or unusable content
	RepoRefs            []string `json:"repo_refs,omitempty"`            // repository references found in the text
	SignalCount         int      `json:"signal_count,omitempty"`         // distinct classification signals matched
}

// HasSurface reports whether the given surface was detected.
func (c *ClassificationResult) HasSurface(s Surface) bool {
	for _, have := range c.Surfaces {
		if have == s {
			return true
		}
	}
	return false
}

// OnlySurface reports whether exactly one surface was detected and it is s.
func (c *ClassificationResult) OnlySurface(s Surface) bool {
	return len(c.Surfaces) == 1 && c.Surfaces[0] == s
}

// PriorityScore is the result of scoring one classified ticket. Score is
// already clamped to the configured bounds. Rationale lists the applied
// rules in evaluation order and is byte-for-byte reproducible for
// identical inputs.
type PriorityScore struct {
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// RoutingDecision is the outcome of routing one shaped ticket. Exactly one
// artifact is populated: Brief for agent, Prompt for chat, neither for
// manual.
type RoutingDecision struct {
	Route       Route       `json:"route"`
	Rationale   string      `json:"rationale"`
	Brief       *AgentBrief `json:"brief,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	NeedsReview bool        `json:"needs_review,omitempty"`
}

// AgentBrief is the work package handed to an autonomous coding agent.
type AgentBrief struct {
	Problem        string   `json:"problem"`
	Outcome        string   `json:"outcome"`
	Constraints    []string `json:"constraints,omitempty"`
	Repos          []string `json:"repos,omitempty"`
	SuggestedSteps []string `json:"suggested_steps,omitempty"`
	TicketKey      string   `json:"ticket_key"`
	TicketURL      string   `json:"ticket_url,omitempty"`
}

// Markdown renders the brief as the document posted to the agent session.
func (b *AgentBrief) Markdown() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Work Brief: %s\n\n", b.TicketKey)
	sb.WriteString("## Problem\n\n")
	sb.WriteString(strings.TrimSpace(b.Problem))
	sb.WriteString("\n\n## Desired Outcome\n\n")
	sb.WriteString(strings.TrimSpace(b.Outcome))
	sb.WriteString("\n")
	if len(b.Constraints) > 0 {
		sb.WriteString("\n## Constraints\n\n")
		for _, c := range b.Constraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if len(b.Repos) > 0 {
		sb.WriteString("\n## Repositories\n\n")
		for _, r := range b.Repos {
			fmt.Fprintf(&sb, "- %s\n", r)
		}
	}
	if len(b.SuggestedSteps) > 0 {
		sb.WriteString("\n## Suggested Steps\n\n")
		for i, s := range b.SuggestedSteps {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, s)
		}
	}
	if b.TicketURL != "" {
		fmt.Fprintf(&sb, "\nTracker: %s\n", b.TicketURL)
	}
	return sb.String()
}

// TriageResult is the record of one pipeline run over one ticket.
type TriageResult struct {
	Key            string                `json:"key"`
	TicketID       string                `json:"ticket_id"`
	Relevant       bool                  `json:"relevant"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Lean           *LeanTicket           `json:"lean,omitempty"`
	Priority       *PriorityScore        `json:"priority,omitempty"`
	Routing        *RoutingDecision      `json:"routing,omitempty"`
	Status         Status                `json:"status"`
	Rationale      string                `json:"rationale,omitempty"`
	Skipped        bool                  `json:"skipped,omitempty"` // content unchanged, previous run reused
	Err            string                `json:"error,omitempty"`   // collaborator failure, status left untouched
}

// ReadyItem is one row of the dispatch queue: a ready ticket ordered by
// priority, ties broken by earliest creation.
type ReadyItem struct {
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Score     int       `json:"score"`
	Route     Route     `json:"route"`
	CreatedAt time.Time `json:"created_at"`
	URL       string    `json:"url,omitempty"`
}

// Inspection is the stored pipeline state for one ticket, served without
// re-running the pipeline unless no snapshot exists.
type Inspection struct {
	Key            string                `json:"key"`
	Status         Status                `json:"status"`
	ContentHash    string                `json:"content_hash,omitempty"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Priority       *PriorityScore        `json:"priority,omitempty"`
	Routing        *RoutingDecision      `json:"routing,omitempty"`
	RecordedAt     time.Time             `json:"recorded_at,omitempty"`
	Recomputed     bool                  `json:"recomputed,omitempty"` // no snapshot existed, pipeline re-ran
}

// Dispatch is the outcome of handing one ready ticket to a coding agent.
type Dispatch struct {
	Key        string `json:"key"`
	Agent      string `json:"agent,omitempty"`
	SessionRef string `json:"session_ref,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Severity grades how badly a recurring failure distorts triage outcomes
type Severity string

// Improvement ticket severity constants
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// ImprovementTicket is a proposal the engine files against itself when the
// audit trail shows a recurring failure or misrouting pattern. It is only
// ever a proposal: nothing applies the suggested adjustment automatically.
type ImprovementTicket struct {
	ID                  string    `json:"id"`
	Title               string    `json:"title"`
	InputSummary        string    `json:"input_summary"`
	DecisionMade        string    `json:"decision_made"`
	WhyWrong            string    `json:"why_wrong"`
	SuggestedAdjustment string    `json:"suggested_adjustment"`
	Severity            Severity  `json:"severity"`
	SourceEntryIDs      []string  `json:"source_entry_ids,omitempty"`
	TicketKey           string    `json:"ticket_key,omitempty"` // set once filed on the tracker
	CreatedAt           time.Time `json:"created_at"`
}

// Markdown renders the improvement ticket body for the tracker.
func (it *ImprovementTicket) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Input\n\n")
	sb.WriteString(strings.TrimSpace(it.InputSummary))
	sb.WriteString("\n\n## Decision Made\n\n")
	sb.WriteString(strings.TrimSpace(it.DecisionMade))
	sb.WriteString("\n\n## Why It Looks Wrong\n\n")
	sb.WriteString(strings.TrimSpace(it.WhyWrong))
	sb.WriteString("\n\n## Suggested Adjustment\n\n")
	sb.WriteString(strings.TrimSpace(it.SuggestedAdjustment))
	sb.WriteString("\n")
	if len(it.SourceEntryIDs) > 0 {
		sb.WriteString("\n## Evidence\n\n")
		for _, id := range it.SourceEntryIDs {
			fmt.Fprintf(&sb, "- audit entry `%s`\n", id)
		}
	}
	fmt.Fprintf(&sb, "\nSeverity: %s\n", it.Severity)
	return sb.String()
}
