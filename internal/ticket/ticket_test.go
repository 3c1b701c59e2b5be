package ticket

import (
	"strings"
	"testing"
)

func TestTicketValidate(t *testing.T) {
	tests := []struct {
		name    string
		ticket  Ticket
		wantErr bool
		errMsg  string
	}{
		{
			name: "valid ticket",
			ticket: Ticket{
				ID:     "uuid-1",
				Key:    "MAP-1",
				Title:  "Fix export",
				Status: StatusCandidate,
			},
			wantErr: false,
		},
		{
			name:    "missing id and key",
			ticket:  Ticket{Title: "orphan"},
			wantErr: true,
			errMsg:  "must have an id or a key",
		},
		{
			name: "title too long",
			ticket: Ticket{
				Key:   "MAP-2",
				Title: strings.Repeat("x", 501),
			},
			wantErr: true,
			errMsg:  "title must be 500 characters or less",
		},
		{
			name: "invalid status",
			ticket: Ticket{
				Key:    "MAP-3",
				Title:  "bad status",
				Status: Status("triaged"),
			},
			wantErr: true,
			errMsg:  "invalid status",
		},
		{
			name: "empty status is allowed",
			ticket: Ticket{
				Key:   "MAP-4",
				Title: "fresh intake",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ticket.Validate()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.errMsg)
					return
				}
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("Validate() error = %v, want error containing %q", err, tt.errMsg)
				}
			} else {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
			}
		})
	}
}

func TestStatusIsValid(t *testing.T) {
	tests := []struct {
		status Status
		valid  bool
	}{
		{StatusCandidate, true},
		{StatusShaped, true},
		{StatusReady, true},
		{StatusParked, true},
		{StatusDiscarded, true},
		{Status("open"), false},
		{Status(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsValid(); got != tt.valid {
				t.Errorf("Status(%q).IsValid() = %v, want %v", tt.status, got, tt.valid)
			}
		})
	}
}

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
	}{
		{StatusCandidate, false},
		{StatusShaped, false},
		{StatusReady, false},
		{StatusParked, true},
		{StatusDiscarded, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("Status(%q).IsTerminal() = %v, want %v", tt.status, got, tt.terminal)
			}
		})
	}
}

func TestSizeRank(t *testing.T) {
	if SizeSmall.Rank() >= SizeMedium.Rank() || SizeMedium.Rank() >= SizeLarge.Rank() {
		t.Errorf("size ranks not ordered: small=%d medium=%d large=%d",
			SizeSmall.Rank(), SizeMedium.Rank(), SizeLarge.Rank())
	}
	if got := Size("huge").Rank(); got != 0 {
		t.Errorf("unknown size rank = %d, want 0", got)
	}
}

func TestParseSourceLabel(t *testing.T) {
	tests := []struct {
		label string
		want  Source
		ok    bool
	}{
		{"source:user", SourceUser, true},
		{"source:opportunity-agent", SourceOpportunity, true},
		{"source:opportunity", SourceOpportunity, true},
		{"source:system-migration", SourceMigration, true},
		{"Source:User", SourceUser, true}, // case-insensitive
		{"  source:user  ", SourceUser, true},
		{"surface:app", "", false},
		{"bug", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseSourceLabel(tt.label)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseSourceLabel(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseSurfaceLabel(t *testing.T) {
	tests := []struct {
		label string
		want  Surface
		ok    bool
	}{
		{"surface:solutions", SurfaceSolutions, true},
		{"surface:app", SurfaceApp, true},
		{"surface:bridge", SurfaceBridge, true},
		{"SURFACE:BRIDGE", SurfaceBridge, true},
		{"size:large", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseSurfaceLabel(tt.label)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseSurfaceLabel(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseSizeLabel(t *testing.T) {
	tests := []struct {
		label string
		want  Size
		ok    bool
	}{
		{"size:small", SizeSmall, true},
		{"size:s", SizeSmall, true},
		{"size:medium", SizeMedium, true},
		{"size:m", SizeMedium, true},
		{"size:large", SizeLarge, true},
		{"size:l", SizeLarge, true},
		{"size:xl", "", false},
		{"source:user", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseSizeLabel(tt.label)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ParseSizeLabel(%q) = (%q, %v), want (%q, %v)", tt.label, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestComputeContentHash(t *testing.T) {
	base := Ticket{
		Key:         "MAP-10",
		Title:       "Add CSV export",
		Description: "Users need to export reports",
		Labels:      []string{"surface:app", "export"},
		Repos:       []string{"mapache/app"},
	}

	h1 := base.ComputeContentHash()
	h2 := base.ComputeContentHash()
	if h1 != h2 {
		t.Errorf("hash not deterministic: %s != %s", h1, h2)
	}

	// Label order must not matter.
	reordered := base
	reordered.Labels = []string{"export", "surface:app"}
	if got := reordered.ComputeContentHash(); got != h1 {
		t.Errorf("hash changed with label order: %s != %s", got, h1)
	}

	// Content changes must change the hash.
	changed := base
	changed.Description = "Users need to export reports as CSV"
	if got := changed.ComputeContentHash(); got == h1 {
		t.Error("hash unchanged after description edit")
	}

	// Status and timestamps must not participate.
	moved := base
	moved.Status = StatusReady
	if got := moved.ComputeContentHash(); got != h1 {
		t.Errorf("hash changed with status move: %s != %s", got, h1)
	}
}

func TestTicketRef(t *testing.T) {
	tests := []struct {
		name   string
		ticket Ticket
		want   string
	}{
		{"key preferred", Ticket{ID: "uuid-1", Key: "MAP-9"}, "MAP-9"},
		{"id fallback", Ticket{ID: "uuid-1"}, "uuid-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ticket.Ref(); got != tt.want {
				t.Errorf("Ref() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHasLabel(t *testing.T) {
	tk := Ticket{Labels: []string{"Surface:App", "export"}}
	if !tk.HasLabel("surface:app") {
		t.Error("HasLabel should match case-insensitively")
	}
	if tk.HasLabel("surface:bridge") {
		t.Error("HasLabel matched an absent label")
	}
}

func TestLeanTicketMarkdown(t *testing.T) {
	lean := LeanTicket{
		Problem:            "Exports time out for large accounts.",
		DesiredOutcome:     "Exports complete under 30s for 100k rows.",
		ProductSurfaces:    []Surface{SurfaceApp},
		ContextConstraints: []string{"repo: mapache/app", "keep streaming API stable"},
		ExecutionRouteHint: "single-repo change, suited to a chat session",
	}

	md := lean.Markdown()
	for _, want := range []string{
		"## Problem",
		"## Desired Outcome",
		"## Product Surfaces",
		"- app",
		"## Context & Constraints",
		"- repo: mapache/app",
		"## Execution Route",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() missing %q in:\n%s", want, md)
		}
	}

	// Deterministic rendering.
	if lean.Markdown() != md {
		t.Error("Markdown() not deterministic")
	}
}

func TestLeanTicketMarkdownDefaults(t *testing.T) {
	lean := LeanTicket{Problem: "p", DesiredOutcome: "o"}
	md := lean.Markdown()
	if !strings.Contains(md, "- unclassified") {
		t.Errorf("empty surfaces should render unclassified placeholder:\n%s", md)
	}
	if !strings.Contains(md, "let the agent plan from the current codebase") {
		t.Errorf("empty constraints should render planning placeholder:\n%s", md)
	}
	if strings.Contains(md, "## Execution Route") {
		t.Errorf("empty route hint should omit the section:\n%s", md)
	}
}

func TestAgentBriefMarkdown(t *testing.T) {
	brief := AgentBrief{
		Problem:        "Mirror schema changes",
		Outcome:        "Bridge stays consistent",
		Constraints:    []string{"no breaking API changes"},
		Repos:          []string{"mapache/app", "mapache/solutions-acme"},
		SuggestedSteps: []string{"update schema", "regenerate bindings"},
		TicketKey:      "MAP-42",
		TicketURL:      "https://tracker.example/MAP-42",
	}

	md := brief.Markdown()
	for _, want := range []string{
		"# Work Brief: MAP-42",
		"## Problem",
		"## Desired Outcome",
		"## Constraints",
		"## Repositories",
		"- mapache/app",
		"- mapache/solutions-acme",
		"1. update schema",
		"Tracker: https://tracker.example/MAP-42",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() missing %q", want)
		}
	}
}

func TestClassificationSurfaceHelpers(t *testing.T) {
	cls := ClassificationResult{Surfaces: []Surface{SurfaceSolutions}}
	if !cls.HasSurface(SurfaceSolutions) {
		t.Error("HasSurface(solutions) = false, want true")
	}
	if cls.HasSurface(SurfaceBridge) {
		t.Error("HasSurface(bridge) = true, want false")
	}
	if !cls.OnlySurface(SurfaceSolutions) {
		t.Error("OnlySurface(solutions) = false, want true")
	}

	cls.Surfaces = append(cls.Surfaces, SurfaceApp)
	if cls.OnlySurface(SurfaceSolutions) {
		t.Error("OnlySurface with two surfaces = true, want false")
	}
}

func TestImprovementTicketMarkdown(t *testing.T) {
	it := ImprovementTicket{
		Title:               "Routing sent large work to chat",
		InputSummary:        "3 large tickets in the last 7 days",
		DecisionMade:        "route=chat despite size=large",
		WhyWrong:            "large work needs an agent brief",
		SuggestedAdjustment: "review routing override for the app surface",
		Severity:            SeverityMedium,
		SourceEntryIDs:      []string{"a1", "a2"},
	}

	md := it.Markdown()
	for _, want := range []string{"## Input", "## Decision Made", "## Why It Looks Wrong", "## Suggested Adjustment", "audit entry `a1`", "Severity: medium"} {
		if !strings.Contains(md, want) {
			t.Errorf("Markdown() missing %q", want)
		}
	}
}
