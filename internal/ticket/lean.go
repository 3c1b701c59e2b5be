package ticket

import (
	"fmt"
	"strings"
)

// PlanFromCodebase is the constraints placeholder rendered when a ticket
// carries no explicit constraints. The leanifier recognizes it on re-runs
// so the placeholder never turns into a real constraint.
const PlanFromCodebase = "let the agent plan from the current codebase"

// LeanTicket is the canonical rewritten form of a ticket: five fields, no
// prose padding, no embedded implementation code. The markdown rendering of
// this struct replaces the ticket description on the tracker when a ticket
// is shaped.
type LeanTicket struct {
	Problem            string    `json:"problem"`
	DesiredOutcome     string    `json:"desired_outcome"`
	ProductSurfaces    []Surface `json:"product_surfaces,omitempty"`
	ContextConstraints []string  `json:"context_constraints,omitempty"`
	ExecutionRouteHint string    `json:"execution_route_hint,omitempty"`
}

// Markdown renders the lean ticket in its canonical five-section form.
// Rendering is deterministic: same struct, same bytes.
func (l *LeanTicket) Markdown() string {
	var sb strings.Builder
	sb.WriteString("## Problem\n\n")
	sb.WriteString(strings.TrimSpace(l.Problem))
	sb.WriteString("\n\n## Desired Outcome\n\n")
	sb.WriteString(strings.TrimSpace(l.DesiredOutcome))
	sb.WriteString("\n\n## Product Surfaces\n\n")
	if len(l.ProductSurfaces) == 0 {
		sb.WriteString("- unclassified\n")
	} else {
		for _, s := range l.ProductSurfaces {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	sb.WriteString("\n## Context & Constraints\n\n")
	if len(l.ContextConstraints) == 0 {
		sb.WriteString("- " + PlanFromCodebase + "\n")
	} else {
		for _, c := range l.ContextConstraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	if l.ExecutionRouteHint != "" {
		sb.WriteString("\n## Execution Route\n\n")
		sb.WriteString(l.ExecutionRouteHint)
		sb.WriteString("\n")
	}
	return sb.String()
}
