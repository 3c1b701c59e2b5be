// Package route picks the execution route for a shaped ticket and builds
// the artifact that route needs.
//
// Routing is a fixed-precedence decision table over the classification:
// uncertain or ambiguous work goes to a human, large or multi-repository
// work goes to an autonomous agent with a structured brief, everything
// else goes to a guided chat session with a single prompt. The decision
// never reads the priority score, so reprioritizing a ticket can never
// change where it executes.
package route

import (
	"fmt"
	"strings"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// Router applies the routing decision table and builds route artifacts.
type Router struct {
	cfg config.ClassifyConfig
}

// New returns a Router using the configured confidence threshold and
// surface repository patterns.
func New(cfg config.ClassifyConfig) *Router {
	return &Router{cfg: cfg}
}

// routeRule is one row of the decision table. Rules are evaluated in
// order and the first match wins.
type routeRule struct {
	name   string
	when   func(cls *ticket.ClassificationResult) bool
	route  ticket.Route
	review bool
	reason func(cls *ticket.ClassificationResult) string
}

func (r *Router) rules() []routeRule {
	threshold := r.cfg.ConfidenceThreshold
	return []routeRule{
		{
			name:   "malformed",
			when:   func(cls *ticket.ClassificationResult) bool { return cls.Malformed },
			route:  ticket.RouteManual,
			review: true,
			reason: func(*ticket.ClassificationResult) string {
				return "ticket content is empty or unusable"
			},
		},
		{
			name: "low-confidence",
			when: func(cls *ticket.ClassificationResult) bool {
				return cls.SurfaceConfidence < threshold || cls.SizeConfidence < threshold
			},
			route:  ticket.RouteManual,
			review: true,
			reason: func(cls *ticket.ClassificationResult) string {
				return fmt.Sprintf("classification confidence below %.2f (surface %.2f, size %.2f)",
					threshold, cls.SurfaceConfidence, cls.SizeConfidence)
			},
		},
		{
			name:   "ambiguous",
			when:   func(cls *ticket.ClassificationResult) bool { return cls.Ambiguous },
			route:  ticket.RouteManual,
			review: true,
			reason: func(*ticket.ClassificationResult) string {
				return "open questions or conflicting asks need a human decision"
			},
		},
		{
			name:  "large",
			when:  func(cls *ticket.ClassificationResult) bool { return cls.Size == ticket.SizeLarge },
			route: ticket.RouteAgent,
			reason: func(*ticket.ClassificationResult) string {
				return "large change suits an autonomous agent session"
			},
		},
		{
			name:  "multi-repo",
			when:  func(cls *ticket.ClassificationResult) bool { return cls.MultiRepo },
			route: ticket.RouteAgent,
			reason: func(cls *ticket.ClassificationResult) string {
				return fmt.Sprintf("change spans %d repositories", len(cls.RepoRefs))
			},
		},
	}
}

// Route decides the execution route and builds the matching artifact:
// a work brief for agent, a session prompt for chat, and only a review
// flag for manual.
func (r *Router) Route(t *ticket.Ticket, cls *ticket.ClassificationResult, lean *ticket.LeanTicket) ticket.RoutingDecision {
	for _, rule := range r.rules() {
		if !rule.when(cls) {
			continue
		}
		d := ticket.RoutingDecision{
			Route:       rule.route,
			Rationale:   rule.reason(cls),
			NeedsReview: rule.review,
		}
		if rule.route == ticket.RouteAgent {
			d.Brief = r.buildBrief(t, cls, lean)
		}
		return d
	}

	return ticket.RoutingDecision{
		Route:     ticket.RouteChat,
		Rationale: "scoped change suits a guided chat session",
		Prompt:    buildPrompt(t, lean),
	}
}

// buildBrief assembles the agent work package from the lean rewrite plus
// the repositories the classifier found, widened with the configured
// repository patterns for every detected surface.
func (r *Router) buildBrief(t *ticket.Ticket, cls *ticket.ClassificationResult, lean *ticket.LeanTicket) *ticket.AgentBrief {
	repos := r.briefRepos(cls)
	return &ticket.AgentBrief{
		Problem:        lean.Problem,
		Outcome:        lean.DesiredOutcome,
		Constraints:    lean.ContextConstraints,
		Repos:          repos,
		SuggestedSteps: suggestedSteps(repos, cls.MultiRepo),
		TicketKey:      t.Ref(),
		TicketURL:      t.URL,
	}
}

func (r *Router) briefRepos(cls *ticket.ClassificationResult) []string {
	var repos []string
	seen := make(map[string]bool)
	add := func(ref string) {
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true
		repos = append(repos, ref)
	}
	for _, ref := range cls.RepoRefs {
		add(ref)
	}
	for _, s := range cls.Surfaces {
		for _, pattern := range r.cfg.RepoPatterns[string(s)] {
			add(pattern)
		}
	}
	return repos
}

func suggestedSteps(repos []string, multiRepo bool) []string {
	steps := []string{"Read the brief and the ticket thread end to end."}
	if len(repos) > 0 {
		steps = append(steps, fmt.Sprintf("Map the change across %s.", strings.Join(repos, ", ")))
	} else {
		steps = append(steps, "Identify the affected repositories from the current codebase.")
	}
	steps = append(steps, "Post a short plan to the ticket before writing code.")
	if multiRepo {
		steps = append(steps, "Land the change repository by repository behind reviewable pull requests.")
	} else {
		steps = append(steps, "Land the change as small reviewable pull requests.")
	}
	return append(steps, "Link every pull request back to the ticket.")
}

// buildPrompt renders the single prompt string a chat session starts from.
func buildPrompt(t *ticket.Ticket, lean *ticket.LeanTicket) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Help implement %s: %s\n\n", t.Ref(), t.Title)
	fmt.Fprintf(&sb, "Problem: %s\n\n", lean.Problem)
	fmt.Fprintf(&sb, "Desired outcome: %s\n", lean.DesiredOutcome)
	if len(lean.ContextConstraints) > 0 {
		sb.WriteString("\nConstraints:\n")
		for _, c := range lean.ContextConstraints {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
	}
	sb.WriteString("\nAcceptance: the desired outcome above is demonstrably met and the ticket is updated with what changed.")
	return sb.String()
}
