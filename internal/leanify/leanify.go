// Package leanify rewrites verbose ticket descriptions into the canonical
// five-field lean form. The rewrite is deterministic and idempotent: running
// it over an already-lean description reproduces the same LeanTicket, and it
// never calls out to any collaborator.
package leanify

import (
	"regexp"
	"strings"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// CodeRemoved replaces any stripped implementation block. Work plans belong
// to the executor, not the ticket.
const CodeRemoved = "implementation sketch removed; derive the approach from the current repository state"

// outcomePlaceholder fills the desired-outcome field when the ticket never
// states one. It round-trips through re-runs unchanged.
const outcomePlaceholder = "Define the concrete desired outcome with the requester."

var (
	headingPattern = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*$`)
	linkPattern    = regexp.MustCompile(`https?://[^\s)\]>]+`)

	problemHeadings     = []string{"problem", "issue", "bug", "summary"}
	outcomeHeadings     = []string{"outcome", "goal", "expected", "desired", "acceptance"}
	constraintsHeadings = []string{"constraint", "context", "requirement", "note"}
)

// Leanifier performs the canonical rewrite.
type Leanifier struct {
	cfg config.LeanifyConfig
}

// New returns a Leanifier bound to the configured caps.
func New(cfg config.LeanifyConfig) *Leanifier {
	return &Leanifier{cfg: cfg}
}

// Leanify rewrites one ticket using its classification. Pure: persistence
// of the result is the orchestrator's business.
func (l *Leanifier) Leanify(t *ticket.Ticket, cls *ticket.ClassificationResult) ticket.LeanTicket {
	body := stripCodeBlocks(t.Description, l.cfg.CodeBlockMaxLines)
	sections := splitSections(body)

	lean := ticket.LeanTicket{
		Problem:            l.extractProblem(t.Title, body, sections),
		DesiredOutcome:     extractOutcome(sections),
		ProductSurfaces:    cls.Surfaces,
		ContextConstraints: l.buildConstraints(body, sections, cls),
		ExecutionRouteHint: routeHint(cls),
	}
	return lean
}

// section is one markdown heading plus its body lines.
type section struct {
	heading string // lowercased heading text
	body    []string
}

func splitSections(text string) []section {
	var sections []section
	var current *section

	for _, line := range strings.Split(text, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			sections = append(sections, section{heading: strings.ToLower(m[1])})
			current = &sections[len(sections)-1]
			continue
		}
		if current != nil {
			current.body = append(current.body, line)
		}
	}
	return sections
}

// findSection returns the first section whose heading contains any of the
// given markers.
func findSection(sections []section, markers []string) (section, bool) {
	for _, sec := range sections {
		for _, marker := range markers {
			if strings.Contains(sec.heading, marker) {
				return sec, true
			}
		}
	}
	return section{}, false
}

func sectionText(sec section) string {
	return strings.TrimSpace(strings.Join(sec.body, "\n"))
}

func (l *Leanifier) extractProblem(title, body string, sections []section) string {
	if sec, ok := findSection(sections, problemHeadings); ok {
		if text := sectionText(sec); text != "" {
			return truncate(text, l.cfg.ProblemMaxChars)
		}
	}
	if para := firstParagraph(body); para != "" {
		return truncate(para, l.cfg.ProblemMaxChars)
	}
	if strings.TrimSpace(title) != "" {
		return strings.TrimSpace(title)
	}
	return "(no content provided)"
}

func extractOutcome(sections []section) string {
	if sec, ok := findSection(sections, outcomeHeadings); ok {
		if text := sectionText(sec); text != "" {
			return text
		}
	}
	return outcomePlaceholder
}

// buildConstraints assembles links, repository references, and any explicit
// constraints section into one deduplicated list, in that order.
func (l *Leanifier) buildConstraints(body string, sections []section, cls *ticket.ClassificationResult) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c == "" || c == ticket.PlanFromCodebase || seen[c] {
			return
		}
		seen[c] = true
		out = append(out, c)
	}

	links := linkPattern.FindAllString(body, -1)
	if len(links) > l.cfg.MaxLinks {
		links = links[:l.cfg.MaxLinks]
	}
	for _, link := range links {
		add(strings.TrimRight(link, ".,;:"))
	}

	for _, ref := range cls.RepoRefs {
		add("repo: " + ref)
	}

	if sec, ok := findSection(sections, constraintsHeadings); ok {
		for _, line := range sec.body {
			add(strings.TrimLeft(strings.TrimSpace(line), "-* \t"))
		}
	}

	return out
}

func routeHint(cls *ticket.ClassificationResult) string {
	switch {
	case cls.Malformed:
		return "needs human review before execution"
	case cls.Size == ticket.SizeLarge && (cls.MultiRepo || len(cls.Surfaces) > 1):
		return "multi-repo change, plan for an autonomous agent session"
	case cls.Size == ticket.SizeLarge:
		return "large single-repo change, plan for an autonomous agent session"
	case cls.Size == ticket.SizeSmall:
		return "small single-repo change, suited to a quick chat session"
	default:
		return "single-repo change, suited to a guided chat session"
	}
}

// stripCodeBlocks removes fenced code blocks longer than maxLines,
// replacing each with the pointer instruction. Short blocks stay: a
// two-line error message is context, a 40-line diff is an implementation
// plan. An unterminated fence runs to the end of the text.
func stripCodeBlocks(text string, maxLines int) string {
	lines := strings.Split(text, "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			out = append(out, line)
			continue
		}

		// Find the closing fence.
		end := len(lines)
		for j := i + 1; j < len(lines); j++ {
			if strings.HasPrefix(strings.TrimSpace(lines[j]), "```") {
				end = j
				break
			}
		}

		interior := end - i - 1
		if interior > maxLines {
			out = append(out, "("+CodeRemoved+")")
		} else {
			out = append(out, lines[i:min(end+1, len(lines))]...)
		}
		i = end
	}

	return strings.Join(out, "\n")
}

func firstParagraph(text string) string {
	for _, para := range strings.Split(text, "\n\n") {
		var kept []string
		for _, line := range strings.Split(para, "\n") {
			if headingPattern.MatchString(line) {
				continue
			}
			kept = append(kept, line)
		}
		if p := strings.TrimSpace(strings.Join(kept, "\n")); p != "" {
			return p
		}
	}
	return ""
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
