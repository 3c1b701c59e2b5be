package linear

import (
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/mapache-ai/shaper/internal/ticket"
)

// identifierPattern matches Linear issue identifiers like "MAP-123".
var identifierPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9]*-\d+$`)

// repoPattern extracts owner/name slugs from code-host URLs in attachments.
var repoPattern = regexp.MustCompile(`github\.com/([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)`)

// IsIssueRef reports whether the string is a Linear issue URL.
func IsIssueRef(ref string) bool {
	return ExtractIdentifier(ref) != ""
}

// ExtractIdentifier returns the issue identifier from a Linear issue URL,
// or "" when the URL is not one. URL shape:
// https://linear.app/<workspace>/issue/<identifier>[/<title-slug>]
func ExtractIdentifier(ref string) string {
	u, err := url.Parse(ref)
	if err != nil || u.Host != "linear.app" {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[1] != "issue" {
		return ""
	}
	if !identifierPattern.MatchString(parts[2]) {
		return ""
	}
	return parts[2]
}

// CanonicalizeRef strips the title slug from a Linear issue URL so the same
// issue always yields the same reference.
func CanonicalizeRef(ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil || u.Host != "linear.app" {
		return "", false
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 3 || parts[1] != "issue" || !identifierPattern.MatchString(parts[2]) {
		return "", false
	}
	return "https://linear.app/" + parts[0] + "/issue/" + parts[2], true
}

// RepoSlug extracts an owner/name repository slug from a code-host URL, or
// "" when the URL does not point at a repository.
func RepoSlug(u string) string {
	m := repoPattern.FindStringSubmatch(u)
	if m == nil {
		return ""
	}
	return m[1] + "/" + strings.TrimSuffix(m[2], ".git")
}

// reverseStates inverts the lifecycle->workflow-state mapping for reads.
// Lookup is by lowercased workflow state name.
func reverseStates(states map[string]string) map[string]ticket.Status {
	out := make(map[string]ticket.Status, len(states))
	for status, name := range states {
		out[strings.ToLower(name)] = ticket.Status(status)
	}
	return out
}

// toTicket converts a Linear issue to the canonical ticket shape. Workflow
// states outside the configured mapping leave the status empty; the engine
// skips such tickets rather than guessing.
func (lt *LinearTracker) toTicket(li *Issue) ticket.Ticket {
	t := ticket.Ticket{
		ID:          li.ID,
		Key:         li.Identifier,
		Title:       li.Title,
		Description: li.Description,
		URL:         li.URL,
	}

	if created, err := time.Parse(time.RFC3339, li.CreatedAt); err == nil {
		t.CreatedAt = created
	}
	if updated, err := time.Parse(time.RFC3339, li.UpdatedAt); err == nil {
		t.UpdatedAt = updated
	}

	if li.State != nil {
		name := strings.ToLower(li.State.Name)
		if status, ok := lt.statuses[name]; ok {
			t.Status = status
		} else if s := ticket.Status(name); s.IsValid() {
			// States named after lifecycle statuses map directly.
			t.Status = s
		}
	}

	if li.Labels != nil {
		for _, l := range li.Labels.Nodes {
			t.Labels = append(t.Labels, l.Name)
		}
	}
	if li.Project != nil {
		t.Project = li.Project.Name
	}
	if li.Attachments != nil {
		for _, a := range li.Attachments.Nodes {
			slug := RepoSlug(a.URL)
			if slug != "" && !slices.Contains(t.Repos, slug) {
				t.Repos = append(t.Repos, slug)
			}
		}
	}
	return t
}
