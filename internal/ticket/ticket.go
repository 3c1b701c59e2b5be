// Package ticket defines core data structures for the backlog shaping engine.
package ticket

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Ticket is the engine's view of a tracker issue. The external tracker owns
// the record; the engine only ever writes back description, labels, status,
// and priority. Everything else is read-only context.
type Ticket struct {
	ID          string    `json:"id"`                    // tracker-assigned UUID
	Key         string    `json:"key"`                   // human-facing key, e.g. "MAP-123"
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	Status      Status    `json:"status,omitempty"`
	Project     string    `json:"project,omitempty"`
	Repos       []string  `json:"repos,omitempty"` // repository slugs linked on the tracker
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ComputeContentHash creates a deterministic hash of the ticket's shaping
// inputs. Only fields that feed classification participate, so tracker-side
// churn (timestamps, status moves) does not invalidate a previous run.
func (t *Ticket) ComputeContentHash() string {
	h := sha256.New()

	h.Write([]byte(t.Title))
	h.Write([]byte{0}) // separator
	h.Write([]byte(t.Description))
	h.Write([]byte{0})

	labels := append([]string(nil), t.Labels...)
	sort.Strings(labels)
	for _, l := range labels {
		h.Write([]byte(l))
		h.Write([]byte{0})
	}
	h.Write([]byte{0})

	repos := append([]string(nil), t.Repos...)
	sort.Strings(repos)
	for _, r := range repos {
		h.Write([]byte(r))
		h.Write([]byte{0})
	}

	return fmt.Sprintf("%x", h.Sum(nil))
}

// Validate checks if the ticket has valid field values
func (t *Ticket) Validate() error {
	if t.ID == "" && t.Key == "" {
		return fmt.Errorf("ticket must have an id or a key")
	}
	if len(t.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(t.Title))
	}
	if t.Status != "" && !t.Status.IsValid() {
		return fmt.Errorf("invalid status: %s", t.Status)
	}
	return nil
}

// SetDefaults applies default values for fields omitted by the tracker
// adapter. New intake defaults to candidate.
func (t *Ticket) SetDefaults() {
	if t.Status == "" {
		t.Status = StatusCandidate
	}
}

// Ref returns the preferred identifier for logs and audit entries: the
// human-facing key when present, otherwise the tracker UUID.
func (t *Ticket) Ref() string {
	if t.Key != "" {
		return t.Key
	}
	return t.ID
}

// HasLabel reports whether the ticket carries the given label,
// case-insensitively.
func (t *Ticket) HasLabel(label string) bool {
	for _, l := range t.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
