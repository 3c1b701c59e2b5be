// Package lifecycle owns the ticket state machine and the admission
// decision.
//
// Statuses move forward only: candidate to shaped to ready, with parked
// and discarded as terminal resting states. Nothing leaves a terminal
// state except the explicit external reset back to candidate. The
// machine is also the sole authority on relevance: before any content
// shaping happens it decides whether a ticket belongs in the funnel at
// all, using the configured relevance vocabulary.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// ErrInvalidTransition is returned when a requested status change is not
// in the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// transitions lists every allowed forward move. Terminal states have no
// outgoing entries; the reset path is handled separately.
var transitions = map[ticket.Status][]ticket.Status{
	ticket.StatusCandidate: {ticket.StatusShaped, ticket.StatusParked, ticket.StatusDiscarded},
	ticket.StatusShaped:    {ticket.StatusReady},
	ticket.StatusReady:     {},
	ticket.StatusParked:    {},
	ticket.StatusDiscarded: {},
}

// Machine validates status transitions and decides admission.
type Machine struct {
	keywords  []string
	threshold float64
}

// New builds a Machine from the relevance vocabulary and the confidence
// threshold used at admission.
func New(rel config.RelevanceConfig, confidenceThreshold float64) *Machine {
	keywords := make([]string, 0, len(rel.Keywords))
	for _, k := range rel.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			keywords = append(keywords, k)
		}
	}
	return &Machine{keywords: keywords, threshold: confidenceThreshold}
}

// CanTransition reports whether from -> to is an allowed forward move.
func (m *Machine) CanTransition(from, to ticket.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Advance moves the ticket to the given status. Advancing to the current
// status is a no-op, so re-running a pipeline over an already shaped
// ticket stays idempotent.
func (m *Machine) Advance(t *ticket.Ticket, to ticket.Status) error {
	if t.Status == to {
		return nil
	}
	if !m.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}
	t.Status = to
	return nil
}

// Reset is the explicit external escape from a terminal state back to
// candidate. It is the only way out of parked or discarded.
func (m *Machine) Reset(t *ticket.Ticket) error {
	if !t.Status.IsTerminal() {
		return fmt.Errorf("%w: reset applies to parked or discarded tickets, not %s", ErrInvalidTransition, t.Status)
	}
	t.Status = ticket.StatusCandidate
	return nil
}

// Assess decides where a candidate belongs after classification. The
// relevance vocabulary is checked first: a ticket with no relevant
// signal anywhere is discarded outright. Relevant but speculative work
// (an opportunity source without a validated signal, or a source the
// classifier could not pin above the threshold) is parked. Everything
// else is admitted for shaping. The returned rationale is recorded on
// the ticket by the caller.
func (m *Machine) Assess(t *ticket.Ticket, cls *ticket.ClassificationResult) (ticket.Status, string) {
	signal, ok := m.relevantSignal(t)
	if !ok {
		return ticket.StatusDiscarded, "no relevant signal in title, description, or labels"
	}
	if cls.Source == ticket.SourceOpportunity && !cls.ValidatedSignal {
		return ticket.StatusParked, "speculative opportunity without a validated signal"
	}
	if cls.SourceConfidence < m.threshold {
		return ticket.StatusParked, fmt.Sprintf("source confidence %.2f below threshold %.2f", cls.SourceConfidence, m.threshold)
	}
	return ticket.StatusShaped, fmt.Sprintf("relevant signal %q, admitted for shaping", signal)
}

// relevantSignal returns the first configured keyword found in the
// ticket's title, description, or labels.
func (m *Machine) relevantSignal(t *ticket.Ticket) (string, bool) {
	haystack := strings.ToLower(t.Title + "\n" + t.Description + "\n" + strings.Join(t.Labels, "\n"))
	for _, k := range m.keywords {
		if strings.Contains(haystack, k) {
			return k, true
		}
	}
	return "", false
}
