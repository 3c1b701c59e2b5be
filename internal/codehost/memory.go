package codehost

import (
	"context"
	"fmt"
	"sync"

	"github.com/mapache-ai/shaper/internal/ticket"
)

// Operations accepted by Memory.FailWith.
const (
	OpSession = "session"
	OpLink    = "link"
)

// Session is one recorded agent dispatch.
type Session struct {
	Ref       string
	TicketKey string
	Repos     []string
	Brief     string
}

// Memory is an in-process code host for tests and dry runs. Sessions and
// links are recorded for assertions; operations can be forced to fail with
// FailWith.
type Memory struct {
	mu       sync.Mutex
	seq      int
	sessions []Session
	links    map[string][]string // ticket key -> refs
	failures map[string]error
}

// NewMemory creates an empty in-memory code host.
func NewMemory() *Memory {
	return &Memory{
		links:    make(map[string][]string),
		failures: make(map[string]error),
	}
}

// Name returns the host kind.
func (m *Memory) Name() string { return "memory" }

// FailWith forces the named operation to return err. A nil err clears the
// failure.
func (m *Memory) FailWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// StartAgentSession records the dispatch and returns a deterministic
// session reference.
func (m *Memory) StartAgentSession(ctx context.Context, brief *ticket.AgentBrief) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if brief == nil || len(brief.Repos) == 0 {
		return "", fmt.Errorf("agent brief names no repositories")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpSession]; err != nil {
		return "", err
	}
	m.seq++
	ref := fmt.Sprintf("%s%s:sim-%d", sessionRefPrefix, brief.Repos[0], m.seq)
	m.sessions = append(m.sessions, Session{
		Ref:       ref,
		TicketKey: brief.TicketKey,
		Repos:     append([]string(nil), brief.Repos...),
		Brief:     brief.Markdown(),
	})
	return ref, nil
}

// LinkReference records the link.
func (m *Memory) LinkReference(ctx context.Context, ticketKey, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpLink]; err != nil {
		return err
	}
	m.links[ticketKey] = append(m.links[ticketKey], ref)
	return nil
}

// Sessions returns the recorded dispatches in order.
func (m *Memory) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Session(nil), m.sessions...)
}

// Links returns the refs linked to a ticket, oldest first.
func (m *Memory) Links(ticketKey string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.links[ticketKey]...)
}
