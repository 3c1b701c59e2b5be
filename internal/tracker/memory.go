package tracker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

func init() {
	Register("memory", func(config.TrackerConfig) (Tracker, error) {
		return NewMemory(), nil
	})
}

// Operations accepted by Memory.FailWith.
const (
	OpList     = "list"
	OpGet      = "get"
	OpUpdate   = "update"
	OpComment  = "comment"
	OpCreate   = "create"
	OpProjects = "projects"
)

// Memory is an in-process tracker used by tests and local dry runs. Tickets
// live in a map and comments are captured per ticket. Individual operations
// can be forced to fail with FailWith, which exercises the
// collaborator-outage paths without a network.
type Memory struct {
	mu         sync.Mutex
	seq        int
	tickets    map[string]ticket.Ticket // keyed by tracker ID
	byKey      map[string]string        // human key -> tracker ID
	comments   map[string][]string      // tracker ID -> comment bodies
	priorities map[string]int           // tracker ID -> tracker-side priority
	projects   []Project
	failures   map[string]error
	now        func() time.Time
}

// NewMemory creates an empty in-memory tracker.
func NewMemory() *Memory {
	return &Memory{
		tickets:    make(map[string]ticket.Ticket),
		byKey:      make(map[string]string),
		comments:   make(map[string][]string),
		priorities: make(map[string]int),
		failures:   make(map[string]error),
		now:        time.Now,
	}
}

// Name returns the registry name.
func (m *Memory) Name() string { return "memory" }

// Seed stores a ticket, assigning an ID and key when absent, and returns the
// stored copy. Test setup helper; use Create for the collaborator path.
func (m *Memory) Seed(t ticket.Ticket) ticket.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.store(t)
}

// SetProjects replaces the project listing returned by ListProjects.
func (m *Memory) SetProjects(projects ...Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects = append([]Project(nil), projects...)
}

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

// Comments returns the comments recorded for a ticket, oldest first.
func (m *Memory) Comments(idOrKey string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolve(idOrKey)
	if !ok {
		return nil
	}
	return append([]string(nil), m.comments[id]...)
}

// Stored returns a copy of the stored ticket for assertions, or nil.
func (m *Memory) Stored(idOrKey string) *ticket.Ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolve(idOrKey)
	if !ok {
		return nil
	}
	t := clone(m.tickets[id])
	return &t
}

// ListCandidates returns candidate-status tickets in the project.
func (m *Memory) ListCandidates(ctx context.Context, project string) ([]ticket.Ticket, error) {
	return m.list(ctx, project, true)
}

// ListTickets returns every ticket in the project regardless of status.
func (m *Memory) ListTickets(ctx context.Context, project string) ([]ticket.Ticket, error) {
	return m.list(ctx, project, false)
}

// Get fetches a ticket by key or ID. Returns (nil, nil) when missing.
func (m *Memory) Get(ctx context.Context, key string) (*ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpGet]; err != nil {
		return nil, err
	}
	id, ok := m.resolve(key)
	if !ok {
		return nil, nil
	}
	t := clone(m.tickets[id])
	return &t, nil
}

// Update applies the non-nil fields to the ticket.
func (m *Memory) Update(ctx context.Context, id string, fields Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpUpdate]; err != nil {
		return err
	}
	resolved, ok := m.resolve(id)
	if !ok {
		return fmt.Errorf("update %s: %w", id, ErrNotFound)
	}
	t := m.tickets[resolved]
	if fields.Title != nil {
		t.Title = *fields.Title
	}
	if fields.Description != nil {
		t.Description = *fields.Description
	}
	if fields.Labels != nil {
		t.Labels = append([]string(nil), *fields.Labels...)
	}
	if fields.Status != nil {
		t.Status = *fields.Status
	}
	if fields.Priority != nil {
		m.priorities[resolved] = *fields.Priority
	}
	t.UpdatedAt = m.now().UTC()
	m.tickets[resolved] = t
	return nil
}

// Priority returns the tracker-side priority last written for a ticket.
func (m *Memory) Priority(idOrKey string) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.resolve(idOrKey)
	if !ok {
		return 0, false
	}
	p, ok := m.priorities[id]
	return p, ok
}

// Comment appends a comment to the ticket.
func (m *Memory) Comment(ctx context.Context, id, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpComment]; err != nil {
		return err
	}
	resolved, ok := m.resolve(id)
	if !ok {
		return fmt.Errorf("comment %s: %w", id, ErrNotFound)
	}
	m.comments[resolved] = append(m.comments[resolved], body)
	return nil
}

// Create files a new ticket and returns the stored copy.
func (m *Memory) Create(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpCreate]; err != nil {
		return nil, err
	}
	stored := m.store(*t)
	return &stored, nil
}

// ListProjects returns the configured projects, or the distinct project keys
// of stored tickets when none were configured.
func (m *Memory) ListProjects(ctx context.Context) ([]Project, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpProjects]; err != nil {
		return nil, err
	}
	if len(m.projects) > 0 {
		return append([]Project(nil), m.projects...), nil
	}
	seen := make(map[string]bool)
	var out []Project
	for _, t := range m.tickets {
		if t.Project == "" || seen[t.Project] {
			continue
		}
		seen[t.Project] = true
		out = append(out, Project{ID: t.Project, Key: t.Project, Name: t.Project})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close releases nothing; the fake holds no external resources.
func (m *Memory) Close() error { return nil }

func (m *Memory) list(ctx context.Context, project string, candidatesOnly bool) ([]ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failures[OpList]; err != nil {
		return nil, err
	}
	var out []ticket.Ticket
	for _, t := range m.tickets {
		if candidatesOnly && t.Status != ticket.StatusCandidate {
			continue
		}
		if project != "" && t.Project != project {
			continue
		}
		out = append(out, clone(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

// store assigns identifiers and timestamps, saves a copy, and returns it.
// Caller holds the lock.
func (m *Memory) store(t ticket.Ticket) ticket.Ticket {
	m.seq++
	if t.ID == "" {
		t.ID = fmt.Sprintf("mem-%d", m.seq)
	}
	if t.Key == "" {
		t.Key = fmt.Sprintf("MEM-%d", m.seq)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = m.now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	t.SetDefaults()
	stored := clone(t)
	m.tickets[stored.ID] = stored
	m.byKey[stored.Key] = stored.ID
	return clone(stored)
}

// resolve maps a key or ID to the internal ID. Caller holds the lock.
func (m *Memory) resolve(idOrKey string) (string, bool) {
	if _, ok := m.tickets[idOrKey]; ok {
		return idOrKey, true
	}
	id, ok := m.byKey[idOrKey]
	return id, ok
}

func clone(t ticket.Ticket) ticket.Ticket {
	t.Labels = append([]string(nil), t.Labels...)
	t.Repos = append([]string(nil), t.Repos...)
	return t
}
