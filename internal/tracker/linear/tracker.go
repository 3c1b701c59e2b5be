package linear

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
	"github.com/mapache-ai/shaper/internal/tracker"
)

func init() {
	tracker.Register("linear", func(cfg config.TrackerConfig) (tracker.Tracker, error) {
		return New(cfg)
	})
}

// LinearTracker implements the tracker.Tracker interface for Linear.
type LinearTracker struct {
	client   *Client
	cfg      config.TrackerConfig
	statuses map[string]ticket.Status

	mu   sync.Mutex
	team *Team // lazily loaded; labels created through us are appended
}

// New creates a Linear tracker from configuration.
func New(cfg config.TrackerConfig) (*LinearTracker, error) {
	if cfg.APIKey == "" {
		if cfg.APIKeyEnv != "" {
			return nil, fmt.Errorf("linear API key not set (export %s)", cfg.APIKeyEnv)
		}
		return nil, fmt.Errorf("linear API key not configured")
	}
	if cfg.Team == "" {
		return nil, fmt.Errorf("linear team key not configured")
	}

	client := NewClient(cfg.APIKey, cfg.Team)
	if cfg.Endpoint != "" {
		client = client.WithEndpoint(cfg.Endpoint)
	}
	return &LinearTracker{
		client:   client,
		cfg:      cfg,
		statuses: reverseStates(cfg.States),
	}, nil
}

// Name returns the tracker identifier.
func (lt *LinearTracker) Name() string { return "linear" }

// SetQuotaFunc routes rate limit headers to fn after every API call.
// Wire it before the first request.
func (lt *LinearTracker) SetQuotaFunc(fn func(remaining, limit int)) {
	lt.client = lt.client.WithQuotaFunc(fn)
}

// Client returns the underlying Linear client for advanced operations.
func (lt *LinearTracker) Client() *Client { return lt.client }

// ListCandidates returns tickets sitting in the candidate workflow state.
func (lt *LinearTracker) ListCandidates(ctx context.Context, project string) ([]ticket.Ticket, error) {
	return lt.list(ctx, lt.cfg.StateName(ticket.StatusCandidate), project)
}

// ListTickets returns tickets in every workflow state.
func (lt *LinearTracker) ListTickets(ctx context.Context, project string) ([]ticket.Ticket, error) {
	return lt.list(ctx, "", project)
}

func (lt *LinearTracker) list(ctx context.Context, state, project string) ([]ticket.Ticket, error) {
	projects := []string{project}
	if project == "" && len(lt.cfg.Projects) > 0 {
		projects = lt.cfg.Projects
	}

	var out []ticket.Ticket
	for _, p := range projects {
		issues, err := lt.client.FetchIssues(ctx, state, p)
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for i := range issues {
			out = append(out, lt.toTicket(&issues[i]))
		}
	}
	return out, nil
}

// Get fetches one ticket by identifier, tracker UUID, or issue URL.
// Returns (nil, nil) when the issue does not exist.
func (lt *LinearTracker) Get(ctx context.Context, key string) (*ticket.Ticket, error) {
	if id := ExtractIdentifier(key); id != "" {
		key = id
	}
	li, err := lt.client.FetchIssue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch issue %s: %w", key, err)
	}
	if li == nil {
		return nil, nil
	}
	t := lt.toTicket(li)
	return &t, nil
}

// Update applies the non-nil fields to the issue.
func (lt *LinearTracker) Update(ctx context.Context, id string, fields tracker.Fields) error {
	if fields.Empty() {
		return nil
	}

	input := map[string]any{}
	if fields.Title != nil {
		input["title"] = *fields.Title
	}
	if fields.Description != nil {
		input["description"] = *fields.Description
	}
	if fields.Priority != nil {
		input["priority"] = *fields.Priority
	}
	if fields.Status != nil {
		stateID, err := lt.stateID(ctx, *fields.Status)
		if err != nil {
			return err
		}
		input["stateId"] = stateID
	}
	if fields.Labels != nil {
		ids, err := lt.labelIDs(ctx, *fields.Labels)
		if err != nil {
			return err
		}
		input["labelIds"] = ids
	}

	if err := lt.client.UpdateIssue(ctx, id, input); err != nil {
		return fmt.Errorf("update issue %s: %w", id, err)
	}
	return nil
}

// Comment appends a comment to the issue.
func (lt *LinearTracker) Comment(ctx context.Context, id, body string) error {
	if err := lt.client.CreateComment(ctx, id, body); err != nil {
		return fmt.Errorf("comment on issue %s: %w", id, err)
	}
	return nil
}

// Create files a new issue in the configured team.
func (lt *LinearTracker) Create(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error) {
	team, err := lt.teamContext(ctx)
	if err != nil {
		return nil, err
	}

	input := map[string]any{
		"teamId": team.ID,
		"title":  t.Title,
	}
	if t.Description != "" {
		input["description"] = t.Description
	}
	if t.Status != "" {
		stateID, err := lt.stateID(ctx, t.Status)
		if err != nil {
			return nil, err
		}
		input["stateId"] = stateID
	}
	if len(t.Labels) > 0 {
		ids, err := lt.labelIDs(ctx, t.Labels)
		if err != nil {
			return nil, err
		}
		input["labelIds"] = ids
	}
	if t.Project != "" {
		lt.mu.Lock()
		for _, p := range team.Projects.Nodes {
			if strings.EqualFold(p.Name, t.Project) {
				input["projectId"] = p.ID
				break
			}
		}
		lt.mu.Unlock()
	}

	li, err := lt.client.CreateIssue(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	created := lt.toTicket(li)
	return &created, nil
}

// ListProjects returns the team's projects.
func (lt *LinearTracker) ListProjects(ctx context.Context) ([]tracker.Project, error) {
	team, err := lt.teamContext(ctx)
	if err != nil {
		return nil, err
	}
	lt.mu.Lock()
	defer lt.mu.Unlock()
	out := make([]tracker.Project, 0, len(team.Projects.Nodes))
	for _, p := range team.Projects.Nodes {
		out = append(out, tracker.Project{ID: p.ID, Key: p.Name, Name: p.Name})
	}
	return out, nil
}

// Close releases nothing; the client holds no persistent connections.
func (lt *LinearTracker) Close() error { return nil }

// teamContext loads the team's states, labels, and projects once.
func (lt *LinearTracker) teamContext(ctx context.Context) (*Team, error) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	if lt.team != nil {
		return lt.team, nil
	}
	team, err := lt.client.FetchTeam(ctx)
	if err != nil {
		return nil, fmt.Errorf("load team %s: %w", lt.cfg.Team, err)
	}
	lt.team = team
	return team, nil
}

// stateID resolves a lifecycle status to the team's workflow state UUID.
func (lt *LinearTracker) stateID(ctx context.Context, status ticket.Status) (string, error) {
	team, err := lt.teamContext(ctx)
	if err != nil {
		return "", err
	}
	name := lt.cfg.StateName(status)
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for _, s := range team.States.Nodes {
		if strings.EqualFold(s.Name, name) {
			return s.ID, nil
		}
	}
	return "", fmt.Errorf("workflow state %q not found in team %s", name, lt.cfg.Team)
}

// labelIDs resolves label names to IDs, creating team labels that do not
// exist yet.
func (lt *LinearTracker) labelIDs(ctx context.Context, names []string) ([]string, error) {
	team, err := lt.teamContext(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		var id string
		lt.mu.Lock()
		for _, l := range team.Labels.Nodes {
			if strings.EqualFold(l.Name, name) {
				id = l.ID
				break
			}
		}
		lt.mu.Unlock()

		if id == "" {
			created, err := lt.client.CreateLabel(ctx, team.ID, name)
			if err != nil {
				return nil, fmt.Errorf("create label %q: %w", name, err)
			}
			lt.mu.Lock()
			team.Labels.Nodes = append(team.Labels.Nodes, *created)
			lt.mu.Unlock()
			id = created.ID
		}
		ids = append(ids, id)
	}
	return ids, nil
}
