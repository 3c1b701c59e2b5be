package codehost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v68/github"
	"github.com/google/uuid"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// Repository dispatch event types consumed by org automation.
const (
	// EventAgentSession starts an agent run; the receiving workflow reads
	// the work brief from the client payload.
	EventAgentSession = "shaper-agent-session"
	// EventLink records a session-to-ticket link.
	EventLink = "shaper-link"
)

const (
	defaultRetryInterval = 500 * time.Millisecond
	dispatchMaxRetries   = 4
)

// GitHub dispatches agent sessions as repository_dispatch events.
type GitHub struct {
	client        *github.Client
	org           string
	retryInterval time.Duration
	newID         func() string
}

// NewGitHub creates a GitHub code host from configuration.
func NewGitHub(cfg config.CodeHostConfig) (*GitHub, error) {
	var client *github.Client
	if cfg.Token != "" {
		client = github.NewClient(nil).WithAuthToken(cfg.Token)
	} else {
		client = github.NewClient(nil)
	}
	if cfg.APIBase != "" {
		c, err := client.WithEnterpriseURLs(cfg.APIBase, cfg.APIBase)
		if err != nil {
			return nil, fmt.Errorf("code host api base: %w", err)
		}
		client = c
	}
	return &GitHub{
		client:        client,
		org:           cfg.Org,
		retryInterval: defaultRetryInterval,
		newID:         uuid.NewString,
	}, nil
}

// NewGitHubWithHTTPClient creates a GitHub host with a custom HTTP client.
// This is primarily used for testing with httptest servers.
func NewGitHubWithHTTPClient(httpClient *http.Client, baseURL, org string) (*GitHub, error) {
	client := github.NewClient(httpClient)
	if baseURL != "" {
		c, err := client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("code host api base: %w", err)
		}
		client = c
	}
	return &GitHub{
		client:        client,
		org:           org,
		retryInterval: defaultRetryInterval,
		newID:         uuid.NewString,
	}, nil
}

// Name returns the host kind.
func (g *GitHub) Name() string { return "github" }

// sessionPayload is the client payload delivered with an agent session.
type sessionPayload struct {
	Ticket  string   `json:"ticket"`
	Session string   `json:"session"`
	Repos   []string `json:"repos,omitempty"`
	Brief   string   `json:"brief"`
}

type linkPayload struct {
	Ticket string `json:"ticket"`
	Ref    string `json:"ref"`
}

// StartAgentSession dispatches the brief to the first repository it names
// and returns a self-describing session reference.
func (g *GitHub) StartAgentSession(ctx context.Context, brief *ticket.AgentBrief) (string, error) {
	if brief == nil || len(brief.Repos) == 0 {
		return "", fmt.Errorf("agent brief names no repositories")
	}
	owner, repo, err := ParseRepo(brief.Repos[0], g.org)
	if err != nil {
		return "", err
	}

	ref := sessionRef(owner, repo, g.newID())
	payload, err := json.Marshal(sessionPayload{
		Ticket:  brief.TicketKey,
		Session: ref,
		Repos:   brief.Repos,
		Brief:   brief.Markdown(),
	})
	if err != nil {
		return "", fmt.Errorf("encode session payload: %w", err)
	}
	raw := json.RawMessage(payload)

	if err := g.dispatch(ctx, owner, repo, github.DispatchRequestOptions{
		EventType:     EventAgentSession,
		ClientPayload: &raw,
	}); err != nil {
		return "", err
	}
	return ref, nil
}

// LinkReference dispatches a link event to the repository named inside the
// session reference.
func (g *GitHub) LinkReference(ctx context.Context, ticketKey, ref string) error {
	slug, _, ok := ParseSessionRef(ref)
	if !ok {
		return fmt.Errorf("cannot link %q: not a session reference", ref)
	}
	owner, repo, err := ParseRepo(slug, g.org)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(linkPayload{Ticket: ticketKey, Ref: ref})
	if err != nil {
		return fmt.Errorf("encode link payload: %w", err)
	}
	raw := json.RawMessage(payload)

	return g.dispatch(ctx, owner, repo, github.DispatchRequestOptions{
		EventType:     EventLink,
		ClientPayload: &raw,
	})
}

func (g *GitHub) newBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.retryInterval
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

func (g *GitHub) dispatch(ctx context.Context, owner, repo string, opts github.DispatchRequestOptions) error {
	op := func() error {
		_, _, err := g.client.Repositories.Dispatch(ctx, owner, repo, opts)
		if err == nil {
			return nil
		}
		if isRetryableError(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(g.newBackoff(), dispatchMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return fmt.Errorf("dispatch %s to %s/%s: %w", opts.EventType, owner, repo, err)
	}
	return nil
}

// isRetryableError returns true for rate limiting, server errors, and
// transport-level failures.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return true
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		return respErr.Response != nil && respErr.Response.StatusCode >= 500
	}
	return true
}
