// Package linear provides a Linear tracker plugin speaking the GraphQL API.
package linear

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/mapache-ai/shaper/internal/tracker"
)

// DefaultAPIEndpoint is the Linear GraphQL API endpoint.
const DefaultAPIEndpoint = "https://api.linear.app/graphql"

const (
	defaultRetryInterval = 500 * time.Millisecond
	apiMaxRetries        = 4
	pageSize             = 50
)

// Client provides HTTP access to the Linear GraphQL API.
type Client struct {
	APIKey     string
	Team       string // team key, e.g. "MAP"
	Endpoint   string
	HTTPClient *http.Client

	retryInterval time.Duration
	onQuota       func(remaining, limit int)
}

// NewClient creates a new Linear client for the given team.
func NewClient(apiKey, team string) *Client {
	return &Client{
		APIKey:   apiKey,
		Team:     team,
		Endpoint: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		retryInterval: defaultRetryInterval,
	}
}

// WithEndpoint returns a copy of the client pointed at a different endpoint.
func (c *Client) WithEndpoint(endpoint string) *Client {
	nc := *c
	nc.Endpoint = endpoint
	return &nc
}

// WithHTTPClient returns a copy of the client using the given HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	nc := *c
	nc.HTTPClient = hc
	return &nc
}

// WithRetryInterval returns a copy of the client with a different initial
// backoff interval. Tests shrink it to keep retry paths fast.
func (c *Client) WithRetryInterval(d time.Duration) *Client {
	nc := *c
	nc.retryInterval = d
	return &nc
}

// WithQuotaFunc returns a copy of the client that reports rate limit headers
// to fn after every call.
func (c *Client) WithQuotaFunc(fn func(remaining, limit int)) *Client {
	nc := *c
	nc.onQuota = fn
	return &nc
}

// Issue is the Linear wire representation of an issue.
type Issue struct {
	ID          string                `json:"id"`
	Identifier  string                `json:"identifier"`
	Title       string                `json:"title"`
	Description string                `json:"description"`
	URL         string                `json:"url"`
	Priority    int                   `json:"priority"`
	CreatedAt   string                `json:"createdAt"`
	UpdatedAt   string                `json:"updatedAt"`
	State       *State                `json:"state"`
	Labels      *LabelConnection      `json:"labels"`
	Project     *ProjectNode          `json:"project"`
	Attachments *AttachmentConnection `json:"attachments"`
}

// State is a team workflow state.
type State struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Label is an issue label.
type Label struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ProjectNode is a Linear project reference.
type ProjectNode struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Attachment is an external link attached to an issue.
type Attachment struct {
	URL string `json:"url"`
}

// Connection wrappers for the GraphQL nodes shape.
type (
	LabelConnection      struct{ Nodes []Label `json:"nodes"` }
	StateConnection      struct{ Nodes []State `json:"nodes"` }
	ProjectConnection    struct{ Nodes []ProjectNode `json:"nodes"` }
	AttachmentConnection struct{ Nodes []Attachment `json:"nodes"` }
)

// Team bundles the team context needed for writes: its UUID plus the
// workflow states, labels, and projects used to resolve names to IDs.
type Team struct {
	ID       string            `json:"id"`
	Key      string            `json:"key"`
	States   StateConnection   `json:"states"`
	Labels   LabelConnection   `json:"labels"`
	Projects ProjectConnection `json:"projects"`
}

const issueFields = `
id
identifier
title
description
url
priority
createdAt
updatedAt
state { id name type }
labels { nodes { id name } }
project { id name }
attachments { nodes { url } }`

const queryIssues = `query Issues($filter: IssueFilter, $first: Int!, $after: String) {
  issues(filter: $filter, first: $first, after: $after) {
    nodes {` + issueFields + `
    }
    pageInfo { hasNextPage endCursor }
  }
}`

const queryIssue = `query Issue($id: String!) {
  issue(id: $id) {` + issueFields + `
  }
}`

const queryTeam = `query Team($key: String!) {
  teams(filter: { key: { eq: $key } }, first: 1) {
    nodes {
      id
      key
      states { nodes { id name type } }
      labels { nodes { id name } }
      projects { nodes { id name } }
    }
  }
}`

const mutationIssueUpdate = `mutation IssueUpdate($id: String!, $input: IssueUpdateInput!) {
  issueUpdate(id: $id, input: $input) {
    success
    issue { id identifier }
  }
}`

const mutationIssueCreate = `mutation IssueCreate($input: IssueCreateInput!) {
  issueCreate(input: $input) {
    success
    issue {` + issueFields + `
    }
  }
}`

const mutationCommentCreate = `mutation CommentCreate($input: CommentCreateInput!) {
  commentCreate(input: $input) { success }
}`

const mutationLabelCreate = `mutation LabelCreate($input: IssueLabelCreateInput!) {
  issueLabelCreate(input: $input) {
    success
    issueLabel { id name }
  }
}`

// FetchIssues returns the team's issues, optionally filtered to one workflow
// state name and one project name. Pagination is followed to the end.
func (c *Client) FetchIssues(ctx context.Context, state, project string) ([]Issue, error) {
	filter := map[string]any{
		"team": map[string]any{"key": map[string]any{"eq": c.Team}},
	}
	if state != "" {
		filter["state"] = map[string]any{"name": map[string]any{"eq": state}}
	}
	if project != "" {
		filter["project"] = map[string]any{"name": map[string]any{"eq": project}}
	}

	var all []Issue
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vars := map[string]any{"filter": filter, "first": pageSize}
		if after != "" {
			vars["after"] = after
		}
		var out struct {
			Issues struct {
				Nodes    []Issue `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"issues"`
		}
		if err := c.do(ctx, queryIssues, vars, &out); err != nil {
			return nil, err
		}
		all = append(all, out.Issues.Nodes...)
		if !out.Issues.PageInfo.HasNextPage {
			return all, nil
		}
		after = out.Issues.PageInfo.EndCursor
	}
}

// FetchIssue returns a single issue by identifier ("MAP-12") or UUID.
// Returns (nil, nil) when Linear reports the entity does not exist.
func (c *Client) FetchIssue(ctx context.Context, id string) (*Issue, error) {
	var out struct {
		Issue *Issue `json:"issue"`
	}
	err := c.do(ctx, queryIssue, map[string]any{"id": id}, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.NotFound() {
			return nil, nil
		}
		return nil, err
	}
	return out.Issue, nil
}

// FetchTeam returns the configured team's context.
func (c *Client) FetchTeam(ctx context.Context) (*Team, error) {
	var out struct {
		Teams struct {
			Nodes []Team `json:"nodes"`
		} `json:"teams"`
	}
	if err := c.do(ctx, queryTeam, map[string]any{"key": c.Team}, &out); err != nil {
		return nil, err
	}
	if len(out.Teams.Nodes) == 0 {
		return nil, fmt.Errorf("linear team %q not found", c.Team)
	}
	return &out.Teams.Nodes[0], nil
}

// UpdateIssue applies the input fields to an issue.
func (c *Client) UpdateIssue(ctx context.Context, id string, input map[string]any) error {
	var out struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := c.do(ctx, mutationIssueUpdate, map[string]any{"id": id, "input": input}, &out); err != nil {
		return err
	}
	if !out.IssueUpdate.Success {
		return fmt.Errorf("linear rejected update of issue %s", id)
	}
	return nil
}

// CreateIssue files a new issue and returns the created record.
func (c *Client) CreateIssue(ctx context.Context, input map[string]any) (*Issue, error) {
	var out struct {
		IssueCreate struct {
			Success bool   `json:"success"`
			Issue   *Issue `json:"issue"`
		} `json:"issueCreate"`
	}
	if err := c.do(ctx, mutationIssueCreate, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	if !out.IssueCreate.Success || out.IssueCreate.Issue == nil {
		return nil, fmt.Errorf("linear rejected issue creation")
	}
	return out.IssueCreate.Issue, nil
}

// CreateComment appends a comment to an issue.
func (c *Client) CreateComment(ctx context.Context, issueID, body string) error {
	input := map[string]any{"issueId": issueID, "body": body}
	var out struct {
		CommentCreate struct {
			Success bool `json:"success"`
		} `json:"commentCreate"`
	}
	if err := c.do(ctx, mutationCommentCreate, map[string]any{"input": input}, &out); err != nil {
		return err
	}
	if !out.CommentCreate.Success {
		return fmt.Errorf("linear rejected comment on issue %s", issueID)
	}
	return nil
}

// CreateLabel creates a team label and returns it.
func (c *Client) CreateLabel(ctx context.Context, teamID, name string) (*Label, error) {
	input := map[string]any{"teamId": teamID, "name": name}
	var out struct {
		IssueLabelCreate struct {
			Success    bool   `json:"success"`
			IssueLabel *Label `json:"issueLabel"`
		} `json:"issueLabelCreate"`
	}
	if err := c.do(ctx, mutationLabelCreate, map[string]any{"input": input}, &out); err != nil {
		return nil, err
	}
	if !out.IssueLabelCreate.Success || out.IssueLabelCreate.IssueLabel == nil {
		return nil, fmt.Errorf("linear rejected label %q", name)
	}
	return out.IssueLabelCreate.IssueLabel, nil
}

// APIError is a GraphQL-level error response.
type APIError struct {
	Messages []string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("linear API error: %s", strings.Join(e.Messages, "; "))
}

// NotFound reports whether the error indicates a missing entity.
func (e *APIError) NotFound() bool {
	for _, m := range e.Messages {
		if strings.Contains(strings.ToLower(m), "not found") {
			return true
		}
	}
	return false
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// httpStatusError marks a non-2xx response. 429s unwrap to ErrRateLimited so
// callers can detect throttling after retries are exhausted.
type httpStatusError struct {
	code int
	body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("linear API returned %d: %s", e.code, e.body)
}

func (e *httpStatusError) Unwrap() error {
	if e.code == http.StatusTooManyRequests {
		return tracker.ErrRateLimited
	}
	return nil
}

func (c *Client) newBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.MaxElapsedTime = 30 * time.Second
	return bo
}

// isRetryableError returns true for transient failures: throttling, server
// errors, and transport-level problems.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	// Anything else from the round trip is a transport error (connection
	// reset, refused, timeout) and worth retrying.
	return true
}

// do executes one GraphQL call with retry for transient errors, decoding the
// data payload into out when non-nil.
func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	if c.APIKey == "" {
		return fmt.Errorf("linear API key not configured")
	}
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var body []byte
	op := func() error {
		var rerr error
		body, rerr = c.post(ctx, payload)
		if rerr != nil {
			if isRetryableError(rerr) {
				return rerr
			}
			return backoff.Permanent(rerr)
		}
		return nil
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(c.newBackoff(), apiMaxRetries), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return err
	}

	var envelope graphQLResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		apiErr := &APIError{}
		for _, e := range envelope.Errors {
			apiErr.Messages = append(apiErr.Messages, e.Message)
		}
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("parse data: %w", err)
		}
	}
	return nil
}

// post performs a single HTTP round trip and classifies the response.
func (c *Client) post(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	c.reportQuota(resp)

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpStatusError{code: resp.StatusCode, body: strings.TrimSpace(string(respBody))}
	}
	return respBody, nil
}

func (c *Client) reportQuota(resp *http.Response) {
	if c.onQuota == nil {
		return
	}
	remaining, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Requests-Remaining"))
	if err != nil {
		return
	}
	limit, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Requests-Limit"))
	if err != nil {
		return
	}
	c.onQuota(remaining, limit)
}
