// Package codehost defines the code-hosting collaborator used to hand work
// briefs to autonomous coding agents and to link the resulting session
// references back to tickets.
package codehost

import (
	"context"
	"fmt"
	"strings"

	"github.com/mapache-ai/shaper/internal/config"
	"github.com/mapache-ai/shaper/internal/ticket"
)

// Host is the code-hosting collaborator.
type Host interface {
	// Name returns the host kind.
	Name() string

	// StartAgentSession hands a work brief to an autonomous coding agent
	// and returns an opaque session reference.
	StartAgentSession(ctx context.Context, brief *ticket.AgentBrief) (string, error)

	// LinkReference attaches a session reference to the ticket's trail on
	// the host side.
	LinkReference(ctx context.Context, ticketKey, ref string) error
}

// New builds the configured code host.
func New(cfg config.CodeHostConfig) (Host, error) {
	switch cfg.Kind {
	case "github":
		return NewGitHub(cfg)
	case "memory", "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown code host %q (available: [github memory])", cfg.Kind)
	}
}

// ParseRepo extracts owner and name from a repository slug or remote URL.
// Bare names fall back to the default owner. Supported forms:
//   - owner/name
//   - name (with defaultOwner set)
//   - git@github.com:owner/name.git
//   - https://github.com/owner/name[.git]
func ParseRepo(repo, defaultOwner string) (string, string, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return "", "", fmt.Errorf("empty repository")
	}

	if after, ok := strings.CutPrefix(repo, "git@github.com:"); ok {
		repo = after
	} else if after, ok := strings.CutPrefix(repo, "https://github.com/"); ok {
		repo = after
	} else if after, ok := strings.CutPrefix(repo, "http://github.com/"); ok {
		repo = after
	}
	repo = strings.TrimSuffix(strings.TrimSuffix(repo, "/"), ".git")

	parts := strings.Split(repo, "/")
	switch {
	case len(parts) == 1 && defaultOwner != "":
		return defaultOwner, parts[0], nil
	case len(parts) >= 2 && parts[0] != "" && parts[1] != "":
		return parts[0], parts[1], nil
	}
	return "", "", fmt.Errorf("invalid repository %q", repo)
}

// Session references are self-describing so linking needs no session store:
// agent:<owner>/<repo>:<id>
const sessionRefPrefix = "agent:"

func sessionRef(owner, repo, id string) string {
	return fmt.Sprintf("%s%s/%s:%s", sessionRefPrefix, owner, repo, id)
}

// ParseSessionRef splits a session reference into its repository slug and
// session id.
func ParseSessionRef(ref string) (slug, id string, ok bool) {
	rest, found := strings.CutPrefix(ref, sessionRefPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
