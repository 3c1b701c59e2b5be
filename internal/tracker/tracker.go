// Package tracker defines the issue tracker collaborator contract and a
// registry of tracker implementations. Tracker plugins register themselves
// at init time, and the engine resolves one by its configured kind.
package tracker

import (
	"context"
	"errors"

	"github.com/mapache-ai/shaper/internal/ticket"
)

// Sentinel errors shared by tracker implementations.
var (
	// ErrNotFound reports that the referenced ticket does not exist on the
	// tracker.
	ErrNotFound = errors.New("ticket not found")

	// ErrRateLimited reports that the tracker refused the call even after
	// retries. Callers should slow down rather than retry immediately.
	ErrRateLimited = errors.New("tracker rate limited")
)

// Project identifies a tracker-side project or team space.
type Project struct {
	ID   string `json:"id"`
	Key  string `json:"key"`
	Name string `json:"name"`
}

// Fields is a sparse ticket update. Nil fields are left untouched on the
// tracker, so callers only name what they changed.
type Fields struct {
	Title       *string
	Description *string
	Labels      *[]string
	Status      *ticket.Status
	Priority    *int
}

// Empty reports whether the update would change nothing.
func (f Fields) Empty() bool {
	return f.Title == nil && f.Description == nil && f.Labels == nil &&
		f.Status == nil && f.Priority == nil
}

// Tracker is the issue tracker collaborator. Implementations translate
// between tracker-native records and canonical tickets; status values cross
// the boundary as lifecycle statuses and are mapped to workflow state names
// inside the implementation.
type Tracker interface {
	// Name returns the registry name of the implementation.
	Name() string

	// ListCandidates returns the tickets awaiting shaping in the given
	// project. An empty project means every configured project.
	ListCandidates(ctx context.Context, project string) ([]ticket.Ticket, error)

	// ListTickets returns every ticket in the given project regardless of
	// status. Used by full-project reruns.
	ListTickets(ctx context.Context, project string) ([]ticket.Ticket, error)

	// Get fetches one ticket by key or tracker ID. Returns (nil, nil) when
	// the ticket does not exist.
	Get(ctx context.Context, key string) (*ticket.Ticket, error)

	// Update applies the non-nil fields to the ticket.
	Update(ctx context.Context, id string, fields Fields) error

	// Comment appends a comment to the ticket.
	Comment(ctx context.Context, id, body string) error

	// Create files a new ticket and returns it with tracker-assigned
	// identifiers filled in.
	Create(ctx context.Context, t *ticket.Ticket) (*ticket.Ticket, error)

	// ListProjects returns the projects visible to the configured scope.
	ListProjects(ctx context.Context) ([]Project, error)

	// Close releases any resources held by the tracker.
	Close() error
}
