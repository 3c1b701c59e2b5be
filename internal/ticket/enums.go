package ticket

import "strings"

// Status represents the lifecycle state of a ticket within the shaping
// pipeline. Transitions are strictly forward: candidate -> shaped -> ready,
// with parked and discarded as terminal exits. Once parked or discarded, a
// ticket re-enters the pipeline only through an explicit external reset.
type Status string

// Lifecycle status constants
const (
	StatusCandidate Status = "candidate" // raw intake, untriaged
	StatusShaped    Status = "shaped"    // classified and rewritten to lean form
	StatusReady     Status = "ready"     // prioritized and routed, eligible for dispatch
	StatusParked    Status = "parked"    // relevant but not actionable now (terminal)
	StatusDiscarded Status = "discarded" // not relevant to the product (terminal)
)

// IsValid checks if the status value is valid
func (s Status) IsValid() bool {
	switch s {
	case StatusCandidate, StatusShaped, StatusReady, StatusParked, StatusDiscarded:
		return true
	}
	return false
}

// IsTerminal reports whether the status is an exit state. Terminal tickets
// are ignored by triage sweeps until explicitly reset.
func (s Status) IsTerminal() bool {
	return s == StatusParked || s == StatusDiscarded
}

// Source identifies where a ticket came from
type Source string

// Ticket source constants
const (
	SourceUser        Source = "user"        // filed by a human
	SourceOpportunity Source = "opportunity" // emitted by the opportunity scanner
	SourceMigration   Source = "migration"   // imported from a legacy tracker
)

// IsValid checks if the source value is valid
func (s Source) IsValid() bool {
	switch s {
	case SourceUser, SourceOpportunity, SourceMigration:
		return true
	}
	return false
}

// Surface identifies which product surface a ticket touches
type Surface string

// Product surface constants
const (
	SurfaceSolutions Surface = "solutions" // customer-facing solutions repos
	SurfaceApp       Surface = "app"       // the core platform app
	SurfaceBridge    Surface = "bridge"    // integration layer between the two
)

// IsValid checks if the surface value is valid
func (s Surface) IsValid() bool {
	switch s {
	case SurfaceSolutions, SurfaceApp, SurfaceBridge:
		return true
	}
	return false
}

// Size is the estimated scope of work for a ticket
type Size string

// Work size constants
const (
	SizeSmall  Size = "small"
	SizeMedium Size = "medium"
	SizeLarge  Size = "large"
)

// IsValid checks if the size value is valid
func (s Size) IsValid() bool {
	switch s {
	case SizeSmall, SizeMedium, SizeLarge:
		return true
	}
	return false
}

// Rank returns the ordering position of the size (small < medium < large).
// Unknown sizes rank below small so comparisons degrade conservatively.
func (s Size) Rank() int {
	switch s {
	case SizeSmall:
		return 1
	case SizeMedium:
		return 2
	case SizeLarge:
		return 3
	}
	return 0
}

// Route is the execution lane a shaped ticket is sent down
type Route string

// Execution route constants
const (
	RouteAgent  Route = "agent"  // autonomous coding agent with a work brief
	RouteChat   Route = "chat"   // interactive assistant session with a prompt
	RouteManual Route = "manual" // human review queue, no artifact
)

// IsValid checks if the route value is valid
func (r Route) IsValid() bool {
	switch r {
	case RouteAgent, RouteChat, RouteManual:
		return true
	}
	return false
}

// Outcome classifies an audit entry as a success or a failure record
type Outcome string

// Audit outcome constants
const (
	OutcomeOK    Outcome = "ok"
	OutcomeError Outcome = "error"
)

// ParseSourceLabel maps an explicit tracker label to a Source. Returns the
// source and true when the label is a recognized source marker.
func ParseSourceLabel(label string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "source:user":
		return SourceUser, true
	case "source:opportunity-agent", "source:opportunity":
		return SourceOpportunity, true
	case "source:system-migration", "source:migration":
		return SourceMigration, true
	}
	return "", false
}

// ParseSurfaceLabel maps an explicit tracker label to a Surface.
func ParseSurfaceLabel(label string) (Surface, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "surface:solutions":
		return SurfaceSolutions, true
	case "surface:app":
		return SurfaceApp, true
	case "surface:bridge":
		return SurfaceBridge, true
	}
	return "", false
}

// ParseSizeLabel maps an explicit tracker label to a Size.
func ParseSizeLabel(label string) (Size, bool) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "size:small", "size:s":
		return SizeSmall, true
	case "size:medium", "size:m":
		return SizeMedium, true
	case "size:large", "size:l":
		return SizeLarge, true
	}
	return "", false
}
