// Package agents tracks the coding-agent roster and its dispatch capacity.
//
// The roster is loaded once from agents.yaml and then mutated only through
// Assign and Release, so capacity accounting lives in one place. Assignment
// is keyed by job so re-dispatching the same ticket never consumes a second
// slot.
package agents

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mapache-ai/shaper/internal/ticket"
)

// ErrNoCapacity is returned by Assign when every agent is at its
// concurrency limit.
var ErrNoCapacity = errors.New("no agent capacity available")

// Agent describes one coding agent from the roster file. Surfaces lists
// the product surfaces the agent is tuned for; an agent with no surfaces
// is a generalist that accepts any work.
type Agent struct {
	Name          string   `yaml:"name"`
	Surfaces      []string `yaml:"surfaces,omitempty,flow"`
	MaxConcurrent int      `yaml:"max_concurrent,omitempty"`
}

// rosterFile is the on-disk structure of agents.yaml.
type rosterFile struct {
	Agents []Agent `yaml:"agents"`
}

// Roster tracks which jobs are running on which agents.
type Roster struct {
	mu          sync.Mutex
	agents      []Agent
	load        map[string]int    // agent name -> active jobs
	assignments map[string]string // job key -> agent name
}

// Load reads and validates an agent roster file.
func Load(path string) (*Roster, error) {
	data, err := os.ReadFile(path) // #nosec G304 - roster path from configuration
	if err != nil {
		return nil, fmt.Errorf("failed to read agent roster: %w", err)
	}

	var file rosterFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse agent roster: %w", err)
	}

	return New(file.Agents)
}

// New builds a roster from an agent list, applying defaults and rejecting
// rosters that could never dispatch anything.
func New(agents []Agent) (*Roster, error) {
	if len(agents) == 0 {
		return nil, errors.New("agent roster is empty")
	}

	seen := make(map[string]bool, len(agents))
	validated := make([]Agent, 0, len(agents))
	for i, a := range agents {
		if a.Name == "" {
			return nil, fmt.Errorf("agent %d has no name", i+1)
		}
		if seen[a.Name] {
			return nil, fmt.Errorf("duplicate agent %q in roster", a.Name)
		}
		seen[a.Name] = true

		if a.MaxConcurrent < 0 {
			return nil, fmt.Errorf("agent %q: max_concurrent must not be negative", a.Name)
		}
		if a.MaxConcurrent == 0 {
			a.MaxConcurrent = 1
		}

		normalized := make([]string, 0, len(a.Surfaces))
		for _, s := range a.Surfaces {
			surface := ticket.Surface(strings.ToLower(strings.TrimSpace(s)))
			if !surface.IsValid() {
				return nil, fmt.Errorf("agent %q: unknown surface %q", a.Name, s)
			}
			normalized = append(normalized, string(surface))
		}
		a.Surfaces = normalized

		validated = append(validated, a)
	}

	return &Roster{
		agents:      validated,
		load:        make(map[string]int),
		assignments: make(map[string]string),
	}, nil
}

// Assign picks an agent for the job and reserves one slot on it. Agents
// whose surface list covers one of the job's surfaces win over generalists;
// within a group the agent with the most free slots wins, roster order
// breaking ties. Assigning a job that is already placed returns the same
// agent without consuming another slot.
func (r *Roster) Assign(jobKey string, surfaces []ticket.Surface) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name, ok := r.assignments[jobKey]; ok {
		return name, nil
	}

	best := -1
	bestFree := 0
	bestAffine := false
	for i, a := range r.agents {
		free := a.MaxConcurrent - r.load[a.Name]
		if free <= 0 {
			continue
		}
		affine := covers(a.Surfaces, surfaces)
		better := best == -1 ||
			(affine && !bestAffine) ||
			(affine == bestAffine && free > bestFree)
		if better {
			best, bestFree, bestAffine = i, free, affine
		}
	}
	if best == -1 {
		return "", ErrNoCapacity
	}

	name := r.agents[best].Name
	r.load[name]++
	r.assignments[jobKey] = name
	return name, nil
}

// Release frees the slot held by the job. Releasing a job that was never
// assigned is a no-op.
func (r *Roster) Release(jobKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name, ok := r.assignments[jobKey]
	if !ok {
		return
	}
	delete(r.assignments, jobKey)
	if r.load[name] > 0 {
		r.load[name]--
	}
}

// AssignedTo reports which agent holds the job, if any.
func (r *Roster) AssignedTo(jobKey string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.assignments[jobKey]
	return name, ok
}

// Capacity is a point-in-time view of one agent's slot usage.
type Capacity struct {
	Name   string `json:"name"`
	Active int    `json:"active"`
	Max    int    `json:"max"`
}

// Capacities reports current slot usage in roster order.
func (r *Roster) Capacities() []Capacity {
	r.mu.Lock()
	defer r.mu.Unlock()

	caps := make([]Capacity, len(r.agents))
	for i, a := range r.agents {
		caps[i] = Capacity{Name: a.Name, Active: r.load[a.Name], Max: a.MaxConcurrent}
	}
	return caps
}

// Agents returns a copy of the validated roster.
func (r *Roster) Agents() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Agent, len(r.agents))
	copy(out, r.agents)
	for i := range out {
		out[i].Surfaces = append([]string(nil), r.agents[i].Surfaces...)
	}
	return out
}

// covers reports whether the agent's surface list names at least one of
// the job's surfaces. Generalists (no surfaces) never count as affine.
func covers(agentSurfaces []string, jobSurfaces []ticket.Surface) bool {
	for _, have := range agentSurfaces {
		for _, want := range jobSurfaces {
			if strings.EqualFold(have, string(want)) {
				return true
			}
		}
	}
	return false
}
