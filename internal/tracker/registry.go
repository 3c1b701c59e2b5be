package tracker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mapache-ai/shaper/internal/config"
)

// Factory builds a tracker from its configuration.
type Factory func(cfg config.TrackerConfig) (Tracker, error)

// Registry manages registered tracker plugins. Plugins register themselves
// at init time, and the registry provides access to them by name.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// globalRegistry is the default registry used by Register and New.
var globalRegistry = &Registry{
	factories: make(map[string]Factory),
}

// Register adds a tracker factory to the global registry.
// This is typically called from tracker plugin init() functions.
// The name should be lowercase (e.g., "linear", "memory").
func Register(name string, factory Factory) {
	globalRegistry.Register(name, factory)
}

// Available returns the names of all registered trackers.
func Available() []string {
	return globalRegistry.Available()
}

// New builds a new instance of the named tracker.
// Returns an error if no tracker with that name is registered.
func New(name string, cfg config.TrackerConfig) (Tracker, error) {
	return globalRegistry.New(name, cfg)
}

// Register adds a tracker factory to this registry.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Available returns the names of all registered trackers, sorted
// alphabetically.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New builds a new instance of the named tracker.
func (r *Registry) New(name string, cfg config.TrackerConfig) (Tracker, error) {
	r.mu.RLock()
	factory := r.factories[name]
	r.mu.RUnlock()

	if factory == nil {
		return nil, fmt.Errorf("unknown tracker %q (available: %v)", name, r.Available())
	}
	return factory(cfg)
}
