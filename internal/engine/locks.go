package engine

import "sync"

// keyedMutex serializes pipeline runs per ticket id. A sweep and a
// webhook-triggered triage of the same ticket queue behind one entry;
// runs over different tickets never contend. Entries are refcounted and
// removed when the last holder releases, so the map stays proportional
// to in-flight work, not backlog size.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{entries: make(map[string]*lockEntry)}
}

// lock blocks until the key is exclusively held and returns the release
// function. Call it exactly once.
func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	e := k.entries[key]
	if e == nil {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
