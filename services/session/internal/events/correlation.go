package events

import (
	"sync"
	"time"
)

// Registry tracks which correlation ids already received their terminal
// response. Kafka redelivers; without this a redelivered login request would
// publish a second response (or, worse, create a second session). Entries
// expire after TTL so the map cannot grow without bound.
type Registry struct {
	mu   sync.Mutex
	seen map[string]time.Time

	TTL time.Duration
	// Now is the clock, injectable for tests. Nil means time.Now.
	Now func() time.Time
}

func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		seen: make(map[string]time.Time),
		TTL:  ttl,
	}
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// MarkHandled records the id and reports whether this is the first time it
// is seen within the TTL. Only the first caller may publish the terminal
// response for that id.
func (r *Registry) MarkHandled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.pruneLocked(now)

	if at, ok := r.seen[id]; ok && now.Sub(at) < r.TTL {
		return false
	}
	r.seen[id] = now
	return true
}

// Unmark forgets the id so a redelivery may complete the terminal response
// after a failed publish.
func (r *Registry) Unmark(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.seen, id)
}

func (r *Registry) pruneLocked(now time.Time) {
	for id, at := range r.seen {
		if now.Sub(at) >= r.TTL {
			delete(r.seen, id)
		}
	}
}

// Len reports the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruneLocked(r.now())
	return len(r.seen)
}
