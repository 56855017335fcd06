package agent

import (
	"sync"

	"github.com/google/uuid"
)

// Registry is the authoritative set of live sessions. It is mutated
// concurrently by the accept loop (insert), by sessions (self-removal) and by
// the reaper (eviction); sync.Map carries all synchronization, no extra
// locking is layered on top.
type Registry struct {
	sessions sync.Map // uuid.UUID -> *Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Add publishes a session.
func (r *Registry) Add(s *Session) {
	r.sessions.Store(s.ID(), s)
}

// Remove forgets a session. Removing an unknown ID is a no-op, so sessions
// closing themselves can race the reaper safely.
func (r *Registry) Remove(id uuid.UUID) {
	r.sessions.Delete(id)
}

// Get returns the session with the given ID.
func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// Range calls f for each live session until f returns false.
func (r *Registry) Range(f func(s *Session) bool) {
	r.sessions.Range(func(_, v any) bool {
		return f(v.(*Session))
	})
}

// Len counts live sessions.
func (r *Registry) Len() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
