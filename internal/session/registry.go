package session

import (
	"sort"
	"sync"
)

// Registry maps connections to their sessions. It is the only state shared
// across sessions; per-session fields are guarded by the session itself.
type Registry struct {
	mu       sync.Mutex
	byConn   map[string]*Session
	reserved map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		byConn:   make(map[string]*Session),
		reserved: make(map[string]bool),
	}
}

// Create materializes a session for connID using build, which runs without
// the registry lock held. A terminal session still held for connID is
// replaced and returned as prev.
func (r *Registry) Create(connID string, build func() (*Session, error)) (s *Session, prev *Session, err error) {
	r.mu.Lock()
	if r.reserved[connID] {
		r.mu.Unlock()
		return nil, nil, ErrSessionExists
	}
	if existing, ok := r.byConn[connID]; ok && !existing.State().Terminal() {
		r.mu.Unlock()
		return nil, nil, ErrSessionExists
	}
	r.reserved[connID] = true
	r.mu.Unlock()

	s, err = build()

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.reserved, connID)
	if err != nil {
		return nil, nil, err
	}
	prev = r.byConn[connID]
	r.byConn[connID] = s
	return s, prev, nil
}

func (r *Registry) Get(connID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byConn[connID]
	return s, ok
}

// Remove drops connID's entry if it still holds s.
func (r *Registry) Remove(connID string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byConn[connID]; ok && cur == s {
		delete(r.byConn, connID)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byConn)
}

// Sessions returns every held session ordered by start time.
func (r *Registry) Sessions() []*Session {
	r.mu.Lock()
	out := make([]*Session, 0, len(r.byConn))
	for _, s := range r.byConn {
		out = append(out, s)
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}
