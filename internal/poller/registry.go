package poller

import (
	"context"
	"sync"

	"github.com/nmalhotra/docwatch/internal/docling"
)

// Registry maps job ids to live sessions with explicit creation and
// disposal. It is the only structure shared across sessions; each session
// otherwise runs independently.
type Registry struct {
	client docling.Client
	policy Policy

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates a Registry. Zero fields in policy fall back to
// DefaultPolicy values.
func NewRegistry(client docling.Client, policy Policy) *Registry {
	return &Registry{
		client:   client,
		policy:   policy,
		sessions: make(map[string]*Session),
	}
}

// Submit starts a new session that uploads path and polls the resulting job
// to completion. The session is returned immediately; subscribe to
// Events() for progress. The session registers itself under its job id as
// soon as the upload succeeds.
func (r *Registry) Submit(ctx context.Context, path string) *Session {
	s := newSession(ctx, r.client, r.policy, r.register)
	go s.run(path, "")
	return s
}

// Track adopts an already-submitted job id and polls it to completion. If a
// session for the id already exists, it is returned unchanged.
func (r *Registry) Track(ctx context.Context, jobID string) *Session {
	r.mu.Lock()
	if existing, ok := r.sessions[jobID]; ok {
		r.mu.Unlock()
		return existing
	}
	// The session must be fully constructed, cancel wiring included, before
	// it becomes visible through the map.
	s := newSession(ctx, r.client, r.policy, nil)
	s.snapshot.JobID = jobID
	r.sessions[jobID] = s
	r.mu.Unlock()

	go s.run("", jobID)
	return s
}

// Get returns the session for a job id, if one is registered.
func (r *Registry) Get(jobID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[jobID]
	return s, ok
}

// Remove cancels and unregisters the session for a job id. Safe to call for
// unknown ids.
func (r *Registry) Remove(jobID string) {
	r.mu.Lock()
	s, ok := r.sessions[jobID]
	delete(r.sessions, jobID)
	r.mu.Unlock()

	if ok {
		s.Cancel()
	}
}

// Shutdown cancels every live session.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Cancel()
	}
}

func (r *Registry) register(jobID string, s *Session) {
	r.mu.Lock()
	r.sessions[jobID] = s
	r.mu.Unlock()
}
