package sip

import "sync"

// SessionRegistry is the concurrent map of live call sessions.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*CallSession
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: map[string]*CallSession{}}
}

func (r *SessionRegistry) Add(s *CallSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.CallID] = s
}

// Remove is a no-op for unknown call ids.
func (r *SessionRegistry) Remove(callID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callID)
}

func (r *SessionRegistry) Get(callID string) (*CallSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Active returns the sessions that have not reached a terminal state.
func (r *SessionRegistry) Active() []*CallSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		if !s.State().Terminal() {
			out = append(out, s)
		}
	}
	return out
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
