package sip

import (
	"fmt"
	"sync"
	"time"
)

type CallState string

const (
	StateRinging   CallState = "ringing"
	StateConnected CallState = "connected"
	StateEnded     CallState = "ended"
	StateFailed    CallState = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

var validTransitions = map[CallState][]CallState{
	StateRinging:   {StateConnected, StateFailed},
	StateConnected: {StateEnded},
}

func canTransition(from, to CallState) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CallSession tracks one call leg. All state changes go through
// Transition, which serializes per session.
type CallSession struct {
	CallID      string
	RemoteParty string
	Direction   string // inbound|outbound
	StartedAt   time.Time

	mu            sync.Mutex
	state         CallState
	reason        string
	establishedAt time.Time
}

func NewCallSession(callID, remoteParty, direction string) *CallSession {
	return &CallSession{
		CallID:      callID,
		RemoteParty: remoteParty,
		Direction:   direction,
		StartedAt:   time.Now().UTC(),
		state:       StateRinging,
	}
}

func (s *CallSession) State() CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Reason returns the failure reason recorded when the session entered
// the failed state.
func (s *CallSession) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

func (s *CallSession) EstablishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.establishedAt
}

// Transition moves the session to a new state. Repeating a terminal
// request on an already-terminal session is a no-op, so teardown can be
// retried safely.
func (s *CallSession) Transition(to CallState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == to {
		return nil
	}
	if s.state.Terminal() {
		if to.Terminal() {
			return nil
		}
		return fmt.Errorf("call %s: invalid transition %s -> %s", s.CallID, s.state, to)
	}
	if !canTransition(s.state, to) {
		return fmt.Errorf("call %s: invalid transition %s -> %s", s.CallID, s.state, to)
	}

	s.state = to
	if to == StateConnected {
		s.establishedAt = time.Now().UTC()
	}
	if to == StateFailed {
		s.reason = reason
	}
	return nil
}
