package sip

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nescampos/coralmultichannel/pkg/logger"
)

var (
	ErrNotInitialized   = errors.New("telephony provider not initialized")
	ErrNoActiveSession  = errors.New("no active call session")
	ErrAmbiguousSession = errors.New("multiple active call sessions, call id required")
	ErrCallNotFound     = errors.New("call not found")
)

// Provider is the swappable telephony transport.
type Provider interface {
	Name() string
	Start(ctx context.Context) error
	MakeCall(ctx context.Context, to string) (*CallSession, error)
	EndCall(ctx context.Context, callID string) error
	// Send delivers text and/or a playable audio URL on a live call.
	Send(ctx context.Context, callID, text, audioURL string) error
	ActiveCalls() []*CallSession
	// SetIncomingHandler installs the callback fired when a call is
	// answered. Must be set before Start.
	SetIncomingHandler(fn func(s *CallSession))
	Terminate(ctx context.Context) error
}

// GreetFunc produces the greeting spoken when an inbound call connects.
type GreetFunc func(ctx context.Context, s *CallSession) (string, error)

// Manager owns at most one provider and fronts every telephony
// operation.
type Manager struct {
	mu       sync.RWMutex
	provider Provider
	greet    GreetFunc
	apology  string
}

func NewManager() *Manager {
	return &Manager{
		apology: "Sorry, I am having trouble answering right now. Please try again later.",
	}
}

// SetGreeting installs the conversation entry point used on inbound
// calls. Must be called before Initialize.
func (m *Manager) SetGreeting(fn GreetFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.greet = fn
}

// Initialize installs the provider and starts it. Calling it again
// while a provider is installed is a logged no-op.
func (m *Manager) Initialize(ctx context.Context, p Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.provider != nil {
		logger.WarnCF("sip", "Provider already initialized, ignoring",
			map[string]interface{}{"requested": p.Name(), "active": m.provider.Name()})
		return nil
	}

	p.SetIncomingHandler(func(s *CallSession) {
		m.handleIncoming(s)
	})
	if err := p.Start(ctx); err != nil {
		return fmt.Errorf("start provider %s: %w", p.Name(), err)
	}
	m.provider = p
	logger.InfoCF("sip", "Telephony provider initialized",
		map[string]interface{}{"provider": p.Name()})
	return nil
}

func (m *Manager) Initialized() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider != nil
}

func (m *Manager) handleIncoming(s *CallSession) {
	m.mu.RLock()
	greet := m.greet
	provider := m.provider
	m.mu.RUnlock()
	if provider == nil {
		return
	}

	ctx := context.Background()
	greeting := ""
	if greet != nil {
		var err error
		greeting, err = greet(ctx, s)
		if err != nil {
			logger.ErrorCF("sip", "Greeting failed, sending apology",
				map[string]interface{}{"call_id": s.CallID, "error": err.Error()})
			greeting = ""
		}
	}
	if greeting == "" {
		greeting = m.apology
	}
	if err := provider.Send(ctx, s.CallID, greeting, ""); err != nil {
		logger.ErrorCF("sip", "Failed to deliver greeting",
			map[string]interface{}{"call_id": s.CallID, "error": err.Error()})
	}
}

func (m *Manager) current() Provider {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider
}

func (m *Manager) MakeCall(ctx context.Context, to string) (*CallSession, error) {
	p := m.current()
	if p == nil {
		return nil, ErrNotInitialized
	}
	return p.MakeCall(ctx, to)
}

func (m *Manager) EndCall(ctx context.Context, callID string) error {
	p := m.current()
	if p == nil {
		return ErrNotInitialized
	}
	return p.EndCall(ctx, callID)
}

// SendTextOrAudio delivers a reply on a call. With an empty callID the
// target is resolved only when exactly one session is active.
func (m *Manager) SendTextOrAudio(ctx context.Context, callID, text, audioURL string) error {
	p := m.current()
	if p == nil {
		return ErrNotInitialized
	}
	if callID == "" {
		active := p.ActiveCalls()
		switch len(active) {
		case 0:
			return ErrNoActiveSession
		case 1:
			callID = active[0].CallID
		default:
			return ErrAmbiguousSession
		}
	}
	return p.Send(ctx, callID, text, audioURL)
}

func (m *Manager) ActiveCalls() []*CallSession {
	p := m.current()
	if p == nil {
		return nil
	}
	return p.ActiveCalls()
}

func (m *Manager) IsCallActive(callID string) bool {
	for _, s := range m.ActiveCalls() {
		if s.CallID == callID {
			return true
		}
	}
	return false
}

// Terminate tears down every active call and the provider itself,
// collecting failures instead of stopping at the first one.
func (m *Manager) Terminate(ctx context.Context) error {
	m.mu.Lock()
	p := m.provider
	m.provider = nil
	m.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Terminate(ctx)
}
