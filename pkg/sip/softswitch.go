package sip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nescampos/coralmultichannel/pkg/logger"
)

// signal is the JSON envelope exchanged with the softswitch over the
// signaling websocket.
type signal struct {
	Type     string `json:"type"`
	CallID   string `json:"call_id,omitempty"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Text     string `json:"text,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

type SoftswitchOptions struct {
	URL              string
	CallerID         string
	EstablishTimeout time.Duration
}

// SoftswitchProvider signals a softswitch over a persistent websocket.
// Outbound calls are INVITE requests that must resolve within
// EstablishTimeout; inbound invites are auto-answered.
type SoftswitchProvider struct {
	url              string
	callerID         string
	establishTimeout time.Duration

	conn     *websocket.Conn
	writeMu  sync.Mutex
	registry *SessionRegistry

	pendingMu sync.Mutex
	pending   map[string]chan signal

	incoming func(s *CallSession)
	done     chan struct{}
	closed   sync.Once
}

func NewSoftswitchProvider(opts SoftswitchOptions) *SoftswitchProvider {
	if opts.EstablishTimeout <= 0 {
		opts.EstablishTimeout = 45 * time.Second
	}
	return &SoftswitchProvider{
		url:              opts.URL,
		callerID:         opts.CallerID,
		establishTimeout: opts.EstablishTimeout,
		registry:         NewSessionRegistry(),
		pending:          map[string]chan signal{},
		done:             make(chan struct{}),
	}
}

func (p *SoftswitchProvider) Name() string { return "softswitch" }

func (p *SoftswitchProvider) SetIncomingHandler(fn func(s *CallSession)) {
	p.incoming = fn
}

func (p *SoftswitchProvider) Start(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.url, nil)
	if err != nil {
		return fmt.Errorf("dial softswitch %s: %w", p.url, err)
	}
	p.conn = conn

	if err := p.write(signal{Type: "register", From: p.callerID}); err != nil {
		conn.Close()
		return fmt.Errorf("register with softswitch: %w", err)
	}

	go p.readLoop()
	logger.InfoCF("sip", "Connected to softswitch",
		map[string]interface{}{"url": p.url, "caller_id": p.callerID})
	return nil
}

func (p *SoftswitchProvider) write(s signal) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.conn.WriteJSON(s)
}

func (p *SoftswitchProvider) readLoop() {
	for {
		var ev signal
		if err := p.conn.ReadJSON(&ev); err != nil {
			select {
			case <-p.done:
			default:
				logger.WarnCF("sip", "Signaling socket closed",
					map[string]interface{}{"error": err.Error()})
			}
			return
		}
		p.handleEvent(ev)
	}
}

func (p *SoftswitchProvider) handleEvent(ev signal) {
	switch ev.Type {
	case "invite":
		p.handleInvite(ev)
	case "accepted", "failed":
		if session, ok := p.registry.Get(ev.CallID); ok {
			if ev.Type == "accepted" {
				session.Transition(StateConnected, "")
			} else {
				reason := ev.Reason
				if reason == "" {
					reason = "rejected"
				}
				session.Transition(StateFailed, reason)
				p.registry.Remove(ev.CallID)
			}
		}
		p.resolvePending(ev)
	case "bye":
		if session, ok := p.registry.Get(ev.CallID); ok {
			session.Transition(StateEnded, "")
			p.registry.Remove(ev.CallID)
			logger.InfoCF("sip", "Remote party hung up",
				map[string]interface{}{"call_id": ev.CallID})
		}
	default:
		logger.DebugCF("sip", "Ignoring signaling event",
			map[string]interface{}{"type": ev.Type})
	}
}

func (p *SoftswitchProvider) handleInvite(ev signal) {
	session := NewCallSession(ev.CallID, ev.From, "inbound")
	p.registry.Add(session)

	if err := p.write(signal{Type: "accept", CallID: ev.CallID}); err != nil {
		session.Transition(StateFailed, "accept failed")
		p.registry.Remove(ev.CallID)
		logger.ErrorCF("sip", "Failed to accept inbound call",
			map[string]interface{}{"call_id": ev.CallID, "error": err.Error()})
		return
	}
	session.Transition(StateConnected, "")
	logger.InfoCF("sip", "Answered inbound call",
		map[string]interface{}{"call_id": ev.CallID, "from": ev.From})

	if p.incoming != nil {
		go p.incoming(session)
	}
}

func (p *SoftswitchProvider) resolvePending(ev signal) {
	p.pendingMu.Lock()
	ch, ok := p.pending[ev.CallID]
	if ok {
		delete(p.pending, ev.CallID)
	}
	p.pendingMu.Unlock()
	if ok {
		ch <- ev
	}
}

func (p *SoftswitchProvider) MakeCall(ctx context.Context, to string) (*CallSession, error) {
	callID := uuid.NewString()
	session := NewCallSession(callID, to, "outbound")
	p.registry.Add(session)

	resolved := make(chan signal, 1)
	p.pendingMu.Lock()
	p.pending[callID] = resolved
	p.pendingMu.Unlock()

	if err := p.write(signal{Type: "invite", CallID: callID, To: to, From: p.callerID}); err != nil {
		p.dropPending(callID)
		session.Transition(StateFailed, "signaling write failed")
		p.registry.Remove(callID)
		return nil, fmt.Errorf("send invite: %w", err)
	}

	timer := time.NewTimer(p.establishTimeout)
	defer timer.Stop()

	select {
	case ev := <-resolved:
		if ev.Type == "failed" {
			return nil, fmt.Errorf("call to %s failed: %s", to, session.Reason())
		}
		return session, nil
	case <-timer.C:
		p.dropPending(callID)
		session.Transition(StateFailed, "timeout")
		p.cancelInvite(callID)
		p.registry.Remove(callID)
		return nil, fmt.Errorf("call to %s timed out after %s", to, p.establishTimeout)
	case <-ctx.Done():
		p.dropPending(callID)
		session.Transition(StateFailed, "canceled")
		p.cancelInvite(callID)
		p.registry.Remove(callID)
		return nil, ctx.Err()
	}
}

// cancelInvite tells the switch to stop ringing an invite the gateway
// gave up on, so no leg is left dangling switch-side.
func (p *SoftswitchProvider) cancelInvite(callID string) {
	if err := p.write(signal{Type: "bye", CallID: callID}); err != nil {
		logger.WarnCF("sip", "Failed to cancel pending invite",
			map[string]interface{}{"call_id": callID, "error": err.Error()})
	}
}

func (p *SoftswitchProvider) dropPending(callID string) {
	p.pendingMu.Lock()
	delete(p.pending, callID)
	p.pendingMu.Unlock()
}

func (p *SoftswitchProvider) EndCall(ctx context.Context, callID string) error {
	session, ok := p.registry.Get(callID)
	if !ok {
		// already gone, teardown is idempotent
		return nil
	}

	if session.State() == StateRinging {
		session.Transition(StateFailed, "canceled")
	} else {
		session.Transition(StateEnded, "")
	}

	err := p.write(signal{Type: "bye", CallID: callID})
	p.registry.Remove(callID)
	if err != nil {
		return fmt.Errorf("send bye for %s: %w", callID, err)
	}
	logger.InfoCF("sip", "Ended call", map[string]interface{}{"call_id": callID})
	return nil
}

func (p *SoftswitchProvider) Send(ctx context.Context, callID, text, audioURL string) error {
	session, ok := p.registry.Get(callID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCallNotFound, callID)
	}
	if session.State() != StateConnected {
		return fmt.Errorf("call %s is %s, not connected", callID, session.State())
	}
	return p.write(signal{Type: "message", CallID: callID, Text: text, AudioURL: audioURL})
}

func (p *SoftswitchProvider) ActiveCalls() []*CallSession {
	return p.registry.Active()
}

// Terminate hangs up every live call, collecting failures, then closes
// the signaling socket.
func (p *SoftswitchProvider) Terminate(ctx context.Context) error {
	var errs []error
	for _, session := range p.registry.Active() {
		if err := p.EndCall(ctx, session.CallID); err != nil {
			errs = append(errs, err)
		}
	}

	p.closed.Do(func() { close(p.done) })
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close signaling socket: %w", err))
		}
	}
	return errors.Join(errs...)
}
