package channel

import (
	"context"
	"fmt"

	"github.com/nescampos/coralmultichannel/pkg/logger"
)

// Router owns the ordered adapter list. Detection order is fixed at
// construction, so a payload matching several shapes always resolves
// to the first one.
type Router struct {
	adapters []Adapter
	enabled  map[Kind]bool
	allow    map[Kind][]string
}

func NewRouter(adapters ...Adapter) *Router {
	r := &Router{
		adapters: adapters,
		enabled:  make(map[Kind]bool, len(adapters)),
		allow:    map[Kind][]string{},
	}
	for _, a := range adapters {
		r.enabled[a.Kind()] = true
	}
	return r
}

// SetEnabled toggles a channel kind. Disabled kinds never match during
// detection.
func (r *Router) SetEnabled(kind Kind, enabled bool) {
	r.enabled[kind] = enabled
}

// SetAllowFrom restricts a kind to the listed identities. An empty
// list allows everyone.
func (r *Router) SetAllowFrom(kind Kind, allow []string) {
	r.allow[kind] = allow
}

// Detect returns the first enabled adapter whose shape predicate
// matches body.
func (r *Router) Detect(body map[string]interface{}) (Adapter, error) {
	for _, a := range r.adapters {
		if !r.enabled[a.Kind()] {
			continue
		}
		if a.Detect(body) {
			return a, nil
		}
	}
	return nil, ErrUnknownChannel
}

// Parse detects the channel, normalizes the payload and applies the
// allow-from policy.
func (r *Router) Parse(ctx context.Context, body map[string]interface{}) (*Message, error) {
	adapter, err := r.Detect(body)
	if err != nil {
		return nil, err
	}
	msg, err := adapter.Parse(ctx, body)
	if err != nil {
		return nil, err
	}
	if !r.isAllowed(adapter.Kind(), msg.From) {
		logger.WarnCF("channel", "Rejected sender outside allow list",
			map[string]interface{}{"channel": string(adapter.Kind()), "from": msg.From})
		return nil, fmt.Errorf("%w: %s on %s", ErrSenderNotAllowed, msg.From, adapter.Kind())
	}
	return msg, nil
}

// Send delivers a reply on the named kind.
func (r *Router) Send(ctx context.Context, kind Kind, req SendRequest) (*SendResult, error) {
	for _, a := range r.adapters {
		if a.Kind() == kind {
			return a.Send(ctx, req)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
}

func (r *Router) isAllowed(kind Kind, from string) bool {
	allow := r.allow[kind]
	if len(allow) == 0 {
		return true
	}
	for _, a := range allow {
		if a == from {
			return true
		}
	}
	return false
}
