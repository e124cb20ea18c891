package channel

import (
	"context"
	"errors"
)

type Kind string

const (
	KindSMS    Kind = "sms"
	KindVoice  Kind = "voice"
	KindWebRTC Kind = "webrtc"
	KindMail   Kind = "mail"
)

var (
	ErrUnknownChannel   = errors.New("unknown channel")
	ErrUnknownProvider  = errors.New("unknown channel provider")
	ErrMalformedPayload = errors.New("malformed channel payload")
	ErrSenderNotAllowed = errors.New("sender not allowed")
)

// Message is the canonical form every adapter normalizes into.
type Message struct {
	From    string
	Text    string
	Kind    Kind
	IsAudio bool
	// Meta carries opaque channel metadata used to build the reply
	// (subject, session id, call id...).
	Meta map[string]string
}

// SendRequest asks an adapter to deliver a reply.
type SendRequest struct {
	To        string
	Text      string
	WantAudio bool
	// Reply is the Meta of the inbound message being answered, nil for
	// unsolicited sends.
	Reply map[string]string
}

// SendResult is what the adapter hands back. A non-nil Body is a
// synchronous payload the webhook response must carry; a nil Body means
// the reply was delivered out of band.
type SendResult struct {
	ContentType string
	Body        []byte
}

// Adapter binds one channel kind to its wire shape.
type Adapter interface {
	Kind() Kind
	// Detect reports whether body has this channel's shape.
	Detect(body map[string]interface{}) bool
	Parse(ctx context.Context, body map[string]interface{}) (*Message, error)
	Send(ctx context.Context, req SendRequest) (*SendResult, error)
}
