package channel

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nescampos/coralmultichannel/pkg/logger"
	"github.com/nescampos/coralmultichannel/pkg/speech"
	"github.com/nescampos/coralmultichannel/pkg/storage"
)

var webrtcEventTypes = map[string]bool{
	"audio":      true,
	"text":       true,
	"call_start": true,
	"call_end":   true,
}

type WebRTCOptions struct {
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Store       storage.Store
}

// WebRTCAdapter handles browser session events: typed JSON envelopes
// carrying text or base64 audio, answered with a JSON response body.
// The wire uses camelCase keys: sessionId, userId, audioData.
type WebRTCAdapter struct {
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	store       storage.Store
}

func NewWebRTCAdapter(opts WebRTCOptions) *WebRTCAdapter {
	return &WebRTCAdapter{
		transcriber: opts.Transcriber,
		synthesizer: opts.Synthesizer,
		store:       opts.Store,
	}
}

func (a *WebRTCAdapter) Kind() Kind { return KindWebRTC }

func (a *WebRTCAdapter) Detect(body map[string]interface{}) bool {
	t, _ := body["type"].(string)
	return webrtcEventTypes[t]
}

func (a *WebRTCAdapter) Parse(ctx context.Context, body map[string]interface{}) (*Message, error) {
	eventType, _ := body["type"].(string)
	if !webrtcEventTypes[eventType] {
		return nil, fmt.Errorf("%w: unknown event type %q", ErrMalformedPayload, eventType)
	}

	session, _ := body["sessionId"].(string)
	if session == "" {
		session = "webrtc-anonymous"
	}
	// the user id is the conversational identity; sessions are
	// transport-scoped and may be reassigned
	identity, _ := body["userId"].(string)
	if identity == "" {
		identity = session
	}

	msg := &Message{
		From: identity,
		Kind: KindWebRTC,
		Meta: map[string]string{"event": eventType, "session_id": session},
	}

	switch eventType {
	case "text":
		text, _ := body["data"].(string)
		if text == "" {
			text, _ = body["text"].(string)
		}
		msg.Text = strings.TrimSpace(text)
	case "audio":
		msg.IsAudio = true
		text, err := a.transcribeBase64(ctx, body)
		if err != nil {
			logger.WarnCF("channel", "webrtc transcription failed",
				map[string]interface{}{"session": session, "error": err.Error()})
			text = ""
		}
		msg.Text = text
	}
	return msg, nil
}

func (a *WebRTCAdapter) transcribeBase64(ctx context.Context, body map[string]interface{}) (string, error) {
	if a.transcriber == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	encoded, _ := body["audioData"].(string)
	if encoded == "" {
		return "", fmt.Errorf("missing audioData payload")
	}
	audio, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode audio: %w", err)
	}
	return a.transcriber.Transcribe(ctx, bytes.NewReader(audio), "session.webm")
}

func (a *WebRTCAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	session := req.To
	if req.Reply != nil && req.Reply["session_id"] != "" {
		session = req.Reply["session_id"]
	}

	payload := map[string]interface{}{
		"type":      "text_response",
		"sessionId": session,
		"text":      req.Text,
	}
	if req.WantAudio && a.synthesizer != nil && a.store != nil {
		if url, err := a.audioURL(ctx, req.Text); err != nil {
			logger.WarnCF("channel", "webrtc audio reply failed, answering with text",
				map[string]interface{}{"session": session, "error": err.Error()})
		} else {
			payload["type"] = "audio_response"
			payload["audioUrl"] = url
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &SendResult{ContentType: "application/json", Body: body}, nil
}

func (a *WebRTCAdapter) audioURL(ctx context.Context, text string) (string, error) {
	audio, err := a.synthesizer.Synthesize(ctx, text)
	if err != nil {
		return "", fmt.Errorf("synthesize: %w", err)
	}
	url, err := storage.UploadAudio(a.store, audio)
	if err != nil {
		return "", fmt.Errorf("upload audio: %w", err)
	}
	return url, nil
}
