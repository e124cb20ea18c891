package channel

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/nescampos/coralmultichannel/pkg/logger"
	"github.com/nescampos/coralmultichannel/pkg/speech"
	"github.com/nescampos/coralmultichannel/pkg/storage"
)

// CallSender pushes a reply into an established phone call. Satisfied
// by the telephony manager.
type CallSender interface {
	SendTextOrAudio(ctx context.Context, callID, text, audioURL string) error
}

type VoiceOptions struct {
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Store       storage.Store
	Calls       CallSender
}

// VoiceAdapter handles call events delivered as a nested message
// object and answers through the active call leg.
type VoiceAdapter struct {
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	store       storage.Store
	calls       CallSender
	client      *http.Client
}

func NewVoiceAdapter(opts VoiceOptions) *VoiceAdapter {
	return &VoiceAdapter{
		transcriber: opts.Transcriber,
		synthesizer: opts.Synthesizer,
		store:       opts.Store,
		calls:       opts.Calls,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *VoiceAdapter) Kind() Kind { return KindVoice }

func (a *VoiceAdapter) Detect(body map[string]interface{}) bool {
	return nestedMessage(body) != nil
}

func nestedMessage(body map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"message", "edited_message"} {
		if m, ok := body[key].(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

func (a *VoiceAdapter) Parse(ctx context.Context, body map[string]interface{}) (*Message, error) {
	inner := nestedMessage(body)
	if inner == nil {
		return nil, fmt.Errorf("%w: missing message object", ErrMalformedPayload)
	}

	from, ok := inner["from"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: missing message.from", ErrMalformedPayload)
	}
	identity := numericID(from["id"])
	if identity == "" {
		return nil, fmt.Errorf("%w: missing message.from.id", ErrMalformedPayload)
	}

	msg := &Message{
		From: identity,
		Kind: KindVoice,
		Meta: map[string]string{},
	}
	if callID, ok := inner["call_id"].(string); ok {
		msg.Meta["call_id"] = callID
	}
	if text, ok := inner["text"].(string); ok {
		msg.Text = strings.TrimSpace(text)
	}

	if voice, ok := inner["voice"].(map[string]interface{}); ok {
		msg.IsAudio = true
		url, _ := voice["url"].(string)
		text, err := a.transcribeURL(ctx, url)
		if err != nil {
			logger.WarnCF("channel", "voice transcription failed",
				map[string]interface{}{"from": msg.From, "error": err.Error()})
			text = ""
		}
		msg.Text = text
	}
	return msg, nil
}

func (a *VoiceAdapter) transcribeURL(ctx context.Context, url string) (string, error) {
	if a.transcriber == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	if url == "" {
		return "", fmt.Errorf("missing voice url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch voice: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch voice: status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return a.transcriber.Transcribe(ctx, bytes.NewReader(audio), "voice.ogg")
}

func (a *VoiceAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if a.calls == nil {
		return nil, fmt.Errorf("no call sender configured")
	}

	callID := ""
	if req.Reply != nil {
		callID = req.Reply["call_id"]
	}

	audioURL := ""
	if req.WantAudio && a.synthesizer != nil && a.store != nil {
		audio, err := a.synthesizer.Synthesize(ctx, req.Text)
		if err != nil {
			logger.WarnCF("channel", "voice synthesis failed, sending text only",
				map[string]interface{}{"error": err.Error()})
		} else if url, err := storage.UploadAudio(a.store, audio); err != nil {
			logger.WarnCF("channel", "voice audio upload failed, sending text only",
				map[string]interface{}{"error": err.Error()})
		} else {
			audioURL = url
		}
	}

	if err := a.calls.SendTextOrAudio(ctx, callID, req.Text, audioURL); err != nil {
		return nil, err
	}
	return &SendResult{}, nil
}

// numericID renders the sender id, which arrives as a JSON number or
// string, as a stable decimal identity.
func numericID(v interface{}) string {
	switch id := v.(type) {
	case float64:
		return strconv.FormatInt(int64(id), 10)
	case string:
		return id
	}
	return ""
}
