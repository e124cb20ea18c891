package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
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

// SMSGateway delivers unsolicited outbound text messages.
type SMSGateway interface {
	SendSMS(ctx context.Context, to, text string) error
}

type SMSOptions struct {
	Transcriber speech.Transcriber
	Synthesizer speech.Synthesizer
	Store       storage.Store
	Gateway     SMSGateway
}

// SMSAdapter handles the text-messaging webhook shape: form-style
// From/Body fields with optional media, answered synchronously with an
// XML reply envelope.
type SMSAdapter struct {
	transcriber speech.Transcriber
	synthesizer speech.Synthesizer
	store       storage.Store
	gateway     SMSGateway
	client      *http.Client
}

func NewSMSAdapter(opts SMSOptions) *SMSAdapter {
	return &SMSAdapter{
		transcriber: opts.Transcriber,
		synthesizer: opts.Synthesizer,
		store:       opts.Store,
		gateway:     opts.Gateway,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *SMSAdapter) Kind() Kind { return KindSMS }

func (a *SMSAdapter) Detect(body map[string]interface{}) bool {
	from, _ := body["From"].(string)
	if from == "" {
		return false
	}
	_, hasBody := body["Body"]
	_, hasMedia := body["NumMedia"]
	return hasBody || hasMedia
}

func (a *SMSAdapter) Parse(ctx context.Context, body map[string]interface{}) (*Message, error) {
	from, _ := body["From"].(string)
	if from == "" {
		return nil, fmt.Errorf("%w: missing From", ErrMalformedPayload)
	}

	msg := &Message{
		From: NormalizePhone(from),
		Kind: KindSMS,
		Meta: map[string]string{},
	}
	if text, ok := body["Body"].(string); ok {
		msg.Text = strings.TrimSpace(text)
	}

	if mediaCount(body) > 0 && strings.HasPrefix(stringField(body, "MediaContentType0"), "audio") {
		msg.IsAudio = true
		text, err := a.transcribeMedia(ctx, stringField(body, "MediaUrl0"))
		if err != nil {
			// degrade to an empty transcript, the engine still answers
			logger.WarnCF("channel", "SMS audio transcription failed",
				map[string]interface{}{"from": msg.From, "error": err.Error()})
			text = ""
		}
		msg.Text = text
	}
	return msg, nil
}

func (a *SMSAdapter) transcribeMedia(ctx context.Context, url string) (string, error) {
	if a.transcriber == nil {
		return "", fmt.Errorf("no transcriber configured")
	}
	if url == "" {
		return "", fmt.Errorf("missing media url")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return a.transcriber.Transcribe(ctx, bytes.NewReader(audio), "media.ogg")
}

func (a *SMSAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if req.Reply == nil {
		if a.gateway == nil {
			return nil, fmt.Errorf("no outbound sms gateway configured")
		}
		if err := a.gateway.SendSMS(ctx, req.To, req.Text); err != nil {
			return nil, err
		}
		return &SendResult{}, nil
	}

	// synchronous webhook answer
	if req.WantAudio {
		if a.synthesizer == nil || a.store == nil {
			logger.WarnCF("channel", "SMS audio reply unavailable, falling back to text",
				map[string]interface{}{"to": req.To, "synthesizer": a.synthesizer != nil, "store": a.store != nil})
		} else if url, err := a.audioURL(ctx, req.Text); err != nil {
			logger.WarnCF("channel", "SMS audio reply failed, falling back to text",
				map[string]interface{}{"error": err.Error()})
		} else {
			return &SendResult{
				ContentType: "text/xml",
				Body:        []byte(fmt.Sprintf("<Response><Message><Media>%s</Media></Message></Response>", xmlEscape(url))),
			}, nil
		}
	}
	return &SendResult{
		ContentType: "text/xml",
		Body:        []byte(fmt.Sprintf("<Response><Message>%s</Message></Response>", xmlEscape(req.Text))),
	}, nil
}

func (a *SMSAdapter) audioURL(ctx context.Context, text string) (string, error) {
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

// HTTPSMSGateway posts outbound messages to an SMS relay endpoint.
type HTTPSMSGateway struct {
	url    string
	client *http.Client
}

func NewHTTPSMSGateway(url string) *HTTPSMSGateway {
	return &HTTPSMSGateway{url: url, client: &http.Client{Timeout: 30 * time.Second}}
}

func (g *HTTPSMSGateway) SendSMS(ctx context.Context, to, text string) error {
	payload, err := json.Marshal(map[string]string{"to": to, "text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms relay request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("sms relay error (status %d): %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// NormalizePhone strips transport prefixes and guarantees a leading +
// for all-digit numbers.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	for _, prefix := range []string{"sms:", "tel:", "whatsapp:"} {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimPrefix(s, prefix)
			break
		}
	}
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasPrefix(s, "+") && isDigits(s) {
		s = "+" + s
	}
	return s
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

func mediaCount(body map[string]interface{}) int {
	switch v := body["NumMedia"].(type) {
	case string:
		n, _ := strconv.Atoi(v)
		return n
	case float64:
		return int(v)
	}
	return 0
}

func stringField(body map[string]interface{}, key string) string {
	s, _ := body[key].(string)
	return s
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
