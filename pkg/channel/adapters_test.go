package channel

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"
)

func TestVoiceParseNestedMessage(t *testing.T) {
	a := NewVoiceAdapter(VoiceOptions{})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"message": map[string]interface{}{
			"from":    map[string]interface{}{"id": float64(987654)},
			"call_id": "call-1",
			"text":    "what time is it",
		},
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.From != "987654" {
		t.Errorf("From = %q, want 987654", msg.From)
	}
	if msg.Meta["call_id"] != "call-1" {
		t.Errorf("call_id meta = %q", msg.Meta["call_id"])
	}
	if msg.Text != "what time is it" {
		t.Errorf("Text = %q", msg.Text)
	}
}

func TestVoiceParseEditedMessage(t *testing.T) {
	a := NewVoiceAdapter(VoiceOptions{})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"edited_message": map[string]interface{}{
			"from": map[string]interface{}{"id": "caller-1"},
			"text": "corrected",
		},
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.From != "caller-1" || msg.Text != "corrected" {
		t.Errorf("got From=%q Text=%q", msg.From, msg.Text)
	}
}

func TestVoiceParseMissingFrom(t *testing.T) {
	a := NewVoiceAdapter(VoiceOptions{})
	_, err := a.Parse(context.Background(), map[string]interface{}{
		"message": map[string]interface{}{"text": "hi"},
	})
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("err = %v, want ErrMalformedPayload", err)
	}
}

type fakeCallSender struct {
	callID, text, audioURL string
	err                    error
}

func (f *fakeCallSender) SendTextOrAudio(_ context.Context, callID, text, audioURL string) error {
	f.callID, f.text, f.audioURL = callID, text, audioURL
	return f.err
}

func TestVoiceSend(t *testing.T) {
	calls := &fakeCallSender{}
	a := NewVoiceAdapter(VoiceOptions{
		Calls:       calls,
		Synthesizer: &fakeSynthesizer{audio: []byte("mp3")},
		Store:       newMemStore("http://gw.example/uploads/reply.mp3"),
	})
	res, err := a.Send(context.Background(), SendRequest{
		To:        "987654",
		Text:      "the answer",
		WantAudio: true,
		Reply:     map[string]string{"call_id": "call-1"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Body != nil {
		t.Error("voice replies are delivered out of band, Body should be nil")
	}
	if calls.callID != "call-1" || calls.text != "the answer" {
		t.Errorf("got callID=%q text=%q", calls.callID, calls.text)
	}
	if calls.audioURL != "http://gw.example/uploads/reply.mp3" {
		t.Errorf("audioURL = %q", calls.audioURL)
	}
}

func TestVoiceSendSynthesisFailureFallsBackToText(t *testing.T) {
	calls := &fakeCallSender{}
	a := NewVoiceAdapter(VoiceOptions{
		Calls:       calls,
		Synthesizer: &fakeSynthesizer{err: errors.New("tts down")},
		Store:       newMemStore(""),
	})
	if _, err := a.Send(context.Background(), SendRequest{Text: "hi", WantAudio: true, Reply: map[string]string{"call_id": "c"}}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.audioURL != "" || calls.text != "hi" {
		t.Errorf("got audioURL=%q text=%q, want text-only delivery", calls.audioURL, calls.text)
	}
}

func TestWebRTCParseAudio(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{Transcriber: &fakeTranscriber{text: "hi there"}})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"type":      "audio",
		"sessionId": "s1",
		"userId":    "u1",
		"audioData": base64.StdEncoding.EncodeToString([]byte("webm")),
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.From != "u1" {
		t.Errorf("From = %q, want the userId", msg.From)
	}
	if msg.Meta["session_id"] != "s1" {
		t.Errorf("session meta = %q, want s1", msg.Meta["session_id"])
	}
	if !msg.IsAudio || msg.Text != "hi there" {
		t.Errorf("got IsAudio=%v Text=%q", msg.IsAudio, msg.Text)
	}
}

func TestWebRTCParseTextDataField(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"type": "text", "sessionId": "s1", "userId": "u1", "data": " hello ",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.From != "u1" || msg.Text != "hello" {
		t.Errorf("got From=%q Text=%q", msg.From, msg.Text)
	}
}

func TestWebRTCParseIdentityFallsBackToSession(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"type": "text", "sessionId": "s1", "text": "hi",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.From != "s1" {
		t.Errorf("From = %q, want the session id when userId is absent", msg.From)
	}
}

func TestWebRTCParseBadAudioDegrades(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{Transcriber: &fakeTranscriber{text: "unused"}})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"type":      "audio",
		"sessionId": "s1",
		"audioData": "not-base64!!!",
	})
	if err != nil {
		t.Fatalf("Parse should degrade, got: %v", err)
	}
	if msg.Text != "" {
		t.Errorf("Text = %q, want empty transcript", msg.Text)
	}
}

func TestWebRTCParseCallStart(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"type": "call_start", "sessionId": "s1",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Meta["event"] != "call_start" || msg.Text != "" {
		t.Errorf("got event=%q text=%q", msg.Meta["event"], msg.Text)
	}
}

func TestWebRTCSendAudioResponse(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{
		Synthesizer: &fakeSynthesizer{audio: []byte("mp3-bytes")},
		Store:       newMemStore("http://gw.example/uploads/answer.mp3"),
	})
	res, err := a.Send(context.Background(), SendRequest{
		To:        "sess-1",
		Text:      "hello",
		WantAudio: true,
		Reply:     map[string]string{"session_id": "sess-1"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["type"] != "audio_response" {
		t.Errorf("type = %q", payload["type"])
	}
	if payload["audioUrl"] != "http://gw.example/uploads/answer.mp3" {
		t.Errorf("audioUrl = %q", payload["audioUrl"])
	}
	if payload["sessionId"] != "sess-1" || payload["text"] != "hello" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebRTCSendSynthesisFailureFallsBackToText(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{
		Synthesizer: &fakeSynthesizer{err: errors.New("tts down")},
		Store:       newMemStore(""),
	})
	res, err := a.Send(context.Background(), SendRequest{To: "sess-1", Text: "hello", WantAudio: true})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["type"] != "text_response" || payload["text"] != "hello" {
		t.Errorf("payload = %v", payload)
	}
}

func TestWebRTCSendTextResponse(t *testing.T) {
	a := NewWebRTCAdapter(WebRTCOptions{})
	res, err := a.Send(context.Background(), SendRequest{To: "sess-1", Text: "hello"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	var payload map[string]string
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if payload["type"] != "text_response" || payload["text"] != "hello" {
		t.Errorf("payload = %v", payload)
	}
}

type fakeMailer struct {
	to, subject, body string
	err               error
}

func (f *fakeMailer) SendMail(_ context.Context, to, subject, body string) error {
	f.to, f.subject, f.body = to, subject, body
	return f.err
}

func TestMailParse(t *testing.T) {
	a := NewMailAdapter(MailOptions{})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"to":      "assistant@gw.example",
		"from":    "Alice Doe <alice@example.com>",
		"subject": "Question",
		"text":    "How do I reset?",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.From != "alice@example.com" {
		t.Errorf("From = %q", msg.From)
	}
	if msg.Meta["subject"] != "Question" {
		t.Errorf("subject meta = %q", msg.Meta["subject"])
	}
}

func TestMailParseHTMLOnly(t *testing.T) {
	a := NewMailAdapter(MailOptions{})
	msg, err := a.Parse(context.Background(), map[string]interface{}{
		"to":      "assistant@gw.example",
		"from":    "Bob@Example.COM",
		"subject": "Hi",
		"html":    "<p>Hello <b>there</b></p>",
	})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.From != "bob@example.com" {
		t.Errorf("From = %q, want lowercased address", msg.From)
	}
	if msg.Text != "Hello there" {
		t.Errorf("Text = %q, want stripped html", msg.Text)
	}
}

func TestMailSendReplySubject(t *testing.T) {
	mailer := &fakeMailer{}
	a := NewMailAdapter(MailOptions{Mailer: mailer})
	res, err := a.Send(context.Background(), SendRequest{
		To:    "alice@example.com",
		Text:  "Press the button.",
		Reply: map[string]string{"subject": "Question"},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Body != nil {
		t.Error("mail replies are delivered out of band, Body should be nil")
	}
	if mailer.subject != "Re: Question" {
		t.Errorf("subject = %q, want Re: Question", mailer.subject)
	}
	if mailer.to != "alice@example.com" {
		t.Errorf("to = %q", mailer.to)
	}
}

func TestMailSendKeepsExistingRe(t *testing.T) {
	mailer := &fakeMailer{}
	a := NewMailAdapter(MailOptions{Mailer: mailer})
	if _, err := a.Send(context.Background(), SendRequest{
		To:    "alice@example.com",
		Text:  "ok",
		Reply: map[string]string{"subject": "Re: Question"},
	}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if mailer.subject != "Re: Question" {
		t.Errorf("subject = %q", mailer.subject)
	}
}
