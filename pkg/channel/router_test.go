package channel

import (
	"context"
	"errors"
	"testing"
)

func newTestRouter() *Router {
	return NewRouter(
		NewSMSAdapter(SMSOptions{}),
		NewWebRTCAdapter(WebRTCOptions{}),
		NewVoiceAdapter(VoiceOptions{}),
		NewMailAdapter(MailOptions{}),
	)
}

func TestRouterDetect(t *testing.T) {
	r := newTestRouter()

	tests := []struct {
		name string
		body map[string]interface{}
		want Kind
	}{
		{"sms", map[string]interface{}{"From": "+15551234", "Body": "hi"}, KindSMS},
		{"sms media only", map[string]interface{}{"From": "+15551234", "NumMedia": "1"}, KindSMS},
		{"webrtc", map[string]interface{}{"type": "text", "text": "hi"}, KindWebRTC},
		{"voice", map[string]interface{}{"message": map[string]interface{}{"from": map[string]interface{}{"id": float64(42)}, "text": "hi"}}, KindVoice},
		{"mail", map[string]interface{}{"to": "a@b.c", "from": "c@d.e", "subject": "hello"}, KindMail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter, err := r.Detect(tt.body)
			if err != nil {
				t.Fatalf("Detect: %v", err)
			}
			if adapter.Kind() != tt.want {
				t.Errorf("kind = %q, want %q", adapter.Kind(), tt.want)
			}
		})
	}
}

func TestRouterDetectUnknown(t *testing.T) {
	r := newTestRouter()
	if _, err := r.Detect(map[string]interface{}{"foo": "bar"}); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel", err)
	}
}

func TestRouterDetectDisabled(t *testing.T) {
	r := newTestRouter()
	r.SetEnabled(KindSMS, false)
	if _, err := r.Detect(map[string]interface{}{"From": "+15551234", "Body": "hi"}); !errors.Is(err, ErrUnknownChannel) {
		t.Fatalf("err = %v, want ErrUnknownChannel when channel disabled", err)
	}
}

func TestRouterAllowList(t *testing.T) {
	r := newTestRouter()
	r.SetAllowFrom(KindSMS, []string{"+15550001"})

	ctx := context.Background()
	if _, err := r.Parse(ctx, map[string]interface{}{"From": "+15550001", "Body": "hi"}); err != nil {
		t.Fatalf("allowed sender rejected: %v", err)
	}
	_, err := r.Parse(ctx, map[string]interface{}{"From": "+15559999", "Body": "hi"})
	if !errors.Is(err, ErrSenderNotAllowed) {
		t.Fatalf("err = %v, want ErrSenderNotAllowed", err)
	}
}

func TestRouterSendUnknownKind(t *testing.T) {
	r := NewRouter(NewSMSAdapter(SMSOptions{}))
	_, err := r.Send(context.Background(), KindMail, SendRequest{To: "a@b.c", Text: "hi"})
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("err = %v, want ErrUnknownProvider", err)
	}
}
