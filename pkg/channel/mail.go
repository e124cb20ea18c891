package channel

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// Mailer delivers an outbound email.
type Mailer interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

type MailOptions struct {
	Mailer Mailer
}

// MailAdapter handles inbound email webhooks and answers out of band
// through the configured mailer.
type MailAdapter struct {
	mailer Mailer
}

func NewMailAdapter(opts MailOptions) *MailAdapter {
	return &MailAdapter{mailer: opts.Mailer}
}

func (a *MailAdapter) Kind() Kind { return KindMail }

func (a *MailAdapter) Detect(body map[string]interface{}) bool {
	_, hasTo := body["to"].(string)
	_, hasFrom := body["from"].(string)
	_, hasSubject := body["subject"].(string)
	return hasTo && hasFrom && hasSubject
}

func (a *MailAdapter) Parse(ctx context.Context, body map[string]interface{}) (*Message, error) {
	from, _ := body["from"].(string)
	if from == "" {
		return nil, fmt.Errorf("%w: missing from", ErrMalformedPayload)
	}
	subject, _ := body["subject"].(string)

	text, _ := body["text"].(string)
	if text == "" {
		text, _ = body["body"].(string)
	}
	if text == "" {
		if html, ok := body["html"].(string); ok {
			text = stripTags(html)
		}
	}

	return &Message{
		From: extractAddress(from),
		Text: strings.TrimSpace(text),
		Kind: KindMail,
		Meta: map[string]string{"subject": subject},
	}, nil
}

func (a *MailAdapter) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if a.mailer == nil {
		return nil, fmt.Errorf("no mailer configured")
	}

	subject := "Assistant reply"
	if req.Reply != nil && req.Reply["subject"] != "" {
		subject = replySubject(req.Reply["subject"])
	}
	if err := a.mailer.SendMail(ctx, req.To, subject, req.Text); err != nil {
		return nil, err
	}
	return &SendResult{}, nil
}

// extractAddress pulls addr out of a "Display Name <addr>" header and
// normalizes it to a lowercase identity.
func extractAddress(from string) string {
	if open := strings.LastIndex(from, "<"); open >= 0 {
		if end := strings.LastIndex(from, ">"); end > open {
			from = from[open+1 : end]
		}
	}
	return strings.ToLower(strings.TrimSpace(from))
}

// stripTags reduces an HTML body to its text content, enough for the
// model to read a plain-text-less message.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(subject), "re:") {
		return subject
	}
	return "Re: " + subject
}

// SMTPMailer sends plain-text mail through an SMTP relay.
type SMTPMailer struct {
	Host string
	Port int
	From string
	User string
	Pass string
}

func (m *SMTPMailer) SendMail(_ context.Context, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + to,
		"Subject: " + subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Pass, m.Host)
	}
	if err := smtp.SendMail(addr, auth, m.From, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
