package mail

import (
	"context"
	"fmt"
	"net"
	"net/smtp"

	"github.com/jhillyerd/enmime"
)

// SMTPTransport is the fallback sender. It builds a multipart MIME message
// with enmime and pushes it through a plain SMTP session.
type SMTPTransport struct {
	host string // host:port
	user string
	pass string

	// sender overrides the SMTP session in tests.
	sender enmime.Sender
}

func NewSMTPTransport(host, user, pass string) *SMTPTransport {
	return &SMTPTransport{host: host, user: user, pass: pass}
}

func (t *SMTPTransport) Name() string { return "smtp" }

// Send assembles the MIME envelope and submits it. The context is honored
// only up to the point of dialing; net/smtp has no mid-session cancellation.
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := enmime.Builder().
		From("", msg.From).
		To("", msg.To).
		Subject(msg.Subject).
		Text([]byte(msg.TextBody))
	if msg.ReplyTo != "" {
		b = b.ReplyTo("", msg.ReplyTo)
	}
	for _, f := range msg.Attachments {
		content, err := readAttachment(f)
		if err != nil {
			return err
		}
		b = b.AddAttachment(content, f.DeclaredMime, f.SanitizedName)
	}

	sender := t.sender
	if sender == nil {
		host, _, err := net.SplitHostPort(t.host)
		if err != nil {
			return fmt.Errorf("parse smtp address %q: %w", t.host, err)
		}
		var auth smtp.Auth
		if t.user != "" {
			auth = smtp.PlainAuth("", t.user, t.pass, host)
		}
		sender = enmime.NewSMTP(t.host, auth)
	}

	if err := b.Send(sender); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
