// Package mail delivers admission notifications. Two transports are
// available: a template-based provider API and a plain SMTP sender. The
// Chain type tries them in order so a provider outage degrades to SMTP
// instead of dropping the message.
package mail

import (
	"context"

	"github.com/meridianedu/go-admissions-backend/internal/domain"
)

// Message is a transport-independent outbound email. Template and Data feed
// the provider API; Subject and TextBody feed the SMTP fallback, so callers
// populate both representations.
type Message struct {
	Kind     domain.MessageKind
	From     string
	To       string
	ReplyTo  string
	Subject  string
	TextBody string

	// Template is the provider-side template identifier; Data holds its
	// substitution variables.
	Template string
	Data     map[string]string

	// Attachments reference files already persisted by the upload store.
	Attachments []domain.UploadedFile
}

// Transport sends a single message over one delivery mechanism.
type Transport interface {
	// Name identifies the transport in logs, metrics, and audit records.
	Name() string
	Send(ctx context.Context, msg *Message) error
}
