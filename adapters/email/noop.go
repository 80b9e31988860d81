package email

import (
	"context"

	"github.com/artpar/faunagate/ports"
)

// NoopSender drops every message. Used when no email provider is configured.
type NoopSender struct{}

// NewNoopSender creates a new no-op email sender.
func NewNoopSender() *NoopSender {
	return &NoopSender{}
}

func (s *NoopSender) Send(ctx context.Context, msg ports.EmailMessage) error { return nil }

func (s *NoopSender) SendVerification(ctx context.Context, to, name, key string) error { return nil }

func (s *NoopSender) SendPasswordReset(ctx context.Context, to, name, key string) error { return nil }

var _ ports.EmailSender = (*NoopSender)(nil)
