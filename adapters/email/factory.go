package email

import (
	"fmt"

	"github.com/artpar/faunagate/ports"
)

// Providers understood by NewSender.
const (
	ProviderSMTP = "smtp"
	ProviderMock = "mock"
	ProviderNone = "none"
)

// Config selects and configures an email provider.
type Config struct {
	Provider string
	SMTP     SMTPConfig
}

// NewSender creates an email sender for the configured provider.
func NewSender(cfg Config) (ports.EmailSender, error) {
	switch cfg.Provider {
	case ProviderSMTP:
		return NewSMTPSender(cfg.SMTP)
	case ProviderMock:
		return NewMockSender(cfg.SMTP.BaseURL, cfg.SMTP.AppName), nil
	case ProviderNone, "":
		return NewNoopSender(), nil
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}
}
