package email

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/artpar/faunagate/ports"
)

// Kinds of email recorded by MockSender.
const (
	KindCustom        = "custom"
	KindVerification  = "verification"
	KindPasswordReset = "password_reset"
)

// ErrMockFailure is returned by a failing MockSender without a custom error.
var ErrMockFailure = errors.New("mock email send failure")

// MockSender keeps sent emails in memory instead of delivering them.
type MockSender struct {
	mu     sync.Mutex
	emails []SentEmail

	BaseURL string
	AppName string

	ShouldFail bool
	FailError  error
}

// SentEmail is an email recorded by MockSender.
type SentEmail struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
	Kind     string
	Key      string // verification or reset key
	Link     string
	Name     string
}

// NewMockSender creates a new mock email sender.
func NewMockSender(baseURL, appName string) *MockSender {
	return &MockSender{
		BaseURL: baseURL,
		AppName: appName,
	}
}

func (m *MockSender) record(e SentEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ShouldFail {
		if m.FailError != nil {
			return m.FailError
		}
		return ErrMockFailure
	}
	m.emails = append(m.emails, e)
	return nil
}

// Send records the email.
func (m *MockSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	return m.record(SentEmail{
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
		Kind:     KindCustom,
	})
}

// SendVerification records a verification email.
func (m *MockSender) SendVerification(ctx context.Context, to, name, key string) error {
	return m.record(SentEmail{
		To:      to,
		Subject: fmt.Sprintf("Activate your %s account", m.AppName),
		Kind:    KindVerification,
		Key:     key,
		Link:    VerificationLink(m.BaseURL, key),
		Name:    name,
	})
}

// SendPasswordReset records a password reset email.
func (m *MockSender) SendPasswordReset(ctx context.Context, to, name, key string) error {
	return m.record(SentEmail{
		To:      to,
		Subject: fmt.Sprintf("Reset your %s password", m.AppName),
		Kind:    KindPasswordReset,
		Key:     key,
		Link:    ResetLink(m.BaseURL, key),
		Name:    name,
	})
}

// GetEmails returns a copy of all recorded emails.
func (m *MockSender) GetEmails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]SentEmail, len(m.emails))
	copy(result, m.emails)
	return result
}

// GetLastEmail returns the most recently recorded email.
func (m *MockSender) GetLastEmail() (SentEmail, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.emails) == 0 {
		return SentEmail{}, false
	}
	return m.emails[len(m.emails)-1], true
}

// FindByTo returns the emails sent to an address.
func (m *MockSender) FindByTo(to string) []SentEmail {
	return m.filter(func(e SentEmail) bool { return e.To == to })
}

// FindByKind returns the emails of one kind.
func (m *MockSender) FindByKind(kind string) []SentEmail {
	return m.filter(func(e SentEmail) bool { return e.Kind == kind })
}

func (m *MockSender) filter(keep func(SentEmail) bool) []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result []SentEmail
	for _, e := range m.emails {
		if keep(e) {
			result = append(result, e)
		}
	}
	return result
}

// Count returns the number of emails sent.
func (m *MockSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.emails)
}

// Clear removes all stored emails.
func (m *MockSender) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emails = nil
}

// SetShouldFail configures the mock to fail on all send attempts.
func (m *MockSender) SetShouldFail(fail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ShouldFail = fail
	m.FailError = err
}

var _ ports.EmailSender = (*MockSender)(nil)
