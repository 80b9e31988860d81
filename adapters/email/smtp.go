// Package email provides email sending adapters.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/artpar/faunagate/ports"
	"github.com/wneessen/go-mail"
)

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // sender email address
	FromName string // sender display name

	UseTLS      bool // STARTTLS required
	UseImplicit bool // implicit TLS, usually port 465
	SkipVerify  bool

	Timeout time.Duration

	// BaseURL prefixes the links placed in emails (e.g. "https://api.example.com").
	BaseURL string
	AppName string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() SMTPConfig {
	return SMTPConfig{
		Host:     "localhost",
		Port:     587,
		From:     "noreply@localhost",
		FromName: "faunagate",
		UseTLS:   true,
		Timeout:  30 * time.Second,
		AppName:  "faunagate",
	}
}

// VerificationLink is the link a user follows to activate an account.
func VerificationLink(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/user/verify-email/" + key + "/"
}

// ResetLink is the link a user follows to choose a new password.
func ResetLink(baseURL, key string) string {
	return strings.TrimRight(baseURL, "/") + "/user/forgot-password-change/?key=" + key
}

// SMTPSender implements ports.EmailSender on top of go-mail.
type SMTPSender struct {
	config SMTPConfig
	opts   []mail.Option

	verificationTmpl  *template.Template
	passwordResetTmpl *template.Template
}

// NewSMTPSender creates a new SMTP email sender.
func NewSMTPSender(config SMTPConfig) (*SMTPSender, error) {
	if config.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	s := &SMTPSender{config: config}

	var err error
	s.verificationTmpl, err = template.New("verification").Parse(verificationEmailTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse verification template: %w", err)
	}
	s.passwordResetTmpl, err = template.New("passwordReset").Parse(passwordResetEmailTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse password reset template: %w", err)
	}

	s.opts = []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(config.Timeout),
		mail.WithTLSConfig(&tls.Config{
			ServerName:         config.Host,
			InsecureSkipVerify: config.SkipVerify,
		}),
	}
	switch {
	case config.UseImplicit:
		s.opts = append(s.opts, mail.WithSSL())
	case config.UseTLS:
		s.opts = append(s.opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		s.opts = append(s.opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if config.Username != "" {
		s.opts = append(s.opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(config.Username),
			mail.WithPassword(config.Password),
		)
	}
	return s, nil
}

// message converts a port message into a go-mail message.
func (s *SMTPSender) message(msg ports.EmailMessage) (*mail.Msg, error) {
	m := mail.NewMsg()

	from := msg.From
	if from == "" {
		from = s.config.From
	}
	var err error
	if s.config.FromName != "" && msg.From == "" {
		err = m.FromFormat(s.config.FromName, from)
	} else {
		err = m.From(from)
	}
	if err != nil {
		return nil, fmt.Errorf("from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetCharset(mail.CharsetUTF8)

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBodyString(mail.TypeTextHTML, msg.HTMLBody)
	default:
		m.SetBodyString(mail.TypeTextPlain, msg.TextBody)
	}
	return m, nil
}

// Send sends an email via SMTP.
func (s *SMTPSender) Send(ctx context.Context, msg ports.EmailMessage) error {
	m, err := s.message(msg)
	if err != nil {
		return err
	}
	client, err := mail.NewClient(s.config.Host, s.opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// SendVerification sends an email verification link.
func (s *SMTPSender) SendVerification(ctx context.Context, to, name, key string) error {
	msg, err := s.verificationMessage(to, name, key)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}

func (s *SMTPSender) verificationMessage(to, name, key string) (ports.EmailMessage, error) {
	data := emailTemplateData{
		Name:    name,
		AppName: s.config.AppName,
		Link:    VerificationLink(s.config.BaseURL, key),
	}
	var html bytes.Buffer
	if err := s.verificationTmpl.Execute(&html, data); err != nil {
		return ports.EmailMessage{}, fmt.Errorf("execute verification template: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", name)
	fmt.Fprintf(&text, "Please activate your %s account by opening the link below:\n\n", s.config.AppName)
	text.WriteString(data.Link)
	fmt.Fprintf(&text, "\n\nThanks,\nThe %s Team", s.config.AppName)

	return ports.EmailMessage{
		To:       to,
		Subject:  fmt.Sprintf("Activate your %s account", s.config.AppName),
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}

// SendPasswordReset sends a password reset link.
func (s *SMTPSender) SendPasswordReset(ctx context.Context, to, name, key string) error {
	msg, err := s.passwordResetMessage(to, name, key)
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}

func (s *SMTPSender) passwordResetMessage(to, name, key string) (ports.EmailMessage, error) {
	data := emailTemplateData{
		Name:    name,
		AppName: s.config.AppName,
		Link:    ResetLink(s.config.BaseURL, key),
	}
	var html bytes.Buffer
	if err := s.passwordResetTmpl.Execute(&html, data); err != nil {
		return ports.EmailMessage{}, fmt.Errorf("execute password reset template: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", name)
	text.WriteString("Someone asked to reset the password of your account. Open the link below to choose a new one:\n\n")
	text.WriteString(data.Link)
	text.WriteString("\n\nIf it wasn't you, ignore this email and your password stays the same.\n\n")
	fmt.Fprintf(&text, "Thanks,\nThe %s Team", s.config.AppName)

	return ports.EmailMessage{
		To:       to,
		Subject:  fmt.Sprintf("Reset your %s password", s.config.AppName),
		HTMLBody: html.String(),
		TextBody: text.String(),
	}, nil
}

type emailTemplateData struct {
	Name    string
	AppName string
	Link    string
}

var _ ports.EmailSender = (*SMTPSender)(nil)

const emailLayoutHead = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
body { font-family: sans-serif; line-height: 1.5; color: #222; }
.box { max-width: 560px; margin: 0 auto; padding: 24px; }
.button { display: inline-block; padding: 10px 24px; color: #fff; text-decoration: none; border-radius: 4px; }
</style>
</head>
<body>
<div class="box">
<h1>{{.AppName}}</h1>
<p>Hi {{.Name}},</p>
`

const emailLayoutFoot = `<p style="word-break: break-all; color: #666;">{{.Link}}</p>
</div>
</body>
</html>`

var verificationEmailTemplate = emailLayoutHead + `<p>Please activate your account by following the link below.</p>
<p><a class="button" style="background: #1a73e8;" href="{{.Link}}">Activate account</a></p>
` + emailLayoutFoot

var passwordResetEmailTemplate = emailLayoutHead + `<p>Someone asked to reset the password of your account.</p>
<p><a class="button" style="background: #c5221f;" href="{{.Link}}">Choose a new password</a></p>
<p>If it wasn't you, ignore this email and your password stays the same.</p>
` + emailLayoutFoot
