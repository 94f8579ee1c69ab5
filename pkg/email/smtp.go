// pkg/email/smtp.go
package email

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/hex"
	"fmt"
	"net"
	"net/smtp"
	"net/url"
	"sync"
	"text/template"
	"time"
)

// SMTPEmailService implements EmailService using SMTP
type SMTPEmailService struct {
	config    *Config
	templates *Templates
	auth      smtp.Auth
}

// NewSMTPEmailService creates a new SMTP email service
func NewSMTPEmailService(config Config) *SMTPEmailService {
	if config.AppName == "" {
		config.AppName = "Taskboard"
	}
	if config.SupportEmail == "" {
		config.SupportEmail = config.FromEmail
	}

	var auth smtp.Auth
	if config.SMTPUsername != "" {
		auth = smtp.PlainAuth("", config.SMTPUsername, config.SMTPPassword, config.SMTPHost)
	}

	return &SMTPEmailService{
		config:    &config,
		templates: NewTemplates(),
		auth:      auth,
	}
}

// SendWelcomeEmail greets a newly registered user
func (s *SMTPEmailService) SendWelcomeEmail(ctx context.Context, to Recipient) error {
	return s.sendEmail(ctx, to, s.templates.Welcome, s.buildEmailData(to, "", time.Time{}))
}

// SendPasswordResetEmail sends a password reset email
func (s *SMTPEmailService) SendPasswordResetEmail(ctx context.Context, to Recipient, token string, expiresAt time.Time) error {
	data := s.buildEmailData(to, token, expiresAt)
	data.ResetURL = ResetURL(s.config.AppBaseURL, token)

	return s.sendEmail(ctx, to, s.templates.PasswordReset, data)
}

// SendPasswordChangedNotification sends a notification when password is changed
func (s *SMTPEmailService) SendPasswordChangedNotification(ctx context.Context, to Recipient) error {
	return s.sendEmail(ctx, to, s.templates.PasswordChanged, s.buildEmailData(to, "", time.Time{}))
}

// ResetURL builds the link placed in password reset emails.
func ResetURL(baseURL, token string) string {
	return fmt.Sprintf("%s/reset-password?token=%s", baseURL, url.QueryEscape(token))
}

func (s *SMTPEmailService) buildEmailData(to Recipient, token string, expiresAt time.Time) *EmailData {
	return &EmailData{
		To:           to,
		Token:        token,
		ExpiresAt:    expiresAt,
		SupportEmail: s.config.SupportEmail,
		AppName:      s.config.AppName,
		BaseURL:      s.config.AppBaseURL,
	}
}

// Render executes all three parts of tmpl with data.
func Render(tmpl EmailTemplate, data *EmailData) (subject, text, html string, err error) {
	parts := []struct {
		name string
		src  string
		out  *string
	}{
		{"subject", tmpl.Subject, &subject},
		{"text", tmpl.TextBody, &text},
		{"HTML", tmpl.HTMLBody, &html},
	}
	for _, p := range parts {
		t, err := template.New("email").Parse(p.src)
		if err != nil {
			return "", "", "", fmt.Errorf("parse %s template: %w", p.name, err)
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			return "", "", "", fmt.Errorf("execute %s template: %w", p.name, err)
		}
		*p.out = buf.String()
	}
	return subject, text, html, nil
}

// sendEmail sends an email using SMTP
func (s *SMTPEmailService) sendEmail(ctx context.Context, to Recipient, tmpl EmailTemplate, data *EmailData) error {
	subject, text, html, err := Render(tmpl, data)
	if err != nil {
		return err
	}

	message := buildMIMEMessage(s.config.FromEmail, s.config.FromName, to.Email, subject, text, html, generateBoundary())

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.config.FromEmail); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if err := client.Rcpt(to.Email); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if _, err := w.Write(message); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return client.Quit()
}

// dial connects, upgrades to TLS when configured, and authenticates.
func (s *SMTPEmailService) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.config.SMTPHost, fmt.Sprint(s.config.SMTPPort))

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial SMTP server: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("dial SMTP server: %w", err)
	}

	if s.config.UseTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.config.SMTPHost}); err != nil {
				client.Close()
				return nil, fmt.Errorf("start TLS: %w", err)
			}
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			client.Close()
			return nil, fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	return client, nil
}

func generateBoundary() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// buildMIMEMessage builds a MIME email message with both text and HTML parts
func buildMIMEMessage(from, fromName, to, subject, textBody, htmlBody, boundary string) []byte {
	message := fmt.Sprintf(`From: %s <%s>
To: %s
Subject: %s
MIME-Version: 1.0
Content-Type: multipart/alternative; boundary="%s"

--%s
Content-Type: text/plain; charset=UTF-8
Content-Transfer-Encoding: 7bit

%s

--%s
Content-Type: text/html; charset=UTF-8
Content-Transfer-Encoding: 7bit

%s

--%s--
`, fromName, from, to, subject, boundary, boundary, textBody, boundary, htmlBody, boundary)

	return []byte(message)
}

// TestConnection tests the SMTP connection
func (s *SMTPEmailService) TestConnection(ctx context.Context) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	return client.Quit()
}

// MockEmailService implements EmailService for testing
type MockEmailService struct {
	mu         sync.Mutex
	SentEmails []SentEmail
	// Err, when set, is returned by every send.
	Err error
}

// SentEmail represents an email that was sent via MockEmailService
type SentEmail struct {
	To       string
	Template string
	Data     *EmailData
	SentAt   time.Time
}

// NewMockEmailService creates a new mock email service
func NewMockEmailService() *MockEmailService {
	return &MockEmailService{
		SentEmails: make([]SentEmail, 0),
	}
}

func (m *MockEmailService) record(to Recipient, name string, data *EmailData) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentEmails = append(m.SentEmails, SentEmail{
		To:       to.Email,
		Template: name,
		Data:     data,
		SentAt:   time.Now(),
	})
	return nil
}

func (m *MockEmailService) SendWelcomeEmail(ctx context.Context, to Recipient) error {
	return m.record(to, "welcome", &EmailData{To: to})
}

func (m *MockEmailService) SendPasswordResetEmail(ctx context.Context, to Recipient, token string, expiresAt time.Time) error {
	return m.record(to, "password_reset", &EmailData{To: to, Token: token, ExpiresAt: expiresAt})
}

func (m *MockEmailService) SendPasswordChangedNotification(ctx context.Context, to Recipient) error {
	return m.record(to, "password_changed", &EmailData{To: to})
}

// GetSentEmails returns all sent emails (for testing)
func (m *MockEmailService) GetSentEmails() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.SentEmails...)
}

// GetLastSentEmail returns the last sent email (for testing)
func (m *MockEmailService) GetLastSentEmail() *SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SentEmails) == 0 {
		return nil
	}
	last := m.SentEmails[len(m.SentEmails)-1]
	return &last
}

// Clear clears all sent emails (for testing)
func (m *MockEmailService) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SentEmails = make([]SentEmail, 0)
}
