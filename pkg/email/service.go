// pkg/email/service.go
package email

import (
	"context"
	"time"
)

// EmailService sends the account emails of the auth flow.
type EmailService interface {
	SendWelcomeEmail(ctx context.Context, to Recipient) error
	SendPasswordResetEmail(ctx context.Context, to Recipient, token string, expiresAt time.Time) error
	SendPasswordChangedNotification(ctx context.Context, to Recipient) error
}

// Recipient is the addressee of an email.
type Recipient struct {
	Email       string
	DisplayName string
}

// Greeting returns the name used in "Hi ...," lines.
func (r Recipient) Greeting() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.Email
}

// EmailTemplate represents an email template
type EmailTemplate struct {
	Subject  string
	HTMLBody string
	TextBody string
}

// EmailData contains data for template rendering
type EmailData struct {
	To           Recipient
	Token        string
	ExpiresAt    time.Time
	SupportEmail string
	AppName      string
	BaseURL      string
	ResetURL     string
}

// Config holds email service configuration
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromEmail    string
	FromName     string
	UseTLS       bool
	AppBaseURL   string
	AppName      string
	SupportEmail string
}

// Templates holds all email templates
type Templates struct {
	Welcome         EmailTemplate
	PasswordReset   EmailTemplate
	PasswordChanged EmailTemplate
}

const htmlStyle = `
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .button { display: inline-block; padding: 12px 24px; background-color: #2563eb; color: white; text-decoration: none; border-radius: 5px; }
        .alert { background-color: #fff3cd; border: 1px solid #ffeaa7; padding: 15px; border-radius: 5px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 14px; color: #666; }
    </style>`

// NewTemplates creates default email templates
func NewTemplates() *Templates {
	return &Templates{
		Welcome: EmailTemplate{
			Subject: "Welcome to {{.AppName}}",
			HTMLBody: `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Welcome</title>` + htmlStyle + `</head>
<body>
    <div class="container">
        <p>Hi {{.To.Greeting}},</p>
        <p>Your {{.AppName}} account is ready. Add your first task, give it a due date and a priority, and it will show up on every device you sign in from.</p>
        <p style="text-align: center; margin: 30px 0;"><a href="{{.BaseURL}}" class="button">Open {{.AppName}}</a></p>
        <div class="footer"><p>The {{.AppName}} Team</p></div>
    </div>
</body>
</html>`,
			TextBody: `Hi {{.To.Greeting}},

Your {{.AppName}} account is ready. Add your first task, give it a due date and a priority, and it will show up on every device you sign in from.

{{.BaseURL}}

The {{.AppName}} Team`,
		},

		PasswordReset: EmailTemplate{
			Subject: "Reset your {{.AppName}} password",
			HTMLBody: `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Password Reset</title>` + htmlStyle + `</head>
<body>
    <div class="container">
        <p>Hi {{.To.Greeting}},</p>
        <p>We received a request to reset the password of your {{.AppName}} account.</p>
        <p style="text-align: center; margin: 30px 0;"><a href="{{.ResetURL}}" class="button">Reset Password</a></p>
        <p>If the button doesn't work, paste this link into your browser:<br><a href="{{.ResetURL}}">{{.ResetURL}}</a></p>
        <div class="alert">This link expires on {{.ExpiresAt.Format "January 2, 2006 at 3:04 PM"}}.</div>
        <p>If you didn't ask for a reset, ignore this email. Your password stays unchanged.</p>
        <div class="footer">
            <p>The {{.AppName}} Team</p>
            <p>Questions? <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a></p>
        </div>
    </div>
</body>
</html>`,
			TextBody: `Hi {{.To.Greeting}},

We received a request to reset the password of your {{.AppName}} account.

Reset it here:
{{.ResetURL}}

This link expires on {{.ExpiresAt.Format "January 2, 2006 at 3:04 PM"}}.

If you didn't ask for a reset, ignore this email. Your password stays unchanged.

The {{.AppName}} Team
Questions? {{.SupportEmail}}`,
		},

		PasswordChanged: EmailTemplate{
			Subject: "Your {{.AppName}} password has been changed",
			HTMLBody: `<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Password Changed</title>` + htmlStyle + `</head>
<body>
    <div class="container">
        <p>Hi {{.To.Greeting}},</p>
        <p>The password of your {{.AppName}} account was just changed and all other sessions were signed out.</p>
        <div class="alert">If you didn't make this change, contact <a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a> right away.</div>
        <div class="footer"><p>The {{.AppName}} Team</p></div>
    </div>
</body>
</html>`,
			TextBody: `Hi {{.To.Greeting}},

The password of your {{.AppName}} account was just changed and all other sessions were signed out.

If you didn't make this change, contact {{.SupportEmail}} right away.

The {{.AppName}} Team`,
		},
	}
}
