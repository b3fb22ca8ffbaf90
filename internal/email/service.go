// Package email sends mention notifications over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"gopkg.in/gomail.v2"
)

const appName = "ReportDesk"

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Service provides email sending
type Service struct {
	config Config
	dialer sender
}

func NewService(config Config) *Service {
	if config.FromName == "" {
		config.FromName = appName
	}
	return &Service{
		config: config,
		dialer: gomail.NewDialer(config.Host, config.Port, config.Username, config.Password),
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port > 0 && s.config.From != ""
}

// SendHTMLEmail sends an HTML email with a plain text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}
	if len(to) == 0 {
		return nil
	}

	m := gomail.NewMessage()
	m.SetAddressHeader("From", s.config.From, s.config.FromName)
	m.SetHeader("To", to...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	m.AddAlternative("text/html", htmlBody)

	if err := s.dialer.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// MentionData describes one mention notification.
type MentionData struct {
	AppName       string
	RecipientName string
	ActorName     string
	ReportTitle   string
	ReportURL     string
	Excerpt       string
	InComment     bool
}

func (d MentionData) subject() string {
	where := "a report"
	if d.InComment {
		where = "a comment"
	}
	return fmt.Sprintf("%s mentioned you in %s: %s", d.ActorName, where, d.ReportTitle)
}

// SendMentionNotification tells one user they were mentioned.
func (s *Service) SendMentionNotification(to string, data MentionData) error {
	data.AppName = appName
	data.Excerpt = excerpt(data.Excerpt, 280)

	html, err := renderMention(data)
	if err != nil {
		return fmt.Errorf("render mention template: %w", err)
	}
	text := fmt.Sprintf("%s\n\n%s\n\n%s\n", data.subject(), data.Excerpt, data.ReportURL)
	return s.SendHTMLEmail([]string{to}, data.subject(), text, html)
}

func excerpt(text string, max int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return strings.TrimSpace(string(runes[:max])) + "…"
}

var mentionTemplate = template.Must(template.New("mention").Parse(mentionEmailTemplate))

func renderMention(data MentionData) (string, error) {
	var buf bytes.Buffer
	if err := mentionTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const mentionEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>You were mentioned in {{.ReportTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .quote { background: #f5f5f5; border-left: 3px solid #0066cc; padding: 12px; white-space: pre-wrap; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi {{.RecipientName}},</p>

    <p><strong>{{.ActorName}}</strong> mentioned you in {{if .InComment}}a comment on{{else}}the report{{end}} <strong>{{.ReportTitle}}</strong>.</p>

    {{if .Excerpt}}<div class="quote">{{.Excerpt}}</div>{{end}}

    {{if .ReportURL}}<p><a href="{{.ReportURL}}" class="button">Open report</a></p>{{end}}

    <div class="footer">
        <p>You received this because someone used your @username in {{.AppName}}.</p>
    </div>
</body>
</html>`
