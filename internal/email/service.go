// Package email sends notification email over SMTP or SendGrid.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"mime"
	"net/mail"
	"net/smtp"
	"strings"
)

// Sender delivers a rendered HTML message.
type Sender interface {
	IsConfigured() bool
	SendHTMLEmail(to []string, subject, htmlBody string) error
}

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service sends mail through an SMTP relay.
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// fromHeader encodes a non-ASCII display name per RFC 2047.
func (s *Service) fromHeader() string {
	addr := mail.Address{Name: s.config.FromName, Address: s.config.From}
	return addr.String()
}

// SendHTMLEmail sends an HTML email
func (s *Service) SendHTMLEmail(to []string, subject, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	return smtp.SendMail(s.server, s.auth, s.config.From, to, buildMultipart(s.fromHeader(), to, subject, htmlBody))
}

func buildMultipart(from string, to []string, subject, htmlBody string) []byte {
	boundary := "boundary-agileflow"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)
	return msg.Bytes()
}

var taskAssignmentTmpl = template.Must(template.New("task-assignment").Parse(taskAssignmentEmailTemplate))

func renderTemplate(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const taskAssignmentEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>New Task Assigned - {{.AppName}}</title>
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background: #667eea; color: white; padding: 20px; border-radius: 8px 8px 0 0; }
        .content { background: #f9fafb; padding: 30px; border-radius: 0 0 8px 8px; }
        .task-box { background: white; padding: 20px; border-radius: 8px; margin: 20px 0; border-left: 4px solid #667eea; }
        .button { display: inline-block; background: #667eea; color: white; padding: 12px 30px; text-decoration: none; border-radius: 6px; margin-top: 20px; }
        .footer { text-align: center; margin-top: 20px; color: #6b7280; font-size: 14px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1 style="margin: 0;">{{.AppName}}</h1>
            <p style="margin: 5px 0 0 0;">Task Management System</p>
        </div>
        <div class="content">
            <h2>Hello {{.RecipientName}},</h2>
            <p>You have been assigned a new task by <strong>{{.AssignerName}}</strong>.</p>

            <div class="task-box">
                <h3 style="margin-top: 0; color: #667eea;">Task Details</h3>
                <p><strong>Title:</strong> {{.TaskTitle}}</p>
                <p><strong>Deadline:</strong> {{.Deadline}}</p>
            </div>

            <p>Please log in to your dashboard to view complete task details and update the status.</p>

            <a href="{{.DashboardURL}}" class="button">View Task</a>

            <div class="footer">
                <p>This is an automated email from {{.AppName}}. Please do not reply.</p>
            </div>
        </div>
    </div>
</body>
</html>`
