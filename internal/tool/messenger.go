package tool

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
)

// Messenger delivers outbound customer notifications.
type Messenger interface {
	Send(recipient, subject, body string) error
}

// SMTPMessenger sends mail through a plain SMTP relay.
type SMTPMessenger struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

// Send delivers a single message.
func (m *SMTPMessenger) Send(recipient, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	msg := strings.Join([]string{
		"From: " + m.From,
		"To: " + recipient,
		"Subject: " + subject,
		"",
		body,
	}, "\r\n")

	var auth smtp.Auth
	if m.User != "" {
		auth = smtp.PlainAuth("", m.User, m.Password, m.Host)
	}
	if err := smtp.SendMail(addr, auth, m.From, []string{recipient}, []byte(msg)); err != nil {
		return fmt.Errorf("tool: send mail: %w", err)
	}
	return nil
}

// LogMessenger records messages to the log instead of delivering them.
// Used in development and tests when no SMTP host is configured.
type LogMessenger struct {
	Logger *slog.Logger
}

// Send logs the message and succeeds.
func (m *LogMessenger) Send(recipient, subject, _ string) error {
	m.Logger.Info("message delivery skipped (no SMTP configured)",
		"recipient", recipient, "subject", subject)
	return nil
}
