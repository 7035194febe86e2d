package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// SMTPMailer delivers plain-text mail through a relay such as Mailpit.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer constructs a mailer. Credentials are optional.
func NewSMTPMailer(host string, port int, from, username, password string) *SMTPMailer {
	m := &SMTPMailer{addr: net.JoinHostPort(host, strconv.Itoa(port)), from: from}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m
}

// Send implements Mailer.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	msg := buildMessage(m.from, to, subject, body, time.Now())
	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(m.addr, m.auth, m.from, []string{to}, msg)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	}
}

func buildMessage(from, to, subject, body string, at time.Time) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + to + "\r\n")
	b.WriteString("Subject: " + sanitizeHeader(subject) + "\r\n")
	b.WriteString("Date: " + at.Format(time.RFC1123Z) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

// LogSMSSender records messages in the log. It stands in for an SMS gateway.
type LogSMSSender struct {
	Logger *slog.Logger
}

// SendSMS implements SMSSender.
func (s LogSMSSender) SendSMS(_ context.Context, to, body string) error {
	if s.Logger != nil {
		s.Logger.Info("sms queued", slog.String("to", to), slog.Int("length", len(body)))
	}
	return nil
}
