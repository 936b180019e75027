// Package mailer delivers portal emails over SMTP. Delivery is best-effort
// for notifications; only the registration flow treats a send failure as
// fatal (the account creation is rolled back).
package mailer

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/manit-portal/grievance-api/pkg/config"
)

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPSender sends mail through a configured relay. An empty host turns it
// into a logging no-op so development runs without a mail server.
type SMTPSender struct {
	cfg    config.SMTPConfig
	logger *zap.Logger
}

// NewSMTPSender builds a sender from config.
func NewSMTPSender(cfg config.SMTPConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{cfg: cfg, logger: logger}
}

// Send delivers one message, honouring context cancellation.
func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	if msg.To == "" {
		return fmt.Errorf("mailer: empty recipient")
	}
	if s.cfg.Host == "" {
		s.logger.Info("mail delivery skipped (no SMTP host configured)",
			zap.String("to", msg.To), zap.String("subject", msg.Subject))
		return nil
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	body := buildMIME(s.cfg.From, msg)

	done := make(chan error, 1)
	go func() {
		done <- smtp.SendMail(addr, auth, s.cfg.From, []string{msg.To}, body)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("mailer: send to %s: %w", msg.To, err)
		}
		return nil
	}
}

func buildMIME(from string, msg Message) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)
	return []byte(b.String())
}

// VerificationEmail renders the account verification message.
func VerificationEmail(clientURL, to, token string) Message {
	url := fmt.Sprintf("%s/verify-email/%s", strings.TrimRight(clientURL, "/"), token)
	return Message{
		To:      to,
		Subject: "MANIT Grievance Portal - Email Verification",
		HTML: fmt.Sprintf(`<h2>Welcome to MANIT Grievance Portal</h2>
<p>Please verify your email address by clicking the link below:</p>
<a href="%s">Verify Email</a>
<p>This link will expire in 24 hours.</p>
<p>If you did not create an account, please ignore this email.</p>`, url),
	}
}

// PasswordResetEmail renders the reset OTP message.
func PasswordResetEmail(to, otp string) Message {
	return Message{
		To:      to,
		Subject: "MANIT Grievance Portal - Password Reset OTP",
		HTML: fmt.Sprintf(`<h2>MANIT Grievance Portal - Password Reset</h2>
<p>You have requested to reset your password. Please use the following OTP to complete the process:</p>
<h3>%s</h3>
<p>This OTP will expire in 15 minutes.</p>
<p>If you did not request a password reset, please ignore this email.</p>`, otp),
	}
}

// EscalationNotice renders the notification sent when a grievance moves up
// a level.
func EscalationNotice(to, title, toLevel, reason string) Message {
	return Message{
		To:      to,
		Subject: "MANIT Grievance Portal - Grievance Escalated",
		HTML: fmt.Sprintf(`<h2>Grievance Escalated</h2>
<p>The grievance <strong>%s</strong> has been escalated to %s.</p>
<p>Reason: %s</p>`, title, toLevel, reason),
	}
}
