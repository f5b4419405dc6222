// Package mailer delivers submitted responses over SMTP.
package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/jmsrpp/btp-cap-genai-rag/internal/config"
	"github.com/jordan-wright/email"
	"go.uber.org/zap"
)

// SMTPMailer sends replies through a STARTTLS submission server.
type SMTPMailer struct {
	cfg    config.SMTPConfig
	send   func(e *email.Email) error
	logger *zap.Logger
}

// New creates a mailer for cfg.
func New(cfg config.SMTPConfig, logger *zap.Logger) *SMTPMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &SMTPMailer{cfg: cfg, logger: logger}
	m.send = m.startTLS
	return m
}

// SendReply sends body to the customer. When inReplyTo is set the reply is
// threaded under that message.
func (m *SMTPMailer) SendReply(ctx context.Context, to, subject, body, inReplyTo string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := m.compose(to, subject, body, inReplyTo)
	if err != nil {
		return err
	}
	if err := m.send(e); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	m.logger.Info("reply sent", zap.String("to", to), zap.Bool("threaded", inReplyTo != ""))
	return nil
}

func (m *SMTPMailer) compose(to, subject, body, inReplyTo string) (*email.Email, error) {
	if strings.TrimSpace(to) == "" {
		return nil, fmt.Errorf("reply has no recipient")
	}
	if strings.TrimSpace(body) == "" {
		return nil, fmt.Errorf("reply has no body")
	}
	e := email.NewEmail()
	e.From = m.cfg.From
	e.To = []string{to}
	e.Subject = subject
	e.Text = []byte(body)
	if inReplyTo != "" {
		e.Headers.Set("In-Reply-To", inReplyTo)
		e.Headers.Set("References", inReplyTo)
	}
	return e, nil
}

func (m *SMTPMailer) startTLS(e *email.Email) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	return e.SendWithStartTLS(addr, auth, &tls.Config{ServerName: m.cfg.Host})
}
