// Package mailer wraps the SMTP relay behind an interface so the
// notification dispatcher and its tests never talk to a real relay directly.
package mailer

import (
	"gopkg.in/gomail.v2"

	"backend/internal/config"
)

// Mailer delivers a single rendered message.
type Mailer interface {
	Send(to, subject, body string) error
}

// SMTPMailer sends through the configured relay using gomail. A fresh dial
// per message keeps the implementation stateless; throughput here is a few
// messages per request at most.
type SMTPMailer struct {
	cfg config.SMTPConfig
}

func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

func (m *SMTPMailer) Send(to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.cfg.From)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	dialer := gomail.NewDialer(m.cfg.Host, m.cfg.Port, m.cfg.Username, m.cfg.Password)
	return dialer.DialAndSend(msg)
}
