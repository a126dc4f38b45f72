package mailer

import (
	"fmt"
	"net/smtp"

	"github.com/rs/zerolog"

	"festreg/internal/model"
)

type Config struct {
	Host     string
	Port     int
	From     string
	Password string
}

type Mailer struct {
	cfg Config
	log *zerolog.Logger
}

func New(cfg Config, log *zerolog.Logger) *Mailer {
	return &Mailer{cfg: cfg, log: log}
}

// SendRegistrationEmail notifies the registrant about their submission.
// Best effort: admission never fails because mail could not be sent.
func (m *Mailer) SendRegistrationEmail(eventName, registrationID, status, recipient string) error {
	var subject, body string
	switch status {
	case model.RegistrationApproved:
		subject = "Registration confirmed"
		body = fmt.Sprintf(
			"Hello!\n\nYour registration %s for \"%s\" is confirmed. See you there!",
			registrationID, eventName)
	case model.RegistrationPending:
		subject = "Registration received"
		body = fmt.Sprintf(
			"Hello!\n\nYour registration %s for \"%s\" was received and is awaiting approval by the coordinators.",
			registrationID, eventName)
	case model.RegistrationRejected:
		subject = "Registration update"
		body = fmt.Sprintf(
			"Hello!\n\nUnfortunately your registration %s for \"%s\" was not approved.",
			registrationID, eventName)
	default:
		return fmt.Errorf("no mail template for status %q", status)
	}

	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s",
		m.cfg.From, recipient, subject, body,
	)

	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	auth := smtp.PlainAuth("", m.cfg.From, m.cfg.Password, m.cfg.Host)

	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{recipient}, []byte(msg)); err != nil {
		m.log.Warn().Msgf("failed to send email to %s: %v", recipient, err)
		return fmt.Errorf("send email: %w", err)
	}

	m.log.Info().Msgf("email sent to %s (status: %s)", recipient, status)
	return nil
}
