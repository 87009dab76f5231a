package mail

import (
	"fmt"
	"log"
	"net/smtp"

	"github.com/code2deploy/payments/internal/pkg/env"
)

// Sender delivers one message to one recipient. The outbox dispatcher depends
// on this interface so tests can swap in a recorder.
type Sender interface {
	Send(to, subject, body string) error
}

// SMTPSender sends mail over plain SMTP, configured from the environment.
type SMTPSender struct{}

func (SMTPSender) Send(to, subject, body string) error {
	return SendMail(to, subject, body)
}

// SendMail sends a plain-text email via SMTP.
func SendMail(to string, subject string, body string) error {
	host := env.GetEnv("SMTP_HOST", "")
	port := env.GetEnv("SMTP_PORT", "")
	username := env.GetEnv("SMTP_USERNAME", "")
	password := env.GetEnv("SMTP_PASSWORD", "")
	sender := env.GetEnv("SMTP_SENDER", "")

	if sender == "" {
		sender = fmt.Sprintf("no-reply@%s", "localhost")
		log.Printf("SMTP_SENDER not set, using default sender: %s", sender)
	}

	var auth smtp.Auth
	if username != "" && password != "" {
		auth = smtp.PlainAuth("", username, password, host)
	}

	addr := fmt.Sprintf("%s:%s", host, port)

	msg := []byte(
		fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n", sender, to, subject) +
			"MIME-Version: 1.0\r\n" +
			"Content-Type: text/plain; charset=UTF-8\r\n\r\n" +
			body,
	)

	err := smtp.SendMail(addr, auth, sender, []string{to}, msg)
	if err != nil {
		log.Printf("SMTP send error: %v", err)
	}
	return err
}
