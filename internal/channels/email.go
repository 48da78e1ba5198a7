package channels

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// SMTPSender sends plain-text email reminders.
type SMTPSender struct {
	host     string
	port     string
	user     string
	password string
	from     string

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host, port, user, password, from string) (*SMTPSender, error) {
	if host == "" || port == "" || user == "" || password == "" {
		return nil, fmt.Errorf("SMTP credentials not fully configured")
	}
	if from == "" {
		from = user
	}
	return &SMTPSender{
		host:     host,
		port:     port,
		user:     user,
		password: password,
		from:     from,
		sendMail: smtp.SendMail,
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, recipient string, msg Message) (SendResult, error) {
	to := strings.TrimSpace(recipient)
	if !strings.Contains(to, "@") {
		return SendResult{}, fmt.Errorf("invalid email recipient %q", recipient)
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	auth := smtp.PlainAuth("", s.user, s.password, s.host)

	body := []byte("From: " + s.from + "\r\n" +
		"To: " + to + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=UTF-8\r\n" +
		"\r\n" +
		msg.Body + "\r\n")

	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	if err := s.sendMail(addr, auth, s.from, []string{to}, body); err != nil {
		return SendResult{}, fmt.Errorf("failed to send email: %w", err)
	}

	return SendResult{
		MessageID: fmt.Sprintf("smtp-%d", time.Now().UnixNano()),
		SentAt:    time.Now(),
	}, nil
}
