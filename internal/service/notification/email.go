package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// SMTPSender отправляет письма через SMTP-релей. Идемпотентность отправки не
// гарантируется, дедупликацию обеспечивает send-log диспетчера.
type SMTPSender struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPSender создаёт SMTP-отправителя. auth может быть nil для релеев без
// аутентификации.
func NewSMTPSender(addr, from string, auth smtp.Auth) *SMTPSender {
	return &SMTPSender{addr: addr, from: from, auth: auth}
}

func (s *SMTPSender) Send(_ context.Context, recipient, subject string, body []byte) error {
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("smtp send: recipient is empty")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.from)
	fmt.Fprintf(&msg, "To: %s\r\n", recipient)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: application/json; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.Write(body)

	if err := smtp.SendMail(s.addr, s.auth, s.from, []string{recipient}, []byte(msg.String())); err != nil {
		return fmt.Errorf("smtp send to %s: %w", recipient, err)
	}
	return nil
}

// LogSender пишет письмо в лог вместо отправки. Используется в dev-окружении
// и как безопасный fallback, когда SMTP не сконфигурирован.
type LogSender struct {
	logger *log.Entry
}

// NewLogSender создаёт лог-отправителя.
func NewLogSender(logger *log.Entry) *LogSender {
	if logger == nil {
		logger = log.WithField("component", "email-log-sender")
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, recipient, subject string, body []byte) error {
	s.logger.WithFields(log.Fields{
		"recipient": recipient,
		"subject":   subject,
		"body_size": len(body),
	}).Info("email delivery skipped, logging only")
	return nil
}

var (
	_ domain.EmailSender = (*SMTPSender)(nil)
	_ domain.EmailSender = (*LogSender)(nil)
)
