package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"Go2NetSentry/internal/config"
)

// EmailNotifier sends alert digests via SMTP.
type EmailNotifier struct {
	cfg *config.SMTPConfig
}

// NewEmailNotifier creates a notifier from SMTP settings.
func NewEmailNotifier(cfg *config.SMTPConfig) (*EmailNotifier, error) {
	if cfg.Host == "" || cfg.Port == 0 {
		return nil, fmt.Errorf("smtp host and port are required")
	}
	if cfg.From == "" || cfg.To == "" {
		return nil, fmt.Errorf("smtp from and to addresses are required")
	}
	return &EmailNotifier{cfg: cfg}, nil
}

func (n *EmailNotifier) recipients() []string {
	parts := strings.Split(n.cfg.To, ",")
	to := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			to = append(to, p)
		}
	}
	return to
}

// Send delivers an HTML message to the configured recipients.
func (n *EmailNotifier) Send(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", n.cfg.Host, n.cfg.Port)
	to := n.recipients()

	var auth smtp.Auth
	if n.cfg.Username != "" {
		auth = smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.Host)
	}

	msg := strings.Builder{}
	msg.WriteString(fmt.Sprintf("From: %s\r\n", n.cfg.From))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ",")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(addr, auth, n.cfg.From, to, []byte(msg.String())); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}
	return nil
}
