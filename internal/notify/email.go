package notify

import (
	"context"

	"gopkg.in/gomail.v2"

	"github.com/nerrad567/pillfleet-core/internal/infrastructure/config"
)

// dialer is the part of *gomail.Dialer the notifier uses.
type dialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailNotifier sends alerts as plain-text email over SMTP.
type EmailNotifier struct {
	dialer  dialer
	from    string
	to      []string
	subject string
}

// NewEmailNotifier creates an SMTP notifier. A connection is opened per alert.
func NewEmailNotifier(cfg config.EmailConfig) *EmailNotifier {
	return &EmailNotifier{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:    cfg.From,
		to:      cfg.To,
		subject: cfg.Subject,
	}
}

// Notify sends message to every configured recipient.
func (n *EmailNotifier) Notify(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to...)
	m.SetHeader("Subject", n.subject)
	m.SetBody("text/plain", message)

	return n.dialer.DialAndSend(m)
}
