// Package notifier delivers run reports by email.
package notifier

import (
	"fmt"

	"github.com/ibeckermayer/postpulse/internal/config"
	"github.com/ibeckermayer/postpulse/internal/notifier/providers"
	"github.com/ibeckermayer/postpulse/internal/report"
)

// Notifier handles sending report notifications
type Notifier struct {
	sender Sender
	to     string
}

// Sender defines the interface for email sending
type Sender interface {
	Send(to, subject, htmlBody, plainBody string) error
}

// New creates a new notifier that mails to addr
func New(sender Sender, to string) *Notifier {
	return &Notifier{sender: sender, to: to}
}

// NewFromConfig creates a notifier based on configuration
func NewFromConfig(cfg config.EmailConfig) (*Notifier, error) {
	if cfg.To == "" {
		return nil, fmt.Errorf("email recipient is not set")
	}

	var sender Sender
	switch cfg.Provider {
	case "", "smtp":
		sender = providers.NewSMTPSender(
			cfg.SMTPHost,
			cfg.SMTPPort,
			cfg.SMTPUser,
			cfg.SMTPPass,
			cfg.From,
		)
	default:
		return nil, fmt.Errorf("unknown email provider: %s", cfg.Provider)
	}

	return New(sender, cfg.To), nil
}

// SendReport sends a report email
func (n *Notifier) SendReport(r *report.Report) error {
	return n.sender.Send(n.to, r.Subject, r.HTMLBody, r.PlainBody)
}
