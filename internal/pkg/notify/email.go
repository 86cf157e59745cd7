package notify

import (
	"fmt"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/Specs7/LFIWEB/internal/config"
)

// EmailNotifier sends magic links over SMTP. When no SMTP host is configured
// it logs the link instead and reports success, so dev and test environments
// work without a mail server.
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
}

// NewEmailNotifier creates a new mailer.
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	return &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
}

// SendMagicLink implements Mailer.
func (n *EmailNotifier) SendMagicLink(toEmail string, link string) error {
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("empty recipient")
	}
	if n.cfg.SMTPHost == "" {
		n.logger.Info("smtp not configured, magic link",
			slog.String("to", toEmail), slog.String("link", link))
		return nil
	}

	from := n.cfg.FromEmail
	if from == "" {
		from = n.cfg.SMTPUser
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", "Your login link")
	m.SetBody("text/plain", fmt.Sprintf("Click this link to sign in: %s\n\nThis link expires in 2 hours.", link))

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.SMTPUser, n.cfg.SMTPPass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	n.logger.Info("magic link sent", slog.String("to", toEmail))
	return nil
}
