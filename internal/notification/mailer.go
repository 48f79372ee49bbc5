package notification

import (
	"context"
	"fmt"
	"net"
	"time"

	gomail "github.com/wneessen/go-mail"

	"leadflow_backend/platform/config"
)

// Mailer delivers admin alert emails over SMTP.
type Mailer struct {
	host      string
	port      int
	username  string
	password  string
	fromEmail string
	toEmail   string
}

// NewMailer returns nil when SMTP is not configured; callers treat a nil
// mailer as a disabled channel.
func NewMailer(cfg config.NotificationConfig) *Mailer {
	if cfg.GetSMTPHost() == "" || cfg.GetAdminEmail() == "" {
		return nil
	}

	from := cfg.GetEmailFromAddress()
	if from == "" {
		from = cfg.GetSMTPUsername()
	}

	return &Mailer{
		host:      cfg.GetSMTPHost(),
		port:      cfg.GetSMTPPort(),
		username:  cfg.GetSMTPUsername(),
		password:  cfg.GetSMTPPassword(),
		fromEmail: from,
		toEmail:   cfg.GetAdminEmail(),
	}
}

func (m *Mailer) Send(ctx context.Context, subject, body string) error {
	if m == nil {
		return nil
	}

	msg := gomail.NewMsg()
	if err := msg.From(m.fromEmail); err != nil {
		return fmt.Errorf("smtp from: %w", err)
	}
	if err := msg.To(m.toEmail); err != nil {
		return fmt.Errorf("smtp to: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(gomail.TypeTextPlain, body)

	client, err := gomail.NewClient(m.host,
		gomail.WithPort(m.port),
		gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
		gomail.WithUsername(m.username),
		gomail.WithPassword(m.password),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(15*time.Second),
		gomail.WithDialContextFunc(func(dctx context.Context, _ string, addr string) (net.Conn, error) {
			return (&net.Dialer{}).DialContext(dctx, "tcp4", addr)
		}),
	)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}
