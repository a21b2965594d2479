package passreset

import (
	"context"
	"fmt"
	"time"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Sender delivers a freshly issued reset token to the account's mailbox.
type Sender interface {
	SendResetToken(ctx context.Context, email, token string, expiresAt time.Time) error
}

// SMTPSender sends reset mails over SMTP.
type SMTPSender struct {
	client *mail.Client
	from   string
	log    *zap.Logger
}

// SMTPConfig configures the reset mail sender.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

// NewSMTPSender returns a Sender using the given SMTP relay.
func NewSMTPSender(cfg SMTPConfig, log *zap.Logger) (*SMTPSender, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Pass),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return nil, fmt.Errorf("mail client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SMTPSender{client: client, from: cfg.From, log: log}, nil
}

// SendResetToken mails the token. The raw token appears nowhere else; it is
// not logged here.
func (s *SMTPSender) SendResetToken(ctx context.Context, email, token string, expiresAt time.Time) error {
	m := mail.NewMsg()
	if err := m.From(s.from); err != nil {
		return err
	}
	if err := m.To(email); err != nil {
		return err
	}
	m.Subject("Password reset")
	m.SetBodyString(mail.TypeTextPlain, fmt.Sprintf(
		"Your password reset code is:\n\n%s\n\nIt expires at %s. If you did not request a reset, ignore this mail.",
		token, expiresAt.UTC().Format(time.RFC1123)))

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send reset mail: %w", err)
	}
	s.log.Info("reset mail sent", zap.String("email", email))
	return nil
}

// NoopSender drops reset mails. Used when SMTP is not configured (local
// development, tests); the token still lands in storage.
type NoopSender struct{}

func (NoopSender) SendResetToken(context.Context, string, string, time.Time) error { return nil }
