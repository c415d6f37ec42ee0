// Package notify delivers best-effort completion notices to submitters.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/princekumarofficial/transcode-nexus/internal/config"
	"github.com/wneessen/go-mail"
)

// Subject is used for every completion notice.
const Subject = "Your video is ready to download"

// Dispatcher sends a notice to one address. Callers must treat failures as
// non-fatal.
type Dispatcher interface {
	Send(ctx context.Context, address, body string) error
}

// MessageBody renders the notice for a finished job.
func MessageBody(url string, ttl time.Duration) string {
	return fmt.Sprintf("Hi,\n\nYour converted video is ready:\n%s\n\nLink valid for %s.\n", url, humanDuration(ttl))
}

func humanDuration(d time.Duration) string {
	switch {
	case d == time.Hour:
		return "1 hour"
	case d%time.Hour == 0:
		return fmt.Sprintf("%d hours", int(d/time.Hour))
	case d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	default:
		return d.String()
	}
}

// SMTP sends notices through an SMTP relay.
type SMTP struct {
	cfg config.Mail
}

func NewSMTP(cfg config.Mail) *SMTP {
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTP{cfg: cfg}
}

func (s *SMTP) Send(ctx context.Context, address, body string) error {
	m := mail.NewMsg()
	if err := m.From(s.cfg.From); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(address); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(Subject)
	m.SetBodyString(mail.TypeTextPlain, body)

	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTimeout(30 * time.Second),
	}
	if s.cfg.UseSSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}

	client, err := mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create smtp client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send notice to %s: %w", address, err)
	}
	return nil
}

// Noop drops every notice. It is used when no SMTP account is configured.
type Noop struct {
	logger *slog.Logger
}

func (n Noop) Send(_ context.Context, address, _ string) error {
	if n.logger != nil {
		n.logger.Debug("notifications disabled, dropping notice", slog.String("address", address))
	}
	return nil
}

// NewDispatcher picks the SMTP dispatcher when credentials are configured.
func NewDispatcher(cfg config.Mail, logger *slog.Logger) Dispatcher {
	if cfg.Username == "" {
		return Noop{logger: logger}
	}
	return NewSMTP(cfg)
}

var (
	_ Dispatcher = (*SMTP)(nil)
	_ Dispatcher = Noop{}
)
