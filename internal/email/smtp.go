package email

import (
	"context"
	"fmt"
	"time"

	"newsdigest/internal/config"

	"github.com/wneessen/go-mail"
)

const defaultSMTPTimeout = 30 * time.Second

// SMTPTransport sends messages through an SMTP relay.
type SMTPTransport struct {
	client *mail.Client
}

// NewSMTPTransport builds a transport from the SMTP configuration.
// Authentication is only enabled when a username is configured.
func NewSMTPTransport(cfg config.SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(config.Duration(cfg.Timeout, defaultSMTPTimeout)),
	}
	switch {
	case cfg.Port == 465:
		opts = append(opts, mail.WithSSL())
	case cfg.TLSEnabled:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}
	return &SMTPTransport{client: client}, nil
}

// Verify dials the server, authenticates and disconnects.
func (t *SMTPTransport) Verify(ctx context.Context) error {
	if err := t.client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	return t.client.Close()
}

// Send delivers one multipart/alternative message.
func (t *SMTPTransport) Send(ctx context.Context, msg Message) error {
	m, err := buildMessage(msg)
	if err != nil {
		return err
	}
	if err := t.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func buildMessage(msg Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if msg.FromName != "" {
		if err := m.FromFormat(msg.FromName, msg.From); err != nil {
			return nil, fmt.Errorf("invalid sender address: %w", err)
		}
	} else if err := m.From(msg.From); err != nil {
		return nil, fmt.Errorf("invalid sender address: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Text)
	m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	return m, nil
}
