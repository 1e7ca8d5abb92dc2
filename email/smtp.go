package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	mail "github.com/wneessen/go-mail"
)

// TLSMode determines how the SMTP client negotiates TLS.
type TLSMode string

const (
	// TLSModeAuto uses implicit TLS on port 465 and STARTTLS otherwise.
	TLSModeAuto     TLSMode = "auto"
	TLSModeDisabled TLSMode = "disabled"
	TLSModeStartTLS TLSMode = "starttls"
	TLSModeImplicit TLSMode = "implicit"
)

// SMTPConfig holds SMTP connection settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // Defaults to Username
	TLSMode  string
}

// SMTPProvider sends emails over SMTP, by default through Gmail.
type SMTPProvider struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

// NewSMTPProvider creates a new SMTP email provider.
func NewSMTPProvider(cfg SMTPConfig, logger *slog.Logger) *SMTPProvider {
	if cfg.Host == "" {
		cfg.Host = "smtp.gmail.com"
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPProvider{cfg: cfg, logger: logger}
}

// Send sends an HTML email over SMTP.
func (p *SMTPProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	m := mail.NewMsg()
	if err := m.From(p.cfg.From); err != nil {
		return fmt.Errorf("invalid from address %q: %w", p.cfg.From, err)
	}
	if err := m.To(to); err != nil {
		return fmt.Errorf("invalid to address %q: %w", to, err)
	}
	m.Subject(subject)
	m.SetBodyString(mail.TypeTextHTML, htmlBody)

	client, err := p.client()
	if err != nil {
		return err
	}

	return retry.Do(
		func() error {
			startTime := time.Now()
			err := client.DialAndSendWithContext(ctx, m)
			duration := time.Since(startTime)
			if err != nil {
				p.logger.Warn("SMTP send failed",
					"host", p.cfg.Host,
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				if permanentSMTPError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			p.logger.Info("SMTP send completed",
				"host", p.cfg.Host,
				"to", to,
				"duration_ms", duration.Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying SMTP send after error", "attempt", n, "error", err)
		}),
	)
}

// permanentSMTPError reports delivery failures a resend cannot fix: 5xx
// replies such as unknown mailbox or bad credentials, and malformed messages.
// Connection failures stay retryable.
func permanentSMTPError(err error) bool {
	var se *mail.SendError
	if !errors.As(err, &se) || se.IsTemp() {
		return false
	}
	switch se.Reason {
	case mail.ErrGetSender, mail.ErrGetRcpts, mail.ErrNoUnencoded:
		return true
	}
	return se.ErrorCode() >= 500
}

func (p *SMTPProvider) client() (*mail.Client, error) {
	mode, err := resolveTLSMode(p.cfg.TLSMode, p.cfg.Port)
	if err != nil {
		return nil, err
	}

	opts := []mail.Option{
		mail.WithPort(p.cfg.Port),
		mail.WithTLSConfig(&tls.Config{
			ServerName: p.cfg.Host,
			MinVersion: tls.VersionTLS12,
		}),
	}
	switch mode {
	case TLSModeDisabled:
		opts = append(opts, mail.WithTLSPortPolicy(mail.NoTLS))
	case TLSModeStartTLS:
		opts = append(opts, mail.WithTLSPortPolicy(mail.TLSMandatory))
	case TLSModeImplicit:
		opts = append(opts, mail.WithSSL())
	}
	if p.cfg.Username != "" {
		opts = append(opts,
			mail.WithUsername(p.cfg.Username),
			mail.WithPassword(p.cfg.Password),
			mail.WithSMTPAuth(mail.SMTPAuthAutoDiscover),
		)
	}

	client, err := mail.NewClient(p.cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create SMTP client: %w", err)
	}
	return client, nil
}

// resolveTLSMode normalizes mode and applies the port-based default for auto.
func resolveTLSMode(mode string, port int) (TLSMode, error) {
	switch strings.TrimSpace(strings.ToLower(mode)) {
	case "", string(TLSModeAuto):
		if port == 465 {
			return TLSModeImplicit, nil
		}
		return TLSModeStartTLS, nil
	case "disabled", "off", "none":
		return TLSModeDisabled, nil
	case "starttls", "start_tls":
		return TLSModeStartTLS, nil
	case "implicit", "smtps":
		return TLSModeImplicit, nil
	default:
		return "", fmt.Errorf("invalid smtp tls mode %q (expected auto, disabled, starttls or implicit)", mode)
	}
}
