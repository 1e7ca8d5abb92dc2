// Package email sends new-listing notifications via multiple providers.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
)

// DefaultSubject is the subject line of every notification.
const DefaultSubject = "New Houses Found"

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Sender renders notification emails and hands them to a provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	subject  string
}

// New creates a new email sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		subject:  DefaultSubject,
	}
}

// ValidAddress performs the structural check applied before any email is sent.
func ValidAddress(addr string) bool {
	if len(addr) < 3 || len(addr) > 254 {
		return false
	}
	_, err := mail.ParseAddress(addr)
	return err == nil && emailRegex.MatchString(addr)
}

// SendLinks emails the subscriber the listing links found for them.
func (s *Sender) SendLinks(ctx context.Context, to, secret string, links []string) error {
	if len(links) == 0 {
		return nil
	}
	if !ValidAddress(to) {
		return fmt.Errorf("invalid recipient %q", to)
	}

	body, err := renderLinks(secret, links)
	if err != nil {
		return fmt.Errorf("render email: %w", err)
	}

	s.logger.Info("Sending notification email",
		"to", to,
		"subject", s.subject,
		"link_count", len(links))

	if err := s.provider.Send(ctx, to, s.subject, body); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}
