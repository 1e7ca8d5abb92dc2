package email

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
)

// GmailProvider sends listing emails through the Gmail API as the authenticated account.
type GmailProvider struct {
	service  *gmail.Service
	logger   *slog.Logger
	fromAddr string // Optional; Gmail uses the account address when empty
}

// NewGmailProvider creates a new Gmail email provider.
func NewGmailProvider(service *gmail.Service, fromAddr string, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service:  service,
		logger:   logger,
		fromAddr: fromAddr,
	}
}

// sanitizeEmailHeader drops control characters so a value cannot start a new header.
func sanitizeEmailHeader(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}

// buildMIME assembles the raw RFC 5322 message the Gmail API expects.
// Non-ASCII subjects are Q-encoded.
func buildMIME(from, to, subject, htmlBody string) string {
	headers := [][2]string{{"MIME-Version", "1.0"}}
	if from != "" {
		headers = append(headers, [2]string{"From", sanitizeEmailHeader(from)})
	}
	headers = append(headers,
		[2]string{"To", sanitizeEmailHeader(to)},
		[2]string{"Subject", mime.QEncoding.Encode("utf-8", sanitizeEmailHeader(subject))},
		[2]string{"Content-Type", "text/html; charset=utf-8"},
	)

	var msg strings.Builder
	for _, h := range headers {
		msg.WriteString(h[0] + ": " + h[1] + "\r\n")
	}
	msg.WriteString("\r\n")
	msg.WriteString(htmlBody)
	return msg.String()
}

// permanentGmailError reports API rejections that a resend cannot fix.
func permanentGmailError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code >= 400 && apiErr.Code < 500 && apiErr.Code != http.StatusTooManyRequests
}

// Send sends an email via Gmail API.
func (g *GmailProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	to = sanitizeEmailHeader(to)
	raw := base64.URLEncoding.EncodeToString([]byte(buildMIME(g.fromAddr, to, subject, htmlBody)))

	return retry.Do(
		func() error {
			start := time.Now()
			sent, err := g.service.Users.Messages.Send("me", &gmail.Message{Raw: raw}).Context(ctx).Do()
			if err != nil {
				g.logger.Warn("Gmail API send failed",
					"to", to,
					"duration_ms", time.Since(start).Milliseconds(),
					"error", err)
				if permanentGmailError(err) {
					return retry.Unrecoverable(err)
				}
				return err
			}

			g.logger.Info("Gmail email sent",
				"to", to,
				"message_id", sent.Id,
				"duration_ms", time.Since(start).Milliseconds())
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail email send after error", "attempt", n, "to", to, "error", err)
		}),
	)
}
