package email

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const brevoEndpoint = "https://api.brevo.com/v3/smtp/email"

// brevoTag groups notification emails in the Brevo dashboard.
const brevoTag = "new-houses"

// BrevoError is a non-2xx response from the Brevo transactional API.
type BrevoError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *BrevoError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("brevo: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("brevo: HTTP %d: %s: %s", e.StatusCode, e.Code, e.Message)
}

// Temporary reports whether resending may succeed.
func (e *BrevoError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// BrevoProvider sends listing emails through Brevo's transactional API.
type BrevoProvider struct {
	sender   brevoContact
	apiKey   string
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewBrevoProvider creates a new Brevo email provider.
func NewBrevoProvider(apiKey, fromAddr, fromName string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		sender:   brevoContact{Email: fromAddr, Name: fromName},
		apiKey:   apiKey,
		endpoint: brevoEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

type brevoSendRequest struct {
	Sender  brevoContact   `json:"sender"`
	To      []brevoContact `json:"to"`
	Subject string         `json:"subject"`
	HTML    string         `json:"htmlContent"`
	Tags    []string       `json:"tags,omitempty"`
}

type brevoContact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoResponse struct {
	MessageID string `json:"messageId"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Send delivers one email, retrying rate limits and server errors.
func (b *BrevoProvider) Send(ctx context.Context, to, subject, htmlBody string) error {
	payload, err := json.Marshal(brevoSendRequest{
		Sender:  b.sender,
		To:      []brevoContact{{Email: to}},
		Subject: subject,
		HTML:    htmlBody,
		Tags:    []string{brevoTag},
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			err := b.post(ctx, to, payload)
			var be *BrevoError
			if errors.As(err, &be) && !be.Temporary() {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Brevo email send after error", "attempt", n, "to", to, "error", err)
		}),
	)
}

// post makes a single API call.
func (b *BrevoProvider) post(ctx context.Context, to string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	start := time.Now()
	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("brevo request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			b.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	var parsed brevoResponse
	if body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil && len(body) > 0 {
		_ = json.Unmarshal(body, &parsed)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Warn("Brevo API rejected email",
			"to", to,
			"status_code", resp.StatusCode,
			"code", parsed.Code)
		return &BrevoError{StatusCode: resp.StatusCode, Code: parsed.Code, Message: parsed.Message}
	}

	b.logger.Info("Brevo email accepted",
		"to", to,
		"message_id", parsed.MessageID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
