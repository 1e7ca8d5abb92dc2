// Package telegram posts notifications to Telegram group chats through the Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/codeGROOVE-dev/retry"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// MaxMessageLength is the Bot API limit for one message's text.
	MaxMessageLength = 4096
)

// APIError is an unsuccessful Bot API response.
type APIError struct {
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: HTTP %d: %s", e.StatusCode, e.Description)
}

// Client sends messages as one bot.
type Client struct {
	token   string
	apiBase string
	client  *http.Client
	logger  *slog.Logger
}

// New creates a new Telegram client for the bot identified by token.
func New(token string, logger *slog.Logger) *Client {
	return &Client{
		token:   token,
		apiBase: defaultAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

// Send posts text to chatID. Text longer than MaxMessageLength is split on
// line boundaries into several messages.
func (c *Client) Send(ctx context.Context, chatID, text string) error {
	if c.token == "" {
		return errors.New("telegram: no bot token configured")
	}
	if chatID == "" {
		return errors.New("telegram: empty chat id")
	}
	for _, part := range split(text, MaxMessageLength) {
		if err := c.sendMessage(ctx, chatID, part); err != nil {
			return err
		}
	}
	return nil
}

// SendLinks posts one message listing every link.
func (c *Client) SendLinks(ctx context.Context, chatID string, links []string) error {
	if len(links) == 0 {
		return nil
	}
	return c.Send(ctx, chatID, FormatLinks(links))
}

// FormatLinks renders the batched chat message for a set of new listings.
func FormatLinks(links []string) string {
	var b strings.Builder
	if len(links) == 1 {
		b.WriteString("New house found:\n")
	} else {
		fmt.Fprintf(&b, "%d new houses found:\n", len(links))
	}
	for _, link := range links {
		b.WriteString(link)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func (c *Client) sendMessage(ctx context.Context, chatID, text string) error {
	payload, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, DisableWebPagePreview: true})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	endpoint := c.apiBase + "/bot" + c.token + "/sendMessage"

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			startTime := time.Now()
			resp, err := c.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				// The URL carries the token; log without it.
				c.logger.Warn("Telegram request failed",
					"chat_id", chatID,
					"duration_ms", duration.Milliseconds())
				return errors.New("telegram: request failed")
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					c.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
			var parsed apiResponse
			_ = json.Unmarshal(body, &parsed)

			if resp.StatusCode == http.StatusOK && parsed.OK {
				c.logger.Info("Telegram message sent",
					"chat_id", chatID,
					"length", len(text),
					"duration_ms", duration.Milliseconds())
				return nil
			}

			apiErr := &APIError{StatusCode: resp.StatusCode, Description: parsed.Description}
			c.logger.Warn("Telegram API returned error",
				"chat_id", chatID,
				"status_code", resp.StatusCode,
				"description", parsed.Description)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return apiErr
			}
			return retry.Unrecoverable(apiErr)
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.logger.Info("Retrying Telegram send after error", "attempt", n, "error", err)
		}),
	)
}

// split breaks text into chunks of at most limit bytes, preferring line breaks.
func split(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var parts []string
	var cur strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			if cur.Len() > 0 {
				parts = append(parts, cur.String())
				cur.Reset()
			}
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			parts = append(parts, line[:cut])
			line = line[cut:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n")
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
