// Package scraper fetches listing search pages over HTTP.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"

	"house-notifier/pkg/notifier"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxBodyBytes     = 10 << 20
)

// HTTPStatusError is a non-200 response from a listing site.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPStatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// NotReadyError means the page never contained the expected content within the wait timeout.
type NotReadyError struct {
	URL      string
	Selector string
	Waited   time.Duration
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s not ready after %s: no element matches %q", e.URL, e.Waited, e.Selector)
}

// IsNotReady checks if an error is a readiness timeout.
func IsNotReady(err error) bool {
	var nr *NotReadyError
	return errors.As(err, &nr)
}

// Options tune how pages are requested.
type Options struct {
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	PollInterval   time.Duration // First delay before a readiness re-fetch; doubles after each
	ReadyAttempts  uint          // Page fetches allowed while waiting for the ready selector
	Attempts       uint          // Attempts per request for transient failures
	RetryDelay     time.Duration
}

// Scraper fetches rendered listing pages.
type Scraper struct {
	client *http.Client
	logger *slog.Logger
	opts   Options
}

// New creates a new scraper.
func New(client *http.Client, logger *slog.Logger, opts Options) *Scraper {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.ReadyAttempts == 0 {
		opts.ReadyAttempts = 3
	}
	if opts.Attempts == 0 {
		opts.Attempts = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = time.Second
	}
	return &Scraper{
		client: client,
		logger: logger,
		opts:   opts,
	}
}

// Fetch returns the content of req.URL once req.ReadySelector matches.
// A page without the selector is re-requested with doubling delays, at most
// ReadyAttempts times in total and never past req.WaitTimeout.
func (s *Scraper) Fetch(ctx context.Context, req notifier.FetchRequest) (string, error) {
	start := time.Now()
	deadline := start.Add(req.WaitTimeout)
	wait := s.opts.PollInterval
	polls := 0

	body, err := retry.DoWithData(
		func() (string, error) {
			polls++
			body, err := s.fetchPage(ctx, req.URL)
			if err != nil {
				return "", err
			}
			if req.ReadySelector == "" || ready(body, req.ReadySelector) {
				return body, nil
			}

			nr := &NotReadyError{URL: req.URL, Selector: req.ReadySelector, Waited: time.Since(start)}
			if !time.Now().Add(wait).Before(deadline) {
				return "", retry.Unrecoverable(nr)
			}
			wait *= 2
			return "", nr
		},
		retry.Attempts(s.opts.ReadyAttempts),
		retry.Delay(s.opts.PollInterval),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsNotReady),
	)
	if err != nil {
		if IsNotReady(err) {
			s.logger.Warn("Expected content never appeared",
				"url", req.URL,
				"selector", req.ReadySelector,
				"polls", polls)
		}
		return "", err
	}

	s.logger.Debug("Page ready",
		"url", req.URL,
		"selector", req.ReadySelector,
		"polls", polls,
		"duration_ms", time.Since(start).Milliseconds())
	return body, nil
}

func ready(body, selector string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return false
	}
	return doc.Find(selector).Length() > 0
}

func (s *Scraper) fetchPage(ctx context.Context, pageURL string) (string, error) {
	var body string

	err := retry.Do(
		func() error {
			s.logger.Debug("HTTP request starting", "method", "GET", "url", pageURL)

			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			s.setHeaders(req)

			startTime := time.Now()
			resp, err := s.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				s.logger.Warn("HTTP request failed",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("HTTP request completed",
				"url", pageURL,
				"status_code", resp.StatusCode,
				"duration_ms", duration.Milliseconds())

			if resp.StatusCode != http.StatusOK {
				return &HTTPStatusError{URL: pageURL, StatusCode: resp.StatusCode}
			}

			data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			body = string(data)
			return nil
		},
		retry.Attempts(s.opts.Attempts),
		retry.Delay(s.opts.RetryDelay),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(s.opts.RetryDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying fetch after error", "attempt", n, "url", pageURL, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var status *HTTPStatusError
			if errors.As(err, &status) {
				return status.Retryable()
			}
			return true
		}),
	)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return body, nil
}

// setHeaders sends Chrome-like headers plus client hints for the configured viewport.
func (s *Scraper) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", s.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "nl-NL,nl;q=0.9,en-US;q=0.8,en;q=0.7")
	// Accept-Encoding is left to http.Client so it can decompress transparently.
	req.Header.Set("Sec-Ch-Ua-Mobile", "?0")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
	if s.opts.ViewportWidth > 0 {
		req.Header.Set("Viewport-Width", strconv.Itoa(s.opts.ViewportWidth))
	}
	if s.opts.ViewportHeight > 0 {
		req.Header.Set("Sec-Ch-Viewport-Height", strconv.Itoa(s.opts.ViewportHeight))
	}
}
