package scraper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"house-notifier/pkg/notifier"
)

func newTestScraper(opts Options) *Scraper {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if opts.PollInterval == 0 {
		opts.PollInterval = 5 * time.Millisecond
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = time.Millisecond
	}
	return New(&http.Client{Timeout: 5 * time.Second}, logger, opts)
}

func TestFetchSendsHeaders(t *testing.T) {
	var gotUA, gotWidth, gotHeight string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotWidth = r.Header.Get("Viewport-Width")
		gotHeight = r.Header.Get("Sec-Ch-Viewport-Height")
		_, _ = io.WriteString(w, `<div class="ready">ok</div>`)
	}))
	defer srv.Close()

	s := newTestScraper(Options{UserAgent: "house-bot/1.0", ViewportWidth: 1920, ViewportHeight: 1080})
	body, err := s.Fetch(context.Background(), notifier.FetchRequest{URL: srv.URL, ReadySelector: ".ready", WaitTimeout: time.Second})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(body, "ok") {
		t.Errorf("Fetch() body = %q", body)
	}
	if gotUA != "house-bot/1.0" {
		t.Errorf("User-Agent = %q, want house-bot/1.0", gotUA)
	}
	if gotWidth != "1920" || gotHeight != "1080" {
		t.Errorf("viewport hints = %q x %q, want 1920 x 1080", gotWidth, gotHeight)
	}
}

func TestFetchDefaultUserAgent(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	s := newTestScraper(Options{})
	if _, err := s.Fetch(context.Background(), notifier.FetchRequest{URL: srv.URL}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if gotUA != defaultUserAgent {
		t.Errorf("User-Agent = %q, want default", gotUA)
	}
}

func TestFetchWaitsForReadySelector(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			_, _ = io.WriteString(w, `<div class="loading"></div>`)
			return
		}
		_, _ = io.WriteString(w, `<div class="results"><a href="/1">1</a></div>`)
	}))
	defer srv.Close()

	s := newTestScraper(Options{})
	body, err := s.Fetch(context.Background(), notifier.FetchRequest{URL: srv.URL, ReadySelector: ".results", WaitTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if !strings.Contains(body, `class="results"`) {
		t.Errorf("Fetch() returned page before it was ready: %q", body)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestFetchNotReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<div class="loading"></div>`)
	}))
	defer srv.Close()

	s := newTestScraper(Options{})
	_, err := s.Fetch(context.Background(), notifier.FetchRequest{URL: srv.URL, ReadySelector: ".results", WaitTimeout: 30 * time.Millisecond})
	if !IsNotReady(err) {
		t.Fatalf("Fetch() error = %v, want NotReadyError", err)
	}
}

func TestFetchNotReadyBoundsRequests(t *testing.T) {
	tests := []struct {
		name         string
		opts         Options
		waitTimeout  time.Duration
		wantRequests int32
	}{
		{name: "default attempts", opts: Options{}, waitTimeout: 10 * time.Second, wantRequests: 3},
		{name: "custom attempts", opts: Options{ReadyAttempts: 2}, waitTimeout: 10 * time.Second, wantRequests: 2},
		{name: "next delay past timeout", opts: Options{PollInterval: time.Second}, waitTimeout: 50 * time.Millisecond, wantRequests: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				_, _ = io.WriteString(w, `<div class="loading"></div>`)
			}))
			defer srv.Close()

			s := newTestScraper(tt.opts)
			start := time.Now()
			_, err := s.Fetch(context.Background(), notifier.FetchRequest{URL: srv.URL, ReadySelector: ".results", WaitTimeout: tt.waitTimeout})
			if !IsNotReady(err) {
				t.Fatalf("Fetch() error = %v, want NotReadyError", err)
			}
			if got := hits.Load(); got != tt.wantRequests {
				t.Errorf("requests = %d, want %d", got, tt.wantRequests)
			}
			if elapsed := time.Since(start); elapsed > 2*time.Second {
				t.Errorf("Fetch() took %v, want well under the wait timeout", elapsed)
			}
		})
	}
}

func TestFetchStatusErrors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{name: "not found is not retried", status: http.StatusNotFound, wantCalls: 1},
		{name: "forbidden is not retried", status: http.StatusForbidden, wantCalls: 1},
		{name: "server error is retried", status: http.StatusBadGateway, wantCalls: 3},
		{name: "throttling is retried", status: http.StatusTooManyRequests, wantCalls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			s := newTestScraper(Options{Attempts: 3})
			_, err := s.Fetch(context.Background(), notifier.FetchRequest{URL: srv.URL, ReadySelector: ".x", WaitTimeout: time.Second})

			var statusErr *HTTPStatusError
			if !errors.As(err, &statusErr) {
				t.Fatalf("Fetch() error = %v, want HTTPStatusError", err)
			}
			if statusErr.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, tt.status)
			}
			if got := hits.Load(); got != tt.wantCalls {
				t.Errorf("requests = %d, want %d", got, tt.wantCalls)
			}
		})
	}
}

func TestFetchRecoversFromTransientError(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `<p id="ok"></p>`)
	}))
	defer srv.Close()

	s := newTestScraper(Options{Attempts: 3})
	if _, err := s.Fetch(context.Background(), notifier.FetchRequest{URL: srv.URL, ReadySelector: "#ok", WaitTimeout: time.Second}); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<div class="loading"></div>`)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := newTestScraper(Options{})
	if _, err := s.Fetch(ctx, notifier.FetchRequest{URL: srv.URL, ReadySelector: ".results", WaitTimeout: time.Minute}); err == nil {
		t.Fatal("Fetch() error = nil, want cancellation error")
	}
}
