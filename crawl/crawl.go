// Package crawl turns one subscription's monitored pages into the listing links
// the subscriber has not been told about yet.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"house-notifier/adapter"
	"house-notifier/pkg/notifier"
)

// DefaultMaxWorkers bounds concurrent page fetches across all subscriptions.
const DefaultMaxWorkers = 4

// Fetcher returns rendered page content.
type Fetcher interface {
	Fetch(ctx context.Context, req notifier.FetchRequest) (string, error)
}

// Resolver picks the adapter for a page URL.
type Resolver interface {
	Resolve(pageURL string) (adapter.Adapter, bool)
}

// SeenStore is the per-subscriber history of reported links.
type SeenStore interface {
	HasSeen(email, url string) bool
	RecordAll(ctx context.Context, email string, urls []string) error
}

// ErrPersist marks a failure to record new links. The links in the
// accompanying outcome were not committed and must not be notified.
var ErrPersist = errors.New("persist seen links")

// Crawler fetches and extracts monitored pages. One Crawler is shared by all
// subscriptions of a run so its worker and per-host limits apply globally.
type Crawler struct {
	fetcher  Fetcher
	resolver Resolver
	store    SeenStore
	logger   *slog.Logger
	tracer   trace.Tracer

	workers *semaphore.Weighted

	hostsMu sync.Mutex
	hosts   map[string]*semaphore.Weighted
}

// New creates a crawler allowing at most maxWorkers concurrent fetches.
func New(fetcher Fetcher, resolver Resolver, store SeenStore, logger *slog.Logger, maxWorkers int) *Crawler {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	return &Crawler{
		fetcher:  fetcher,
		resolver: resolver,
		store:    store,
		logger:   logger,
		tracer:   otel.Tracer("house-notifier/crawl"),
		workers:  semaphore.NewWeighted(int64(maxWorkers)),
		hosts:    make(map[string]*semaphore.Weighted),
	}
}

type pageResult struct {
	links []string
	skip  *notifier.Skip
}

// Crawl processes every URL of sub and records the new links in the store.
//
// Fetch and extraction failures become skips on the outcome rather than
// errors. The returned error is non-nil only when the run was cancelled, in
// which case nothing is recorded, or when recording failed (wrapping ErrPersist).
func (c *Crawler) Crawl(ctx context.Context, sub notifier.Subscription) (*notifier.Outcome, error) {
	ctx, span := c.tracer.Start(ctx, "crawl.subscription", trace.WithAttributes(
		attribute.String("subscriber.email", sub.Email),
		attribute.Int("subscription.urls", len(sub.URLs)),
	))
	defer span.End()

	start := time.Now()
	results := make([]pageResult, len(sub.URLs))

	var wg sync.WaitGroup
	for i, raw := range sub.URLs {
		pageURL, host, err := validate(raw)
		if err != nil {
			results[i].skip = &notifier.Skip{URL: raw, Reason: notifier.SkipMalformedURL, Err: err}
			continue
		}
		a, ok := c.resolver.Resolve(pageURL)
		if !ok {
			results[i].skip = &notifier.Skip{URL: pageURL, Reason: notifier.SkipNoAdapter}
			continue
		}

		wg.Add(1)
		go func(i int, pageURL, host string, a adapter.Adapter) {
			defer wg.Done()
			results[i] = c.page(ctx, pageURL, host, a)
		}(i, pageURL, host, a)
	}
	wg.Wait()

	out := &notifier.Outcome{Email: sub.Email}
	collected := make(map[string]struct{})
	for _, r := range results {
		if r.skip != nil {
			out.Skips = append(out.Skips, *r.skip)
			c.logger.Info("Skipped monitored URL",
				"email", sub.Email,
				"url", r.skip.URL,
				"reason", string(r.skip.Reason),
				"error", r.skip.Err)
			continue
		}
		for _, link := range r.links {
			if _, dup := collected[link]; dup {
				continue
			}
			collected[link] = struct{}{}
			if c.store.HasSeen(sub.Email, link) {
				continue
			}
			out.Links = append(out.Links, link)
		}
	}

	if err := ctx.Err(); err != nil {
		span.SetStatus(codes.Error, "cancelled")
		c.logger.Warn("Crawl cancelled, nothing recorded", "email", sub.Email, "error", err)
		return out, fmt.Errorf("crawl %s: %w", sub.Email, err)
	}

	span.SetAttributes(
		attribute.Int("crawl.new_links", len(out.Links)),
		attribute.Int("crawl.skips", len(out.Skips)),
	)
	c.logger.Info("Subscription crawled",
		"email", sub.Email,
		"urls", len(sub.URLs),
		"new_links", len(out.Links),
		"skipped", len(out.Skips),
		"duration_ms", time.Since(start).Milliseconds())

	if len(out.Links) == 0 {
		return out, nil
	}
	if err := c.store.RecordAll(ctx, sub.Email, out.Links); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return out, fmt.Errorf("%w for %s: %w", ErrPersist, sub.Email, err)
	}
	return out, nil
}

// page fetches and extracts one URL, holding the host's slot and a worker slot.
func (c *Crawler) page(ctx context.Context, pageURL, host string, a adapter.Adapter) pageResult {
	hostSem := c.hostSemaphore(host)
	if err := hostSem.Acquire(ctx, 1); err != nil {
		return pageResult{skip: &notifier.Skip{URL: pageURL, Reason: notifier.SkipFetchFailed, Err: err}}
	}
	defer hostSem.Release(1)

	if err := c.workers.Acquire(ctx, 1); err != nil {
		return pageResult{skip: &notifier.Skip{URL: pageURL, Reason: notifier.SkipFetchFailed, Err: err}}
	}
	defer c.workers.Release(1)

	ctx, span := c.tracer.Start(ctx, "crawl.page", trace.WithAttributes(
		attribute.String("page.url", pageURL),
		attribute.String("adapter", a.Name()),
	))
	defer span.End()

	content, err := c.fetcher.Fetch(ctx, notifier.FetchRequest{
		URL:           pageURL,
		ReadySelector: a.ReadySelector(),
		WaitTimeout:   a.WaitTimeout(),
	})
	if err != nil {
		span.RecordError(err)
		return pageResult{skip: &notifier.Skip{URL: pageURL, Reason: notifier.SkipFetchFailed, Err: err}}
	}

	links, err := a.Extract(content, pageURL)
	if err != nil {
		span.RecordError(err)
		return pageResult{skip: &notifier.Skip{URL: pageURL, Reason: notifier.SkipExtractFailed, Err: err}}
	}

	span.SetAttributes(attribute.Int("page.links", len(links)))
	c.logger.Debug("Page extracted", "url", pageURL, "adapter", a.Name(), "links", len(links))
	return pageResult{links: links}
}

func (c *Crawler) hostSemaphore(host string) *semaphore.Weighted {
	c.hostsMu.Lock()
	defer c.hostsMu.Unlock()
	sem, ok := c.hosts[host]
	if !ok {
		sem = semaphore.NewWeighted(1)
		c.hosts[host] = sem
	}
	return sem
}

// validate accepts absolute http(s) URLs and returns the trimmed URL and its host.
func validate(raw string) (pageURL, host string, err error) {
	pageURL = strings.TrimSpace(raw)
	if pageURL == "" {
		return "", "", errors.New("empty URL")
	}
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", errors.New("missing host")
	}
	return pageURL, strings.ToLower(u.Hostname()), nil
}
