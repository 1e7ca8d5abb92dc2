// Package poll runs one check over every active subscription.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"house-notifier/crawl"
	"house-notifier/pkg/notifier"
)

// DefaultMaxConcurrent bounds how many subscriptions are processed at once.
const DefaultMaxConcurrent = 4

// ErrRunInProgress is returned when a check is requested while another is running.
var ErrRunInProgress = errors.New("a check is already running")

// Loader supplies the subscription rows for a run.
type Loader interface {
	Load(ctx context.Context) ([]notifier.Subscription, error)
}

// Crawler finds and records the new links for one subscription.
type Crawler interface {
	Crawl(ctx context.Context, sub notifier.Subscription) (*notifier.Outcome, error)
}

// Dispatcher notifies a subscriber about new links.
type Dispatcher interface {
	Dispatch(ctx context.Context, sub notifier.Subscription, links []string) []notifier.Result
}

// SubscriberReport is the outcome of one subscription in a run.
type SubscriberReport struct {
	Email    string            `json:"email"`
	URLs     int               `json:"urls"`
	NewLinks int               `json:"new_links"`
	Skipped  []SkipReport      `json:"skipped,omitempty"`
	Results  []notifier.Result `json:"notifications,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// SkipReport is the serializable form of a notifier.Skip.
type SkipReport struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// Report summarizes a run.
type Report struct {
	StartedAt       time.Time          `json:"started_at"`
	DurationMS      int64              `json:"duration_ms"`
	Rows            int                `json:"rows"`
	DisabledRows    int                `json:"disabled_rows"`
	Subscriptions   int                `json:"subscriptions"`
	NewLinks        int                `json:"new_links"`
	PersistFailures int                `json:"persist_failures"`
	Subscribers     []SubscriberReport `json:"subscribers"`
}

// Monitor coordinates runs: it owns no subscriber state of its own and only
// one run proceeds at a time.
type Monitor struct {
	loader        Loader
	crawler       Crawler
	dispatcher    Dispatcher
	logger        *slog.Logger
	maxConcurrent int

	running sync.Mutex
}

// New creates a new poll monitor.
func New(loader Loader, crawler Crawler, dispatcher Dispatcher, logger *slog.Logger, maxConcurrent int) *Monitor {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	return &Monitor{
		loader:        loader,
		crawler:       crawler,
		dispatcher:    dispatcher,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// Run loads the subscription rows and checks them. A loader failure aborts
// the run before any page is fetched.
// Overlapping runs are rejected before the loader is called.
func (m *Monitor) Run(ctx context.Context) (*Report, error) {
	if !m.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer m.running.Unlock()

	rows, err := m.loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	return m.checkAll(ctx, rows)
}

// CheckAll crawls every active subscription in rows and notifies subscribers
// about new links. Per-subscriber failures do not stop the others; they are
// listed in the report and joined into the returned error.
func (m *Monitor) CheckAll(ctx context.Context, rows []notifier.Subscription) (*Report, error) {
	if !m.running.TryLock() {
		return nil, ErrRunInProgress
	}
	defer m.running.Unlock()
	return m.checkAll(ctx, rows)
}

func (m *Monitor) checkAll(ctx context.Context, rows []notifier.Subscription) (*Report, error) {
	start := time.Now()
	active, disabled := Active(rows)
	report := &Report{
		StartedAt:     start,
		Rows:          len(rows),
		DisabledRows:  disabled,
		Subscriptions: len(active),
		Subscribers:   make([]SubscriberReport, len(active)),
	}

	m.logger.Info("Checking subscriptions",
		"rows", len(rows),
		"disabled_rows", disabled,
		"subscriptions", len(active),
		"timestamp", start.Format(time.RFC3339))

	errs := make([]error, len(active))
	var g errgroup.Group
	g.SetLimit(m.maxConcurrent)
	for i, sub := range active {
		g.Go(func() error {
			report.Subscribers[i], errs[i] = m.check(ctx, sub)
			return nil
		})
	}
	_ = g.Wait()

	for i, sr := range report.Subscribers {
		report.NewLinks += sr.NewLinks
		if errors.Is(errs[i], crawl.ErrPersist) {
			report.PersistFailures++
		}
	}
	report.DurationMS = time.Since(start).Milliseconds()

	m.logger.Info("Subscription check completed",
		"subscriptions", len(active),
		"new_links", report.NewLinks,
		"persist_failures", report.PersistFailures,
		"duration_ms", report.DurationMS)

	return report, errors.Join(errs...)
}

// check handles one subscription: crawl, then notify only if the new links were recorded.
func (m *Monitor) check(ctx context.Context, sub notifier.Subscription) (SubscriberReport, error) {
	sr := SubscriberReport{Email: sub.Email, URLs: len(sub.URLs)}

	out, err := m.crawler.Crawl(ctx, sub)
	if out != nil {
		for _, s := range out.Skips {
			skip := SkipReport{URL: s.URL, Reason: string(s.Reason)}
			if s.Err != nil {
				skip.Error = s.Err.Error()
			}
			sr.Skipped = append(sr.Skipped, skip)
		}
	}
	if err != nil {
		sr.Error = err.Error()
		if errors.Is(err, crawl.ErrPersist) {
			m.logger.Error("New links not recorded, subscriber not notified this run",
				"email", sub.Email,
				"error", err)
		} else {
			m.logger.Warn("Subscription check aborted", "email", sub.Email, "error", err)
		}
		return sr, err
	}

	sr.NewLinks = len(out.Links)
	if len(out.Links) == 0 {
		return sr, nil
	}

	m.logger.Info("New listings detected", "email", sub.Email, "count", len(out.Links))
	sr.Results = m.dispatcher.Dispatch(ctx, sub, out.Links)
	return sr, nil
}

// Active drops disabled rows and merges the rest by subscriber.
// A disabled row disables every row that shares its non-empty secret.
func Active(rows []notifier.Subscription) (active []notifier.Subscription, disabled int) {
	disabledSecrets := make(map[string]bool)
	for _, r := range rows {
		if r.Disabled && r.Secret != "" {
			disabledSecrets[r.Secret] = true
		}
	}

	kept := make([]notifier.Subscription, 0, len(rows))
	for _, r := range rows {
		if r.Disabled || disabledSecrets[r.Secret] {
			disabled++
			continue
		}
		kept = append(kept, r)
	}
	return Merge(kept), disabled
}

// Merge combines rows sharing an email into one subscription, in first-seen
// order. URLs are unioned in order. The first non-empty chat id and secret win,
// so a subscriber listed with two different chat groups only hears in the first.
func Merge(rows []notifier.Subscription) []notifier.Subscription {
	var merged []notifier.Subscription
	index := make(map[string]int)
	seenURL := make(map[string]map[string]bool)

	for _, r := range rows {
		email := strings.TrimSpace(r.Email)
		if email == "" {
			continue
		}
		i, ok := index[email]
		if !ok {
			i = len(merged)
			index[email] = i
			seenURL[email] = make(map[string]bool)
			merged = append(merged, notifier.Subscription{Email: email})
		}
		m := &merged[i]
		for _, u := range r.URLs {
			if seenURL[email][u] {
				continue
			}
			seenURL[email][u] = true
			m.URLs = append(m.URLs, u)
		}
		if m.ChatID == "" {
			m.ChatID = r.ChatID
		}
		if m.Secret == "" {
			m.Secret = r.Secret
		}
		m.Disabled = m.Disabled || r.Disabled
	}
	return merged
}
