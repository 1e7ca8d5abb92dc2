// Package notifier contains the core domain types for the listing notification service.
package notifier

import "time"

// Subscription is one subscriber and the search pages they monitor.
// It is loaded fresh from the subscription source on every run and never persisted.
type Subscription struct {
	Email    string   `json:"email" yaml:"email"`                         // Subscriber email, unique key
	URLs     []string `json:"urls" yaml:"urls"`                           // Search result pages to monitor, in order
	Secret   string   `json:"secret" yaml:"secret"`                       // Opaque token rendered into outbound emails
	ChatID   string   `json:"chat_id,omitempty" yaml:"telegram_group_id"` // Optional Telegram group
	Disabled bool     `json:"disabled,omitempty" yaml:"disable"`          // Skip entirely when set
}

// SkipReason explains why a monitored URL produced no links in a run.
type SkipReason string

const (
	SkipMalformedURL  SkipReason = "malformed_url"
	SkipNoAdapter     SkipReason = "no_adapter"
	SkipFetchFailed   SkipReason = "fetch_failed"
	SkipExtractFailed SkipReason = "extract_failed"
)

// Skip records a monitored URL that was passed over, and why.
type Skip struct {
	Err    error
	URL    string
	Reason SkipReason
}

// Outcome is the result of crawling one subscription: listing URLs that are
// fresh, not previously reported to the subscriber, and unique within the run.
type Outcome struct {
	Email string
	Links []string
	Skips []Skip
}

// Status is the result of one notification channel attempt.
type Status string

const (
	StatusSent    Status = "sent"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Result is the outcome of delivering a batch of links over one channel.
type Result struct {
	Err     error  `json:"-"`
	Channel string `json:"channel"`
	Status  Status `json:"status"`
	Detail  string `json:"detail,omitempty"`
}

// FetchRequest asks a page fetcher for the rendered content of URL.
// The fetcher keeps waiting, up to WaitTimeout, until ReadySelector matches.
type FetchRequest struct {
	URL           string
	ReadySelector string
	WaitTimeout   time.Duration
}
