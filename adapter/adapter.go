// Package adapter maps rendered listing pages to candidate listing URLs.
//
// Each supported website is described by an Adapter. The Registry picks the
// adapter for a monitored URL by host, first match wins.
package adapter

import (
	"net/url"
	"strings"
	"time"
)

// DefaultWaitTimeout bounds how long a fetcher waits for an adapter's expected content.
const DefaultWaitTimeout = 10 * time.Second

// Adapter extracts listing links from one website's search result pages.
type Adapter interface {
	// Name identifies the adapter in logs.
	Name() string
	// Matches reports whether the adapter handles the given page URL.
	Matches(pageURL string) bool
	// ReadySelector is the CSS selector whose presence means the page has rendered its results.
	ReadySelector() string
	// WaitTimeout bounds the wait for ReadySelector.
	WaitTimeout() time.Duration
	// Extract returns absolute listing URLs in document order.
	// A page without the expected container yields no links and no error.
	Extract(content, pageURL string) ([]string, error)
}

// Freshness decides whether an item counts as newly listed based on its marker text.
// An empty token set accepts everything.
type Freshness struct {
	Tokens []string
}

// Fresh reports whether text contains any accepted token, ignoring case.
func (f Freshness) Fresh(text string) bool {
	if len(f.Tokens) == 0 {
		return true
	}
	text = strings.ToLower(text)
	for _, tok := range f.Tokens {
		if tok != "" && strings.Contains(text, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

// Registry is an ordered list of adapters.
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates a registry that consults adapters in the given order.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters}
}

// Default returns a registry with every built-in site adapter.
// A positive wait replaces each site's own readiness timeout.
func Default(wait time.Duration) *Registry {
	sites := Sites()
	adapters := make([]Adapter, 0, len(sites))
	for _, s := range sites {
		if wait > 0 {
			s.Wait = wait
		}
		adapters = append(adapters, s)
	}
	return NewRegistry(adapters...)
}

// Resolve returns the first adapter matching pageURL.
// Unsupported sites are not an error; the caller skips them.
func (r *Registry) Resolve(pageURL string) (Adapter, bool) {
	for _, a := range r.adapters {
		if a.Matches(pageURL) {
			return a, true
		}
	}
	return nil, false
}

// hostMatches reports whether pageURL's host is host or a subdomain of it.
func hostMatches(pageURL, host string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Hostname() == "" {
		return strings.Contains(pageURL, host+"/")
	}
	h := strings.ToLower(u.Hostname())
	return h == host || strings.HasSuffix(h, "."+host)
}
