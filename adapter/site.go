package adapter

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Site is a declarative adapter: a set of CSS selectors plus a freshness rule.
type Site struct {
	Host   string // Registrable host, e.g. "funda.nl"
	Origin string // Canonical origin for relative links, e.g. "https://www.funda.nl"
	Ready  string // Selector that appears once results have rendered

	// Container narrows the search to the first matching node. Empty means the whole document.
	Container string
	// Item selects listing nodes inside the container. Empty means the container's direct children.
	Item string
	// Link selects the anchor inside an item. Defaults to "a".
	Link string
	// Marker selects the freshness text inside an item. Empty means every item is fresh.
	Marker string

	Fresh Freshness
	Wait  time.Duration
}

var _ Adapter = (*Site)(nil)

func (s *Site) Name() string { return s.Host }

func (s *Site) Matches(pageURL string) bool { return hostMatches(pageURL, s.Host) }

func (s *Site) ReadySelector() string { return s.Ready }

func (s *Site) WaitTimeout() time.Duration {
	if s.Wait <= 0 {
		return DefaultWaitTimeout
	}
	return s.Wait
}

// Extract parses content and returns fresh listing links in document order.
// Duplicates are kept; deduplication happens against the subscriber's seen set.
func (s *Site) Extract(content, pageURL string) (links []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			links = nil
			err = fmt.Errorf("extract %s: %v", s.Host, r)
		}
	}()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("parse %s page: %w", s.Host, err)
	}

	container := doc.Selection
	if s.Container != "" {
		container = doc.Find(s.Container).First()
		if container.Length() == 0 {
			return nil, nil
		}
	}

	var items *goquery.Selection
	if s.Item == "" {
		items = container.Children()
	} else {
		items = container.Find(s.Item)
	}

	linkSel := s.Link
	if linkSel == "" {
		linkSel = "a"
	}

	items.Each(func(_ int, item *goquery.Selection) {
		href, ok := item.Find(linkSel).First().Attr("href")
		if !ok {
			// The item may itself be the anchor.
			if goquery.NodeName(item) != "a" {
				return
			}
			href, ok = item.Attr("href")
			if !ok {
				return
			}
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		if s.Marker != "" {
			if !s.Fresh.Fresh(item.Find(s.Marker).First().Text()) {
				return
			}
		}

		abs, ok := s.resolve(href)
		if !ok {
			return
		}
		links = append(links, abs)
	})

	return links, nil
}

// resolve turns a possibly relative href into an absolute URL on the site's origin.
func (s *Site) resolve(href string) (string, bool) {
	lower := strings.ToLower(href)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return href, true
	case strings.HasPrefix(href, "//"):
		return "https:" + href, true
	case strings.HasPrefix(lower, "www."), strings.HasPrefix(lower, s.Host):
		return "https://" + href, true
	}

	base, err := url.Parse(s.Origin)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	if ref.Scheme != "" && ref.Scheme != "http" && ref.Scheme != "https" {
		// javascript:, mailto: and friends are not listings.
		return "", false
	}
	return base.ResolveReference(ref).String(), true
}
