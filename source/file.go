package source

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"house-notifier/pkg/notifier"
)

// File loads subscriptions from a local YAML file:
//
//	subscriptions:
//	  - email: a@example.com
//	    urls:
//	      - https://www.funda.nl/koop/utrecht/
//	    secret: abc
//	    telegram_group_id: "-1001234"
//	    disable: false
type File struct {
	path string
}

// NewFile creates a loader reading path on every Load.
func NewFile(path string) *File {
	return &File{path: path}
}

type fileDoc struct {
	Subscriptions []notifier.Subscription `yaml:"subscriptions"`
}

// Load reads and parses the file.
func (f *File) Load(_ context.Context) ([]notifier.Subscription, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("read subscriptions file: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML parses a subscriptions document. Rows without an email are dropped.
func ParseYAML(data []byte) ([]notifier.Subscription, error) {
	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse subscriptions yaml: %w", err)
	}

	subs := make([]notifier.Subscription, 0, len(doc.Subscriptions))
	for _, s := range doc.Subscriptions {
		s.Email = strings.TrimSpace(s.Email)
		if s.Email == "" {
			continue
		}
		var urls []string
		for _, u := range s.URLs {
			urls = append(urls, SplitLinks(u)...)
		}
		s.URLs = urls
		s.Secret = strings.TrimSpace(s.Secret)
		s.ChatID = strings.TrimSpace(s.ChatID)
		subs = append(subs, s)
	}
	return subs, nil
}
