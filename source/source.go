// Package source loads subscription rows from where subscribers are managed.
package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"house-notifier/pkg/notifier"
)

// Loader returns the raw subscription rows for one run, in source order.
// Rows are not merged or filtered; that is the coordinator's job.
type Loader interface {
	Load(ctx context.Context) ([]notifier.Subscription, error)
}

// Column names of the subscription sheet.
const (
	ColumnEmail   = "email"
	ColumnLinks   = "links"
	ColumnSecret  = "secret"
	ColumnDisable = "disable"
	ColumnChatID  = "telegram_group_id"
)

// ParseCSV reads subscription rows from CSV with a header row. Column order is
// free; email and links are required. Rows without an email are dropped.
func ParseCSV(r io.Reader) ([]notifier.Subscription, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty sheet")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}
	for _, required := range []string{ColumnEmail, ColumnLinks} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var subs []notifier.Subscription
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", line, err)
		}

		email := field(rec, ColumnEmail)
		if email == "" {
			continue
		}
		subs = append(subs, notifier.Subscription{
			Email:    email,
			URLs:     SplitLinks(field(rec, ColumnLinks)),
			Secret:   field(rec, ColumnSecret),
			ChatID:   field(rec, ColumnChatID),
			Disabled: ParseDisabled(field(rec, ColumnDisable)),
		})
	}
	return subs, nil
}

// SplitLinks splits a newline-delimited cell into trimmed, non-empty URLs.
func SplitLinks(cell string) []string {
	var links []string
	for _, l := range strings.Split(strings.ReplaceAll(cell, "\r\n", "\n"), "\n") {
		if l = strings.TrimSpace(l); l != "" {
			links = append(links, l)
		}
	}
	return links
}

// ParseDisabled reports whether a disable cell means disabled: "true" in any case.
func ParseDisabled(cell string) bool {
	return strings.EqualFold(strings.TrimSpace(cell), "true")
}
