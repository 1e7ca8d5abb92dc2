package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"house-notifier/pkg/notifier"
)

const sheetsBase = "https://docs.google.com/spreadsheets/d/"

// Sheet loads subscriptions from a link-shared Google Sheet via its CSV export.
type Sheet struct {
	client        *http.Client
	logger        *slog.Logger
	base          string
	spreadsheetID string
	gid           string
}

// NewSheet creates a loader for one tab (gid) of a spreadsheet. An empty gid means the first tab.
func NewSheet(client *http.Client, spreadsheetID, gid string, logger *slog.Logger) *Sheet {
	if gid == "" {
		gid = "0"
	}
	return &Sheet{
		client:        client,
		logger:        logger,
		base:          sheetsBase,
		spreadsheetID: spreadsheetID,
		gid:           gid,
	}
}

// ExportURL is the CSV export address of the sheet.
func (s *Sheet) ExportURL() string {
	return s.base + url.PathEscape(s.spreadsheetID) + "/export?format=csv&gid=" + url.QueryEscape(s.gid)
}

// Load downloads and parses the sheet.
func (s *Sheet) Load(ctx context.Context) ([]notifier.Subscription, error) {
	exportURL := s.ExportURL()
	var data []byte

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, exportURL, http.NoBody)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			startTime := time.Now()
			resp, err := s.client.Do(req)
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					s.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			s.logger.Info("Subscription sheet downloaded",
				"spreadsheet_id", s.spreadsheetID,
				"gid", s.gid,
				"status_code", resp.StatusCode,
				"duration_ms", time.Since(startTime).Milliseconds())

			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("HTTP %d", resp.StatusCode)
				if resp.StatusCode >= 400 && resp.StatusCode < 500 {
					return retry.Unrecoverable(err)
				}
				return err
			}

			data, err = io.ReadAll(io.LimitReader(resp.Body, 5<<20))
			if err != nil {
				return fmt.Errorf("read body: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(time.Second),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Info("Retrying sheet download after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("download subscription sheet: %w", err)
	}

	subs, err := ParseCSV(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse subscription sheet: %w", err)
	}
	return subs, nil
}
