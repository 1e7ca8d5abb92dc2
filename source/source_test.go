package source

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"

	"house-notifier/pkg/notifier"
)

const sheetCSV = "email,links,secret,disable,telegram_group_id\n" +
	"a@example.com,\"https://www.funda.nl/koop/utrecht/\r\nhttps://www.pararius.nl/huurwoningen/utrecht\n\",s1,,-1001\n" +
	"b@example.com,https://www.jaap.nl/koophuizen/,s2,TRUE,\n" +
	",https://www.vbo.nl/,s3,,\n" +
	"c@example.com,,s4,false,\n"

func TestParseCSV(t *testing.T) {
	subs, err := ParseCSV(strings.NewReader(sheetCSV))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}

	want := []notifier.Subscription{
		{
			Email:  "a@example.com",
			URLs:   []string{"https://www.funda.nl/koop/utrecht/", "https://www.pararius.nl/huurwoningen/utrecht"},
			Secret: "s1",
			ChatID: "-1001",
		},
		{Email: "b@example.com", URLs: []string{"https://www.jaap.nl/koophuizen/"}, Secret: "s2", Disabled: true},
		{Email: "c@example.com", Secret: "s4"},
	}
	if !reflect.DeepEqual(subs, want) {
		t.Errorf("ParseCSV() =\n%+v\nwant\n%+v", subs, want)
	}
}

func TestParseCSVColumnOrderAndBOM(t *testing.T) {
	in := "\ufeffSecret, Links ,EMAIL\nxyz,https://www.zah.nl/aanbod,d@example.com\n"
	subs, err := ParseCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(subs) != 1 || subs[0].Email != "d@example.com" || subs[0].Secret != "xyz" {
		t.Errorf("ParseCSV() = %+v", subs)
	}
}

func TestParseCSVErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{name: "empty", in: ""},
		{name: "missing links column", in: "email,secret\na@example.com,x\n"},
		{name: "html login page", in: "<!DOCTYPE html><html><body>Sign in</body></html>\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseCSV(strings.NewReader(tt.in)); err == nil {
				t.Error("ParseCSV() error = nil, want error")
			}
		})
	}
}

func TestParseDisabled(t *testing.T) {
	tests := map[string]bool{
		"true":   true,
		"TRUE":   true,
		" True ": true,
		"false":  false,
		"":       false,
		"yes":    false,
		"1":      false,
	}
	for in, want := range tests {
		if got := ParseDisabled(in); got != want {
			t.Errorf("ParseDisabled(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSheetLoad(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = io.WriteString(w, sheetCSV)
	}))
	defer srv.Close()

	s := NewSheet(srv.Client(), "sheet-id", "7", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.base = srv.URL + "/spreadsheets/d/"

	subs, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(subs) != 3 {
		t.Errorf("Load() returned %d rows, want 3", len(subs))
	}
	if gotPath != "/spreadsheets/d/sheet-id/export" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "format=csv&gid=7" {
		t.Errorf("query = %q", gotQuery)
	}
}

func TestSheetLoadNotShared(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := NewSheet(srv.Client(), "sheet-id", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	s.base = srv.URL + "/"

	if _, err := s.Load(context.Background()); err == nil {
		t.Fatal("Load() error = nil, want error")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("requests = %d, want 1 (client errors are not retried)", got)
	}
}

func TestExportURLDefaultGID(t *testing.T) {
	s := NewSheet(http.DefaultClient, "abc", "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	if got, want := s.ExportURL(), "https://docs.google.com/spreadsheets/d/abc/export?format=csv&gid=0"; got != want {
		t.Errorf("ExportURL() = %q, want %q", got, want)
	}
}

func TestFileLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subscriptions.yaml")
	doc := `subscriptions:
  - email: " a@example.com "
    urls:
      - https://www.funda.nl/koop/utrecht/
      - |
        https://www.vbo.nl/koopwoningen
        https://www.zah.nl/aanbod
    secret: s1
    telegram_group_id: "-1001"
  - email: b@example.com
    urls: [https://www.jaap.nl/]
    secret: s2
    disable: true
  - urls: [https://www.huislijn.nl/]
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	subs, err := NewFile(path).Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []notifier.Subscription{
		{
			Email:  "a@example.com",
			URLs:   []string{"https://www.funda.nl/koop/utrecht/", "https://www.vbo.nl/koopwoningen", "https://www.zah.nl/aanbod"},
			Secret: "s1",
			ChatID: "-1001",
		},
		{Email: "b@example.com", URLs: []string{"https://www.jaap.nl/"}, Secret: "s2", Disabled: true},
	}
	if !reflect.DeepEqual(subs, want) {
		t.Errorf("Load() =\n%+v\nwant\n%+v", subs, want)
	}
}

func TestFileLoadMissing(t *testing.T) {
	if _, err := NewFile(filepath.Join(t.TempDir(), "nope.yaml")).Load(context.Background()); err == nil {
		t.Error("Load() error = nil, want error")
	}
}
