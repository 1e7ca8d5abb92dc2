package config

import (
	"strings"
	"testing"
	"time"
)

var allKeys = []string{
	"MODE", "PORT", "SCHEDULE", "LOG_FORMAT", "LOG_LEVEL",
	"USER_AGENT", "VIEWPORT_WIDTH", "VIEWPORT_HEIGHT", "FETCH_TIMEOUT", "WAIT_TIMEOUT",
	"MAX_WORKERS", "MAX_SUBSCRIPTIONS",
	"GOOGLE_SPREADSHEET_ID", "GOOGLE_SPREADSHEET_GID", "SUBSCRIPTIONS_FILE",
	"STORAGE_BUCKET", "STORAGE_OBJECT", "LOCAL_STORAGE",
	"EMAIL_PROVIDER", "EMAIL_USER", "EMAIL_PASSWORD", "EMAIL_FROM", "EMAIL_FROM_NAME",
	"SMTP_HOST", "SMTP_PORT", "SMTP_TLS_MODE", "GOOGLE_CREDENTIALS_JSON", "BREVO_API_KEY",
	"TELEGRAM_BOT_TOKEN", "MOCK_NOTIFY",
	"OTEL_ENABLED", "OTEL_SERVICE_NAME", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_PROTOCOL",
	"OTEL_EXPORTER_OTLP_HEADERS", "OTEL_EXPORTER_OTLP_INSECURE", "OTEL_TRACES_SAMPLE_RATIO",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	cfg := FromEnv()

	if cfg.Mode != ModeOnce {
		t.Errorf("Mode = %q, want %q", cfg.Mode, ModeOnce)
	}
	if cfg.ViewportWidth != 1920 || cfg.ViewportHeight != 1080 {
		t.Errorf("viewport = %dx%d, want 1920x1080", cfg.ViewportWidth, cfg.ViewportHeight)
	}
	if cfg.WaitTimeout != 10*time.Second {
		t.Errorf("WaitTimeout = %v, want 10s", cfg.WaitTimeout)
	}
	if cfg.LocalStorage != "data/db.json" {
		t.Errorf("LocalStorage = %q", cfg.LocalStorage)
	}
	if cfg.EmailProvider != ProviderSMTP {
		t.Errorf("EmailProvider = %q, want smtp", cfg.EmailProvider)
	}
	if cfg.SpreadsheetGID != "0" {
		t.Errorf("SpreadsheetGID = %q, want 0", cfg.SpreadsheetGID)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	setEnv(t, map[string]string{
		"MODE":                       "Serve",
		"WAIT_TIMEOUT":               "10000",
		"FETCH_TIMEOUT":              "1m",
		"MAX_WORKERS":                "8",
		"OTEL_EXPORTER_OTLP_HEADERS": "a=1, b = 2 ,bad",
		"OTEL_TRACES_SAMPLE_RATIO":   "3",
	})
	cfg := FromEnv()

	if cfg.Mode != ModeServe {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if cfg.WaitTimeout != 10*time.Second {
		t.Errorf("WaitTimeout = %v, want 10s from milliseconds", cfg.WaitTimeout)
	}
	if cfg.FetchTimeout != time.Minute {
		t.Errorf("FetchTimeout = %v", cfg.FetchTimeout)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("MaxWorkers = %d", cfg.MaxWorkers)
	}
	if len(cfg.OTel.Headers) != 2 || cfg.OTel.Headers["b"] != "2" {
		t.Errorf("Headers = %v", cfg.OTel.Headers)
	}
	if cfg.OTel.SampleRatio != 1 {
		t.Errorf("SampleRatio = %v, want clamped to 1", cfg.OTel.SampleRatio)
	}
}

func TestProviderSelection(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "brevo key", env: map[string]string{"BREVO_API_KEY": "k"}, want: ProviderBrevo},
		{name: "gmail credentials", env: map[string]string{"GOOGLE_CREDENTIALS_JSON": "{}"}, want: ProviderGmail},
		{name: "mock wins", env: map[string]string{"MOCK_NOTIFY": "true", "BREVO_API_KEY": "k"}, want: ProviderMock},
		{name: "explicit", env: map[string]string{"EMAIL_PROVIDER": "SMTP", "BREVO_API_KEY": "k"}, want: ProviderSMTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, tt.env)
			if got := FromEnv().EmailProvider; got != tt.want {
				t.Errorf("EmailProvider = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	complete := map[string]string{
		"USER_AGENT":            "Mozilla/5.0",
		"GOOGLE_SPREADSHEET_ID": "sheet",
		"EMAIL_USER":            "me@gmail.com",
		"EMAIL_PASSWORD":        "app-password",
		"TELEGRAM_BOT_TOKEN":    "123:abc",
	}

	tests := []struct {
		name        string
		drop        string
		extra       map[string]string
		wantErr     bool
		wantMention string
	}{
		{name: "complete"},
		{name: "no user agent", drop: "USER_AGENT", wantErr: true, wantMention: "USER_AGENT"},
		{name: "no source", drop: "GOOGLE_SPREADSHEET_ID", wantErr: true, wantMention: "SUBSCRIPTIONS_FILE"},
		{name: "file source", drop: "GOOGLE_SPREADSHEET_ID", extra: map[string]string{"SUBSCRIPTIONS_FILE": "subs.yaml"}},
		{name: "no email password", drop: "EMAIL_PASSWORD", wantErr: true, wantMention: "EMAIL_PASSWORD"},
		{name: "no chat token", drop: "TELEGRAM_BOT_TOKEN", wantErr: true, wantMention: "TELEGRAM_BOT_TOKEN"},
		{name: "mock relaxes credentials", drop: "EMAIL_PASSWORD", extra: map[string]string{"MOCK_NOTIFY": "true", "TELEGRAM_BOT_TOKEN": ""}},
		{name: "bad mode", extra: map[string]string{"MODE": "daemon"}, wantErr: true, wantMention: "MODE"},
		{name: "brevo needs sender", extra: map[string]string{"BREVO_API_KEY": "k"}, wantErr: true, wantMention: "EMAIL_FROM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setEnv(t, complete)
			if tt.drop != "" {
				t.Setenv(tt.drop, "")
			}
			setEnv(t, tt.extra)

			err := FromEnv().Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantMention != "" && !strings.Contains(err.Error(), tt.wantMention) {
				t.Errorf("Validate() error %q does not name %s", err, tt.wantMention)
			}
		})
	}
}
