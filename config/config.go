// Package config reads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Run modes.
const (
	ModeOnce  = "once"
	ModeServe = "serve"
)

// Email providers.
const (
	ProviderSMTP  = "smtp"
	ProviderGmail = "gmail"
	ProviderBrevo = "brevo"
	ProviderMock  = "mock"
)

// OTelConfig configures trace export.
type OTelConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

// Config is the full process configuration.
type Config struct {
	Mode      string
	Port      string
	Schedule  string // Cron expression for serve mode; empty disables the schedule
	LogFormat string
	LogLevel  string

	UserAgent        string
	ViewportWidth    int
	ViewportHeight   int
	FetchTimeout     time.Duration
	WaitTimeout      time.Duration
	MaxWorkers       int
	MaxSubscriptions int

	SpreadsheetID     string
	SpreadsheetGID    string
	SubscriptionsFile string

	StorageBucket string
	StorageObject string
	LocalStorage  string

	EmailProvider         string
	EmailUser             string
	EmailPassword         string
	EmailFrom             string
	EmailFromName         string
	SMTPHost              string
	SMTPPort              int
	SMTPTLSMode           string
	GoogleCredentialsJSON string
	BrevoAPIKey           string

	TelegramBotToken string
	MockNotify       bool

	OTel OTelConfig
}

// Load reads a .env file when present, then the environment.
// Variables already set in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(), nil
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() Config {
	otlpEndpoint := envString("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	mock := envBool("MOCK_NOTIFY", false)

	cfg := Config{
		Mode:      strings.ToLower(envString("MODE", ModeOnce)),
		Port:      envString("PORT", "8080"),
		Schedule:  envString("SCHEDULE", ""),
		LogFormat: strings.ToLower(envString("LOG_FORMAT", "json")),
		LogLevel:  strings.ToLower(envString("LOG_LEVEL", "info")),

		UserAgent:        envString("USER_AGENT", ""),
		ViewportWidth:    envInt("VIEWPORT_WIDTH", 1920),
		ViewportHeight:   envInt("VIEWPORT_HEIGHT", 1080),
		FetchTimeout:     envDuration("FETCH_TIMEOUT", 30*time.Second),
		WaitTimeout:      envDuration("WAIT_TIMEOUT", 10*time.Second),
		MaxWorkers:       envInt("MAX_WORKERS", 4),
		MaxSubscriptions: envInt("MAX_SUBSCRIPTIONS", 4),

		SpreadsheetID:     envString("GOOGLE_SPREADSHEET_ID", ""),
		SpreadsheetGID:    envString("GOOGLE_SPREADSHEET_GID", "0"),
		SubscriptionsFile: envString("SUBSCRIPTIONS_FILE", ""),

		StorageBucket: envString("STORAGE_BUCKET", ""),
		StorageObject: envString("STORAGE_OBJECT", "db.json"),
		LocalStorage:  envString("LOCAL_STORAGE", "data/db.json"),

		EmailUser:             envString("EMAIL_USER", ""),
		EmailPassword:         envString("EMAIL_PASSWORD", ""),
		EmailFrom:             envString("EMAIL_FROM", ""),
		EmailFromName:         envString("EMAIL_FROM_NAME", "House Notifier"),
		SMTPHost:              envString("SMTP_HOST", "smtp.gmail.com"),
		SMTPPort:              envInt("SMTP_PORT", 587),
		SMTPTLSMode:           envString("SMTP_TLS_MODE", "auto"),
		GoogleCredentialsJSON: envString("GOOGLE_CREDENTIALS_JSON", ""),
		BrevoAPIKey:           envString("BREVO_API_KEY", ""),

		TelegramBotToken: envString("TELEGRAM_BOT_TOKEN", ""),
		MockNotify:       mock,

		OTel: OTelConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: envString("OTEL_SERVICE_NAME", "house-notifier"),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
	}
	cfg.EmailProvider = resolveProvider(envString("EMAIL_PROVIDER", ""), cfg)
	return cfg
}

// resolveProvider honours an explicit choice, otherwise picks by which credentials are set.
func resolveProvider(explicit string, cfg Config) string {
	if explicit = strings.ToLower(explicit); explicit != "" {
		return explicit
	}
	switch {
	case cfg.MockNotify:
		return ProviderMock
	case cfg.BrevoAPIKey != "":
		return ProviderBrevo
	case cfg.GoogleCredentialsJSON != "":
		return ProviderGmail
	default:
		return ProviderSMTP
	}
}

// Validate checks every precondition for a run and names each one that fails.
func (c Config) Validate() error {
	var missing []string
	if c.UserAgent == "" {
		missing = append(missing, "USER_AGENT")
	}
	if c.SpreadsheetID == "" && c.SubscriptionsFile == "" {
		missing = append(missing, "GOOGLE_SPREADSHEET_ID or SUBSCRIPTIONS_FILE")
	}
	if !c.MockNotify {
		switch c.EmailProvider {
		case ProviderSMTP:
			if c.EmailUser == "" {
				missing = append(missing, "EMAIL_USER")
			}
			if c.EmailPassword == "" {
				missing = append(missing, "EMAIL_PASSWORD")
			}
		case ProviderGmail:
			if c.GoogleCredentialsJSON == "" {
				missing = append(missing, "GOOGLE_CREDENTIALS_JSON")
			}
		case ProviderBrevo:
			if c.BrevoAPIKey == "" {
				missing = append(missing, "BREVO_API_KEY")
			}
			if c.EmailFrom == "" {
				missing = append(missing, "EMAIL_FROM")
			}
		case ProviderMock:
		}
		if c.TelegramBotToken == "" {
			missing = append(missing, "TELEGRAM_BOT_TOKEN")
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", ")))
	}
	switch c.EmailProvider {
	case ProviderSMTP, ProviderGmail, ProviderBrevo, ProviderMock:
	default:
		errs = append(errs, fmt.Errorf("unknown EMAIL_PROVIDER %q", c.EmailProvider))
	}
	if c.Mode != ModeOnce && c.Mode != ModeServe {
		errs = append(errs, fmt.Errorf("unknown MODE %q (expected %s or %s)", c.Mode, ModeOnce, ModeServe))
	}
	if c.MaxWorkers <= 0 {
		errs = append(errs, errors.New("MAX_WORKERS must be positive"))
	}
	if c.MaxSubscriptions <= 0 {
		errs = append(errs, errors.New("MAX_SUBSCRIPTIONS must be positive"))
	}
	return errors.Join(errs...)
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

// envDuration accepts Go durations ("90s") and bare milliseconds ("10000").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:")
}
