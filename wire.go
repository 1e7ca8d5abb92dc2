package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"house-notifier/adapter"
	"house-notifier/config"
	"house-notifier/crawl"
	"house-notifier/email"
	"house-notifier/notify"
	"house-notifier/poll"
	"house-notifier/scraper"
	"house-notifier/source"
	"house-notifier/storage"
	"house-notifier/telegram"
)

type app struct {
	monitor *poll.Monitor
	closers []func() error
	logger  *slog.Logger
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Warn("Failed to close resource", "error", err)
		}
	}
}

// build wires every component from cfg and loads the seen store.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	store, err := newStore(ctx, cfg, logger, a)
	if err != nil {
		return nil, err
	}
	if err := store.Load(ctx); err != nil {
		a.Close()
		return nil, err
	}

	httpClient := &http.Client{Timeout: cfg.FetchTimeout}
	fetcher := scraper.New(httpClient, logger, scraper.Options{
		UserAgent:      cfg.UserAgent,
		ViewportWidth:  cfg.ViewportWidth,
		ViewportHeight: cfg.ViewportHeight,
	})
	crawler := crawl.New(fetcher, adapter.Default(cfg.WaitTimeout), store, logger, cfg.MaxWorkers)

	provider, err := newEmailProvider(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	// Leave chat unconfigured rather than holding a typed nil.
	var chat notify.ChatChannel
	if cfg.TelegramBotToken != "" {
		chat = telegram.New(cfg.TelegramBotToken, logger)
	} else {
		logger.Info("No TELEGRAM_BOT_TOKEN, chat notifications disabled")
	}
	dispatcher := notify.New(email.New(provider, logger), chat, logger)

	a.monitor = poll.New(newLoader(cfg, logger), crawler, dispatcher, logger, cfg.MaxSubscriptions)
	return a, nil
}

func newStore(ctx context.Context, cfg config.Config, logger *slog.Logger, a *app) (*storage.Store, error) {
	if cfg.StorageBucket == "" {
		logger.Info("Using local seen store", "path", cfg.LocalStorage)
		return storage.New(nil, "", "", cfg.LocalStorage, logger), nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	logger.Info("Using Cloud Storage seen store", "bucket", cfg.StorageBucket, "object", cfg.StorageObject)
	return storage.New(client, cfg.StorageBucket, cfg.StorageObject, "", logger), nil
}

func newLoader(cfg config.Config, logger *slog.Logger) poll.Loader {
	if cfg.SpreadsheetID != "" {
		return source.NewSheet(&http.Client{Timeout: cfg.FetchTimeout}, cfg.SpreadsheetID, cfg.SpreadsheetGID, logger)
	}
	return source.NewFile(cfg.SubscriptionsFile)
}

func newEmailProvider(ctx context.Context, cfg config.Config, logger *slog.Logger) (email.Provider, error) {
	switch cfg.EmailProvider {
	case config.ProviderMock:
		logger.Info("Mock email mode enabled")
		return email.NewMockProvider(logger), nil
	case config.ProviderBrevo:
		return email.NewBrevoProvider(cfg.BrevoAPIKey, cfg.EmailFrom, cfg.EmailFromName, logger), nil
	case config.ProviderGmail:
		service, err := initGmailService(ctx, cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("init gmail service: %w", err)
		}
		from := cfg.EmailFrom
		if from == "" {
			from = cfg.EmailUser
		}
		return email.NewGmailProvider(service, from, logger), nil
	default:
		return email.NewSMTPProvider(email.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.EmailUser,
			Password: cfg.EmailPassword,
			From:     cfg.EmailFrom,
			TLSMode:  cfg.SMTPTLSMode,
		}, logger), nil
	}
}

// initGmailService authenticates with the service account in credsJSON.
// It needs domain-wide delegation for the gmail.send scope.
func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON == "" {
		return nil, errors.New("GOOGLE_CREDENTIALS_JSON is required for the gmail provider")
	}
	return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
}
