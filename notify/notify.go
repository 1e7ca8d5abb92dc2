// Package notify fans a batch of new listing links out to the configured channels.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"house-notifier/email"
	"house-notifier/pkg/notifier"
)

// Channel names used in results and logs.
const (
	ChannelEmail = "email"
	ChannelChat  = "telegram"
)

// EmailChannel delivers the templated links email.
type EmailChannel interface {
	SendLinks(ctx context.Context, to, secret string, links []string) error
}

// ChatChannel delivers one batched chat message.
type ChatChannel interface {
	SendLinks(ctx context.Context, chatID string, links []string) error
}

// Dispatcher sends notifications over every configured channel.
// Channels are independent: one failing never stops another.
type Dispatcher struct {
	email  EmailChannel
	chat   ChatChannel
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a dispatcher. Pass a nil channel (an untyped nil, not a nil
// pointer) to leave it unconfigured.
func New(emailCh EmailChannel, chatCh ChatChannel, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		email:  emailCh,
		chat:   chatCh,
		logger: logger,
		tracer: otel.Tracer("house-notifier/notify"),
	}
}

// Dispatch notifies sub about links. It returns one result per channel that
// applies to the subscriber: email first, then chat. No links means no results.
func (d *Dispatcher) Dispatch(ctx context.Context, sub notifier.Subscription, links []string) []notifier.Result {
	if len(links) == 0 {
		return nil
	}

	ctx, span := d.tracer.Start(ctx, "notify.dispatch", trace.WithAttributes(
		attribute.String("subscriber.email", sub.Email),
		attribute.Int("notify.links", len(links)),
	))
	defer span.End()

	var jobs []func() notifier.Result
	if d.email != nil {
		jobs = append(jobs, func() notifier.Result { return d.sendEmail(ctx, sub, links) })
	}
	if d.chat != nil {
		jobs = append(jobs, func() notifier.Result { return d.sendChat(ctx, sub, links) })
	}

	results := make([]notifier.Result, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = job()
		}()
	}
	wg.Wait()

	for _, r := range results {
		span.SetAttributes(attribute.String("notify."+r.Channel, string(r.Status)))
	}
	return results
}

func (d *Dispatcher) sendEmail(ctx context.Context, sub notifier.Subscription, links []string) notifier.Result {
	if !email.ValidAddress(sub.Email) {
		d.logger.Warn("Skipping email to invalid address", "email", sub.Email)
		return notifier.Result{Channel: ChannelEmail, Status: notifier.StatusSkipped, Detail: "invalid address"}
	}

	start := time.Now()
	if err := d.email.SendLinks(ctx, sub.Email, sub.Secret, links); err != nil {
		d.logger.Error("Email notification failed",
			"email", sub.Email,
			"links", len(links),
			"error", err)
		return notifier.Result{Channel: ChannelEmail, Status: notifier.StatusFailed, Err: err, Detail: err.Error()}
	}

	d.logger.Info("Email notification sent",
		"email", sub.Email,
		"links", len(links),
		"duration_ms", time.Since(start).Milliseconds())
	return notifier.Result{Channel: ChannelEmail, Status: notifier.StatusSent}
}

func (d *Dispatcher) sendChat(ctx context.Context, sub notifier.Subscription, links []string) notifier.Result {
	if sub.ChatID == "" {
		return notifier.Result{Channel: ChannelChat, Status: notifier.StatusSkipped, Detail: "no chat id"}
	}

	start := time.Now()
	if err := d.chat.SendLinks(ctx, sub.ChatID, links); err != nil {
		d.logger.Error("Chat notification failed",
			"email", sub.Email,
			"chat_id", sub.ChatID,
			"error", err)
		return notifier.Result{Channel: ChannelChat, Status: notifier.StatusFailed, Err: err, Detail: err.Error()}
	}

	d.logger.Info("Chat notification sent",
		"email", sub.Email,
		"chat_id", sub.ChatID,
		"links", len(links),
		"duration_ms", time.Since(start).Milliseconds())
	return notifier.Result{Channel: ChannelChat, Status: notifier.StatusSent}
}
