package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/email"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/events"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

// Sender delivers one notification over a single channel. Errors wrapped
// with jobs.Permanent are not retried.
type Sender interface {
	Send(ctx context.Context, p SendNotificationPayload) (*SendResult, error)
}

// Senders maps each channel to its Sender.
type Senders map[Channel]Sender

// EmailSender renders the notification template and hands it to the mailer.
type EmailSender struct {
	mailer    email.Sender
	templates *email.TemplateService
	log       *slog.Logger
}

func NewEmailSender(mailer email.Sender, templates *email.TemplateService, log *slog.Logger) *EmailSender {
	return &EmailSender{mailer: mailer, templates: templates, log: log.With(logger.Scope("notifications.email"))}
}

func (s *EmailSender) Send(ctx context.Context, p SendNotificationPayload) (*SendResult, error) {
	data := email.TemplateContext{
		"title":   p.Title,
		"message": p.Message,
		"level":   string(p.Level),
	}
	if link, ok := p.Metadata["url"].(string); ok {
		data["ctaUrl"] = link
	}
	out, err := s.templates.Render("notification", data, "base")
	if err != nil {
		return nil, jobs.Permanent(err)
	}

	res, err := s.mailer.Send(ctx, email.SendOptions{
		To:      p.Recipient,
		Subject: p.Title,
		HTML:    out.HTML,
		Text:    out.Text,
	})
	if errors.Is(err, email.ErrNoRecipient) {
		return nil, jobs.Permanent(err)
	}
	if err != nil {
		return nil, err
	}
	return &SendResult{Channel: ChannelEmail, MessageID: res.MessageID}, nil
}

// WebhookSender posts SMS and push notifications to a delivery webhook.
// Without a client it only logs what it would have sent.
type WebhookSender struct {
	channel Channel
	client  *fetch.Client
	log     *slog.Logger
}

func NewWebhookSender(channel Channel, client *fetch.Client, log *slog.Logger) *WebhookSender {
	return &WebhookSender{
		channel: channel,
		client:  client,
		log:     log.With(logger.Scope("notifications.webhook"), slog.String("channel", string(channel))),
	}
}

type webhookMessage struct {
	To       string         `json:"to"`
	UserID   string         `json:"userId"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	Level    Level          `json:"level"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *WebhookSender) Send(ctx context.Context, p SendNotificationPayload) (*SendResult, error) {
	if s.client == nil {
		s.log.Info("notification send (no webhook configured)",
			slog.String("user_id", p.UserID),
			slog.String("to", p.Recipient),
			slog.String("title", p.Title))
		return &SendResult{Channel: s.channel}, nil
	}

	err := s.client.PostJSON(ctx, "", webhookMessage{
		To:       p.Recipient,
		UserID:   p.UserID,
		Title:    p.Title,
		Message:  p.Message,
		Level:    p.Level,
		Metadata: p.Metadata,
	}, nil)
	if err != nil {
		if !fetch.IsTemporary(err) {
			return nil, jobs.Permanent(err)
		}
		return nil, err
	}
	return &SendResult{Channel: s.channel}, nil
}

// InAppNotifier pushes a stored notification to the user's connections.
type InAppNotifier interface {
	NewNotification(ctx context.Context, userID string, n any) events.Delivery
}

// InAppSender stores the notification and pushes it over the realtime
// gateway. A failed push is logged by the gateway and does not fail the send.
type InAppSender struct {
	store    Store
	notifier InAppNotifier
}

func NewInAppSender(store Store, notifier InAppNotifier) *InAppSender {
	return &InAppSender{store: store, notifier: notifier}
}

func (s *InAppSender) Send(ctx context.Context, p SendNotificationPayload) (*SendResult, error) {
	meta := json.RawMessage("{}")
	if len(p.Metadata) > 0 {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return nil, jobs.Permanent(fmt.Errorf("%w: metadata: %v", ErrInvalidPayload, err))
		}
		meta = raw
	}

	n := &Notification{
		UserID:   p.UserID,
		Title:    p.Title,
		Message:  p.Message,
		Level:    p.Level,
		Metadata: meta,
	}
	if err := s.store.Create(ctx, n); err != nil {
		return nil, err
	}
	s.notifier.NewNotification(ctx, p.UserID, n)
	return &SendResult{Channel: ChannelInApp, NotificationID: n.ID}, nil
}
