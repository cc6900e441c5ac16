// Package notifications delivers user notifications over email, SMS, push
// and in-app channels as background jobs, and serves the in-app inbox.
package notifications

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/rafaelsanoli/lavra.ai-sub000/domain/email"
	"github.com/rafaelsanoli/lavra.ai-sub000/domain/events"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/config"
	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/fetch"
)

// Module provides the notification queue, its processor and the inbox API
var Module = fx.Module("notifications",
	fx.Provide(
		NewRepository,
		func(r *Repository) Store { return r },
		func(r *Repository) Inbox { return r },
		func(g *events.NotificationsGateway) InAppNotifier { return g },
		NewSenders,
		NewQueue,
		NewProcessor,
		jobs.AsProcessor(func(p *Processor) jobs.Registration {
			return jobs.Registration{Queue: jobs.QueueNotification, Processor: p}
		}),
		NewHandler,
	),
	fx.Invoke(RegisterRoutes),
)

// SendersParams are the collaborators of the channel senders.
type SendersParams struct {
	fx.In
	Mailer    email.Sender
	Templates *email.TemplateService
	Store     Store
	Notifier  InAppNotifier
	Config    *config.Config
	Log       *slog.Logger
}

// NewSenders builds one sender per channel.
func NewSenders(p SendersParams) Senders {
	nc := p.Config.Notifications
	return Senders{
		ChannelEmail: NewEmailSender(p.Mailer, p.Templates, p.Log),
		ChannelSMS:   NewWebhookSender(ChannelSMS, webhookClient("sms", nc.SMSWebhookURL, nc.WebhookToken, p.Config, p.Log), p.Log),
		ChannelPush:  NewWebhookSender(ChannelPush, webhookClient("push", nc.PushWebhookURL, nc.WebhookToken, p.Config, p.Log), p.Log),
		ChannelInApp: NewInAppSender(p.Store, p.Notifier),
	}
}

func webhookClient(source, url, token string, cfg *config.Config, log *slog.Logger) *fetch.Client {
	if url == "" {
		return nil
	}
	opts := fetch.Options{
		RatePerSecond: cfg.Fetchers.RatePerSecond,
		Burst:         cfg.Fetchers.Burst,
		Timeout:       cfg.Fetchers.Timeout,
	}
	if token != "" {
		opts.Headers = map[string]string{"Authorization": "Bearer " + token}
	}
	return fetch.NewClient(source, url, opts, log)
}
