// Package email renders and sends the email channel of user notifications.
package email

import (
	"log/slog"

	"go.uber.org/fx"
)

// Module provides the email config, templates and sender
var Module = fx.Module("email",
	fx.Provide(
		NewConfig,
		NewTemplateService,
		NewSender,
	),
)

// NewSender creates the appropriate email sender based on configuration.
// Uses Mailgun when configured, otherwise falls back to no-op sender.
func NewSender(log *slog.Logger, cfg *Config) Sender {
	if cfg.IsConfigured() && cfg.Enabled {
		if s := NewMailgunSender(cfg, log); s != nil {
			log.Info("using Mailgun sender",
				slog.String("domain", cfg.MailgunDomain),
				slog.String("from", cfg.FromEmail))
			return s
		}
	}

	log.Info("using no-op email sender (Mailgun not configured or email disabled)")
	return &noOpSender{log: log}
}
