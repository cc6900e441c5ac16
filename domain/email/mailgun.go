package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mailgun/mailgun-go/v4"

	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

const sendTimeout = 30 * time.Second

// MailgunSender sends emails via Mailgun API.
type MailgunSender struct {
	cfg    *Config
	log    *slog.Logger
	client *mailgun.MailgunImpl
}

// NewMailgunSender creates a new Mailgun email sender.
// Returns nil if Mailgun is not configured.
func NewMailgunSender(cfg *Config, log *slog.Logger) *MailgunSender {
	if !cfg.IsConfigured() {
		return nil
	}
	return &MailgunSender{
		cfg:    cfg,
		log:    log.With(logger.Scope("email.mailgun")),
		client: mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunAPIKey),
	}
}

// SetAPIBase points the client at another Mailgun endpoint (EU region, tests).
func (s *MailgunSender) SetAPIBase(address string) {
	s.client.SetAPIBase(address)
}

// Send sends an email via Mailgun.
func (s *MailgunSender) Send(ctx context.Context, opts SendOptions) (*SendResult, error) {
	if opts.To == "" {
		return nil, ErrNoRecipient
	}

	to := opts.To
	if opts.ToName != "" {
		to = fmt.Sprintf("%s <%s>", opts.ToName, opts.To)
	}
	from := fmt.Sprintf("%s <%s>", s.cfg.FromName, s.cfg.FromEmail)

	message := s.client.NewMessage(from, opts.Subject, opts.Text, to)
	if opts.HTML != "" {
		message.SetHtml(opts.HTML)
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	_, messageID, err := s.client.Send(sendCtx, message)
	if err != nil {
		return nil, fmt.Errorf("mailgun send to %s: %w", opts.To, err)
	}

	s.log.Info("email sent",
		slog.String("to", opts.To),
		slog.String("message_id", messageID))
	return &SendResult{MessageID: messageID}, nil
}
