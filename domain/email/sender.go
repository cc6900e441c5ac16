package email

import (
	"context"
	"errors"
	"log/slog"
)

// ErrNoRecipient is returned when a message has no address to go to.
var ErrNoRecipient = errors.New("email: recipient address is required")

// Sender delivers one email. A returned error means the message was not
// accepted and the caller may try again.
type Sender interface {
	Send(ctx context.Context, opts SendOptions) (*SendResult, error)
}

// SendOptions contains options for sending an email
type SendOptions struct {
	To      string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

// SendResult contains the result of sending an email
type SendResult struct {
	MessageID string
}

// noOpSender logs instead of sending; used when Mailgun is not configured.
type noOpSender struct {
	log *slog.Logger
}

func (s *noOpSender) Send(_ context.Context, opts SendOptions) (*SendResult, error) {
	if opts.To == "" {
		return nil, ErrNoRecipient
	}
	s.log.Info("email send (no-op)",
		slog.String("to", opts.To),
		slog.String("subject", opts.Subject))
	return &SendResult{MessageID: "noop-" + opts.To}, nil
}
