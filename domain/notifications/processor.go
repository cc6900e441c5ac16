package notifications

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rafaelsanoli/lavra.ai-sub000/internal/jobs"
	"github.com/rafaelsanoli/lavra.ai-sub000/pkg/logger"
)

var ErrUnknownChannel = errors.New("no sender for channel")

// Processor executes send-notification jobs by handing each one to the
// sender of its channel. Sender errors fail the whole attempt.
type Processor struct {
	senders Senders
	log     *slog.Logger
}

var _ jobs.Processor = (*Processor)(nil)

func NewProcessor(senders Senders, log *slog.Logger) *Processor {
	return &Processor{senders: senders, log: log.With(logger.Scope("notifications.processor"))}
}

func (p *Processor) Process(ctx context.Context, job *jobs.Job, _ jobs.ProgressFunc) (jobs.Result, error) {
	var payload SendNotificationPayload
	if err := job.Decode(&payload); err != nil {
		return jobs.Result{}, err
	}
	payload = payload.normalize()
	if err := payload.Validate(); err != nil {
		return jobs.Result{}, jobs.Permanent(err)
	}

	sender, ok := p.senders[payload.Channel]
	if !ok {
		return jobs.Result{}, jobs.Permanent(fmt.Errorf("%w %q", ErrUnknownChannel, payload.Channel))
	}

	res, err := sender.Send(ctx, payload)
	if err != nil {
		return jobs.Result{}, err
	}
	p.log.Debug("notification sent",
		slog.String("job_id", job.ID),
		slog.String("user_id", payload.UserID),
		slog.String("channel", string(payload.Channel)))
	return jobs.Result{Data: res}, nil
}
