package agent

import (
	"context"
	"log/slog"
	"strings"

	"conduit/internal/cron"
	"conduit/internal/domain"
)

// CronHandler returns a cron.Handler that runs each job's message as an
// agent turn in its own "cron:<id>" session. Jobs with Deliver set publish
// the reply to the job's chat.
func CronHandler(agent DirectProcessor, b domain.MessageBus, logger *slog.Logger) cron.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "cron.trigger")

	return func(ctx context.Context, job cron.Job) (string, error) {
		p := job.Payload
		channel, chatID := p.Channel, p.ChatID
		if channel == "" {
			channel = "cli"
		}
		if chatID == "" {
			chatID = "direct"
		}

		reply, err := agent.ProcessDirect(ctx, p.Message, "cron:"+job.ID, channel, chatID)
		if err != nil {
			return "", err
		}

		if p.Deliver && p.ChatID != "" && b != nil {
			content := reply
			if strings.TrimSpace(content) == "" {
				content = EmptyReply
			}
			b.PublishOutbound(domain.OutboundMessage{
				Channel: channel,
				ChatID:  chatID,
				Content: content,
			})
			logger.Debug("cron reply delivered", "job", job.ID, "channel", channel)
		}
		return reply, nil
	}
}
