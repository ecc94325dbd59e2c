package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"conduit/internal/domain"
)

// HeartbeatOK is the reply meaning nothing needed attention.
const HeartbeatOK = "HEARTBEAT_OK"

const heartbeatPrompt = "Read HEARTBEAT.md in your workspace and follow any instructions or tasks listed there. " +
	"If nothing needs attention, reply with just: " + HeartbeatOK

// DirectProcessor runs one exchange synchronously. *Loop implements it.
type DirectProcessor interface {
	ProcessDirect(ctx context.Context, content, sessionKey, channel, chatID string) (string, error)
}

// HeartbeatConfig configures the periodic HEARTBEAT.md check.
type HeartbeatConfig struct {
	Enabled         bool
	IntervalMinutes int
	Workspace       string
	Channel         string // where non-OK replies go; empty keeps them in the log
	ChatID          string
	Logger          *slog.Logger
}

// Heartbeat wakes the agent on an interval when HEARTBEAT.md has tasks in it.
type Heartbeat struct {
	enabled   bool
	interval  time.Duration
	workspace string
	channel   string
	chatID    string
	agent     DirectProcessor
	bus       domain.MessageBus
	logger    *slog.Logger
}

func NewHeartbeat(cfg HeartbeatConfig, agent DirectProcessor, bus domain.MessageBus) *Heartbeat {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval < time.Minute {
		interval = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Heartbeat{
		enabled:   cfg.Enabled,
		interval:  interval,
		workspace: cfg.Workspace,
		channel:   cfg.Channel,
		chatID:    cfg.ChatID,
		agent:     agent,
		bus:       bus,
		logger:    cfg.Logger.With("component", "heartbeat"),
	}
}

// Start runs the heartbeat until ctx is cancelled. Disabled heartbeats return at once.
func (h *Heartbeat) Start(ctx context.Context) {
	if !h.enabled {
		return
	}
	h.logger.Info("heartbeat started", "interval", h.interval, "channel", h.channel)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("heartbeat stopped")
			return
		case <-ticker.C:
			h.Tick(ctx)
		}
	}
}

// Tick performs one check. It returns the agent's reply, or "" when
// HEARTBEAT.md had nothing actionable.
func (h *Heartbeat) Tick(ctx context.Context) string {
	data, err := os.ReadFile(filepath.Join(h.workspace, "HEARTBEAT.md"))
	if err != nil || !heartbeatActionable(string(data)) {
		return ""
	}

	channel, chatID := h.channel, h.chatID
	if channel == "" {
		channel, chatID = "cli", "heartbeat"
	}
	reply, err := h.agent.ProcessDirect(ctx, heartbeatPrompt, "heartbeat", channel, chatID)
	if err != nil {
		h.logger.Error("heartbeat run failed", "err", err)
		return ""
	}

	if strings.Contains(strings.ToUpper(reply), HeartbeatOK) {
		h.logger.Debug("heartbeat ok")
		return reply
	}
	h.logger.Info("heartbeat produced output", "reply_len", len(reply))
	if h.bus != nil && h.channel != "" && h.chatID != "" {
		content := reply
		if strings.TrimSpace(content) == "" {
			content = EmptyReply
		}
		h.bus.PublishOutbound(domain.OutboundMessage{
			Channel: h.channel,
			ChatID:  h.chatID,
			Content: content,
		})
	}
	return reply
}

// heartbeatActionable reports whether content has anything besides headings,
// HTML comments and empty checkboxes.
func heartbeatActionable(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "",
			strings.HasPrefix(line, "#"),
			strings.HasPrefix(line, "<!--"),
			line == "- [ ]", line == "* [ ]", line == "- [x]", line == "* [x]":
			continue
		}
		return true
	}
	return false
}
