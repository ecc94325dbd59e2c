package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SystemChannel is the reserved inbound channel for system-originated
// messages such as subagent completions.
const SystemChannel = "system"

// ErrInvalidDestination is returned when a "channel:chat_id" string cannot be split.
var ErrInvalidDestination = errors.New("invalid destination")

// Destination identifies where a reply is delivered.
type Destination struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
}

// String encodes the destination as "channel:chat_id".
func (d Destination) String() string {
	return d.Channel + ":" + d.ChatID
}

// IsZero reports whether no channel is set.
func (d Destination) IsZero() bool {
	return d.Channel == ""
}

// ParseDestination splits s on the first colon. Both halves must be non-empty,
// so "telegram:-100:5" yields channel "telegram" and chat "-100:5".
func ParseDestination(s string) (Destination, error) {
	channel, chatID, ok := strings.Cut(s, ":")
	if !ok || channel == "" || chatID == "" {
		return Destination{}, fmt.Errorf("%w: %q", ErrInvalidDestination, s)
	}
	return Destination{Channel: channel, ChatID: chatID}, nil
}

// InboundMessage is a message entering the agent from a channel or the system.
// It is passed by value and never mutated after publishing.
type InboundMessage struct {
	Channel    string
	SenderID   string
	ChatID     string
	Content    string
	Media      []string
	SessionKey string // optional override of Channel:ChatID
	Timestamp  time.Time

	// Origin is set on system messages and names the conversation the
	// result belongs to. When nil, ChatID is parsed as "channel:chat_id".
	Origin *Destination
}

// Key returns the session key for this message.
func (m InboundMessage) Key() string {
	if m.SessionKey != "" {
		return m.SessionKey
	}
	return m.Channel + ":" + m.ChatID
}

// IsSystem reports whether the message arrived on the system channel.
func (m InboundMessage) IsSystem() bool {
	return m.Channel == SystemChannel
}

// Route returns the destination for the reply. Ordinary messages reply to
// their own channel and chat; system messages reply to their origin.
func (m InboundMessage) Route() (Destination, error) {
	if !m.IsSystem() {
		return Destination{Channel: m.Channel, ChatID: m.ChatID}, nil
	}
	if m.Origin != nil {
		if m.Origin.Channel == "" || m.Origin.ChatID == "" {
			return Destination{}, fmt.Errorf("%w: %q", ErrInvalidDestination, m.Origin.String())
		}
		return *m.Origin, nil
	}
	return ParseDestination(m.ChatID)
}

// OutboundMessage is a reply addressed to a channel and chat.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Media   []string
}

// OutboundHandler delivers outbound messages for one channel.
type OutboundHandler func(OutboundMessage)

// MessageBus decouples channels from the agent loop.
type MessageBus interface {
	PublishInbound(msg InboundMessage)
	ConsumeInbound(ctx context.Context) (InboundMessage, bool)
	PublishOutbound(msg OutboundMessage)
	ConsumeOutbound(ctx context.Context) (OutboundMessage, bool)
	OnOutbound(channel string, handler OutboundHandler)
	Close()
}
