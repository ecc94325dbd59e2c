package tool

import (
	"context"
	"fmt"

	"conduit/internal/domain"
)

// MessageTool sends a message to a chat without ending the exchange.
// Without explicit channel/chat_id it targets the current conversation.
type MessageTool struct {
	bus domain.MessageBus
}

func NewMessageTool(bus domain.MessageBus) *MessageTool {
	return &MessageTool{bus: bus}
}

func (t *MessageTool) Name() string { return "message" }
func (t *MessageTool) Description() string {
	return "Send a message to the user. Use for progress updates or to reach a different chat."
}
func (t *MessageTool) Parameters() map[string]any {
	return ToolParameters(
		map[string]Param{
			"content": {Type: "string", Description: "Message text to send"},
			"channel": {Type: "string", Description: "Optional target channel (defaults to the current one)"},
			"chat_id": {Type: "string", Description: "Optional target chat id (defaults to the current one)"},
		},
		[]string{"content"},
	)
}

func (t *MessageTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	content := ArgsString(args, "content")
	if content == "" {
		return "", fmt.Errorf("missing argument: content")
	}
	channel := ArgsString(args, "channel")
	chatID := ArgsString(args, "chat_id")
	if scope, ok := ScopeFrom(ctx); ok {
		if channel == "" {
			channel = scope.Channel
		}
		if chatID == "" {
			chatID = scope.ChatID
		}
	}
	if channel == "" || chatID == "" {
		return "", fmt.Errorf("no target chat: pass channel and chat_id")
	}

	t.bus.PublishOutbound(domain.OutboundMessage{Channel: channel, ChatID: chatID, Content: content})
	return fmt.Sprintf("Message sent to %s:%s", channel, chatID), nil
}
