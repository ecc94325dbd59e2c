package agent

import (
	"context"
	"fmt"
	"strings"

	"conduit/internal/session"
)

// ChatCommand represents a parsed chat command.
type ChatCommand struct {
	Name string   // command name without "/"
	Args []string // arguments after the command
	Raw  string   // original full text
}

// CommandResult holds the response for a handled command.
type CommandResult struct {
	Response string
	Handled  bool // true if the model must not see the message
}

// ParseCommand checks if a message starts with "/" and parses it into a
// ChatCommand. Returns nil if the message is not a command.
func ParseCommand(text string) *ChatCommand {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}
	parts := strings.Fields(text)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if name == "" {
		return nil
	}
	return &ChatCommand{Name: name, Args: parts[1:], Raw: text}
}

// HandleCommand runs a chat command against the caller's session. Unknown
// commands return Handled=false and go to the model as ordinary text.
func (l *Loop) HandleCommand(ctx context.Context, cmd *ChatCommand, sess *session.Session) CommandResult {
	switch cmd.Name {
	case "help":
		return CommandResult{Response: helpText(), Handled: true}

	case "new", "clear":
		if err := l.sessions.Clear(ctx, sess); err != nil {
			l.logger.Error("failed to persist cleared session", "session", sess.Key, "err", err)
		}
		return CommandResult{Response: "New session started.", Handled: true}

	case "tools":
		return CommandResult{Response: l.toolsText(), Handled: true}

	case "status":
		return CommandResult{Response: l.statusText(sess), Handled: true}
	}
	return CommandResult{Handled: false}
}

func helpText() string {
	return `Commands:
/new - Start a new conversation (clear history)
/clear - Same as /new
/tools - List available tools
/status - Show model and session info
/help - Show this help message`
}

func (l *Loop) toolsText() string {
	names := l.tools.Names()
	var sb strings.Builder
	fmt.Fprintf(&sb, "Available tools (%d):\n", len(names))
	for _, name := range names {
		if t := l.tools.Get(name); t != nil {
			fmt.Fprintf(&sb, "- %s: %s\n", name, t.Description())
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (l *Loop) statusText(sess *session.Session) string {
	provider := "none"
	if l.provider != nil {
		provider = l.provider.Name()
	}
	return fmt.Sprintf("Provider: %s\nModel: %s\nTools: %d\nSession: %s (%d messages)",
		provider, l.model, l.tools.Len(), sess.Key, sess.Len())
}
