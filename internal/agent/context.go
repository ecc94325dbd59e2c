package agent

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"conduit/internal/domain"
	"conduit/internal/skill"
)

// bootstrapFiles are read from the workspace root, in this order, when present.
var bootstrapFiles = []string{"AGENTS.md", "SOUL.md", "USER.md", "TOOLS.md", "IDENTITY.md"}

const memoryFile = "memory/MEMORY.md"

// ContextConfig configures a ContextBuilder.
type ContextConfig struct {
	Workspace string
	Name      string // assistant name shown in the identity block
	Skills    *skill.Set
	Extra     string // appended as custom instructions
	Subagent  bool   // task-focused identity, no bootstrap files
	Logger    *slog.Logger
	Now       func() time.Time
}

// ContextBuilder assembles the turns sent to the model. The system prompt is
// rebuilt on every call so edits to workspace files are picked up; it is
// never stored in a session.
type ContextBuilder struct {
	workspace string
	name      string
	skills    *skill.Set
	extra     string
	subagent  bool
	logger    *slog.Logger
	now       func() time.Time
}

func NewContextBuilder(cfg ContextConfig) *ContextBuilder {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Name == "" {
		cfg.Name = "Conduit"
	}
	return &ContextBuilder{
		workspace: cfg.Workspace,
		name:      cfg.Name,
		skills:    cfg.Skills,
		extra:     cfg.Extra,
		subagent:  cfg.Subagent,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// ForSubagent returns a builder sharing the workspace with a task-focused identity.
func (b *ContextBuilder) ForSubagent() *ContextBuilder {
	sub := *b
	sub.subagent = true
	sub.extra = ""
	return &sub
}

func (b *ContextBuilder) workspacePath() string {
	if abs, err := filepath.Abs(b.workspace); err == nil {
		return abs
	}
	return b.workspace
}

func (b *ContextBuilder) identity() string {
	now := b.now().Format("2006-01-02 15:04 (Monday)")
	rt := fmt.Sprintf("%s %s, Go %s", runtime.GOOS, runtime.GOARCH, runtime.Version())
	ws := b.workspacePath()

	if b.subagent {
		return fmt.Sprintf(`# Subagent

You are a subagent of %s working on one delegated task.

## Current Time
%s

## Runtime
%s

## Workspace
%s

## Rules
1. Complete the task, then reply with a concise summary of what you found or did.
2. Use tools to act; do not describe actions you did not take.
3. You cannot message the user or start other subagents. Your final reply is reported back for you.`,
			b.name, now, rt, ws)
	}

	return fmt.Sprintf(`# %s

You are %s, a helpful assistant with access to tools. You can read, write and
edit files in the workspace, run shell commands, fetch web pages, send
messages, schedule jobs and delegate work to subagents.

## Current Time
%s

## Runtime
%s

## Workspace
%s
- Long-term memory: %s/%s
- Skills: %s/skills

## Rules
1. When asked to do something, use the appropriate tool. Never say "I can't" without trying.
2. Do not output raw JSON tool calls in your reply. Use the tool calling mechanism.
3. After tools run, present results clearly and concisely.
4. Respond in the language the user writes in.
5. Keep durable facts about the user in the long-term memory file.`,
		b.name, b.name, now, rt, ws, ws, memoryFile, ws)
}

func (b *ContextBuilder) loadBootstrapFiles() string {
	var sb strings.Builder
	for _, name := range bootstrapFiles {
		data, err := os.ReadFile(filepath.Join(b.workspace, name))
		if err != nil {
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", name, content)
	}
	return strings.TrimSpace(sb.String())
}

func (b *ContextBuilder) loadMemory() string {
	data, err := os.ReadFile(filepath.Join(b.workspace, memoryFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// BuildSystemPrompt renders the system prompt for one model cycle.
func (b *ContextBuilder) BuildSystemPrompt(channel, chatID string) string {
	parts := []string{b.identity()}

	if !b.subagent {
		if boot := b.loadBootstrapFiles(); boot != "" {
			parts = append(parts, boot)
		}
		if mem := b.loadMemory(); mem != "" {
			parts = append(parts, "# Memory\n\n"+mem)
		}
	}
	if always := b.skills.AlwaysContent(); always != "" {
		parts = append(parts, "# Active Skills\n\n"+always)
	}
	if summary := b.skills.Summary(); summary != "" && !b.subagent {
		parts = append(parts, "# Skills\n\nThe following skills are available. Read a skill file with read_file before using it.\n\n"+summary)
	}
	if b.extra != "" {
		parts = append(parts, "## Custom Instructions\n\n"+b.extra)
	}

	prompt := strings.Join(parts, "\n\n---\n\n")
	if channel != "" && chatID != "" {
		prompt += fmt.Sprintf("\n\n## Current Session\nChannel: %s\nChat ID: %s", channel, chatID)
	}
	b.logger.Debug("system prompt built", "chars", len(prompt), "sections", len(parts))
	return prompt
}

// BuildMessages returns [system, history..., user]. Leading tool turns in
// history are dropped since their assistant turn was cut off by the limit.
func (b *ContextBuilder) BuildMessages(history []domain.Message, input string, media []string, channel, chatID string) []domain.Message {
	for len(history) > 0 && history[0].Role == domain.RoleTool {
		history = history[1:]
	}

	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{Role: domain.RoleSystem, Content: b.BuildSystemPrompt(channel, chatID)})
	for _, m := range history {
		msgs = append(msgs, m.Clone())
	}
	user := domain.Message{Role: domain.RoleUser, Content: input}
	if len(media) > 0 {
		user.Media = append([]string(nil), media...)
	}
	return append(msgs, user)
}

func (b *ContextBuilder) AddAssistantMessage(msgs []domain.Message, content string, calls []domain.ToolCall) []domain.Message {
	msg := domain.Message{Role: domain.RoleAssistant, Content: content}
	if len(calls) > 0 {
		msg.ToolCalls = append([]domain.ToolCall(nil), calls...)
	}
	return append(msgs, msg)
}

func (b *ContextBuilder) AddToolResult(msgs []domain.Message, callID, name, result string) []domain.Message {
	return append(msgs, domain.Message{
		Role:       domain.RoleTool,
		ToolCallID: callID,
		ToolName:   name,
		Content:    result,
	})
}
