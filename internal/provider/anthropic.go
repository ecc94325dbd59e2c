package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"conduit/internal/domain"
)

const defaultAnthropicMaxTokens = 4096

// Anthropic implements domain.Provider for the Anthropic Messages API.
type Anthropic struct {
	name   string
	client anthropic.Client
	model  string
	logger *slog.Logger
}

type AnthropicConfig struct {
	Name       string
	APIKey     string
	APIBase    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	Logger     *slog.Logger
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Name == "" {
		cfg.Name = "anthropic"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-sonnet-4-5"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithHTTPClient(SharedHTTPClient(cfg.Timeout)),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.APIBase != "" {
		opts = append(opts, option.WithBaseURL(cfg.APIBase))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return &Anthropic{
		name:   cfg.Name,
		client: anthropic.NewClient(opts...),
		model:  cfg.Model,
		logger: cfg.Logger,
	}
}

func (a *Anthropic) Name() string { return a.name }

func (a *Anthropic) DefaultModel() string { return a.model }

func (a *Anthropic) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	system, messages := a.buildMessages(req.Messages)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if len(system) > 0 {
		params.System = system
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%s api error: %w", a.name, err)
	}

	out := &domain.ChatResponse{
		FinishReason: "stop",
		Usage: domain.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			tu := block.AsToolUse()
			args := map[string]any{}
			if raw, err := json.Marshal(tu.Input); err == nil {
				if err := json.Unmarshal(raw, &args); err != nil {
					a.logger.Warn("invalid tool input from model", "provider", a.name, "tool", tu.Name, "err", err)
					args = map[string]any{}
				}
			}
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{ID: tu.ID, Name: tu.Name, Arguments: args})
		}
	}
	out.Content = text.String()

	switch resp.StopReason {
	case "tool_use":
		out.FinishReason = "tool_calls"
	case "max_tokens":
		out.FinishReason = "length"
	}
	return out, nil
}

// buildMessages splits out system prompts and folds consecutive tool results
// into one user turn, since the Messages API expects strictly alternating roles.
func (a *Anthropic) buildMessages(msgs []domain.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var system []anthropic.TextBlockParam
	var out []anthropic.MessageParam

	push := func(role anthropic.MessageParamRole, blocks []anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			return
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case domain.RoleSystem:
			if m.Content != "" {
				system = append(system, anthropic.TextBlockParam{Text: m.Content})
			}

		case domain.RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, ref := range m.Media {
				img, err := loadImage(ref)
				if err != nil {
					a.logger.Warn("skipping media", "provider", a.name, "err", err)
					continue
				}
				if img.URL != "" {
					blocks = append(blocks, anthropic.NewTextBlock("[image: "+img.URL+"]"))
					continue
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(img.MediaType, img.Data))
			}
			push(anthropic.MessageParamRoleUser, blocks)

		case domain.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks)

		case domain.RoleTool:
			push(anthropic.MessageParamRoleUser, []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false),
			})
		}
	}
	return system, out
}

func buildAnthropicTools(defs []domain.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, d := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if props, ok := d.Parameters["properties"]; ok {
			schema.Properties = props
		}
		switch req := d.Parameters["required"].(type) {
		case []string:
			schema.Required = req
		case []any:
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, d.Name)
		if d.Description != "" {
			tools[i].OfTool.Description = anthropic.String(d.Description)
		}
	}
	return tools
}
