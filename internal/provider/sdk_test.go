package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"conduit/internal/domain"
)

// captureServer answers every request with body and records the last
// decoded request payload.
func captureServer(t *testing.T, pathSuffix string, status int, body string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, pathSuffix) {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		if got != nil {
			if err := json.Unmarshal(raw, got); err != nil {
				t.Errorf("request body is not JSON: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func conversation() domain.ChatRequest {
	return domain.ChatRequest{
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Content: "be brief"},
			{Role: domain.RoleUser, Content: "list files"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{
				{ID: "call_1", Name: "exec", Arguments: map[string]any{"command": "ls"}},
				{ID: "call_2", Name: "exec", Arguments: map[string]any{"command": "pwd"}},
			}},
			{Role: domain.RoleTool, ToolCallID: "call_1", ToolName: "exec", Content: "a.txt"},
			{Role: domain.RoleTool, ToolCallID: "call_2", ToolName: "exec", Content: "/work"},
		},
		Tools: []domain.ToolDefinition{{
			Name:        "exec",
			Description: "run a command",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"command": map[string]any{"type": "string"}},
				"required":   []string{"command"},
			},
		}},
		MaxTokens:   256,
		Temperature: 0.5,
	}
}

const openAIToolReply = `{
  "id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-test",
  "choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
    "role": "assistant", "content": null,
    "tool_calls": [{"id": "call_9", "type": "function", "function": {"name": "read_file", "arguments": "{\"path\":\"a.txt\"}"}}]
  }}],
  "usage": {"prompt_tokens": 12, "completion_tokens": 3, "total_tokens": 15}
}`

func TestOpenAI_ChatToolCall(t *testing.T) {
	var got map[string]any
	srv := captureServer(t, "/chat/completions", http.StatusOK, openAIToolReply, &got)
	p := NewOpenAI(OpenAIConfig{APIKey: "test", APIBase: srv.URL + "/v1/", Model: "gpt-test", Logger: testLogger()})

	resp, err := p.Chat(context.Background(), conversation())
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].ID != "call_9" || resp.ToolCalls[0].Arguments["path"] != "a.txt" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" || resp.Usage.TotalTokens != 15 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if got["model"] != "gpt-test" {
		t.Errorf("model = %v", got["model"])
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 5 {
		t.Fatalf("expected 5 wire messages, got %d", len(msgs))
	}
	roles := make([]string, len(msgs))
	for i, m := range msgs {
		roles[i], _ = m.(map[string]any)["role"].(string)
	}
	if strings.Join(roles, ",") != "system,user,assistant,tool,tool" {
		t.Fatalf("roles = %v", roles)
	}
	tools, _ := got["tools"].([]any)
	if len(tools) != 1 {
		t.Fatalf("expected 1 tool on the wire, got %d", len(tools))
	}
}

func TestOpenAI_ChatText(t *testing.T) {
	body := `{"id":"c","object":"chat.completion","created":1,"model":"m","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`
	srv := captureServer(t, "/chat/completions", http.StatusOK, body, nil)
	p := NewOpenAI(OpenAIConfig{APIKey: "test", APIBase: srv.URL + "/v1/", Logger: testLogger()})

	resp, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hello" || resp.HasToolCalls() {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	srv := captureServer(t, "/chat/completions", http.StatusBadRequest, `{"error":{"message":"bad request","type":"invalid_request_error"}}`, nil)
	p := NewOpenAI(OpenAIConfig{APIKey: "test", APIBase: srv.URL + "/v1/", Logger: testLogger()})

	if _, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{{Role: domain.RoleUser, Content: "hi"}}}); err == nil {
		t.Fatal("expected error for 400 response")
	}
}

const anthropicToolReply = `{
  "id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
  "content": [
    {"type": "text", "text": "Reading it."},
    {"type": "tool_use", "id": "toolu_1", "name": "read_file", "input": {"path": "a.txt"}}
  ],
  "stop_reason": "tool_use", "stop_sequence": null,
  "usage": {"input_tokens": 20, "output_tokens": 7}
}`

func TestAnthropic_ChatToolCall(t *testing.T) {
	var got map[string]any
	srv := captureServer(t, "/v1/messages", http.StatusOK, anthropicToolReply, &got)
	p := NewAnthropic(AnthropicConfig{APIKey: "test", APIBase: srv.URL + "/", Model: "claude-test", Logger: testLogger()})

	resp, err := p.Chat(context.Background(), conversation())
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Reading it." {
		t.Fatalf("content = %q", resp.Content)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "read_file" || resp.ToolCalls[0].Arguments["path"] != "a.txt" {
		t.Fatalf("unexpected tool calls %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" || resp.Usage.TotalTokens != 27 {
		t.Fatalf("unexpected response %+v", resp)
	}

	if _, ok := got["system"]; !ok {
		t.Error("system prompt should travel in the system field")
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected user, assistant, user(tool results), got %d messages", len(msgs))
	}
	last := msgs[2].(map[string]any)
	blocks, _ := last["content"].([]any)
	if last["role"] != "user" || len(blocks) != 2 {
		t.Fatalf("tool results should fold into one user turn, got %+v", last)
	}
	if blocks[0].(map[string]any)["type"] != "tool_result" {
		t.Fatalf("expected tool_result block, got %+v", blocks[0])
	}
}

func TestAnthropic_ConsecutiveUserTurnsMerge(t *testing.T) {
	var got map[string]any
	body := `{"id":"m","type":"message","role":"assistant","model":"c","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`
	srv := captureServer(t, "/v1/messages", http.StatusOK, body, &got)
	p := NewAnthropic(AnthropicConfig{APIKey: "test", APIBase: srv.URL + "/", Logger: testLogger()})

	// An empty stored answer leaves two user turns back to back.
	_, err := p.Chat(context.Background(), domain.ChatRequest{Messages: []domain.Message{
		{Role: domain.RoleUser, Content: "first"},
		{Role: domain.RoleAssistant, Content: ""},
		{Role: domain.RoleUser, Content: "second"},
	}})
	if err != nil {
		t.Fatal(err)
	}
	msgs, _ := got["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected merged user turn, got %d messages", len(msgs))
	}
	if got["max_tokens"] != float64(defaultAnthropicMaxTokens) {
		t.Errorf("max_tokens = %v", got["max_tokens"])
	}
}
