package tool

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"testing"

	"conduit/internal/domain"
)

// stubTool is a minimal tool for testing the registry.
type stubTool struct {
	name   string
	result string
	err    error
	panics bool
	gotCtx context.Context
}

func (s *stubTool) Name() string        { return s.name }
func (s *stubTool) Description() string { return "stub: " + s.name }
func (s *stubTool) Parameters() map[string]any {
	return map[string]any{"type": "object", "properties": map[string]any{}}
}
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	s.gotCtx = ctx
	if s.panics {
		panic("boom")
	}
	return s.result, s.err
}

var _ domain.Tool = (*stubTool)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	if err := reg.Register(&stubTool{name: "test_tool", result: "ok"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	got := reg.Get("test_tool")
	if got == nil || got.Name() != "test_tool" {
		t.Fatalf("expected registered tool, got %v", got)
	}
	if reg.Get("nonexistent") != nil {
		t.Fatal("expected nil for unknown tool")
	}
}

func TestRegistry_DuplicateRejected(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister(&stubTool{name: "dup", result: "first"})
	err := reg.Register(&stubTool{name: "dup", result: "second"})
	if !errors.Is(err, ErrDuplicateTool) {
		t.Fatalf("expected ErrDuplicateTool, got %v", err)
	}
	res := reg.Execute(context.Background(), domain.ToolCall{ID: "1", Name: "dup"})
	if res.Content != "first" {
		t.Fatalf("original tool replaced: %q", res.Content)
	}
}

func TestRegistry_MustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry(testLogger())
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	reg.MustRegister(&stubTool{name: "a"}, &stubTool{name: "a"})
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister(&stubTool{name: "echo", result: "hello"})

	res := reg.Execute(context.Background(), domain.ToolCall{ID: "c1", Name: "echo"})
	if !res.OK || res.Content != "hello" || res.CallID != "c1" || res.Name != "echo" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister(&stubTool{name: "alpha"})

	res := reg.Execute(context.Background(), domain.ToolCall{ID: "c1", Name: "ghost"})
	if res.OK {
		t.Fatal("unknown tool should fail")
	}
	if !strings.Contains(res.Content, "ghost") || !strings.Contains(res.Content, "alpha") {
		t.Fatalf("result should name the tool and the available ones: %q", res.Content)
	}
}

func TestRegistry_ExecuteToolError(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister(&stubTool{name: "bad", result: "partial", err: errors.New("disk full")})

	res := reg.Execute(context.Background(), domain.ToolCall{ID: "c1", Name: "bad"})
	if res.OK {
		t.Fatal("expected failure")
	}
	if !strings.HasPrefix(res.Content, "Error: disk full") || !strings.Contains(res.Content, "partial") {
		t.Fatalf("unexpected content %q", res.Content)
	}
}

func TestRegistry_ExecutePanicRecovered(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister(&stubTool{name: "crash", panics: true})

	res := reg.Execute(context.Background(), domain.ToolCall{ID: "c1", Name: "crash"})
	if res.OK || !strings.Contains(res.Content, "panicked") {
		t.Fatalf("expected recovered panic result, got %+v", res)
	}
}

func TestRegistry_ExecutePassesScope(t *testing.T) {
	reg := NewRegistry(testLogger())
	st := &stubTool{name: "probe"}
	reg.MustRegister(st)

	ctx := WithScope(context.Background(), Scope{Channel: "telegram", ChatID: "7", SessionKey: "telegram:7"})
	reg.Execute(ctx, domain.ToolCall{ID: "c1", Name: "probe"})

	scope, ok := ScopeFrom(st.gotCtx)
	if !ok || scope.Channel != "telegram" || scope.ChatID != "7" {
		t.Fatalf("scope not visible to tool: %+v ok=%v", scope, ok)
	}
}

func TestRegistry_DefinitionsSorted(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.MustRegister(&stubTool{name: "zeta"}, &stubTool{name: "alpha"}, &stubTool{name: "mid"})

	defs := reg.Definitions()
	var names []string
	for _, d := range defs {
		names = append(names, d.Name)
	}
	if want := []string{"alpha", "mid", "zeta"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("definitions order = %v, want %v", names, want)
	}
	if !reflect.DeepEqual(reg.Names(), names) {
		t.Fatalf("Names = %v", reg.Names())
	}
}

func TestRegistry_Subset(t *testing.T) {
	reg := NewRegistry(testLogger())
	shared := &stubTool{name: "read_file", result: "x"}
	reg.MustRegister(shared, &stubTool{name: "spawn"}, &stubTool{name: "message"})

	sub := reg.Subset(NewFilter(nil, []string{"spawn", "message"}))
	if sub.Len() != 1 || sub.Get("read_file") != shared {
		t.Fatalf("subset = %v", sub.Names())
	}
	if reg.Len() != 3 {
		t.Fatal("parent registry modified")
	}
}

func TestFilter_DenyWins(t *testing.T) {
	f := NewFilter([]string{"exec", "read_file"}, []string{"exec"})
	if f.IsAllowed("exec") {
		t.Error("deny should win over allow")
	}
	if !f.IsAllowed("read_file") {
		t.Error("read_file should be allowed")
	}
	if f.IsAllowed("web_fetch") {
		t.Error("tool outside the allow list should be denied")
	}
	var nilFilter *Filter
	if !nilFilter.IsAllowed("anything") {
		t.Error("nil filter allows everything")
	}
}

func TestToolParameters_WithRequired(t *testing.T) {
	params := ToolParameters(map[string]Param{
		"path": {Type: "string", Description: "file path"},
	}, []string{"path"})
	if params["type"] != "object" {
		t.Fatalf("type = %v", params["type"])
	}
	props := params["properties"].(map[string]any)
	if _, ok := props["path"]; !ok {
		t.Fatal("missing path property")
	}
	if req := params["required"].([]string); len(req) != 1 || req[0] != "path" {
		t.Fatalf("required = %v", req)
	}
	if _, ok := ToolParameters(nil, nil)["required"]; ok {
		t.Fatal("required should be omitted when empty")
	}
}

func TestSchemaFor_ReflectsTags(t *testing.T) {
	schema := SchemaFor[editFileArgs]()
	if schema["type"] != "object" {
		t.Fatalf("type = %v", schema["type"])
	}
	if _, ok := schema["$schema"]; ok {
		t.Fatal("$schema should be stripped")
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok || props["old_text"] == nil {
		t.Fatalf("properties = %v", schema["properties"])
	}
	req, _ := schema["required"].([]any)
	if len(req) != 3 {
		t.Fatalf("required = %v", schema["required"])
	}
}

func TestDecodeArgs(t *testing.T) {
	in, err := DecodeArgs[editFileArgs](map[string]any{"path": "a.txt", "old_text": "x", "new_text": "y"})
	if err != nil {
		t.Fatalf("DecodeArgs: %v", err)
	}
	if in.Path != "a.txt" || in.OldText != "x" || in.NewText != "y" {
		t.Fatalf("decoded = %+v", in)
	}
	if _, err := DecodeArgs[editFileArgs](map[string]any{"path": 5}); err == nil {
		t.Fatal("expected type error")
	}
}

func TestArgsHelpers(t *testing.T) {
	args := map[string]any{"s": "hi", "n": float64(3), "ns": "7", "b": true, "obj": map[string]any{"k": 1}}
	if ArgsString(args, "s") != "hi" || ArgsString(args, "missing") != "" || ArgsString(nil, "s") != "" {
		t.Error("ArgsString basic cases")
	}
	if got := ArgsString(args, "obj"); got != `{"k":1}` {
		t.Errorf("ArgsString non-string = %q", got)
	}
	if ArgsInt(args, "n", 0) != 3 || ArgsInt(args, "ns", 0) != 7 || ArgsInt(args, "missing", 9) != 9 {
		t.Error("ArgsInt cases")
	}
	if !ArgsBool(args, "b", false) || ArgsBool(args, "missing", false) {
		t.Error("ArgsBool cases")
	}
}
