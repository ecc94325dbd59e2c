package tool

import (
	"context"
	"strings"
	"testing"
)

func TestNewExecTool_Defaults(t *testing.T) {
	s := NewExecTool(ShellConfig{})
	if s.Name() != "exec" {
		t.Errorf("Name: got %q", s.Name())
	}
	if s.Description() == "" {
		t.Error("Description should not be empty")
	}
	if s.Parameters() == nil {
		t.Fatal("Parameters returned nil")
	}
}

func TestExecTool_EmptyCommand_Error(t *testing.T) {
	s := NewExecTool(ShellConfig{TimeoutSeconds: 5, MaxOutputBytes: 4096})
	ctx := context.Background()
	if _, err := s.Execute(ctx, map[string]any{}); err == nil {
		t.Fatal("expected error for missing command")
	}
	if _, err := s.Execute(ctx, map[string]any{"command": "   "}); err == nil {
		t.Fatal("expected error for whitespace-only command")
	}
}

func TestExecTool_Echo_Success(t *testing.T) {
	s := NewExecTool(ShellConfig{TimeoutSeconds: 5, MaxOutputBytes: 4096})
	out, err := s.Execute(context.Background(), map[string]any{"command": "echo hello"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(out, "hello") {
		t.Errorf("output should contain 'hello', got %q", out)
	}
}

func TestExecTool_ExitNonZero_ReturnsError(t *testing.T) {
	s := NewExecTool(ShellConfig{TimeoutSeconds: 5, MaxOutputBytes: 4096})
	if _, err := s.Execute(context.Background(), map[string]any{"command": "exit 1"}); err == nil {
		t.Fatal("expected error for exit 1")
	}
}

func TestExecTool_Timeout(t *testing.T) {
	s := NewExecTool(ShellConfig{TimeoutSeconds: 1})
	_, err := s.Execute(context.Background(), map[string]any{"command": "sleep 5"})
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestExecTool_DenyPattern(t *testing.T) {
	s := NewExecTool(ShellConfig{DenyPatterns: DefaultDenyPatterns()})
	_, err := s.Execute(context.Background(), map[string]any{"command": "sudo RM -RF /"})
	if err == nil || !strings.Contains(err.Error(), "blocked") {
		t.Fatalf("expected blocked error, got %v", err)
	}
}

func TestExecTool_TruncatesOutput(t *testing.T) {
	s := NewExecTool(ShellConfig{TimeoutSeconds: 5, MaxOutputBytes: 10})
	out, err := s.Execute(context.Background(), map[string]any{"command": "printf 'abcdefghijklmnopqrstuvwxyz'"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out, "abcdefghij") || !strings.Contains(out, "truncated") {
		t.Fatalf("unexpected output %q", out)
	}
}
