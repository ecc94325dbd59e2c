package main

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"conduit/internal/config"
	"conduit/internal/cron"
)

func TestScheduleFlags_Every(t *testing.T) {
	s, err := scheduleFlags{every: 90 * time.Second}.schedule()
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != cron.KindEvery || s.EveryMs != 90000 {
		t.Fatalf("unexpected schedule %+v", s)
	}
	if describeSchedule(s) != "every 1m30s" {
		t.Fatalf("describe = %q", describeSchedule(s))
	}
}

func TestScheduleFlags_CronAndAt(t *testing.T) {
	s, err := scheduleFlags{expr: "0 9 * * *", tz: "UTC"}.schedule()
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != cron.KindCron || s.Expr != "0 9 * * *" {
		t.Fatalf("unexpected schedule %+v", s)
	}

	at := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	s, err = scheduleFlags{at: at.Format(time.RFC3339)}.schedule()
	if err != nil {
		t.Fatal(err)
	}
	if s.Kind != cron.KindAt || s.AtMs != at.UnixMilli() {
		t.Fatalf("unexpected schedule %+v", s)
	}
}

func TestScheduleFlags_ExactlyOne(t *testing.T) {
	if _, err := (scheduleFlags{}).schedule(); err == nil {
		t.Error("no schedule should fail")
	}
	if _, err := (scheduleFlags{every: time.Minute, expr: "* * * * *"}).schedule(); err == nil {
		t.Error("two schedules should fail")
	}
	if _, err := (scheduleFlags{at: "tomorrow"}).schedule(); err == nil {
		t.Error("non RFC3339 --at should fail")
	}
}

func TestWriteWorkspaceTemplates_KeepsExisting(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "AGENTS.md"), []byte("mine"), 0o644); err != nil {
		t.Fatal(err)
	}

	created, err := writeWorkspaceTemplates(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(created) != len(workspaceTemplates)-1 {
		t.Fatalf("created %d files, want %d", len(created), len(workspaceTemplates)-1)
	}
	data, _ := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
	if string(data) != "mine" {
		t.Fatal("existing file was overwritten")
	}
	if _, err := os.Stat(filepath.Join(dir, "memory", "MEMORY.md")); err != nil {
		t.Fatalf("memory file missing: %v", err)
	}
	if info, err := os.Stat(filepath.Join(dir, "skills")); err != nil || !info.IsDir() {
		t.Fatal("skills directory missing")
	}

	again, err := writeWorkspaceTemplates(dir)
	if err != nil || len(again) != 0 {
		t.Fatalf("second run created %v, err %v", again, err)
	}
}

func TestRunOnboardPrompts(t *testing.T) {
	cfg := config.Defaults()
	ws := t.TempDir()
	input := strings.Join([]string{ws, "2", "sk-ant-test", "123:abc", "42, @bob"}, "\n") + "\n"

	if err := runOnboardPrompts(cfg, bufio.NewReader(strings.NewReader(input)), io.Discard); err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Workspace != ws {
		t.Errorf("workspace = %s", cfg.Agent.Workspace)
	}
	if cfg.Agent.Provider != "anthropic" || cfg.Providers["anthropic"].APIKey != "sk-ant-test" {
		t.Errorf("provider = %s %+v", cfg.Agent.Provider, cfg.Providers["anthropic"])
	}
	tg := cfg.Channels.Telegram
	if !tg.Enabled || tg.Token != "123:abc" || len(tg.AllowFrom) != 2 || tg.AllowFrom[1] != "@bob" {
		t.Errorf("telegram = %+v", tg)
	}
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("onboarded config invalid: %v", err)
	}
}

func TestRunOnboardPrompts_DefaultsOnEOF(t *testing.T) {
	cfg := config.Defaults()
	if err := runOnboardPrompts(cfg, bufio.NewReader(strings.NewReader("")), io.Discard); err != nil {
		t.Fatal(err)
	}
	if cfg.Agent.Provider != "openai" || cfg.Channels.Telegram.Enabled {
		t.Fatalf("unexpected config %+v", cfg.Agent)
	}
}

func TestApplyProviderPreset_OpenAICompatible(t *testing.T) {
	cfg := config.Defaults()
	applyProviderPreset(cfg, providerPresets[3], "")
	pc := cfg.Providers["ollama"]
	if cfg.Agent.Provider != "ollama" || pc.Kind != "openai" || pc.APIBase == "" || pc.DefaultModel == "" {
		t.Fatalf("unexpected provider %+v", pc)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug, "WARN": slog.LevelWarn, "error": slog.LevelError, "": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "conduit.log")
	l, closeFn, err := newLogger(config.LoggingConfig{Level: "info", Format: "json", File: path}, false)
	if err != nil {
		t.Fatal(err)
	}
	l.Info("hello", "k", "v")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"msg":"hello"`) {
		t.Fatalf("unexpected log output %q", data)
	}
}
