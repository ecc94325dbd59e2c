package skill

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSkill(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "weather.yaml", "name: weather\ndescription: Look up forecasts\ninstructions: Use web_fetch on wttr.in.\n")
	writeSkill(t, dir, "tone.yml", "description: House style\nalways: true\ninstructions: |\n  Answer briefly.\n")
	writeSkill(t, dir, "broken.yaml", "name: [unclosed\n")
	writeSkill(t, dir, "empty.yaml", "name: empty\n")
	writeSkill(t, dir, "notes.txt", "ignored")

	skills, err := LoadFromDirectory(dir, quietLogger())
	if err != nil {
		t.Fatalf("LoadFromDirectory: %v", err)
	}
	if len(skills) != 2 {
		t.Fatalf("expected 2 skills, got %+v", skills)
	}
	if skills[0].Name != "tone" || !skills[0].Always {
		t.Fatalf("name should default to file stem: %+v", skills[0])
	}
	if skills[1].Name != "weather" || skills[1].Path == "" {
		t.Fatalf("unexpected %+v", skills[1])
	}
}

func TestLoadFromDirectory_Missing(t *testing.T) {
	skills, err := LoadFromDirectory(filepath.Join(t.TempDir(), "nope"), quietLogger())
	if err != nil || skills != nil {
		t.Fatalf("missing dir = %v, %v", skills, err)
	}
}

func TestSet_SummaryAndAlways(t *testing.T) {
	set := NewSet([]Skill{
		{Name: "weather", Description: "forecasts", Instructions: "fetch", Path: "/s/weather.yaml"},
		{Name: "tone", Instructions: "Answer briefly.", Always: true},
	})
	if set.Len() != 2 {
		t.Fatalf("Len = %d", set.Len())
	}
	if got := set.Summary(); got != "- weather: forecasts (/s/weather.yaml)" {
		t.Fatalf("Summary = %q", got)
	}
	if got := set.AlwaysContent(); !strings.Contains(got, "### tone") || !strings.Contains(got, "Answer briefly.") {
		t.Fatalf("AlwaysContent = %q", got)
	}
	if _, ok := set.Get("weather"); !ok {
		t.Fatal("Get weather")
	}

	var empty *Set
	if empty.Summary() != "" || empty.Len() != 0 {
		t.Fatal("nil set should be empty")
	}
}
