package skill

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is a named block of instructions the agent can follow. Always-on
// skills are inlined in the system prompt; the rest are listed by name and
// description and read on demand.
type Skill struct {
	Name         string `yaml:"name"`
	Description  string `yaml:"description"`
	Instructions string `yaml:"instructions"`
	Always       bool   `yaml:"always"`
	Path         string `yaml:"-"`
}

// LoadFromDirectory loads skill definitions from YAML files in dir.
// Unreadable or malformed files are logged and skipped.
func LoadFromDirectory(dir string, logger *slog.Logger) ([]Skill, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Debug("skills directory does not exist, skipping", "dir", dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read skills dir: %w", err)
	}

	var skills []Skill
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read skill file", "path", path, "err", err)
			continue
		}

		var s Skill
		if err := yaml.Unmarshal(data, &s); err != nil {
			logger.Warn("cannot parse skill file", "path", path, "err", err)
			continue
		}
		if s.Name == "" {
			s.Name = strings.TrimSuffix(name, ext)
		}
		if strings.TrimSpace(s.Instructions) == "" {
			logger.Warn("skill has no instructions, skipping", "path", path)
			continue
		}
		s.Path = path

		logger.Debug("loaded skill", "name", s.Name, "always", s.Always)
		skills = append(skills, s)
	}
	sort.Slice(skills, func(i, j int) bool { return skills[i].Name < skills[j].Name })
	return skills, nil
}

// Set is an immutable, name-ordered collection of skills.
type Set struct {
	skills []Skill
}

func NewSet(skills []Skill) *Set {
	sorted := append([]Skill(nil), skills...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })
	return &Set{skills: sorted}
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.skills)
}

func (s *Set) Get(name string) (Skill, bool) {
	if s == nil {
		return Skill{}, false
	}
	for _, sk := range s.skills {
		if sk.Name == name {
			return sk, true
		}
	}
	return Skill{}, false
}

func (s *Set) List() []Skill {
	if s == nil {
		return nil
	}
	return append([]Skill(nil), s.skills...)
}

// AlwaysContent renders the instructions of always-on skills.
func (s *Set) AlwaysContent() string {
	if s == nil {
		return ""
	}
	var sb strings.Builder
	for _, sk := range s.skills {
		if !sk.Always {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n\n%s\n\n", sk.Name, strings.TrimSpace(sk.Instructions))
	}
	return strings.TrimSpace(sb.String())
}

// Summary lists the on-demand skills with their file paths.
func (s *Set) Summary() string {
	if s == nil {
		return ""
	}
	var lines []string
	for _, sk := range s.skills {
		if sk.Always {
			continue
		}
		line := "- " + sk.Name
		if sk.Description != "" {
			line += ": " + sk.Description
		}
		if sk.Path != "" {
			line += " (" + sk.Path + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
