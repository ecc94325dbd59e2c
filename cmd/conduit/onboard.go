package main

import (
	"bufio"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"conduit/internal/config"
)

// providerPreset describes a provider option offered during onboarding.
type providerPreset struct {
	Name         string
	Kind         string
	EnvVar       string
	APIBase      string
	DefaultModel string
}

var providerPresets = []providerPreset{
	{Name: "openai", Kind: "openai", EnvVar: "OPENAI_API_KEY", APIBase: "https://api.openai.com/v1", DefaultModel: "gpt-4o-mini"},
	{Name: "anthropic", Kind: "anthropic", EnvVar: "ANTHROPIC_API_KEY", DefaultModel: "claude-sonnet-4-5"},
	{Name: "openrouter", Kind: "openai", EnvVar: "OPENROUTER_API_KEY", APIBase: "https://openrouter.ai/api/v1", DefaultModel: "anthropic/claude-sonnet-4.5"},
	{Name: "ollama", Kind: "openai", APIBase: "http://localhost:11434/v1", DefaultModel: "llama3.1:8b"},
}

// workspaceTemplates are written into a new workspace when missing.
var workspaceTemplates = map[string]string{
	"AGENTS.md": `# Agent Instructions

You are a helpful assistant. Be concise and accurate.

- Explain what you are doing before running tools.
- Ask for clarification when a request is ambiguous.
- Use the spawn tool for long-running work so the chat stays responsive.
`,
	"SOUL.md": `# Soul

Friendly, direct and curious. Prefer doing over describing.
`,
	"USER.md": `# User

Add notes about yourself here: name, timezone, preferences.
`,
	"HEARTBEAT.md": `# Heartbeat Tasks

<!-- Lines below are checked periodically when the heartbeat is enabled. -->
<!-- Add tasks as "- [ ] task". Empty checkboxes and headings are ignored. -->
`,
	"memory/MEMORY.md": `# Long-term Memory

Facts worth remembering across conversations.
`,
}

func onboardCmd() *cobra.Command {
	var (
		yes   bool
		force bool
	)
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Create a config file and workspace",
		Long:  "Asks for a workspace, model provider and optional Telegram bot, writes the config and seeds the workspace with template files.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}

			cfg := config.Defaults()
			if !yes {
				if err := runOnboardPrompts(cfg, bufio.NewReader(os.Stdin), os.Stdout); err != nil {
					return err
				}
			}
			cfg.Agent.Workspace = config.ExpandPath(cfg.Agent.Workspace)

			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("config validation: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			fmt.Printf("Config saved to %s\n", cfgPath)

			created, err := writeWorkspaceTemplates(cfg.Agent.Workspace)
			if err != nil {
				return err
			}
			for _, f := range created {
				fmt.Printf("  created %s\n", f)
			}
			fmt.Println("\nNext: 'conduit agent' to chat in the terminal, or 'conduit gateway' to serve channels.")
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept defaults without prompting")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func runOnboardPrompts(cfg *config.Config, in *bufio.Reader, out io.Writer) error {
	prompt := func(def string) (string, error) {
		if def != "" {
			fmt.Fprintf(out, " [%s]: ", def)
		} else {
			fmt.Fprint(out, ": ")
		}
		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		if s := strings.TrimSpace(line); s != "" {
			return s, nil
		}
		return def, nil
	}

	fmt.Fprintln(out, "\n--- Step 1: Workspace ---")
	fmt.Fprint(out, "Directory the agent works in")
	ws, err := prompt(cfg.Agent.Workspace)
	if err != nil {
		return err
	}
	cfg.Agent.Workspace = ws

	fmt.Fprintln(out, "\n--- Step 2: Model provider ---")
	for i, p := range providerPresets {
		fmt.Fprintf(out, "  %d) %s", i+1, p.Name)
		if p.EnvVar != "" {
			fmt.Fprintf(out, " (key from %s)", p.EnvVar)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "Choose provider (1-%d)", len(providerPresets))
	choice, err := prompt("1")
	if err != nil {
		return err
	}
	var idx int
	if n, _ := fmt.Sscanf(choice, "%d", &idx); n != 1 || idx < 1 || idx > len(providerPresets) {
		idx = 1
	}
	preset := providerPresets[idx-1]
	key := ""
	if preset.EnvVar != "" {
		fmt.Fprintf(out, "API key: paste a key or an env reference")
		if key, err = prompt("${" + preset.EnvVar + "}"); err != nil {
			return err
		}
	}
	applyProviderPreset(cfg, preset, key)

	fmt.Fprintln(out, "\n--- Step 3: Telegram (optional) ---")
	fmt.Fprint(out, "Bot token from @BotFather, empty to skip")
	tok, err := prompt("")
	if err != nil {
		return err
	}
	if tok != "" {
		cfg.Channels.Telegram.Enabled = true
		cfg.Channels.Telegram.Token = tok
		fmt.Fprint(out, "Allowed user ids or usernames, comma separated (empty allows everyone)")
		allow, err := prompt("")
		if err != nil {
			return err
		}
		cfg.Channels.Telegram.AllowFrom = splitList(allow)
	}
	return nil
}

// applyProviderPreset makes preset the default provider.
func applyProviderPreset(cfg *config.Config, preset providerPreset, apiKey string) {
	if cfg.Providers == nil {
		cfg.Providers = make(map[string]config.ProviderConfig)
	}
	pc := cfg.Providers[preset.Name]
	pc.Kind = preset.Kind
	if preset.APIBase != "" {
		pc.APIBase = preset.APIBase
	}
	if pc.DefaultModel == "" {
		pc.DefaultModel = preset.DefaultModel
	}
	if apiKey != "" {
		pc.APIKey = apiKey
	}
	cfg.Providers[preset.Name] = pc
	cfg.Agent.Provider = preset.Name
}

// writeWorkspaceTemplates creates the workspace and any missing template
// files, returning the files it created.
func writeWorkspaceTemplates(workspace string) ([]string, error) {
	if err := os.MkdirAll(filepath.Join(workspace, "skills"), 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	var created []string
	for _, name := range slices.Sorted(maps.Keys(workspaceTemplates)) {
		path := filepath.Join(workspace, name)
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return created, err
		}
		if err := os.WriteFile(path, []byte(workspaceTemplates[name]), 0o644); err != nil {
			return created, fmt.Errorf("write %s: %w", name, err)
		}
		created = append(created, path)
	}
	return created, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
