package config

func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			Name:          "Conduit",
			Workspace:     "~/.conduit/workspace",
			DataDir:       "~/.conduit/data",
			Provider:      "openai",
			MaxIterations: 20,
			HistoryLimit:  50,
			MaxTokens:     4096,
			Temperature:   0.7,
			MaxSubagents:  4,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Kind:         "openai",
				APIBase:      "https://api.openai.com/v1",
				APIKey:       "${OPENAI_API_KEY}",
				DefaultModel: "gpt-4o-mini",
			},
			"anthropic": {
				Kind:         "anthropic",
				APIKey:       "${ANTHROPIC_API_KEY}",
				DefaultModel: "claude-sonnet-4-5",
			},
		},
		Session: SessionConfig{
			Backend: "sqlite",
		},
		Tools: ToolsConfig{
			RestrictToWorkspace: true,
			Shell: ShellToolConfig{
				TimeoutSeconds: 60,
				MaxOutputBytes: 65536,
			},
			Web: WebToolConfig{
				Enabled:  true,
				MaxChars: 10000,
			},
		},
		Cron: CronConfig{
			Enabled: true,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:         false,
			IntervalMinutes: 30,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
				Prompt:  "you> ",
			},
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
