package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CONDUIT_AGENT_MODEL.
const EnvPrefix = "CONDUIT_"

// Config is the root configuration for conduit.
type Config struct {
	Agent     AgentConfig               `json:"agent" yaml:"agent" envPrefix:"AGENT_"`
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Session   SessionConfig             `json:"session" yaml:"session" envPrefix:"SESSION_"`
	Tools     ToolsConfig               `json:"tools" yaml:"tools" envPrefix:"TOOLS_"`
	Cron      CronConfig                `json:"cron" yaml:"cron" envPrefix:"CRON_"`
	Heartbeat HeartbeatConfig           `json:"heartbeat" yaml:"heartbeat" envPrefix:"HEARTBEAT_"`
	Channels  ChannelsConfig            `json:"channels" yaml:"channels" envPrefix:"CHANNELS_"`
	Logging   LoggingConfig             `json:"logging" yaml:"logging" envPrefix:"LOGGING_"`
}

type AgentConfig struct {
	Name               string   `json:"name" yaml:"name" env:"NAME"`
	Workspace          string   `json:"workspace" yaml:"workspace" env:"WORKSPACE"`
	DataDir            string   `json:"dataDir" yaml:"dataDir" env:"DATA_DIR"`
	Provider           string   `json:"provider" yaml:"provider" env:"PROVIDER"`
	FailoverChain      []string `json:"failoverChain,omitempty" yaml:"failoverChain,omitempty" env:"FAILOVER_CHAIN"`
	Model              string   `json:"model,omitempty" yaml:"model,omitempty" env:"MODEL"`
	MaxIterations      int      `json:"maxIterations" yaml:"maxIterations" env:"MAX_ITERATIONS"`
	HistoryLimit       int      `json:"historyLimit" yaml:"historyLimit" env:"HISTORY_LIMIT"`
	MaxTokens          int      `json:"maxTokens" yaml:"maxTokens" env:"MAX_TOKENS"`
	Temperature        float64  `json:"temperature" yaml:"temperature" env:"TEMPERATURE"`
	RateLimitPerMinute float64  `json:"rateLimitPerMinute,omitempty" yaml:"rateLimitPerMinute,omitempty" env:"RATE_LIMIT_PER_MINUTE"`
	RateLimitBurst     int      `json:"rateLimitBurst,omitempty" yaml:"rateLimitBurst,omitempty" env:"RATE_LIMIT_BURST"`
	MaxSubagents       int      `json:"maxSubagents" yaml:"maxSubagents" env:"MAX_SUBAGENTS"`
	SystemPromptExtra  string   `json:"systemPromptExtra,omitempty" yaml:"systemPromptExtra,omitempty" env:"SYSTEM_PROMPT_EXTRA"`
}

// ProviderConfig describes one model endpoint. Kind selects the client:
// "openai" covers any OpenAI-compatible API, "anthropic" the Messages API.
type ProviderConfig struct {
	Kind           string `json:"kind" yaml:"kind"`
	APIBase        string `json:"apiBase,omitempty" yaml:"apiBase,omitempty"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	DefaultModel   string `json:"defaultModel,omitempty" yaml:"defaultModel,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds,omitempty"`
}

type SessionConfig struct {
	Backend string `json:"backend" yaml:"backend" env:"BACKEND"` // "sqlite" | "file" | "memory"
	Path    string `json:"path,omitempty" yaml:"path,omitempty" env:"PATH"`
}

type ToolsConfig struct {
	RestrictToWorkspace bool            `json:"restrictToWorkspace" yaml:"restrictToWorkspace" env:"RESTRICT_TO_WORKSPACE"`
	Allowed             []string        `json:"allowed,omitempty" yaml:"allowed,omitempty" env:"ALLOWED"`
	Denied              []string        `json:"denied,omitempty" yaml:"denied,omitempty" env:"DENIED"`
	Shell               ShellToolConfig `json:"shell" yaml:"shell" envPrefix:"SHELL_"`
	Web                 WebToolConfig   `json:"web" yaml:"web" envPrefix:"WEB_"`
}

type ShellToolConfig struct {
	TimeoutSeconds int      `json:"timeoutSeconds" yaml:"timeoutSeconds" env:"TIMEOUT_SECONDS"`
	MaxOutputBytes int      `json:"maxOutputBytes" yaml:"maxOutputBytes" env:"MAX_OUTPUT_BYTES"`
	DenyPatterns   []string `json:"denyPatterns,omitempty" yaml:"denyPatterns,omitempty"`
}

type WebToolConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled" env:"ENABLED"`
	MaxChars int  `json:"maxChars" yaml:"maxChars" env:"MAX_CHARS"`
}

type CronConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	StorePath string `json:"storePath,omitempty" yaml:"storePath,omitempty" env:"STORE_PATH"`
}

type HeartbeatConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	IntervalMinutes int    `json:"intervalMinutes" yaml:"intervalMinutes" env:"INTERVAL_MINUTES"`
	Channel         string `json:"channel,omitempty" yaml:"channel,omitempty" env:"CHANNEL"`
	ChatID          string `json:"chatId,omitempty" yaml:"chatId,omitempty" env:"CHAT_ID"`
}

type ChannelsConfig struct {
	CLI      CLIConfig      `json:"cli" yaml:"cli" envPrefix:"CLI_"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram" envPrefix:"TELEGRAM_"`
}

type CLIConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Prompt      string `json:"prompt,omitempty" yaml:"prompt,omitempty" env:"PROMPT"`
	HistoryFile string `json:"historyFile,omitempty" yaml:"historyFile,omitempty" env:"HISTORY_FILE"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled" yaml:"enabled" env:"ENABLED"`
	Token     string         `json:"token" yaml:"token" env:"TOKEN"`
	AllowFrom FlexStringList `json:"allowFrom" yaml:"allowFrom" env:"ALLOW_FROM"`
	ParseMode string         `json:"parseMode" yaml:"parseMode" env:"PARSE_MODE"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format string `json:"format" yaml:"format" env:"FORMAT"` // text | json
	File   string `json:"file,omitempty" yaml:"file,omitempty" env:"FILE"`
}

// FlexStringList is a []string that accepts both strings and numbers
// (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.SequenceNode {
		return fmt.Errorf("line %d: expected a list", value.Line)
	}
	result := make([]string, 0, len(value.Content))
	for _, n := range value.Content {
		if n.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: expected a scalar", n.Line)
		}
		result = append(result, n.Value)
	}
	*f = result
	return nil
}

// DefaultConfigDir returns the default config directory (~/.conduit).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".conduit"
	}
	return filepath.Join(home, ".conduit")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config (by extension), expands ${VAR} references,
// applies CONDUIT_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := decode(path, data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but starts from Defaults when the file
// does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		cfg := Defaults()
		if err := ApplyEnv(cfg); err != nil {
			return nil, err
		}
		cfg.expandPaths()
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("config validation: %w", err)
		}
		return cfg, nil
	}
	return Load(path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decode(path string, data []byte, cfg *Config) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, cfg)
	}
	return json.Unmarshal(data, cfg)
}

// ApplyEnv overrides cfg with CONDUIT_* environment variables.
func ApplyEnv(cfg *Config) error {
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Agent.Workspace = ExpandPath(c.Agent.Workspace)
	c.Agent.DataDir = ExpandPath(c.Agent.DataDir)
	c.Session.Path = ExpandPath(c.Session.Path)
	c.Cron.StorePath = ExpandPath(c.Cron.StorePath)
	c.Channels.CLI.HistoryFile = ExpandPath(c.Channels.CLI.HistoryFile)
	c.Logging.File = ExpandPath(c.Logging.File)
	for name, pc := range c.Providers {
		pc.APIKey = resolveEnvRef(pc.APIKey)
		pc.APIBase = resolveEnvRef(pc.APIBase)
		c.Providers[name] = pc
	}
}

// resolveEnvRef expands ${VAR} references left in values that did not come
// from a file, such as the defaults. An unresolved reference becomes "".
func resolveEnvRef(v string) string {
	v = ExpandEnvVars(v)
	if envVarPattern.MatchString(v) {
		return ""
	}
	return v
}

// SessionPath returns the configured session location, defaulting under DataDir.
func (c *Config) SessionPath() string {
	if c.Session.Path != "" {
		return c.Session.Path
	}
	switch c.Session.Backend {
	case "file":
		return filepath.Join(c.Agent.DataDir, "sessions")
	default:
		return filepath.Join(c.Agent.DataDir, "sessions.db")
	}
}

// CronStorePath returns the job file location, defaulting under DataDir.
func (c *Config) CronStorePath() string {
	if c.Cron.StorePath != "" {
		return c.Cron.StorePath
	}
	return filepath.Join(c.Agent.DataDir, "cron", "jobs.json")
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty; an unset VAR
// without default is left as is.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

// Save writes cfg as JSON, or YAML when path ends in .yaml/.yml.
func Save(path string, cfg *Config) error {
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Agent.MaxIterations < 1 || cfg.Agent.MaxIterations > 200 {
		errs = append(errs, "agent.maxIterations must be between 1 and 200")
	}
	if cfg.Agent.HistoryLimit < 1 {
		errs = append(errs, "agent.historyLimit must be >= 1")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}
	if cfg.Agent.MaxSubagents < 1 {
		errs = append(errs, "agent.maxSubagents must be >= 1")
	}
	if cfg.Agent.Workspace == "" || cfg.Agent.DataDir == "" {
		errs = append(errs, "agent.workspace and agent.dataDir are required")
	}

	if cfg.Agent.Provider != "" {
		if _, ok := cfg.Providers[cfg.Agent.Provider]; !ok {
			errs = append(errs, fmt.Sprintf("agent.provider references unknown provider: %s", cfg.Agent.Provider))
		}
	}
	for _, name := range cfg.Agent.FailoverChain {
		if _, ok := cfg.Providers[name]; !ok {
			errs = append(errs, fmt.Sprintf("agent.failoverChain references unknown provider: %s", name))
		}
	}
	for name, pc := range cfg.Providers {
		switch pc.Kind {
		case "openai", "anthropic":
		default:
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be openai or anthropic", name))
		}
	}

	switch cfg.Session.Backend {
	case "sqlite", "file", "memory":
	default:
		errs = append(errs, "session.backend must be one of: sqlite, file, memory")
	}
	if cfg.Tools.Shell.TimeoutSeconds < 1 {
		errs = append(errs, "tools.shell.timeoutSeconds must be >= 1")
	}
	if cfg.Heartbeat.Enabled && cfg.Heartbeat.IntervalMinutes < 1 {
		errs = append(errs, "heartbeat.intervalMinutes must be >= 1")
	}
	if (cfg.Heartbeat.Channel == "") != (cfg.Heartbeat.ChatID == "") {
		errs = append(errs, "heartbeat.channel and heartbeat.chatId must be set together")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram.token is required when telegram is enabled")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, "logging.format must be text or json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
