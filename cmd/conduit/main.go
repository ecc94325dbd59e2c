package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"conduit/internal/config"
)

var (
	version    = "0.1.0"
	logger     = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	configPath string
	verbose    bool
)

func main() {
	root := &cobra.Command{
		Use:     "conduit",
		Short:   "Conduit: a personal AI agent over chat channels",
		Long:    "Conduit routes messages from chat channels through a tool-using model agent and sends the answers back.",
		Version: version,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			loadDotEnv()
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.conduit/config.json)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(onboardCmd())
	root.AddCommand(agentCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(cronCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadDotEnv reads .env from the working directory and the config directory.
// Existing environment variables win.
func loadDotEnv() {
	for _, p := range []string{".env", filepath.Join(config.DefaultConfigDir(), ".env")} {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			logger.Warn("could not load env file", "path", p, "err", err)
		}
	}
}

func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist, and installs the configured logger.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadOrDefault(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	l, closeLog, err := newLogger(cfg.Logging, verbose)
	if err != nil {
		return nil, nil, err
	}
	logger = l
	slog.SetDefault(l)
	return cfg, closeLog, nil
}

func newLogger(lc config.LoggingConfig, debug bool) (*slog.Logger, func(), error) {
	level := parseLevel(lc.Level)
	if debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	closeFn := func() {}
	if lc.File != "" {
		if err := os.MkdirAll(filepath.Dir(lc.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("log directory: %w", err)
		}
		f, err := os.OpenFile(lc.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(w, opts)
	if strings.EqualFold(lc.Format, "json") {
		h = slog.NewJSONHandler(w, opts)
	}
	return slog.New(h), closeFn, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
