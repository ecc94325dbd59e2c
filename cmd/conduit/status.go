package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"conduit/internal/config"
	"conduit/internal/cron"
)

// checkReport collects the outcome of the status checks.
type checkReport struct {
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check configuration, workspace, providers and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("Conduit %s\n\n", version)
			r := &checkReport{}

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults (run 'conduit onboard')", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, closeLog, err := loadConfig()
			if err != nil {
				r.fail("Config validation", err.Error())
				return summarize(r)
			}
			defer closeLog()
			r.pass("Config validation", "valid")

			if info, err := os.Stat(cfg.Agent.Workspace); err != nil || !info.IsDir() {
				r.fail("Workspace", "missing: "+cfg.Agent.Workspace)
			} else {
				r.pass("Workspace", cfg.Agent.Workspace)
			}

			checkProviders(r, cfg)

			storage, err := openStorage(cfg)
			if err != nil {
				r.fail("Sessions", err.Error())
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				list, err := storage.List(ctx)
				cancel()
				if err != nil {
					r.fail("Sessions", err.Error())
				} else {
					r.pass("Sessions", fmt.Sprintf("%s backend, %d stored", cfg.Session.Backend, len(list)))
				}
				storage.Close()
			}

			if cfg.Cron.Enabled {
				svc := cron.NewService(cron.ServiceConfig{StorePath: cfg.CronStorePath(), Logger: logger})
				if err := svc.Load(); err != nil {
					r.fail("Cron", err.Error())
				} else {
					st := svc.Status()
					r.pass("Cron", fmt.Sprintf("%d jobs (%d enabled), next %s", st.Jobs, st.Enabled, formatMs(st.NextWakeAtMs)))
				}
			}

			if tc := cfg.Channels.Telegram; tc.Enabled {
				if len(tc.AllowFrom) == 0 {
					r.warn("Telegram", "enabled with an empty allowFrom list: anyone can talk to the bot")
				} else {
					r.pass("Telegram", fmt.Sprintf("enabled, %d allowed senders", len(tc.AllowFrom)))
				}
			}
			if hb := cfg.Heartbeat; hb.Enabled {
				r.pass("Heartbeat", fmt.Sprintf("every %d min", hb.IntervalMinutes))
			}
			return summarize(r)
		},
	}
}

func checkProviders(r *checkReport, cfg *config.Config) {
	names := []string{cfg.Agent.Provider}
	for _, n := range cfg.Agent.FailoverChain {
		if n != cfg.Agent.Provider {
			names = append(names, n)
		}
	}
	var others []string
	for n := range cfg.Providers {
		others = append(others, n)
	}
	sort.Strings(others)

	for _, n := range names {
		pc := cfg.Providers[n]
		switch {
		case pc.APIKey != "":
			r.pass("Provider: "+n, fmt.Sprintf("%s, key set", pc.Kind))
		case pc.APIBase != "" && pc.Kind == "openai":
			r.warn("Provider: "+n, "no API key, fine for local endpoints like "+pc.APIBase)
		default:
			r.fail("Provider: "+n, "no API key configured")
		}
	}
	if len(others) > len(names) {
		fmt.Printf("  %-27s %v\n", "configured providers", others)
	}
}

func summarize(r *checkReport) error {
	fmt.Printf("\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}
