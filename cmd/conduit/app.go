package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"conduit/internal/agent"
	"conduit/internal/bus"
	"conduit/internal/config"
	"conduit/internal/cron"
	"conduit/internal/metrics"
	"conduit/internal/provider"
	"conduit/internal/session"
	"conduit/internal/skill"
	"conduit/internal/tool"
)

// app is the assembled runtime shared by the agent and gateway commands.
type app struct {
	cfg       *config.Config
	bus       *bus.InMemoryBus
	events    *bus.EventBus
	sessions  *session.Manager
	tools     *tool.Registry
	loop      *agent.Loop
	subagents *agent.SubagentManager
	cron      *cron.Service
	heartbeat *agent.Heartbeat
	metrics   *metrics.Collector
}

func openStorage(cfg *config.Config) (session.Storage, error) {
	switch cfg.Session.Backend {
	case "memory":
		return session.NewMemoryStorage(), nil
	case "file":
		return session.NewFileStorage(cfg.SessionPath())
	default:
		return session.NewSQLiteStorage(cfg.SessionPath(), logger)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	if err := os.MkdirAll(cfg.Agent.Workspace, 0o755); err != nil {
		return nil, fmt.Errorf("workspace: %w", err)
	}

	prov, err := provider.NewFactory(cfg, logger).Primary()
	if err != nil {
		return nil, fmt.Errorf("provider: %w", err)
	}

	storage, err := openStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("session storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		bus:     bus.New(100, logger),
		events:  bus.NewEventBus(logger),
		metrics: metrics.NewCollector("conduit_"),
	}
	a.metrics.Observe(a.events)
	a.sessions = session.NewManager(session.ManagerConfig{Storage: storage, Logger: logger})

	skills, err := skill.LoadFromDirectory(filepath.Join(cfg.Agent.Workspace, "skills"), logger)
	if err != nil {
		logger.Warn("skills not loaded", "err", err)
	}
	ctxBuilder := agent.NewContextBuilder(agent.ContextConfig{
		Workspace: cfg.Agent.Workspace,
		Name:      cfg.Agent.Name,
		Skills:    skill.NewSet(skills),
		Extra:     cfg.Agent.SystemPromptExtra,
		Logger:    logger,
	})

	if cfg.Cron.Enabled {
		a.cron = cron.NewService(cron.ServiceConfig{
			StorePath: cfg.CronStorePath(),
			Events:    a.events,
			Logger:    logger,
		})
		if err := a.cron.Load(); err != nil {
			logger.Warn("cron jobs not loaded", "err", err)
		}
	}

	limiter := agent.NewRateLimiter(cfg.Agent.RateLimitBurst, cfg.Agent.RateLimitPerMinute)
	a.subagents = agent.NewSubagentManager(agent.SubagentConfig{
		Provider:      prov,
		Context:       ctxBuilder,
		Bus:           a.bus,
		Events:        a.events,
		Logger:        logger,
		Model:         cfg.Agent.Model,
		MaxConcurrent: cfg.Agent.MaxSubagents,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
		RateLimiter:   limiter,
	})

	a.tools = a.buildTools()
	a.subagents.SetTools(a.tools)

	a.loop = agent.NewLoop(agent.LoopConfig{
		Provider:      prov,
		Sessions:      a.sessions,
		Context:       ctxBuilder,
		Tools:         a.tools,
		Bus:           a.bus,
		Events:        a.events,
		Logger:        logger,
		RateLimiter:   limiter,
		Model:         cfg.Agent.Model,
		MaxIterations: cfg.Agent.MaxIterations,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		MaxTokens:     cfg.Agent.MaxTokens,
		Temperature:   cfg.Agent.Temperature,
	})

	if a.cron != nil {
		a.cron.SetHandler(agent.CronHandler(a.loop, a.bus, logger))
	}
	if cfg.Heartbeat.Enabled {
		a.heartbeat = agent.NewHeartbeat(agent.HeartbeatConfig{
			Enabled:         true,
			IntervalMinutes: cfg.Heartbeat.IntervalMinutes,
			Workspace:       cfg.Agent.Workspace,
			Channel:         cfg.Heartbeat.Channel,
			ChatID:          cfg.Heartbeat.ChatID,
			Logger:          logger,
		}, a.loop, a.bus)
	}
	return a, nil
}

func (a *app) buildTools() *tool.Registry {
	cfg := a.cfg
	files := tool.FileConfig{
		Workspace:           cfg.Agent.Workspace,
		RestrictToWorkspace: cfg.Tools.RestrictToWorkspace,
	}
	deny := cfg.Tools.Shell.DenyPatterns
	if len(deny) == 0 {
		deny = tool.DefaultDenyPatterns()
	}

	reg := tool.NewRegistry(logger)
	reg.MustRegister(
		tool.NewReadFileTool(files),
		tool.NewWriteFileTool(files),
		tool.NewEditFileTool(files),
		tool.NewListDirTool(files),
		tool.NewExecTool(tool.ShellConfig{
			WorkingDir:          cfg.Agent.Workspace,
			TimeoutSeconds:      cfg.Tools.Shell.TimeoutSeconds,
			MaxOutputBytes:      cfg.Tools.Shell.MaxOutputBytes,
			DenyPatterns:        deny,
			RestrictToWorkspace: cfg.Tools.RestrictToWorkspace,
		}),
		tool.NewMessageTool(a.bus),
		tool.NewSpawnTool(a.subagents),
	)
	if cfg.Tools.Web.Enabled {
		web := tool.WebConfig{MaxChars: cfg.Tools.Web.MaxChars}
		reg.MustRegister(tool.NewWebSearchTool(web), tool.NewWebFetchTool(web))
	}
	if a.cron != nil {
		reg.MustRegister(tool.NewCronTool(a.cron))
	}

	if f := tool.NewFilter(cfg.Tools.Allowed, cfg.Tools.Denied); !f.IsEmpty() {
		return reg.Subset(f)
	}
	return reg
}

// start launches the background services: cron, heartbeat and outbound dispatch.
func (a *app) start(ctx context.Context) {
	go a.bus.DispatchOutbound(ctx)
	if a.cron != nil {
		go func() {
			if err := a.cron.Start(ctx); err != nil {
				logger.Error("cron service stopped", "err", err)
			}
		}()
	}
	if a.heartbeat != nil {
		go a.heartbeat.Start(ctx)
	}
}

// close stops the loop, waits briefly for subagents and releases storage.
func (a *app) close() {
	a.loop.Stop()
	if a.cron != nil {
		a.cron.Stop()
	}

	done := make(chan struct{})
	go func() {
		a.subagents.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		logger.Warn("subagents still running at shutdown", "running", a.subagents.Running())
	}

	a.bus.Close()
	if err := a.sessions.Close(); err != nil {
		logger.Warn("session storage close", "err", err)
	}
}
