package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"conduit/internal/channel"
	"conduit/internal/domain"
)

const shutdownTimeout = 10 * time.Second

func gatewayCmd() *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Run the agent with all enabled channels, cron and heartbeat",
		Long:  "Starts the enabled chat channels, the agent loop, the cron service and the heartbeat. Press Ctrl+C to stop.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway(metricsAddr)
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. 127.0.0.1:9090")
	return cmd
}

// serveMetrics exposes /metrics until ctx is done.
func serveMetrics(ctx context.Context, addr string, a *app) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server", "err", err)
	}
}

func runGateway(metricsAddr string) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(sigCtx)
	defer cancel()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}

	var channels []domain.Channel
	if tc := cfg.Channels.Telegram; tc.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     tc.Token,
			AllowFrom: tc.AllowFrom,
			ParseMode: tc.ParseMode,
			MediaDir:  filepath.Join(cfg.Agent.DataDir, "media"),
			Logger:    logger,
		}))
	}
	if len(channels) == 0 {
		logger.Warn("no gateway channels enabled; only cron and heartbeat will run")
	}

	a.start(ctx)
	if metricsAddr != "" {
		go serveMetrics(ctx, metricsAddr, a)
	}

	var wg sync.WaitGroup
	for _, ch := range channels {
		wg.Add(1)
		go func(ch domain.Channel) {
			defer wg.Done()
			if err := ch.Start(ctx, a.bus); err != nil {
				logger.Error("channel stopped", "channel", ch.Name(), "err", err)
			}
		}(ch)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	loopDone := make(chan error, 1)
	go func() { loopDone <- a.loop.Run(ctx) }()

	logger.Info("gateway started", "channels", len(channels), "tools", a.tools.Len())
	select {
	case <-ctx.Done():
	case err := <-loopDone:
		if err != nil {
			logger.Error("agent loop exited", "err", err)
		}
	}
	logger.Info("shutting down gateway")
	cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop", "channel", ch.Name(), "err", err)
			}
		}
		wg.Wait()
		a.close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-time.After(shutdownTimeout):
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}
