package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"conduit/internal/channel"
)

func agentCmd() *cobra.Command {
	var (
		message    string
		sessionKey string
	)
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with the agent in the terminal",
		Long:  "Starts an interactive chat session. With -m, sends one message, prints the answer and exits.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if message != "" {
				return runOneShot(ctx, a, message, sessionKey)
			}
			return runInteractive(ctx, a)
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and exit")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "cli:direct", "session key for -m")
	return cmd
}

func runOneShot(ctx context.Context, a *app, message, sessionKey string) error {
	go a.bus.DispatchOutbound(ctx)
	reply, err := a.loop.ProcessDirect(ctx, message, sessionKey, channel.CLIChannelName, channel.CLIChatID)
	if err != nil {
		return err
	}
	fmt.Println(reply)
	return nil
}

// runInteractive runs the loop against the bus with the terminal channel as
// its only endpoint. Closing the prompt ends the session.
func runInteractive(ctx context.Context, a *app) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.bus.DispatchOutbound(ctx)
	go func() {
		if err := a.loop.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("agent loop stopped", "err", err)
		}
	}()

	cc := a.cfg.Channels.CLI
	cli := channel.NewCLI(channel.CLIConfig{
		Prompt:      cc.Prompt,
		HistoryFile: cc.HistoryFile,
		Logger:      logger,
	})
	return cli.Start(ctx, a.bus)
}
