package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conduit/internal/session"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and clear stored conversations",
	}
	cmd.AddCommand(sessionsListCmd(), sessionsShowCmd(), sessionsClearCmd())
	return cmd
}

func openSessions() (*session.Manager, func(), error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	storage, err := openStorage(cfg)
	if err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("session storage: %w", err)
	}
	m := session.NewManager(session.ManagerConfig{Storage: storage, Logger: logger})
	return m, func() {
		m.Close()
		closeLog()
	}, nil
}

func sessionsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := openSessions()
			if err != nil {
				return err
			}
			defer done()

			list, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No stored sessions.")
				return nil
			}
			sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tMESSAGES\tUPDATED")
			for _, s := range list {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Key, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}
}

func sessionsShowCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "show <key>",
		Short: "Print the history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := openSessions()
			if err != nil {
				return err
			}
			defer done()

			s, err := m.GetOrCreate(context.Background(), args[0])
			if err != nil {
				return err
			}
			for _, msg := range m.History(s, limit) {
				content := msg.Content
				if len(msg.ToolCalls) > 0 {
					for _, tc := range msg.ToolCalls {
						content += fmt.Sprintf(" [call %s]", tc.Name)
					}
				}
				fmt.Printf("%-9s %s\n", msg.Role+":", content)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of most recent messages")
	return cmd
}

func sessionsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <key>",
		Short: "Delete a stored session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, done, err := openSessions()
			if err != nil {
				return err
			}
			defer done()
			if err := m.Delete(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted session %s\n", args[0])
			return nil
		},
	}
}
