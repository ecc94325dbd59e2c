package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"conduit/internal/cron"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled agent jobs",
	}
	cmd.AddCommand(cronListCmd(), cronAddCmd(), cronRemoveCmd(), cronEnableCmd(true), cronEnableCmd(false), cronRunCmd())
	return cmd
}

// openCronStore loads the job store without starting the scheduler.
func openCronStore() (*cron.Service, func(), error) {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	svc := cron.NewService(cron.ServiceConfig{StorePath: cfg.CronStorePath(), Logger: logger})
	if err := svc.Load(); err != nil {
		closeLog()
		return nil, nil, fmt.Errorf("load cron store: %w", err)
	}
	return svc, closeLog, nil
}

func cronListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeLog, err := openCronStore()
			if err != nil {
				return err
			}
			defer closeLog()

			jobs := svc.List(all)
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tLAST")
			for _, j := range jobs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
					j.ID, j.Name, describeSchedule(j.Schedule), j.Enabled,
					formatMs(j.State.NextRunAtMs), j.State.LastStatus)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include disabled jobs")
	return cmd
}

type scheduleFlags struct {
	every time.Duration
	expr  string
	tz    string
	at    string
}

// schedule turns exactly one of --every, --cron or --at into a Schedule.
func (f scheduleFlags) schedule() (cron.Schedule, error) {
	set := 0
	for _, ok := range []bool{f.every > 0, f.expr != "", f.at != ""} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return cron.Schedule{}, fmt.Errorf("specify exactly one of --every, --cron or --at")
	}

	var sched cron.Schedule
	switch {
	case f.every > 0:
		sched = cron.Schedule{Kind: cron.KindEvery, EveryMs: f.every.Milliseconds()}
	case f.expr != "":
		sched = cron.Schedule{Kind: cron.KindCron, Expr: f.expr, TZ: f.tz}
	default:
		t, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("--at must be RFC3339: %w", err)
		}
		sched = cron.Schedule{Kind: cron.KindAt, AtMs: t.UnixMilli()}
	}
	return sched, cron.Validate(sched)
}

func cronAddCmd() *cobra.Command {
	var (
		sf      scheduleFlags
		name    string
		message string
		deliver bool
		channel string
		chatID  string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a job",
		Example: `  conduit cron add -n standup -m "Summarize my open tasks" --cron "0 9 * * 1-5" --deliver --channel telegram --to 12345
  conduit cron add -n water -m "Remind me to drink water" --every 2h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := sf.schedule()
			if err != nil {
				return err
			}
			if deliver && (channel == "" || chatID == "") {
				return fmt.Errorf("--deliver needs --channel and --to")
			}
			svc, closeLog, err := openCronStore()
			if err != nil {
				return err
			}
			defer closeLog()

			job, err := svc.Add(name, sched, cron.Payload{
				Message: message,
				Channel: channel,
				ChatID:  chatID,
				Deliver: deliver,
			}, sched.Kind == cron.KindAt)
			if err != nil {
				return err
			}
			fmt.Printf("Added job %s (%s), next run %s\n", job.ID, describeSchedule(job.Schedule), formatMs(job.State.NextRunAtMs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "job name")
	cmd.Flags().StringVarP(&message, "message", "m", "", "instruction for the agent")
	cmd.Flags().DurationVar(&sf.every, "every", 0, "repeat interval, e.g. 30m")
	cmd.Flags().StringVar(&sf.expr, "cron", "", "cron expression, e.g. \"0 9 * * *\"")
	cmd.Flags().StringVar(&sf.tz, "tz", "", "IANA timezone for --cron")
	cmd.Flags().StringVar(&sf.at, "at", "", "one-time run at an RFC3339 timestamp")
	cmd.Flags().BoolVarP(&deliver, "deliver", "d", false, "send the answer to a chat")
	cmd.Flags().StringVar(&channel, "channel", "", "delivery channel, e.g. telegram")
	cmd.Flags().StringVar(&chatID, "to", "", "delivery chat id")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeLog, err := openCronStore()
			if err != nil {
				return err
			}
			defer closeLog()
			if err := svc.Remove(args[0]); err != nil {
				return err
			}
			fmt.Printf("Removed job %s\n", args[0])
			return nil
		},
	}
}

func cronEnableCmd(enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a job"
	if !enable {
		use, short = "disable <id>", "Disable a job"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeLog, err := openCronStore()
			if err != nil {
				return err
			}
			defer closeLog()
			job, err := svc.Enable(args[0], enable)
			if err != nil {
				return err
			}
			fmt.Printf("Job %s enabled=%t\n", job.ID, job.Enabled)
			return nil
		},
	}
}

func cronRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <id>",
		Short: "Run a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if !cfg.Cron.Enabled {
				return fmt.Errorf("cron is disabled in config")
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := context.Background()
			go a.bus.DispatchOutbound(ctx)

			if err := a.cron.RunNow(ctx, args[0]); err != nil {
				return err
			}
			for _, j := range a.cron.List(true) {
				if j.ID == args[0] {
					fmt.Printf("Job %s ran: %s %s\n", j.ID, j.State.LastStatus, j.State.LastError)
				}
			}
			return nil
		},
	}
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case cron.KindCron:
		if s.TZ != "" {
			return s.Expr + " (" + s.TZ + ")"
		}
		return s.Expr
	case cron.KindAt:
		return "at " + formatMs(s.AtMs)
	}
	return string(s.Kind)
}

func formatMs(ms int64) string {
	if ms <= 0 {
		return "-"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}
