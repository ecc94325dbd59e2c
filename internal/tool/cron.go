package tool

import (
	"context"
	"fmt"
	"strings"
	"time"

	"conduit/internal/cron"
)

// JobScheduler is the part of cron.Service the cron tool needs.
type JobScheduler interface {
	Add(name string, sched cron.Schedule, payload cron.Payload, deleteAfterRun bool) (*cron.Job, error)
	List(includeDisabled bool) []cron.Job
	Remove(id string) error
}

type cronArgs struct {
	Action       string `json:"action" jsonschema:"required,enum=add,enum=list,enum=remove,description=Action to perform"`
	Name         string `json:"name,omitempty" jsonschema:"description=Short job name (add)"`
	Message      string `json:"message,omitempty" jsonschema:"description=Instruction the agent receives when the job fires (add)"`
	EverySeconds int    `json:"every_seconds,omitempty" jsonschema:"description=Repeat interval in seconds (add)"`
	CronExpr     string `json:"cron_expr,omitempty" jsonschema:"description=Cron expression such as '0 9 * * *' (add)"`
	TZ           string `json:"tz,omitempty" jsonschema:"description=IANA timezone for cron_expr (add)"`
	At           string `json:"at,omitempty" jsonschema:"description=One-time run at an RFC3339 timestamp (add)"`
	Deliver      *bool  `json:"deliver,omitempty" jsonschema:"description=Send the result to the current chat (add; default true)"`
	JobID        string `json:"job_id,omitempty" jsonschema:"description=Job id (remove)"`
}

// CronTool lets the model manage scheduled jobs. New jobs deliver to the
// conversation the call came from.
type CronTool struct {
	scheduler JobScheduler
}

func NewCronTool(scheduler JobScheduler) *CronTool {
	return &CronTool{scheduler: scheduler}
}

func (t *CronTool) Name() string { return "cron" }
func (t *CronTool) Description() string {
	return "Schedule reminders and recurring tasks. Actions: add (with every_seconds, cron_expr or at), list, remove (by job_id)."
}
func (t *CronTool) Parameters() map[string]any { return SchemaFor[cronArgs]() }

func (t *CronTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	in, err := DecodeArgs[cronArgs](args)
	if err != nil {
		return "", err
	}
	switch in.Action {
	case "add":
		return t.add(ctx, in)
	case "list":
		return t.list(), nil
	case "remove":
		if in.JobID == "" {
			return "", fmt.Errorf("job_id is required for remove")
		}
		if err := t.scheduler.Remove(in.JobID); err != nil {
			return "", err
		}
		return fmt.Sprintf("Removed job %s", in.JobID), nil
	default:
		return "", fmt.Errorf("unknown action %q (use add, list or remove)", in.Action)
	}
}

func (t *CronTool) add(ctx context.Context, in cronArgs) (string, error) {
	if strings.TrimSpace(in.Message) == "" {
		return "", fmt.Errorf("message is required for add")
	}

	var sched cron.Schedule
	deleteAfter := false
	switch {
	case in.EverySeconds > 0:
		sched = cron.Schedule{Kind: cron.KindEvery, EveryMs: int64(in.EverySeconds) * 1000}
	case in.CronExpr != "":
		sched = cron.Schedule{Kind: cron.KindCron, Expr: in.CronExpr, TZ: in.TZ}
	case in.At != "":
		at, err := time.Parse(time.RFC3339, in.At)
		if err != nil {
			return "", fmt.Errorf("invalid at time: %w", err)
		}
		sched = cron.Schedule{Kind: cron.KindAt, AtMs: at.UnixMilli()}
		deleteAfter = true
	default:
		return "", fmt.Errorf("one of every_seconds, cron_expr or at is required")
	}

	payload := cron.Payload{Message: in.Message, Deliver: true}
	if in.Deliver != nil {
		payload.Deliver = *in.Deliver
	}
	if scope, ok := ScopeFrom(ctx); ok {
		payload.Channel = scope.Channel
		payload.ChatID = scope.ChatID
	}

	name := in.Name
	if name == "" {
		name = in.Message
		if len(name) > 30 {
			name = name[:30]
		}
	}

	job, err := t.scheduler.Add(name, sched, payload, deleteAfter)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Created job %q (id: %s)", job.Name, job.ID), nil
}

func (t *CronTool) list() string {
	jobs := t.scheduler.List(true)
	if len(jobs) == 0 {
		return "No scheduled jobs."
	}
	lines := make([]string, 0, len(jobs))
	for _, j := range jobs {
		status := "enabled"
		if !j.Enabled {
			status = "disabled"
		}
		next := "-"
		if j.State.NextRunAtMs > 0 {
			next = time.UnixMilli(j.State.NextRunAtMs).Format(time.RFC3339)
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s (%s, %s) next: %s", j.ID, j.Name, describeSchedule(j.Schedule), status, next))
	}
	return strings.Join(lines, "\n")
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindEvery:
		return fmt.Sprintf("every %ds", s.EveryMs/1000)
	case cron.KindCron:
		if s.TZ != "" {
			return s.Expr + " " + s.TZ
		}
		return s.Expr
	case cron.KindAt:
		return "at " + time.UnixMilli(s.AtMs).Format(time.RFC3339)
	}
	return string(s.Kind)
}
